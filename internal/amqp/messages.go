package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cpidash/internal/core"

	"github.com/google/uuid"
)

// QueryEventMessage is the wire form of a core.QueryEvent. The ID lets the
// consumer drop redeliveries.
type QueryEventMessage struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Categories  []string  `json:"categories"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	SeriesCount int       `json:"series_count"`
	RowCount    int       `json:"row_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewQueryEventMessage wraps ev with a fresh ID and the current time.
func NewQueryEventMessage(ev core.QueryEvent) *QueryEventMessage {
	return &QueryEventMessage{
		ID:          uuid.NewString(),
		Kind:        ev.Kind,
		Categories:  append([]string{}, ev.Categories...),
		StartDate:   core.FormatDate(ev.Start),
		EndDate:     core.FormatDate(ev.End),
		SeriesCount: ev.SeriesCount,
		RowCount:    ev.RowCount,
		Timestamp:   time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *QueryEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Event converts the message back to a domain event.
func (m *QueryEventMessage) Event() (core.QueryEvent, error) {
	start, err := time.Parse(core.DateLayout, m.StartDate)
	if err != nil {
		return core.QueryEvent{}, fmt.Errorf("start_date: %w", core.ErrInvalidDate)
	}
	end, err := time.Parse(core.DateLayout, m.EndDate)
	if err != nil {
		return core.QueryEvent{}, fmt.Errorf("end_date: %w", core.ErrInvalidDate)
	}
	return core.QueryEvent{
		Kind:        m.Kind,
		Categories:  append([]string{}, m.Categories...),
		Start:       start,
		End:         end,
		SeriesCount: m.SeriesCount,
		RowCount:    m.RowCount,
	}, nil
}

// QueryEventMessageFromJSON decodes and validates a message body.
func QueryEventMessageFromJSON(data []byte) (*QueryEventMessage, error) {
	var msg QueryEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, errors.New("message has no id")
	}
	if _, err := uuid.Parse(msg.ID); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	switch msg.Kind {
	case core.EventQuery, core.EventExport:
	default:
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	return &msg, nil
}
