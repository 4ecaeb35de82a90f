package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cpidash/internal/core"
)

// QueryRequest is the query contract as received from the web layer.
type QueryRequest struct {
	Categories []string `json:"categories"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
}

// Chart is the chart half of a query response.
type Chart struct {
	Title  string        `json:"title"`
	Series []core.Series `json:"series"`
}

// QueryResponse carries the chart and the table derived from one selection.
type QueryResponse struct {
	Chart Chart           `json:"chart"`
	Table []core.TableRow `json:"table"`
}

// EventPublisher receives usage events. Implementations must not block
// the request for long; failures are logged and ignored.
type EventPublisher interface {
	PublishQueryEvent(ctx context.Context, ev core.QueryEvent) error
}

// QueryService binds the immutable dataset to the query contract.
type QueryService struct {
	dataset   *core.Dataset
	publisher EventPublisher
}

func NewQueryService(ds *core.Dataset, publisher EventPublisher) *QueryService {
	return &QueryService{
		dataset:   ds,
		publisher: publisher,
	}
}

// Dataset returns the handle the service queries.
func (s *QueryService) Dataset() *core.Dataset {
	return s.dataset
}

// Execute validates the request, runs the query and publishes a usage
// event. Only malformed dates produce an error, always a *core.ValidationError.
func (s *QueryService) Execute(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	sel, err := ParseSelection(req)
	if err != nil {
		return QueryResponse{}, err
	}
	resp := s.Run(sel)
	s.publish(ctx, core.EventQuery, sel, resp)
	return resp, nil
}

// Run executes an already validated selection.
func (s *QueryService) Run(sel core.Selection) QueryResponse {
	series, rows := Query(s.dataset, sel)
	return QueryResponse{
		Chart: Chart{Title: ChartTitle(uniqueOrdered(sel.Categories)), Series: series},
		Table: rows,
	}
}

// RecordExport publishes an export event for a response that was served
// as a CSV download.
func (s *QueryService) RecordExport(ctx context.Context, req QueryRequest, resp QueryResponse) {
	sel, err := ParseSelection(req)
	if err != nil {
		return
	}
	s.publish(ctx, core.EventExport, sel, resp)
}

func (s *QueryService) publish(ctx context.Context, kind string, sel core.Selection, resp QueryResponse) {
	if s.publisher == nil {
		return
	}
	ev := core.QueryEvent{
		Kind:        kind,
		Categories:  append([]string(nil), sel.Categories...),
		Start:       sel.Start,
		End:         sel.End,
		SeriesCount: len(resp.Chart.Series),
		RowCount:    len(resp.Table),
	}
	if err := s.publisher.PublishQueryEvent(ctx, ev); err != nil {
		slog.WarnContext(ctx, "Failed to publish query event", "kind", kind, "error", err)
	}
}

// ChartTitle is the comma-joined category names followed by " CPI".
func ChartTitle(categories []string) string {
	return strings.Join(categories, ", ") + " CPI"
}

// ParseSelection converts a request into a Selection. Dates are read from
// their first ten characters as YYYY-MM-DD, so "2019-01-01T00:00:00" is
// accepted. Repeated categories collapse to their first occurrence. An
// inverted range is not rejected here.
func ParseSelection(req QueryRequest) (core.Selection, error) {
	start, err := parseRequestDate("start_date", req.StartDate)
	if err != nil {
		return core.Selection{}, err
	}
	end, err := parseRequestDate("end_date", req.EndDate)
	if err != nil {
		return core.Selection{}, err
	}

	cats := make([]string, 0, len(req.Categories))
	for _, c := range req.Categories {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, c)
		}
	}
	return core.Selection{Categories: uniqueOrdered(cats), Start: start, End: end}, nil
}

func parseRequestDate(field, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if len(s) > 10 {
		s = s[:10]
	}
	if s == "" {
		return time.Time{}, &core.ValidationError{Field: field, Value: raw, Err: errors.New("date is required")}
	}
	t, err := time.Parse(core.DateLayout, s)
	if err != nil {
		return time.Time{}, &core.ValidationError{
			Field: field,
			Value: raw,
			Err:   fmt.Errorf("%w: expected YYYY-MM-DD", core.ErrInvalidDate),
		}
	}
	return t, nil
}
