package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cpidash/internal/core"
	"cpidash/internal/sources"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var _ sources.DatasetSource = (*Client)(nil)

// DefaultRange is read when GOOGLE_SHEET_RANGE is not set.
const DefaultRange = "CPI!A:C"

// valuesGetter is the slice of the Sheets API the client depends on.
type valuesGetter interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
}

type apiGetter struct {
	svc *gsheet.Service
}

func (g apiGetter) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(spreadsheetID, rng).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Client reads the CPI table from a Google Sheets range.
type Client struct {
	values        valuesGetter
	spreadsheetID string
	rng           string
}

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_SHEET_RANGE (default "CPI!A:C")
// Auth: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	return New(ctx, os.Getenv("GOOGLE_SPREADSHEET_ID"), os.Getenv("GOOGLE_SHEET_RANGE"))
}

// New creates a client for an explicit spreadsheet and range.
func New(ctx context.Context, spreadsheetID, rng string) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(apiGetter{svc: svc}, spreadsheetID, rng), nil
}

func newClient(values valuesGetter, spreadsheetID, rng string) *Client {
	rng = strings.TrimSpace(rng)
	if rng == "" {
		rng = DefaultRange
	}
	return &Client{values: values, spreadsheetID: spreadsheetID, rng: rng}
}

func (c *Client) Describe() string { return "sheets:" + c.rng }

// Load reads the configured range and parses it as a CPI table.
func (c *Client) Load(ctx context.Context) (*core.Dataset, error) {
	if c.values == nil {
		return nil, &core.LoadError{Source: c.rng, Err: errors.New("sheets service not initialized")}
	}
	start := time.Now()
	values, err := c.values.Get(ctx, c.spreadsheetID, c.rng)
	if err != nil {
		return nil, &core.LoadError{Source: c.rng, Err: fmt.Errorf("read range: %w", err)}
	}
	ds, err := parseValues(c.rng, values)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Loaded dataset from Google Sheets",
		"range", c.rng,
		"rows", ds.Len(),
		"duration", time.Since(start))
	return ds, nil
}

// newSheetsService initializes a read-only Sheets service from service
// account credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}
