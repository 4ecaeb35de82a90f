package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cpidash/internal/core"
	applog "cpidash/internal/log"
	"cpidash/internal/services"
	"cpidash/internal/sources/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.QueryEvent
}

func (p *recordingPublisher) PublishQueryEvent(_ context.Context, ev core.QueryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

func quietLogger() *applog.Logger {
	return applog.New(applog.Config{Component: "test", Handler: slog.NewTextHandler(io.Discard, nil)})
}

func newTestServer(t *testing.T, opts Options) (*Server, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	svc := services.NewQueryService(core.NewDataset(memory.Sample()), pub)
	if opts.DefaultCategories == nil {
		opts.DefaultCategories = []string{"Health"}
	}
	if opts.DefaultStart == "" {
		opts.DefaultStart = "2019-01-01"
	}
	opts.Logger = quietLogger()
	srv := NewServer(":0", svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, pub
}

func do(srv *Server, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

type apiResponse struct {
	Chart struct {
		Title  string `json:"title"`
		Series []struct {
			Category string `json:"category"`
			Points   []struct {
				Date  string  `json:"date"`
				Value float64 `json:"value"`
			} `json:"points"`
		} `json:"series"`
	} `json:"chart"`
	Table []core.TableRow `json:"table"`
}

func TestIndexAndProbes(t *testing.T) {
	srv, pub := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"Consumer Price Index, Australia",
		`<option value="Health" selected>`,
		`<option value="Food">`,
		`min="2019-01-01"`,
		`max="2021-01-01"`,
		"<td>2020-01-01</td><td>Health</td>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("index body missing %q", want)
		}
	}
	if len(pub.kinds()) != 0 {
		t.Errorf("initial render must not publish events, got %v", pub.kinds())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(srv, http.MethodGet, path, nil, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
	}

	if rr := do(srv, http.MethodGet, "/nope", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown path status=%d", rr.Code)
	}
}

func TestReadyFailsOnEmptyDataset(t *testing.T) {
	svc := services.NewQueryService(core.NewDataset(nil), nil)
	srv := NewServer(":0", svc, Options{Logger: quietLogger()})
	defer srv.Shutdown(context.Background())

	rr := do(srv, http.MethodGet, "/readyz", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestAPIQuery(t *testing.T) {
	srv, pub := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/api/query?categories=Health&start_date=2019-06-01&end_date=2021-06-01", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got apiResponse
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Chart.Title != "Health CPI" {
		t.Errorf("title = %q", got.Chart.Title)
	}
	if len(got.Chart.Series) != 1 || len(got.Chart.Series[0].Points) != 2 {
		t.Fatalf("unexpected series: %+v", got.Chart.Series)
	}
	if got.Chart.Series[0].Points[0].Date != "2020-01-01" {
		t.Errorf("point date = %q", got.Chart.Series[0].Points[0].Date)
	}
	want := []core.TableRow{
		{Date: "2020-01-01", Category: "Health", Value: 105.2},
		{Date: "2021-01-01", Category: "Health", Value: 108.0},
	}
	if len(got.Table) != 2 || got.Table[0] != want[0] || got.Table[1] != want[1] {
		t.Fatalf("table = %+v", got.Table)
	}
	if k := pub.kinds(); len(k) != 1 || k[0] != core.EventQuery {
		t.Fatalf("expected one query event, got %v", k)
	}
}

func TestAPIQueryPOST(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"json", "application/json", `{"categories":["Food","Health"],"start_date":"2019-01-01","end_date":"2021-01-01"}`},
		{"form", "application/x-www-form-urlencoded", "categories=Food&categories=Health&start_date=2019-01-01&end_date=2021-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(srv, http.MethodPost, "/api/query", strings.NewReader(tt.body), map[string]string{"Content-Type": tt.contentType})
			if rr.Code != http.StatusOK {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			var got apiResponse
			if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Chart.Title != "Food, Health CPI" {
				t.Errorf("title = %q", got.Chart.Title)
			}
			if len(got.Table) != 4 || got.Table[0].Category != "Food" || got.Table[1].Category != "Health" {
				t.Fatalf("rows must be category-major, got %+v", got.Table)
			}
		})
	}
}

func TestAPIQueryErrors(t *testing.T) {
	srv, pub := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/api/query?categories=Health&start_date=2019-13-01&end_date=2021-01-01", nil, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var e apiError
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if e.Field != "start_date" || e.Value != "2019-13-01" {
		t.Fatalf("unexpected error body: %+v", e)
	}

	rr = do(srv, http.MethodPost, "/api/query", strings.NewReader(`{"categories":`), map[string]string{"Content-Type": "application/json"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rr.Code)
	}

	rr = do(srv, http.MethodDelete, "/api/query", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != "GET, POST" {
		t.Fatalf("expected 405 with Allow, got %d %q", rr.Code, rr.Header().Get("Allow"))
	}

	if len(pub.kinds()) != 0 {
		t.Fatalf("rejected queries must not publish events")
	}
}

func TestAPIQueryEmptyResults(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	for _, target := range []string{
		"/api/query?start_date=2019-01-01&end_date=2021-01-01",
		"/api/query?categories=Transport&start_date=2019-01-01&end_date=2021-01-01",
		"/api/query?categories=Health&start_date=2021-01-01&end_date=2019-01-01",
	} {
		rr := do(srv, http.MethodGet, target, nil, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status=%d", target, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"table":[]`) {
			t.Errorf("%s: expected empty table array, got %s", target, rr.Body.String())
		}
	}
}

func TestResultsPartial(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/ui/results?categories=Health&categories=Food&start_date=2019-01-01&end_date=2021-01-01", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "/chart.svg?") || !strings.Contains(body, "/export.csv?") {
		t.Fatalf("partial missing chart or export link: %s", body)
	}
	if !strings.Contains(body, "<td>Health</td>") || !strings.Contains(body, "98.5") {
		t.Fatalf("partial missing table rows: %s", body)
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), `"rows":4`) {
		t.Fatalf("unexpected HX-Trigger: %s", rr.Header().Get("HX-Trigger"))
	}

	rr = do(srv, http.MethodGet, "/ui/results?categories=Health&start_date=&end_date=2021-01-01", nil, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `class="error"`) {
		t.Fatalf("expected error fragment, got %s", rr.Body.String())
	}
}

func TestExportCSV(t *testing.T) {
	srv, pub := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/export.csv?categories=Health&start_date=2019-06-01&end_date=2021-06-01", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, ".csv") {
		t.Errorf("content disposition = %q", cd)
	}
	want := "Date,Attribute,Value\n2020-01-01,Health,105.2\n2021-01-01,Health,108\n"
	if rr.Body.String() != want {
		t.Fatalf("body = %q, want %q", rr.Body.String(), want)
	}
	if k := pub.kinds(); len(k) != 1 || k[0] != core.EventExport {
		t.Fatalf("expected one export event, got %v", k)
	}

	rr = do(srv, http.MethodGet, "/export.csv?categories=Health&start_date=bad&end_date=2021-06-01", nil, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestExportCSVHead(t *testing.T) {
	srv, pub := newTestServer(t, Options{})

	rr := do(srv, http.MethodHead, "/export.csv?categories=Health&start_date=2019-06-01&end_date=2021-06-01", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if cl := rr.Header().Get("Content-Length"); cl == "" || cl == "0" {
		t.Errorf("content length = %q", cl)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("HEAD wrote a body: %q", rr.Body.String())
	}
	if k := pub.kinds(); len(k) != 0 {
		t.Fatalf("HEAD must not record an export, got %v", k)
	}
}

func TestChartSVG(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name   string
		target string
		status int
		want   string
	}{
		{"data", "/chart.svg?categories=Health&start_date=2019-01-01&end_date=2021-01-01", http.StatusOK, "Health"},
		{"no data", "/chart.svg?categories=Transport&start_date=2019-01-01&end_date=2021-01-01", http.StatusOK, "No data"},
		{"invalid", "/chart.svg?categories=Health&start_date=x&end_date=2021-01-01", http.StatusUnprocessableEntity, "Invalid start_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(srv, http.MethodGet, tt.target, nil, nil)
			if rr.Code != tt.status {
				t.Fatalf("status=%d, want %d", rr.Code, tt.status)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "image/svg+xml" {
				t.Errorf("content type = %q", ct)
			}
			body := rr.Body.String()
			if !strings.HasPrefix(body, "<svg") || !strings.Contains(body, tt.want) {
				t.Fatalf("unexpected body: %.200s", body)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/api/categories", nil, nil)
	var got categoriesResponse
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Categories) != 2 || got.Categories[0] != "Health" || got.Categories[1] != "Food" {
		t.Fatalf("categories = %v", got.Categories)
	}
	if got.MinDate != "2019-01-01" || got.MaxDate != "2021-01-01" {
		t.Fatalf("bounds = %s..%s", got.MinDate, got.MaxDate)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	do(srv, http.MethodGet, "/api/query?categories=Health&start_date=2019-01-01&end_date=2021-01-01", nil, nil)
	do(srv, http.MethodGet, "/api/query?categories=Health&start_date=bad&end_date=2021-01-01", nil, nil)

	rr := do(srv, http.MethodGet, "/metrics", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`cpidash_queries_total{surface="api"} 1`,
		`cpidash_validation_errors_total{field="start_date"} 1`,
		`cpidash_dataset_observations 4`,
		`cpidash_http_requests_total{method="GET",route="/api/query",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	srv, _ := newTestServer(t, Options{Users: map[string]string{"analyst": "s3cret"}})

	if rr := do(srv, http.MethodGet, "/", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/healthz", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("health must skip auth, got %d", rr.Code)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("analyst", "s3cret")
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		if rr := do(srv, http.MethodGet, "/api/categories", nil, nil); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status=%d", i, rr.Code)
		}
	}
	rr := do(srv, http.MethodGet, "/api/categories", nil, nil)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/healthz", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("health must skip rate limiting, got %d", rr.Code)
	}
}

func TestSecurityHeadersAndProbeBlocking(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/api/categories", nil, nil)
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if rr.Header().Get("Content-Security-Policy") == "" {
		t.Error("missing CSP header")
	}

	if rr := do(srv, http.MethodGet, "/.env", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected probe to be blocked, got %d", rr.Code)
	}
}

func TestFormatValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en-US")
	if got := formatValue(printerFor(req), 1234.5); got != "1,234.5" {
		t.Fatalf("formatValue = %q", got)
	}
	if got := formatValue(printerFor(req), 105.2); got != "105.2" {
		t.Fatalf("formatValue = %q", got)
	}
}

func TestTrustedProxyForwardedClients(t *testing.T) {
	// httptest requests arrive from 192.0.2.1.
	trusted, _ := newTestServer(t, Options{RateLimitPerMinute: 1, TrustedProxies: []string{"192.0.2.0/24"}})
	for _, ip := range []string{"203.0.113.10", "203.0.113.11"} {
		rr := do(trusted, http.MethodGet, "/api/categories", nil, map[string]string{"X-Forwarded-For": ip})
		if rr.Code != http.StatusOK {
			t.Fatalf("client %s behind trusted proxy: status=%d", ip, rr.Code)
		}
	}

	direct, _ := newTestServer(t, Options{RateLimitPerMinute: 1, TrustedProxies: []string{"not-a-cidr"}})
	do(direct, http.MethodGet, "/api/categories", nil, map[string]string{"X-Forwarded-For": "203.0.113.10"})
	rr := do(direct, http.MethodGet, "/api/categories", nil, map[string]string{"X-Forwarded-For": "203.0.113.11"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("forwarded header from untrusted peer should be ignored, got %d", rr.Code)
	}
}
