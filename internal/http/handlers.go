package http

import (
	"net/http"
	"time"

	"golang.org/x/text/message"

	"cpidash/internal/core"
	applog "cpidash/internal/log"
	"cpidash/internal/services"
)

// pageData feeds index.html.
type pageData struct {
	Title      string
	Categories []string
	Request    services.QueryRequest
	MinDate    string
	MaxDate    string
	Results    *resultsData
}

// resultsData feeds the results.html partial.
type resultsData struct {
	Title     string
	Table     []core.TableRow
	Series    int
	ChartURL  string
	ExportURL string
	Printer   *message.Printer
}

func (s *Server) newResultsData(r *http.Request, req services.QueryRequest, resp services.QueryResponse) *resultsData {
	q := QueryValues(req).Encode()
	return &resultsData{
		Title:     resp.Chart.Title,
		Table:     resp.Table,
		Series:    len(resp.Chart.Series),
		ChartURL:  "/chart.svg?" + q,
		ExportURL: "/export.csv?" + q,
		Printer:   printerFor(r),
	}
}

// defaultRequest is the initial selection: configured categories and the
// configured range, falling back to the dataset's bounds.
func (s *Server) defaultRequest() services.QueryRequest {
	first, last := s.service.Dataset().Bounds()
	req := services.QueryRequest{
		Categories: append([]string(nil), s.opts.DefaultCategories...),
		StartDate:  s.opts.DefaultStart,
		EndDate:    s.opts.DefaultEnd,
	}
	if req.StartDate == "" && !first.IsZero() {
		req.StartDate = core.FormatDate(first)
	}
	if req.EndDate == "" && !last.IsZero() {
		req.EndDate = core.FormatDate(last)
	}
	return req
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	logger := applog.FromContext(r.Context())
	if s.templates == nil {
		logger.ErrorContext(r.Context(), "Templates not loaded",
			applog.FieldPath, r.URL.Path,
			applog.FieldComponent, applog.ComponentTemplate,
			applog.FieldErrorType, applog.ErrorTypeConfiguration)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	ds := s.service.Dataset()
	first, last := ds.Bounds()
	data := pageData{
		Title:      s.opts.Title,
		Categories: ds.Categories(),
		Request:    s.defaultRequest(),
	}
	if !first.IsZero() {
		data.MinDate = core.FormatDate(first)
		data.MaxDate = core.FormatDate(last)
	}

	// The initial render is not a user query, so no usage event is sent.
	if sel, err := services.ParseSelection(data.Request); err == nil {
		data.Results = s.newResultsData(r, data.Request, s.service.Run(sel))
	} else {
		logger.WarnContext(r.Context(), "Default selection is invalid",
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeConfiguration)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		logger.ErrorContext(r.Context(), "Index template execution failed",
			applog.FieldError, err,
			"template", "index.html")
	}
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports whether the dataset and templates are usable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	sum := s.service.Dataset().Summary()
	if sum.Observations == 0 {
		checks["dataset"] = "failed: no observations"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["dataset"] = map[string]any{
			"status":       "ok",
			"observations": sum.Observations,
			"categories":   sum.Categories,
			"first":        core.FormatDate(sum.First),
			"last":         core.FormatDate(sum.Last),
		}
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
	MinDate    string   `json:"min_date,omitempty"`
	MaxDate    string   `json:"max_date,omitempty"`
	Defaults   []string `json:"defaults"`
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	ds := s.service.Dataset()
	out := categoriesResponse{
		Categories: ds.Categories(),
		Defaults:   append([]string{}, s.opts.DefaultCategories...),
	}
	if out.Categories == nil {
		out.Categories = []string{}
	}
	if first, last := ds.Bounds(); !first.IsZero() {
		out.MinDate = core.FormatDate(first)
		out.MaxDate = core.FormatDate(last)
	}
	writeJSON(w, http.StatusOK, out)
}
