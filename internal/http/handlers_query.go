package http

import (
	"errors"
	"net/http"

	"cpidash/internal/core"
	applog "cpidash/internal/log"
	"cpidash/internal/services"
)

// Surfaces label where a query was served from.
const (
	surfaceUI     = "ui"
	surfaceAPI    = "api"
	surfaceExport = "export"
	surfaceChart  = "chart"
)

// execute runs req through the service, logging and counting the outcome.
// The only error is a *core.ValidationError.
func (s *Server) execute(r *http.Request, surface string, req services.QueryRequest) (services.QueryResponse, error) {
	resp, err := s.service.Execute(r.Context(), req)
	if err != nil {
		s.validationFailed(r, err)
		return resp, err
	}
	s.metrics.queryServed(surface, len(resp.Table))
	applog.NewStructuredLogger(applog.FromContext(r.Context())).
		LogQueryExecuted(r.Context(), req.Categories, req.StartDate, req.EndDate, len(resp.Chart.Series), len(resp.Table))
	return resp, nil
}

func (s *Server) validationFailed(r *http.Request, err error) {
	field := "unknown"
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		field = ve.Field
	}
	s.metrics.validationErrors.WithLabelValues(field).Inc()
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Query rejected",
		applog.NewFields().
			WithError(err).
			WithErrorType(applog.ErrorTypeValidation).
			WithOperation(applog.OpValidate).
			ToSlice()...)
}

// handleResults renders the results partial for the dashboard form.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}
	if s.templates == nil {
		InternalServerError("Templates not loaded").Write(w)
		return
	}

	req := QueryRequestFromValues(r.URL.Query())
	resp, err := s.execute(r, surfaceUI, req)
	if err != nil {
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			ValidationErrorResponse(ve).Write(w)
			return
		}
		InternalServerError("Query failed").Write(w)
		return
	}

	NewHTMXResponse().
		Header("Content-Type", "text/html; charset=utf-8").
		TriggerResultsUpdated(len(resp.Chart.Series), len(resp.Table)).
		WriteHeaders(w)
	if err := s.templates.ExecuteTemplate(w, "results.html", s.newResultsData(r, req, resp)); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Results template execution failed",
			applog.FieldError, err,
			"template", "results.html")
	}
}

// handleAPIQuery serves the JSON query contract. GET reads the URL query;
// POST reads a JSON or form body.
func (s *Server) handleAPIQuery(w http.ResponseWriter, r *http.Request) {
	if resp := RequireMethod(r, http.MethodGet, http.MethodPost); resp != nil {
		resp.Write(w)
		return
	}

	var req services.QueryRequest
	if r.Method == http.MethodPost {
		p := NewRequestBodyParser(r)
		if err := p.Parse(); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed request body"})
			return
		}
		req = p.QueryRequest()
	} else {
		req = QueryRequestFromValues(r.URL.Query())
	}

	resp, err := s.execute(r, surfaceAPI, req)
	if err != nil {
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: ve.Error(), Field: ve.Field, Value: ve.Value})
			return
		}
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
