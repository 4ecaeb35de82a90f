package http

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"cpidash/internal/core"
	"cpidash/internal/export"
	applog "cpidash/internal/log"
	"cpidash/internal/services"
)

// handleExport downloads the table response of the selection as CSV.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}

	req := QueryRequestFromValues(r.URL.Query())
	sel, err := services.ParseSelection(req)
	if err != nil {
		s.validationFailed(r, err)
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: ve.Error(), Field: ve.Field, Value: ve.Value})
			return
		}
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	resp := s.service.Run(sel)

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, resp.Table); err != nil {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).LogError(r.Context(),
			"CSV export failed", err, applog.ComponentExport, applog.OpExport, applog.NewFields())
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	name := export.Filename(sel)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = buf.WriteTo(w)

	s.metrics.queryServed(surfaceExport, len(resp.Table))
	s.service.RecordExport(r.Context(), req, resp)
	applog.NewStructuredLogger(applog.FromContext(r.Context())).
		LogExport(r.Context(), sel.Categories, req.StartDate, req.EndDate, len(resp.Table), name)
}
