package http

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"cpidash/internal/chart"
	"cpidash/internal/core"
	applog "cpidash/internal/log"
	"cpidash/internal/services"
)

const (
	maxChartWidth  = 2400
	maxChartHeight = 1600
)

// handleChart renders the selection as an SVG line chart. Invalid or empty
// selections get a placeholder image so the page layout never breaks.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if resp := RequireGET(r); resp != nil {
		resp.Write(w)
		return
	}

	q := r.URL.Query()
	size := s.chartSize
	if v, err := strconv.Atoi(q.Get("w")); err == nil && v > 0 && v <= maxChartWidth {
		size.Width = v
	}
	if v, err := strconv.Atoi(q.Get("h")); err == nil && v > 0 && v <= maxChartHeight {
		size.Height = v
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")

	req := QueryRequestFromValues(q)
	title := services.ChartTitle(req.Categories)
	sel, err := services.ParseSelection(req)
	if err != nil {
		s.validationFailed(r, err)
		status, msg := http.StatusBadRequest, "Invalid request"
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			status, msg = http.StatusUnprocessableEntity, "Invalid "+ve.Field
		}
		w.WriteHeader(status)
		_ = chart.WritePlaceholder(w, title, msg, size)
		return
	}

	resp := s.service.Run(sel)
	s.metrics.queryServed(surfaceChart, len(resp.Table))

	var buf bytes.Buffer
	err = chart.RenderSVG(&buf, resp.Chart.Title, resp.Chart.Series, size)
	switch {
	case errors.Is(err, chart.ErrNoData):
		_ = chart.WritePlaceholder(w, resp.Chart.Title, "No data for the selected categories and dates", size)
	case err != nil:
		applog.NewStructuredLogger(applog.FromContext(r.Context())).LogError(r.Context(),
			"Chart rendering failed", err, applog.ComponentChart, applog.OpRender,
			applog.NewFields().WithSelection(sel.Categories, req.StartDate, req.EndDate))
		_ = chart.WritePlaceholder(w, resp.Chart.Title, "Chart unavailable", size)
	default:
		_, _ = buf.WriteTo(w)
	}
}
