// Package chart renders query results as an SVG line chart with markers.
package chart

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"cpidash/internal/core"

	gochart "github.com/wcharczuk/go-chart/v2"
)

// ErrNoData is returned when no series has any point to draw.
var ErrNoData = errors.New("no data points in selection")

// Size is the rendered canvas in pixels.
type Size struct {
	Width  int
	Height int
}

// DefaultSize matches the dashboard layout.
var DefaultSize = Size{Width: 960, Height: 480}

func lineStyle(i int) gochart.Style {
	col := gochart.GetDefaultColor(i)
	return gochart.Style{
		StrokeWidth: 2,
		StrokeColor: col,
		DotWidth:    3,
		DotColor:    col,
	}
}

// RenderSVG draws one line per series with a legend. Series without points
// are left out of the drawing but the call only fails when all are empty.
func RenderSVG(w io.Writer, title string, series []core.Series, size Size) error {
	if size.Width <= 0 || size.Height <= 0 {
		size = DefaultSize
	}

	var (
		drawn      []gochart.Series
		minY, maxY = math.Inf(1), math.Inf(-1)
	)
	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		xs := make([]time.Time, 0, len(s.Points)+1)
		ys := make([]float64, 0, len(s.Points)+1)
		for _, p := range s.Points {
			xs = append(xs, p.Date)
			ys = append(ys, p.Value)
			minY = math.Min(minY, p.Value)
			maxY = math.Max(maxY, p.Value)
		}
		// go-chart needs two X values to compute a range.
		if len(xs) == 1 {
			xs = append(xs, xs[0].AddDate(0, 0, 1))
			ys = append(ys, ys[0])
		}
		drawn = append(drawn, gochart.TimeSeries{
			Name:    s.Category,
			XValues: xs,
			YValues: ys,
			Style:   lineStyle(i),
		})
	}
	if len(drawn) == 0 {
		return ErrNoData
	}

	yAxis := gochart.YAxis{Name: "Index"}
	if minY == maxY {
		yAxis.Range = &gochart.ContinuousRange{Min: minY - 1, Max: maxY + 1}
	}

	ch := gochart.Chart{
		Title:      title,
		Width:      size.Width,
		Height:     size.Height,
		Background: gochart.Style{Padding: gochart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      gochart.XAxis{Name: "Date", ValueFormatter: gochart.TimeDateValueFormatter},
		YAxis:      yAxis,
		Series:     drawn,
	}
	ch.Elements = []gochart.Renderable{gochart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(gochart.SVG, &buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// WritePlaceholder writes a blank SVG carrying the title and a message, used
// when there is nothing to plot or rendering failed.
func WritePlaceholder(w io.Writer, title, message string, size Size) error {
	if size.Width <= 0 || size.Height <= 0 {
		size = DefaultSize
	}
	var t, m bytes.Buffer
	_ = xml.EscapeText(&t, []byte(title))
	_ = xml.EscapeText(&m, []byte(message))

	_, err := fmt.Fprintf(w, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
		`<rect width="100%%" height="100%%" fill="#ffffff"/>`+
		`<text x="50%%" y="32" text-anchor="middle" font-family="sans-serif" font-size="18">%s</text>`+
		`<text x="50%%" y="50%%" text-anchor="middle" font-family="sans-serif" font-size="14" fill="#666666">%s</text>`+
		`</svg>`,
		size.Width, size.Height, size.Width, size.Height, t.String(), m.String())
	return err
}
