package chart

import "github.com/okanelabs/tickerdeck/internal/domain"

// Surface is the chart widget contract. The widget itself lives in the
// browser; the web layer implements Surface by pushing frames to it. Resizing
// is handled wholly on the widget side and never reaches the renderer.
type Surface interface {
	SetData(candles []domain.Candle)
	Update(candle domain.Candle)
	FitContent()
	SetPriceLine(price float64)
	ClearPriceLine()
	Remove()
}

// Renderer drives one surface and owns the fit-once rule: the viewport is
// fitted on the first non-empty full series per activation and never again,
// so live updates don't reset the user's zoom or pan.
type Renderer struct {
	surface Surface
	fitted  bool
}

func NewRenderer(surface Surface) *Renderer {
	return &Renderer{surface: surface}
}

// SetFullSeries redraws the whole series. An empty series clears the widget
// without consuming the one fit.
func (r *Renderer) SetFullSeries(candles []domain.Candle) {
	r.surface.SetData(candles)
	if len(candles) == 0 {
		return
	}
	if !r.fitted {
		r.surface.FitContent()
		r.fitted = true
	}
	r.surface.SetPriceLine(candles[len(candles)-1].Close)
}

// UpdateLastCandle applies one incremental point. It never re-fits.
func (r *Renderer) UpdateLastCandle(candle domain.Candle) {
	r.surface.Update(candle)
}

// Reset re-arms the fit for the next activation (symbol or resolution change).
func (r *Renderer) Reset() {
	r.fitted = false
	r.surface.ClearPriceLine()
}

func (r *Renderer) Fitted() bool {
	return r.fitted
}

// Remove disposes the widget on session teardown.
func (r *Renderer) Remove() {
	r.surface.Remove()
}
