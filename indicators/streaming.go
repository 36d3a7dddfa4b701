package indicators

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// window is a fixed-size ring buffer.
type window struct {
	buf  []float64
	next int
	full bool
}

func newWindow(n int) window {
	return window{buf: make([]float64, n)}
}

func (w *window) push(x float64) {
	w.buf[w.next] = x
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *window) reset() {
	clear(w.buf)
	w.next = 0
	w.full = false
}

// Correlation is a streaming Pearson correlation over the last n pairs.
// It is not ready until n pairs have been seen, and it is not ready while
// either series is constant over the window.
type Correlation struct {
	n    int
	x, y window
	rho  float64
	ok   bool
}

// NewCorrelation creates a rolling correlation over n observations (n >= 2).
func NewCorrelation(n int) *Correlation {
	return &Correlation{n: n, x: newWindow(n), y: newWindow(n)}
}

func (c *Correlation) Name() string { return fmt.Sprintf("CORR(%d)", c.n) }
func (c *Correlation) Warmup() int  { return c.n }

func (c *Correlation) Reset() {
	c.x.reset()
	c.y.reset()
	c.rho, c.ok = 0, false
}

// Update recomputes the correlation over the whole window, so there is no
// drift from running sums.
func (c *Correlation) Update(x, y float64) {
	c.x.push(x)
	c.y.push(y)
	c.rho, c.ok = 0, false
	if !c.x.full {
		return
	}
	c.rho, c.ok = pearson(c.x.buf, c.y.buf)
}

func (c *Correlation) Ready() bool { return c.ok }

func (c *Correlation) Value() float64 {
	if !c.ok {
		return 0
	}
	return c.rho
}

// pearson returns the correlation of x and y, clamped to [-1, 1]. ok is
// false when either slice is constant.
func pearson(x, y []float64) (float64, bool) {
	if constant(x) || constant(y) {
		return 0, false
	}
	rho := stat.Correlation(x, y, nil)
	if math.IsNaN(rho) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, rho)), true
}

func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

// Volatility is the streaming sample standard deviation of the last n
// returns, optionally scaled by sqrt(periodsPerYear).
type Volatility struct {
	n     int
	scale float64
	w     window
}

// NewVolatility creates a rolling volatility over n returns (n >= 2).
// periodsPerYear <= 0 disables annualization.
func NewVolatility(n int, periodsPerYear float64) *Volatility {
	scale := 1.0
	if periodsPerYear > 0 {
		scale = math.Sqrt(periodsPerYear)
	}
	return &Volatility{n: n, scale: scale, w: newWindow(n)}
}

func (v *Volatility) Name() string { return fmt.Sprintf("VOL(%d)", v.n) }
func (v *Volatility) Warmup() int  { return v.n }
func (v *Volatility) Reset()       { v.w.reset() }
func (v *Volatility) Update(x float64) {
	v.w.push(x)
}
func (v *Volatility) Ready() bool { return v.w.full }

func (v *Volatility) Value() float64 {
	if !v.Ready() {
		return 0
	}
	return v.scale * stat.StdDev(v.w.buf, nil)
}
