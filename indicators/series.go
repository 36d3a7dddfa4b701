package indicators

import (
	"time"

	"github.com/rustyeddy/volrisk/market"
	"github.com/rustyeddy/volrisk/riskerr"
)

// Point is one output of a rolling indicator. Valid is false before the
// window fills and wherever the statistic is undefined.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	Valid bool      `json:"valid"`
}

// RollingCorrelation aligns a and b by date and returns one Point per
// common date.
func RollingCorrelation(a, b market.Series, n int) ([]Point, error) {
	const op = "indicators.RollingCorrelation"
	if n < 2 {
		return nil, riskerr.New(riskerr.KindValidation, op, "window must be at least 2, got %d", n)
	}
	dates, x, y := market.Align(a, b)
	if len(dates) < n {
		return nil, riskerr.New(riskerr.KindInsufficientData, op,
			"%d common dates between %q and %q, window is %d", len(dates), a.Name(), b.Name(), n)
	}

	c := NewCorrelation(n)
	out := make([]Point, len(dates))
	for i := range dates {
		c.Update(x[i], y[i])
		out[i] = Point{Date: dates[i], Value: c.Value(), Valid: c.Ready()}
	}
	return out, nil
}

// RollingVolatility returns the rolling sample standard deviation of s.
func RollingVolatility(s market.Series, n int, periodsPerYear float64) ([]Point, error) {
	const op = "indicators.RollingVolatility"
	if n < 2 {
		return nil, riskerr.New(riskerr.KindValidation, op, "window must be at least 2, got %d", n)
	}

	v := NewVolatility(n, periodsPerYear)
	out := make([]Point, s.Len())
	for i := 0; i < s.Len(); i++ {
		o := s.At(i)
		v.Update(o.Return)
		out[i] = Point{Date: o.Date, Value: v.Value(), Valid: v.Ready()}
	}
	return out, nil
}
