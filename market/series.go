// Package market holds the return series model shared by every stage of the
// volatility pipeline, plus CSV ingest and trading-calendar gap checks.
package market

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/volrisk/riskerr"
)

// Observation is a single dated return.
type Observation struct {
	Date   time.Time
	Return float64
}

// Series is an ordered, validated sequence of daily returns for one index.
// A Series is immutable: accessors hand out copies and Slice returns a view
// that cannot be written through.
type Series struct {
	name string
	obs  []Observation
}

// NewSeries validates obs and returns a Series owning a copy of it. Dates
// must be strictly increasing and returns finite.
func NewSeries(name string, obs []Observation) (Series, error) {
	for i, o := range obs {
		if math.IsNaN(o.Return) || math.IsInf(o.Return, 0) {
			return Series{}, riskerr.New(riskerr.KindValidation, "market.NewSeries",
				"observation %d (%s): non-finite return %v", i, o.Date.Format(time.DateOnly), o.Return)
		}
		if i == 0 {
			continue
		}
		prev := obs[i-1].Date
		switch {
		case o.Date.Equal(prev):
			return Series{}, riskerr.New(riskerr.KindValidation, "market.NewSeries",
				"observation %d: duplicate date %s", i, o.Date.Format(time.DateOnly))
		case o.Date.Before(prev):
			return Series{}, riskerr.New(riskerr.KindValidation, "market.NewSeries",
				"observation %d: date %s out of order (after %s)", i,
				o.Date.Format(time.DateOnly), prev.Format(time.DateOnly))
		}
	}
	cp := make([]Observation, len(obs))
	copy(cp, obs)
	return Series{name: name, obs: cp}, nil
}

// FromReturns builds a Series on consecutive weekdays starting at start.
// Used for simulated paths that have no natural calendar.
func FromReturns(name string, start time.Time, returns []float64) (Series, error) {
	obs := make([]Observation, len(returns))
	d := start
	for i, r := range returns {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		obs[i] = Observation{Date: d, Return: r}
		d = d.AddDate(0, 0, 1)
	}
	return NewSeries(name, obs)
}

func (s Series) Name() string { return s.name }
func (s Series) Len() int     { return len(s.obs) }

// At returns the i'th observation.
func (s Series) At(i int) Observation { return s.obs[i] }

// Start returns the first date, or the zero time for an empty series.
func (s Series) Start() time.Time {
	if len(s.obs) == 0 {
		return time.Time{}
	}
	return s.obs[0].Date
}

// End returns the last date, or the zero time for an empty series.
func (s Series) End() time.Time {
	if len(s.obs) == 0 {
		return time.Time{}
	}
	return s.obs[len(s.obs)-1].Date
}

// Returns returns a copy of the return values.
func (s Series) Returns() []float64 {
	out := make([]float64, len(s.obs))
	for i, o := range s.obs {
		out[i] = o.Return
	}
	return out
}

// Dates returns a copy of the observation dates.
func (s Series) Dates() []time.Time {
	out := make([]time.Time, len(s.obs))
	for i, o := range s.obs {
		out[i] = o.Date
	}
	return out
}

// Slice returns the sub-series [from, to). The result shares storage with s,
// which is safe because Series has no mutators.
func (s Series) Slice(from, to int) Series {
	if from < 0 || to > len(s.obs) || from > to {
		panic(fmt.Sprintf("market: slice [%d:%d] out of range for series of length %d", from, to, len(s.obs)))
	}
	return Series{name: s.name, obs: s.obs[from:to:to]}
}

// Index returns the position of date d, or -1.
func (s Series) Index(d time.Time) int {
	lo, hi := 0, len(s.obs)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.obs[mid].Date.Before(d) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.obs) && s.obs[lo].Date.Equal(d) {
		return lo
	}
	return -1
}

// Align inner-joins two series on date and returns the common dates with
// the matching values from each side.
func Align(a, b Series) (dates []time.Time, x, y []float64) {
	i, j := 0, 0
	for i < len(a.obs) && j < len(b.obs) {
		da, db := a.obs[i].Date, b.obs[j].Date
		switch {
		case da.Equal(db):
			dates = append(dates, da)
			x = append(x, a.obs[i].Return)
			y = append(y, b.obs[j].Return)
			i++
			j++
		case da.Before(db):
			i++
		default:
			j++
		}
	}
	return dates, x, y
}
