package market

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"

	"github.com/rustyeddy/volrisk/riskerr"
)

// GapPolicy decides what happens when expected sessions are missing.
type GapPolicy string

const (
	GapIgnore GapPolicy = "ignore"
	GapWarn   GapPolicy = "warn"
	GapReject GapPolicy = "reject"
)

// Sessions reports whether a date is an expected trading session.
type Sessions interface {
	IsTradingDay(d time.Time) bool
}

// TradingCalendar answers session questions from an exchange calendar,
// falling back to Monday-Friday when the MIC is unknown.
type TradingCalendar struct {
	MIC      string
	Calendar *calendar.Calendar
	Fallback bool
	Location *time.Location
}

// NewTradingCalendar loads the calendar for an ISO 10383 MIC such as
// "xnys" or "xmad". An empty or unknown MIC yields a weekday calendar.
func NewTradingCalendar(mic string) *TradingCalendar {
	mic = strings.ToLower(strings.TrimSpace(mic))
	if mic != "" {
		if cal := calendar.GetCalendar(mic); cal != nil {
			return &TradingCalendar{MIC: mic, Calendar: cal, Location: cal.Loc}
		}
	}
	return &TradingCalendar{MIC: mic, Fallback: true, Location: time.UTC}
}

// IsTradingDay evaluates the calendar date of d (its year, month and day)
// in the exchange's own time zone.
func (tc *TradingCalendar) IsTradingDay(d time.Time) bool {
	loc := tc.Location
	if loc == nil {
		loc = time.UTC
	}
	local := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc)
	if tc.Fallback || tc.Calendar == nil {
		wd := local.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(local)
}

// Gap is a run of expected sessions absent between two observations.
type Gap struct {
	After   time.Time
	Before  time.Time
	Missing int
}

// GapReport summarizes how a series covers the expected sessions between its
// first and last date.
type GapReport struct {
	Expected   int
	Present    int
	Missing    int
	Unexpected int // observations dated on non-session days
	Gaps       []Gap
	LongestGap int
}

// FindGaps walks the calendar between s.Start() and s.End().
func FindGaps(s Series, sessions Sessions) GapReport {
	var r GapReport
	if s.Len() == 0 {
		return r
	}

	for i := 0; i < s.Len(); i++ {
		d := s.At(i).Date
		if sessions.IsTradingDay(d) {
			r.Present++
		} else {
			r.Unexpected++
		}
		if i == 0 {
			continue
		}

		prev := s.At(i - 1).Date
		missing := 0
		for day := nextDay(prev); day.Before(dayOf(d)); day = nextDay(day) {
			if sessions.IsTradingDay(day) {
				missing++
			}
		}
		if missing > 0 {
			r.Gaps = append(r.Gaps, Gap{After: prev, Before: d, Missing: missing})
			r.Missing += missing
			if missing > r.LongestGap {
				r.LongestGap = missing
			}
		}
	}
	r.Expected = r.Present + r.Missing
	return r
}

// Check applies policy to the report. Only GapReject can fail.
func (r GapReport) Check(policy GapPolicy) error {
	if policy != GapReject || r.Missing == 0 {
		return nil
	}
	g := r.Gaps[0]
	return riskerr.New(riskerr.KindValidation, "market.GapReport",
		"%d missing sessions in %d gaps (first: %d after %s)",
		r.Missing, len(r.Gaps), g.Missing, g.After.Format(time.DateOnly))
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nextDay(t time.Time) time.Time {
	return dayOf(t).AddDate(0, 0, 1)
}
