// Package riskerr defines the closed set of failure kinds produced by the
// volatility and risk pipeline.
//
// Callers pick a recovery policy per kind: the walk-forward evaluator skips
// and logs windows that fail with NonConvergence or NonStationarity, while
// InsufficientData aborts the enclosing run.
package riskerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind int

const (
	// KindUnknown is never produced by this module; it is what KindOf
	// returns for foreign errors.
	KindUnknown Kind = iota
	KindNonConvergence
	KindNonStationarity
	KindInvalidConfidenceLevel
	KindBacktestDegenerate
	KindInsufficientData
	KindValidation
)

var kindNames = [...]string{
	KindUnknown:                "unknown",
	KindNonConvergence:         "non_convergence",
	KindNonStationarity:        "non_stationarity",
	KindInvalidConfidenceLevel: "invalid_confidence_level",
	KindBacktestDegenerate:     "backtest_degenerate",
	KindInsufficientData:       "insufficient_data",
	KindValidation:             "validation",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Error is the error type returned by every package in this module when the
// failure belongs to one of the kinds above.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "egarch.Fit".
	Op string
	// Window is the walk-forward window index, or -1 outside a window.
	Window int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := e.Op
	if e.Window >= 0 {
		s += fmt.Sprintf(" [window %d]", e.Window)
	}
	s += ": " + e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind alone: errors.Is(err, riskerr.NonConvergence).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind-only targets for errors.Is.
var (
	NonConvergence         = &Error{Kind: KindNonConvergence, Window: -1}
	NonStationarity        = &Error{Kind: KindNonStationarity, Window: -1}
	InvalidConfidenceLevel = &Error{Kind: KindInvalidConfidenceLevel, Window: -1}
	BacktestDegenerate     = &Error{Kind: KindBacktestDegenerate, Window: -1}
	InsufficientData       = &Error{Kind: KindInsufficientData, Window: -1}
	Validation             = &Error{Kind: KindValidation, Window: -1}
)

// New returns an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Window: -1, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Window: -1, Err: err}
}

// InWindow returns a copy of err tagged with a walk-forward window index.
// Errors that are not *Error are wrapped as KindUnknown.
func InWindow(err error, window int) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		c := *e
		c.Window = window
		return &c
	}
	return &Error{Kind: KindUnknown, Op: "window", Window: window, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
