// Package indicators provides rolling statistics over return series:
// Pearson correlation between two aligned series and rolling volatility.
package indicators

// Indicator computes a single streaming value from observations.
// It is deterministic: the same inputs always give the same value.
type Indicator interface {
	// Name returns a stable identifier like "CORR(60)" or "VOL(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Ready reports whether Value() is meaningful.
	Ready() bool
}

type ValueF64 interface {
	// Value returns the current value. Callers should always check Ready().
	Value() float64
}

// PairUpdater consumes one observation from each of two aligned series.
type PairUpdater interface {
	Update(x, y float64)
}

// Updater consumes one observation.
type Updater interface {
	Update(x float64)
}

var (
	_ Indicator   = (*Correlation)(nil)
	_ ValueF64    = (*Correlation)(nil)
	_ PairUpdater = (*Correlation)(nil)
	_ Indicator   = (*Volatility)(nil)
	_ ValueF64    = (*Volatility)(nil)
	_ Updater     = (*Volatility)(nil)
)
