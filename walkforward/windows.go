// Package walkforward evaluates the volatility model out of sample: it fits
// on a training window, filters one step ahead through the following test
// range without refitting, rolls the origin forward and repeats.
package walkforward

import (
	"fmt"

	"github.com/rustyeddy/volrisk/riskerr"
)

// Policy decides how the training window moves.
type Policy string

const (
	// Rolling keeps the training length fixed.
	Rolling Policy = "rolling"
	// Expanding anchors the training window at the first observation.
	Expanding Policy = "expanding"
)

// WindowSpec describes how windows are laid out over a series.
type WindowSpec struct {
	Policy      Policy `json:"policy" yaml:"policy"`
	TrainLength int    `json:"train_length" yaml:"train_length"`
	Step        int    `json:"step" yaml:"step"`
}

// Window is one descriptor. Ranges are half open: train is
// [TrainStart, TrainEnd) and test is [TestStart, TestEnd), with
// TestStart == TrainEnd.
type Window struct {
	Index      int `json:"index"`
	TrainStart int `json:"train_start"`
	TrainEnd   int `json:"train_end"`
	TestStart  int `json:"test_start"`
	TestEnd    int `json:"test_end"`
}

func (w Window) TrainLen() int { return w.TrainEnd - w.TrainStart }
func (w Window) TestLen() int  { return w.TestEnd - w.TestStart }

func (w Window) String() string {
	return fmt.Sprintf("window %d train [%d,%d) test [%d,%d)",
		w.Index, w.TrainStart, w.TrainEnd, w.TestStart, w.TestEnd)
}

// Validate checks the spec on its own.
func (s WindowSpec) Validate() error {
	switch s.Policy {
	case Rolling, Expanding:
	default:
		return fmt.Errorf("policy must be %q or %q, got %q", Rolling, Expanding, s.Policy)
	}
	if s.TrainLength < 1 {
		return fmt.Errorf("train_length must be positive")
	}
	if s.Step < 1 {
		return fmt.Errorf("step must be positive")
	}
	return nil
}

// Windows lays out descriptors over n observations. Test ranges tile
// [TrainLength, n) without overlap; the last one may be shorter than Step.
func Windows(n int, spec WindowSpec) ([]Window, error) {
	const op = "walkforward.Windows"
	if err := spec.Validate(); err != nil {
		return nil, riskerr.Wrap(riskerr.KindValidation, op, err)
	}
	if n <= spec.TrainLength {
		return nil, riskerr.New(riskerr.KindInsufficientData, op,
			"%d observations leave no test range after a training length of %d", n, spec.TrainLength)
	}

	var out []Window
	for end := spec.TrainLength; end < n; end += spec.Step {
		start := 0
		if spec.Policy == Rolling {
			start = end - spec.TrainLength
		}
		out = append(out, Window{
			Index:      len(out),
			TrainStart: start,
			TrainEnd:   end,
			TestStart:  end,
			TestEnd:    min(end+spec.Step, n),
		})
	}
	return out, nil
}
