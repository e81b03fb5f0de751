package pipeline

import (
	"context"
	"sync"
)

// Progress fractions reported at stage boundaries.
const (
	FractionStart          = 0.0
	FractionPricingStarted = 0.1
	FractionPricingDone    = 0.2
	FractionGenerated      = 0.7
	FractionCompleted      = 1.0
)

// Progress is one snapshot of a run. Fractions never decrease within a run.
// The last snapshot of a failed run has Stage StateErrored and keeps the
// fraction reached before the failure.
type Progress struct {
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message"`
	Stage    State   `json:"stage"`
}

// ProgressFunc receives progress snapshots on the goroutine running the pipeline.
type ProgressFunc func(Progress)

// ProgressChannel adapts progress callbacks to a channel. Sends block until
// the reader receives or ctx is done. Call closeFn after the run returns.
func ProgressChannel(ctx context.Context, buffer int) (fn ProgressFunc, ch <-chan Progress, closeFn func()) {
	c := make(chan Progress, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)

	fn = func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case c <- p:
		case <-ctx.Done():
		}
	}
	closeFn = func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(c)
		}
	}
	return fn, c, closeFn
}

// tracker enforces monotonic progress for one run.
type tracker struct {
	fn   ProgressFunc
	last float64
}

func (t *tracker) emit(stage State, fraction float64, message string) {
	if fraction < t.last {
		fraction = t.last
	}
	t.last = fraction
	if t.fn != nil {
		t.fn(Progress{Fraction: fraction, Message: message, Stage: stage})
	}
}
