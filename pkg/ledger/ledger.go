// Package ledger tracks the fog device's own uncommitted local CPU/RAM/GPU
// capacity (spec §4.2). It is single-owner state: the engine is the only
// caller, serialized under its own mutex (spec §5), so Ledger itself does
// no locking of its own.
package ledger

import (
	"fmt"

	"github.com/cuemby/fogdispatch/pkg/types"
)

// Ledger holds the three uncommitted local resource counters. Each value
// always lies in [0, initial].
type Ledger struct {
	initial   types.ResourceEstimate
	available types.ResourceEstimate
}

// New creates a Ledger with the given initial local capacity.
func New(initial types.ResourceEstimate) *Ledger {
	return &Ledger{initial: initial, available: initial}
}

// Available returns the current uncommitted capacity.
func (l *Ledger) Available() types.ResourceEstimate {
	return l.available
}

// Fits reports whether the estimate can be reserved right now.
func (l *Ledger) Fits(est types.ResourceEstimate) bool {
	return est.Fits(l.available)
}

// Reserve subtracts the task's estimate from the counters. The caller must
// have already verified Fits; driving a counter negative is a programming
// error (spec §4.2) and panics rather than silently corrupting the ledger.
func (l *Ledger) Reserve(est types.ResourceEstimate) {
	if !l.Fits(est) {
		panic(fmt.Sprintf("ledger: reserve would drive a counter negative: have %+v, want %+v", l.available, est))
	}
	l.available.CPU -= est.CPU
	l.available.RAM -= est.RAM
	l.available.GPU -= est.GPU
}

// Release adds the estimate back. Each task must be released exactly once;
// Release does not guard against double-release (spec §4.2 does not
// require idempotence).
func (l *Ledger) Release(est types.ResourceEstimate) {
	l.available.CPU += est.CPU
	l.available.RAM += est.RAM
	l.available.GPU += est.GPU
}
