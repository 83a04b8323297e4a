package fetch

import "sync/atomic"

// Signal is the cooperative state observed by an in-flight fetch between
// chunk writes.
type Signal int32

const (
	SignalNone Signal = iota
	SignalPause
	SignalCancel
)

// Control carries pause and cancel requests into an in-flight fetch. Pause is
// a lighter-weight signal than cancel: a paused fetch returns OutcomePaused
// and can be re-invoked, a cancelled one returns OutcomeCancelled and the
// session must be restarted explicitly. Both leave the partial file intact.
type Control struct {
	signal atomic.Int32
}

// Pause requests suspension. It is ignored after a cancel.
func (c *Control) Pause() {
	c.signal.CompareAndSwap(int32(SignalNone), int32(SignalPause))
}

// Resume clears a pending pause. It does not undo a cancel.
func (c *Control) Resume() {
	c.signal.CompareAndSwap(int32(SignalPause), int32(SignalNone))
}

// Cancel requests termination. Cancel always wins over pause.
func (c *Control) Cancel() {
	c.signal.Store(int32(SignalCancel))
}

// Signal returns the currently requested signal.
func (c *Control) Signal() Signal {
	return Signal(c.signal.Load())
}
