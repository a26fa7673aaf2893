// Package watch provides the cancellation handle returned by live listeners.
package watch

import "context"

// Handle controls one live listener. It is done once cancelled by its owner
// or replaced by a newer listener on the same tracker.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New derives a handle from parent.
func New(parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{ctx: ctx, cancel: cancel}
}

// Context is cancelled when the handle is.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Cancel stops the listener. Safe to call more than once and on nil.
func (h *Handle) Cancel() {
	if h != nil {
		h.cancel()
	}
}

// Done is closed once the listener has been stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Slot holds at most one active handle. Starting a new one cancels the old.
type Slot struct {
	active *Handle
}

// Replace cancels the current handle, if any, and installs h.
// Callers serialize access.
func (s *Slot) Replace(h *Handle) {
	s.active.Cancel()
	s.active = h
}

// Cancel cancels and clears the current handle.
func (s *Slot) Cancel() {
	s.active.Cancel()
	s.active = nil
}
