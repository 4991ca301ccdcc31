// Package signal implements the coalescing event bus that wakes sqlsync's
// task loops. Rather than the original implementation's reference cycles
// between a document, its reactive tracker, and its sinks, every emitter
// holds a *Router and pushes a tag; a task loop blocks in Wait and drains
// every tag pushed since the last wake in one batch. Grounded on the
// REDESIGN FLAGS guidance to replace cyclic/shared ownership with an
// identifier-keyed map plus a signal router.
package signal

import "sync"

// Router coalesces signals raised by any number of emitters into a single
// wake channel, deduplicating repeated tags between wakes so a task loop
// never processes the same reason twice in one batch.
type Router struct {
	mu      sync.Mutex
	pending map[string]struct{}
	wake    chan struct{}
}

// New returns an empty Router.
func New() *Router {
	return &Router{
		pending: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Raise records tag as pending and wakes any Wait call, coalescing with
// any other tag already pending since the last drain.
func (r *Router) Raise(tag string) {
	r.mu.Lock()
	r.pending[tag] = struct{}{}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Wait returns, without blocking, the channel a caller can select on. The
// channel buffers at most one wake, so several Raise calls before a receive
// coalesce into one; call Drain to retrieve and clear the pending tags.
// Drain does not consume a wake that is already buffered.
func (r *Router) Wait() <-chan struct{} {
	return r.wake
}

// Drain returns every tag raised since the last Drain, in no particular
// order, and clears the pending set.
func (r *Router) Drain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}
	tags := make([]string, 0, len(r.pending))
	for tag := range r.pending {
		tags = append(tags, tag)
	}
	r.pending = make(map[string]struct{})
	return tags
}

// Pending reports whether any tag is currently waiting to be drained.
func (r *Router) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) > 0
}
