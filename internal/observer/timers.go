package observer

import (
	"sync"
	"time"
)

// timerRegistry manages per-contact cancellable grace timers with
// cancel-on-reschedule semantics: one live timer per contact key,
// replace not stack.
type timerRegistry struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[string]*time.Timer)}
}

// Schedule arms a timer for the key, cancelling any prior pending timer.
// fn runs once after d unless cancelled or replaced first.
func (r *timerRegistry) Schedule(key string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.timers[key]; ok {
		prior.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		// Only fire if we are still the registered timer for this key;
		// a replace or cancel that raced the firing wins.
		if current, ok := r.timers[key]; !ok || current != t {
			r.mu.Unlock()
			return
		}
		delete(r.timers, key)
		r.mu.Unlock()
		fn()
	})
	r.timers[key] = t
}

// Cancel stops the pending timer for the key, if any. Returns true when a
// timer was pending.
func (r *timerRegistry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.timers, key)
	return true
}

// CancelAll stops every pending timer.
func (r *timerRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
}

// Len returns the number of pending timers.
func (r *timerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
