// Package registry holds the in-memory per-contact state shared by the
// observer, drain loop and send arbitrator. Contacts are created lazily on
// first observation and live for the process lifetime.
package registry

import (
	"strings"
	"sync"
	"time"
)

// Role identifies who authored a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one turn of a contact's conversation history.
type HistoryEntry struct {
	Role Role
	Text string
}

// Contact is the per-contact state record. Preview fields are mutated by
// the observer; cooldown, in-flight and history by the drain loop and
// arbitrator. All access goes through Registry methods.
type Contact struct {
	Name            string
	LastSeenPreview string
	CooldownUntil   time.Time
	InFlight        bool
	History         []HistoryEntry
}

// Key derives a stable contact key from a display name or handle.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry is the mutex-guarded map of contact state.
type Registry struct {
	mu           sync.Mutex
	historyLimit int
	contacts     map[string]*Contact
}

// New creates a registry with the given per-contact history bound.
func New(historyLimit int) *Registry {
	if historyLimit <= 0 {
		historyLimit = 12
	}
	return &Registry{
		historyLimit: historyLimit,
		contacts:     make(map[string]*Contact),
	}
}

// lookup returns the contact record, creating it on first observation.
// Caller must hold r.mu.
func (r *Registry) lookup(name string) *Contact {
	key := Key(name)
	c, ok := r.contacts[key]
	if !ok {
		c = &Contact{Name: strings.TrimSpace(name)}
		r.contacts[key] = c
	}
	return c
}

// LastSeenPreview returns the last snapshot preview for the contact.
func (r *Registry) LastSeenPreview(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(name).LastSeenPreview
}

// UpdatePreview records a new snapshot preview and reports whether it
// changed since the previous snapshot.
func (r *Registry) UpdatePreview(name, preview string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(name)
	if c.LastSeenPreview == preview {
		return false
	}
	c.LastSeenPreview = preview
	return true
}

// SetCooldown suppresses automated sends for the contact until the given
// time. Later expiries win; an earlier call never shortens a cooldown.
func (r *Registry) SetCooldown(name string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(name)
	if until.After(c.CooldownUntil) {
		c.CooldownUntil = until
	}
}

// InCooldown reports whether the contact is inside its cooldown window.
func (r *Registry) InCooldown(name string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Before(r.lookup(name).CooldownUntil)
}

// CooldownUntil returns the contact's cooldown expiry (zero if none).
func (r *Registry) CooldownUntil(name string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(name).CooldownUntil
}

// MarkInFlight marks the contact as having a send in progress. Returns
// false if a send was already in flight.
func (r *Registry) MarkInFlight(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(name)
	if c.InFlight {
		return false
	}
	c.InFlight = true
	return true
}

// ClearInFlight clears the in-flight marker.
func (r *Registry) ClearInFlight(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookup(name).InFlight = false
}

// IsInFlight reports whether a send is in progress for the contact.
func (r *Registry) IsInFlight(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(name).InFlight
}

// AppendHistory appends one turn, evicting the oldest entry when the
// bound is exceeded.
func (r *Registry) AppendHistory(name string, entry HistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(name)
	c.History = append(c.History, entry)
	if len(c.History) > r.historyLimit {
		c.History = c.History[len(c.History)-r.historyLimit:]
	}
}

// RollbackHistory removes the most recent history entry. Used to undo the
// speculative incoming-message entry when a send aborts.
func (r *Registry) RollbackHistory(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(name)
	if len(c.History) > 0 {
		c.History = c.History[:len(c.History)-1]
	}
}

// History returns a copy of the contact's conversation history.
func (r *Registry) History(name string) []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.lookup(name)
	out := make([]HistoryEntry, len(c.History))
	copy(out, c.History)
	return out
}

// Len returns the number of known contacts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contacts)
}
