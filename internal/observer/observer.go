// Package observer watches the live chat-list surface, classifies rows,
// debounces preview changes through per-contact grace timers, and feeds
// the host drain loop through two drainable queues.
package observer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	logpkg "github.com/TayyabAziz11/personal-ai-employee/internal/log"
	"github.com/TayyabAziz11/personal-ai-employee/internal/registry"
)

// ChatSurface is the read side of the automation session: a snapshot of
// the whole chat list, and a targeted re-read of one contact's row.
type ChatSurface interface {
	Snapshot(ctx context.Context) ([]ChatRow, error)
	Row(ctx context.Context, contact string) (ChatRow, bool, error)
}

// LiveState is the synchronous "live state of contact X" answer used by
// the arbitrator's cheap pre-send re-read.
type LiveState struct {
	Preview          string
	OperatorAuthored bool
	Found            bool
}

// Config holds observer tuning.
type Config struct {
	ScanInterval time.Duration
	GracePeriod  time.Duration
	// Signature marks the automation's own replies; previews containing
	// it are never re-answered.
	Signature string
	// MaxScanFailures is the number of consecutive snapshot failures
	// tolerated before Start returns an error (default 10).
	MaxScanFailures int

	// Extra heuristics appended to the defaults.
	ExtraExclusionSignals  []Signal
	ExtraAuthorshipSignals []Signal
}

// Observer classifies chat-list entries and detects preview changes and
// operator-authored sends. Queues and registry state live on the struct
// so nothing is lost when the scan loop is reinjected.
type Observer struct {
	surface ChatSurface
	reg     *registry.Registry
	logger  *logpkg.EventLog

	scanInterval time.Duration
	grace        time.Duration
	signature    string
	maxFailures  int

	exclusion  []Signal
	authorship []Signal

	timers    *timerRegistry
	confirmed *confirmedQueue
	activity  *activityQueue

	mu       sync.Mutex
	lastScan time.Time
	emitted  map[string]string // contact key -> last confirmed preview
}

// New creates an observer over the given surface.
func New(surface ChatSurface, reg *registry.Registry, logger *logpkg.EventLog, cfg Config) *Observer {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 700 * time.Millisecond
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 2 * time.Second
	}
	if cfg.MaxScanFailures <= 0 {
		cfg.MaxScanFailures = 10
	}
	return &Observer{
		surface:      surface,
		reg:          reg,
		logger:       logger,
		scanInterval: cfg.ScanInterval,
		grace:        cfg.GracePeriod,
		signature:    cfg.Signature,
		maxFailures:  cfg.MaxScanFailures,
		exclusion:    append(DefaultExclusionSignals(), cfg.ExtraExclusionSignals...),
		authorship:   append(DefaultAuthorshipSignals(), cfg.ExtraAuthorshipSignals...),
		timers:       newTimerRegistry(),
		confirmed:    &confirmedQueue{},
		activity:     &activityQueue{},
		emitted:      make(map[string]string),
	}
}

// Start runs the scan loop until ctx is cancelled or too many consecutive
// snapshot failures accumulate. Queued items survive a restart of Start.
func (o *Observer) Start(ctx context.Context) error {
	ticker := time.NewTicker(o.scanInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			o.timers.CancelAll()
			return nil
		case <-ticker.C:
			if err := o.ScanOnce(ctx); err != nil {
				failures++
				log.Printf("observer scan error (%d/%d): %v", failures, o.maxFailures, err)
				if failures >= o.maxFailures {
					return fmt.Errorf("observer: %d consecutive scan failures: %w", failures, err)
				}
				continue
			}
			failures = 0
		}
	}
}

// ScanOnce takes one chat-list snapshot and processes every row.
func (o *Observer) ScanOnce(ctx context.Context) error {
	rows, err := o.surface.Snapshot(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.lastScan = time.Now()
	o.mu.Unlock()

	for _, row := range rows {
		o.processRow(row)
	}
	return nil
}

func (o *Observer) processRow(row ChatRow) {
	if row.Name == "" {
		return
	}
	if _, excluded := anyMatch(o.exclusion, row); excluded {
		return // groups, broadcasts and system chats never produce candidates
	}

	if !o.reg.UpdatePreview(row.Name, row.Preview) {
		return // unchanged since last snapshot
	}

	key := registry.Key(row.Name)

	if o.reg.IsInFlight(row.Name) {
		// Our own dispatch churns the row. Record the preview but never
		// read it as operator activity or a new candidate.
		return
	}
	if o.signature != "" && strings.Contains(row.Preview, o.signature) {
		// Our own signed reply surfacing after the in-flight marker
		// cleared. Cooldowns are for human activity only.
		return
	}

	if _, operator := anyMatch(o.authorship, row); operator {
		if o.timers.Cancel(key) {
			o.logEvent(logpkg.EventTypeCandidateCancelled, row.Name, row.Preview, "operator_activity")
		}
		o.activity.Push(OperatorActivity{Contact: row.Name, ObservedAt: time.Now()})
		return
	}

	candidate := ConfirmedMessage{Contact: row.Name, Preview: row.Preview}
	o.timers.Schedule(key, o.grace, func() {
		o.confirm(candidate)
	})
	o.logEvent(logpkg.EventTypeCandidateScheduled, row.Name, row.Preview, "")
}

// confirm runs when a candidate's grace period elapses. It re-reads live
// state and discards the candidate unless it is still safe to answer.
func (o *Observer) confirm(cand ConfirmedMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	row, found, err := o.surface.Row(ctx, cand.Contact)
	if err != nil {
		o.discard(cand, "live_read_failed: "+err.Error())
		return
	}
	if !found {
		o.discard(cand, "row_gone")
		return
	}
	if o.reg.IsInFlight(cand.Contact) {
		o.discard(cand, "in_flight")
		return
	}
	if _, operator := anyMatch(o.authorship, row); operator {
		o.activity.Push(OperatorActivity{Contact: cand.Contact, ObservedAt: time.Now()})
		o.discard(cand, "operator_authored")
		return
	}
	if row.Preview != cand.Preview {
		o.discard(cand, "superseded")
		return
	}
	if IsPlaceholder(row.Preview) {
		o.discard(cand, "placeholder")
		return
	}
	if o.signature != "" && strings.Contains(row.Preview, o.signature) {
		o.discard(cand, "self_authored")
		return
	}

	key := registry.Key(cand.Contact)
	o.mu.Lock()
	if o.emitted[key] == cand.Preview {
		o.mu.Unlock()
		o.discard(cand, "already_confirmed")
		return
	}
	o.emitted[key] = cand.Preview
	o.mu.Unlock()

	cand.ConfirmedAt = time.Now()
	o.confirmed.Push(cand)
	o.logEvent(logpkg.EventTypeConfirmed, cand.Contact, cand.Preview, "")
}

func (o *Observer) discard(cand ConfirmedMessage, reason string) {
	o.logEvent(logpkg.EventTypeCandidateDiscarded, cand.Contact, cand.Preview, reason)
}

// DrainConfirmed removes and returns all queued confirmed messages in
// FIFO arrival order.
func (o *Observer) DrainConfirmed() []ConfirmedMessage {
	return o.confirmed.Drain()
}

// DrainActivity removes and returns all queued operator-activity events.
func (o *Observer) DrainActivity() []OperatorActivity {
	return o.activity.Drain()
}

// CancelCandidate cancels any pending grace timer for the contact.
func (o *Observer) CancelCandidate(contact string) {
	if o.timers.Cancel(registry.Key(contact)) {
		o.logEvent(logpkg.EventTypeCandidateCancelled, contact, "", "drain_cancel")
	}
}

// ResetEmitted forgets the confirmed-dedup entry for the contact so a
// re-observed identical preview may be confirmed again.
func (o *Observer) ResetEmitted(contact string) {
	o.mu.Lock()
	delete(o.emitted, registry.Key(contact))
	o.mu.Unlock()
}

// LiveState re-reads the contact's row and answers the arbitrator's
// cheap pre-send check.
func (o *Observer) LiveState(ctx context.Context, contact string) (LiveState, error) {
	row, found, err := o.surface.Row(ctx, contact)
	if err != nil {
		return LiveState{}, err
	}
	if !found {
		return LiveState{}, nil
	}
	_, operator := anyMatch(o.authorship, row)
	return LiveState{Preview: row.Preview, OperatorAuthored: operator, Found: true}, nil
}

// LastScan returns the time of the most recent successful snapshot.
func (o *Observer) LastScan() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastScan
}

// Alive reports whether a snapshot succeeded within staleAfter.
func (o *Observer) Alive(staleAfter time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastScan.IsZero() {
		return false
	}
	return time.Since(o.lastScan) <= staleAfter
}

// PendingCandidates returns the number of armed grace timers.
func (o *Observer) PendingCandidates() int {
	return o.timers.Len()
}

// QueuedConfirmed returns the number of confirmed messages awaiting drain.
func (o *Observer) QueuedConfirmed() int {
	return o.confirmed.Len()
}

func (o *Observer) logEvent(eventType, contact, preview, detail string) {
	if o.logger == nil {
		return
	}
	evt := logpkg.NewEvent(eventType, contact).WithPreview(preview)
	if detail != "" {
		evt = evt.WithStatus(detail)
	}
	_ = o.logger.Log(evt)
}
