// Package arbiter implements the race-sensitive commit path: it re-checks
// live state immediately before sending and performs the dispatch, rolling
// back speculative state on abort. A failed dispatch is never retried;
// retries risk duplicate sends.
package arbiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TayyabAziz11/personal-ai-employee/internal/checkpoint"
	logpkg "github.com/TayyabAziz11/personal-ai-employee/internal/log"
	"github.com/TayyabAziz11/personal-ai-employee/internal/observer"
	"github.com/TayyabAziz11/personal-ai-employee/internal/registry"
)

// Authorship values for the definitive last-message check.
const (
	AuthorshipOurs    = "ours"
	AuthorshipTheirs  = "theirs"
	AuthorshipUnknown = "unknown"
)

// Conversation is the automation-session boundary used for dispatch.
type Conversation interface {
	OpenOrFindContact(ctx context.Context, name string) (bool, error)
	FocusComposer(ctx context.Context) (bool, error)
	TypeAndSubmit(ctx context.Context, text string) (bool, error)
	ReturnToListView(ctx context.Context) error
	// LastMessageAuthorship reads the true last-message record of the
	// open conversation, not the list preview. Returns ours, theirs or
	// unknown.
	LastMessageAuthorship(ctx context.Context, contact string) (string, error)
}

// LiveStater answers the cheap pre-send preview re-read.
type LiveStater interface {
	LiveState(ctx context.Context, contact string) (observer.LiveState, error)
}

// Outcome is the result of one dispatch attempt.
type Outcome int

const (
	// OutcomeSent: reply dispatched, checkpoint persisted.
	OutcomeSent Outcome = iota
	// OutcomeAborted: operator claimed the conversation; cooldown entered.
	OutcomeAborted
	// OutcomeFailed: dispatch primitive failed; no retry.
	OutcomeFailed
	// OutcomeRetry: authorship indeterminate; safe to retry on a later tick.
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeAborted:
		return "aborted"
	case OutcomeFailed:
		return "failed"
	case OutcomeRetry:
		return "retry"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Arbiter re-verifies authorship before committing a send.
type Arbiter struct {
	reg    *registry.Registry
	cp     *checkpoint.Store
	conv   Conversation
	live   LiveStater
	logger *logpkg.EventLog

	signature      string
	cooldownWindow time.Duration
}

// New creates an arbiter.
func New(reg *registry.Registry, cp *checkpoint.Store, conv Conversation, live LiveStater, logger *logpkg.EventLog, signature string, cooldownWindow time.Duration) *Arbiter {
	if cooldownWindow <= 0 {
		cooldownWindow = 10 * time.Minute
	}
	return &Arbiter{
		reg:            reg,
		cp:             cp,
		conv:           conv,
		live:           live,
		logger:         logger,
		signature:      signature,
		cooldownWindow: cooldownWindow,
	}
}

// Dispatch commits one confirmed message. The caller has already appended
// the speculative incoming-history entry and generated the reply text;
// every non-Sent outcome rolls that entry back.
//
// State machine: IDLE → IN_FLIGHT → {SENT | ABORTED} → IDLE, with the
// cooldown overlay entered on abort.
func (a *Arbiter) Dispatch(ctx context.Context, m observer.ConfirmedMessage, replyText string) Outcome {
	started := time.Now()

	if !a.reg.MarkInFlight(m.Contact) {
		// A send for this contact is already running; never overlap.
		a.reg.RollbackHistory(m.Contact)
		a.logEvent(logpkg.EventTypeAborted, m.Contact, m.Preview, "already_in_flight", "")
		return OutcomeAborted
	}
	defer a.reg.ClearInFlight(m.Contact)

	// Step 2: cheap preview re-read.
	state, err := a.live.LiveState(ctx, m.Contact)
	if err != nil {
		a.reg.RollbackHistory(m.Contact)
		a.logEvent(logpkg.EventTypeAuthorshipUnknown, m.Contact, m.Preview, "live_read_failed", err.Error())
		return OutcomeRetry
	}
	if state.Found && state.OperatorAuthored {
		return a.abort(m, "operator_authored_preview")
	}
	if state.Found && a.signature != "" && strings.Contains(state.Preview, a.signature) {
		return a.abort(m, "self_authored_preview")
	}

	// Step 3: definitive authorship read of the true last-message record.
	found, err := a.conv.OpenOrFindContact(ctx, m.Contact)
	if err != nil || !found {
		a.reg.RollbackHistory(m.Contact)
		a.logEvent(logpkg.EventTypeSendFailed, m.Contact, m.Preview, "open_contact_failed", errText(err))
		return OutcomeFailed
	}

	authorship, err := a.conv.LastMessageAuthorship(ctx, m.Contact)
	if err != nil || authorship == AuthorshipUnknown {
		// Conservatively not confirmed safe; a later tick may resolve it.
		a.reg.RollbackHistory(m.Contact)
		a.returnToList(ctx, m.Contact)
		a.logEvent(logpkg.EventTypeAuthorshipUnknown, m.Contact, m.Preview, "indeterminate", errText(err))
		return OutcomeRetry
	}
	if authorship == AuthorshipOurs {
		outcome := a.abort(m, "operator_authored_record")
		a.returnToList(ctx, m.Contact)
		return outcome
	}

	// Step 4: dispatch.
	if ok, err := a.conv.FocusComposer(ctx); err != nil || !ok {
		a.reg.RollbackHistory(m.Contact)
		a.returnToList(ctx, m.Contact)
		a.logEvent(logpkg.EventTypeSendFailed, m.Contact, m.Preview, "focus_composer_failed", errText(err))
		return OutcomeFailed
	}
	if ok, err := a.conv.TypeAndSubmit(ctx, replyText); err != nil || !ok {
		a.reg.RollbackHistory(m.Contact)
		a.returnToList(ctx, m.Contact)
		a.logEvent(logpkg.EventTypeSendFailed, m.Contact, m.Preview, "submit_failed", errText(err))
		return OutcomeFailed
	}

	a.reg.AppendHistory(m.Contact, registry.HistoryEntry{Role: registry.RoleAssistant, Text: replyText})
	if err := a.cp.Record(m.Contact, m.Preview); err != nil {
		// The send went out; losing the checkpoint write risks one
		// duplicate after restart but must not fail the dispatch.
		a.logEvent(logpkg.EventTypeSendFailed, m.Contact, m.Preview, "checkpoint_write_failed", err.Error())
	}
	a.returnToList(ctx, m.Contact)

	evt := logpkg.NewEvent(logpkg.EventTypeSent, m.Contact).
		WithPreview(m.Preview).
		WithLatency(float64(time.Since(started).Milliseconds()))
	if a.logger != nil {
		_ = a.logger.Log(evt)
	}
	return OutcomeSent
}

// abort rolls back the speculative history entry, enters cooldown and
// reports the abort. The in-flight marker is cleared by Dispatch's defer.
func (a *Arbiter) abort(m observer.ConfirmedMessage, reason string) Outcome {
	a.reg.RollbackHistory(m.Contact)
	a.reg.SetCooldown(m.Contact, time.Now().Add(a.cooldownWindow))
	a.logEvent(logpkg.EventTypeAborted, m.Contact, m.Preview, reason, "")
	a.logEvent(logpkg.EventTypeCooldownEntered, m.Contact, "", reason, "")
	return OutcomeAborted
}

func (a *Arbiter) returnToList(ctx context.Context, contact string) {
	if err := a.conv.ReturnToListView(ctx); err != nil {
		a.logEvent(logpkg.EventTypeSendFailed, contact, "", "return_to_list_failed", err.Error())
	}
}

func (a *Arbiter) logEvent(eventType, contact, preview, status, errMsg string) {
	if a.logger == nil {
		return
	}
	evt := logpkg.NewEvent(eventType, contact).WithPreview(preview)
	if status != "" {
		evt = evt.WithStatus(status)
	}
	if errMsg != "" {
		evt = evt.WithError(errMsg)
	}
	_ = a.logger.Log(evt)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
