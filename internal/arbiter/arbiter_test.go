package arbiter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TayyabAziz11/personal-ai-employee/internal/checkpoint"
	"github.com/TayyabAziz11/personal-ai-employee/internal/observer"
	"github.com/TayyabAziz11/personal-ai-employee/internal/registry"
)

type fakeConv struct {
	authorship    string
	authorshipErr error
	openFound     bool
	openErr       error
	focusOK       bool
	submitOK      bool
	submitErr     error

	sent     []string
	returned int
}

func newFakeConv() *fakeConv {
	return &fakeConv{authorship: AuthorshipTheirs, openFound: true, focusOK: true, submitOK: true}
}

func (f *fakeConv) OpenOrFindContact(ctx context.Context, name string) (bool, error) {
	return f.openFound, f.openErr
}

func (f *fakeConv) FocusComposer(ctx context.Context) (bool, error) {
	return f.focusOK, nil
}

func (f *fakeConv) TypeAndSubmit(ctx context.Context, text string) (bool, error) {
	if f.submitErr == nil && f.submitOK {
		f.sent = append(f.sent, text)
	}
	return f.submitOK, f.submitErr
}

func (f *fakeConv) ReturnToListView(ctx context.Context) error {
	f.returned++
	return nil
}

func (f *fakeConv) LastMessageAuthorship(ctx context.Context, contact string) (string, error) {
	return f.authorship, f.authorshipErr
}

type fakeLive struct {
	state observer.LiveState
	err   error
}

func (f *fakeLive) LiveState(ctx context.Context, contact string) (observer.LiveState, error) {
	return f.state, f.err
}

func newTestArbiter(t *testing.T, conv Conversation, live LiveStater) (*Arbiter, *registry.Registry, *checkpoint.Store) {
	t.Helper()
	reg := registry.New(8)
	cp, err := checkpoint.Load(filepath.Join(t.TempDir(), "checkpoint.json"))
	if err != nil {
		t.Fatal(err)
	}
	return New(reg, cp, conv, live, nil, "— sent by assistant", 10*time.Minute), reg, cp
}

// speculate mimics the drain loop's speculative history append that every
// dispatch expects to find on top of the contact's history.
func speculate(reg *registry.Registry, m observer.ConfirmedMessage) {
	reg.AppendHistory(m.Contact, registry.HistoryEntry{Role: registry.RoleUser, Text: m.Preview})
}

func TestDispatchSends(t *testing.T) {
	conv := newFakeConv()
	live := &fakeLive{state: observer.LiveState{Preview: "Hi there", Found: true}}
	arb, reg, cp := newTestArbiter(t, conv, live)

	m := observer.ConfirmedMessage{Contact: "alice", Preview: "Hi there"}
	speculate(reg, m)

	if got := arb.Dispatch(context.Background(), m, "Hello!"); got != OutcomeSent {
		t.Fatalf("outcome = %v, want sent", got)
	}
	if len(conv.sent) != 1 || conv.sent[0] != "Hello!" {
		t.Errorf("sent = %v", conv.sent)
	}
	if text, ok := cp.LastAnswered("alice"); !ok || text != "Hi there" {
		t.Errorf("checkpoint = %q, %v", text, ok)
	}
	history := reg.History("alice")
	if len(history) != 2 || history[1].Role != registry.RoleAssistant || history[1].Text != "Hello!" {
		t.Errorf("history = %+v", history)
	}
	if reg.IsInFlight("alice") {
		t.Error("in-flight marker must be cleared after dispatch")
	}
	if conv.returned != 1 {
		t.Errorf("ReturnToListView called %d times", conv.returned)
	}
}

// The operator's reply lands between confirmation and send: the definitive
// last-message record is ours, so the send aborts, history rolls back and
// the contact enters cooldown.
func TestDispatchAbortsWhenOperatorAnswered(t *testing.T) {
	conv := newFakeConv()
	conv.authorship = AuthorshipOurs
	live := &fakeLive{state: observer.LiveState{Preview: "Hi there", Found: true}}
	arb, reg, cp := newTestArbiter(t, conv, live)

	m := observer.ConfirmedMessage{Contact: "alice", Preview: "Hi there"}
	speculate(reg, m)

	if got := arb.Dispatch(context.Background(), m, "Hello!"); got != OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", got)
	}
	if len(conv.sent) != 0 {
		t.Errorf("nothing should be sent, got %v", conv.sent)
	}
	if _, ok := cp.LastAnswered("alice"); ok {
		t.Error("checkpoint must not record an aborted send")
	}
	if got := reg.History("alice"); len(got) != 0 {
		t.Errorf("speculative history entry not rolled back: %+v", got)
	}
	if !reg.InCooldown("alice", time.Now()) {
		t.Error("abort must enter cooldown")
	}
}

func TestDispatchAbortsOnOperatorPreview(t *testing.T) {
	conv := newFakeConv()
	live := &fakeLive{state: observer.LiveState{Preview: "You: got it", OperatorAuthored: true, Found: true}}
	arb, reg, _ := newTestArbiter(t, conv, live)

	m := observer.ConfirmedMessage{Contact: "alice", Preview: "Hi there"}
	speculate(reg, m)

	if got := arb.Dispatch(context.Background(), m, "Hello!"); got != OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", got)
	}
	if len(conv.sent) != 0 {
		t.Error("preview abort happens before the conversation is opened")
	}
}

func TestDispatchAbortsOnOwnSignaturePreview(t *testing.T) {
	conv := newFakeConv()
	live := &fakeLive{state: observer.LiveState{Preview: "All set — sent by assistant", Found: true}}
	arb, reg, _ := newTestArbiter(t, conv, live)

	m := observer.ConfirmedMessage{Contact: "alice", Preview: "Hi there"}
	speculate(reg, m)

	if got := arb.Dispatch(context.Background(), m, "Hello!"); got != OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", got)
	}
}

func TestDispatchRetriesOnUnknownAuthorship(t *testing.T) {
	conv := newFakeConv()
	conv.authorship = AuthorshipUnknown
	live := &fakeLive{state: observer.LiveState{Preview: "Hi there", Found: true}}
	arb, reg, cp := newTestArbiter(t, conv, live)

	m := observer.ConfirmedMessage{Contact: "alice", Preview: "Hi there"}
	speculate(reg, m)

	if got := arb.Dispatch(context.Background(), m, "Hello!"); got != OutcomeRetry {
		t.Fatalf("outcome = %v, want retry", got)
	}
	if len(conv.sent) != 0 {
		t.Error("unknown authorship must not send")
	}
	if _, ok := cp.LastAnswered("alice"); ok {
		t.Error("checkpoint must stay empty")
	}
	if got := reg.History("alice"); len(got) != 0 {
		t.Errorf("history not rolled back: %+v", got)
	}
	// Unlike an abort, a retry leaves no cooldown behind.
	if reg.InCooldown("alice", time.Now()) {
		t.Error("retry must not enter cooldown")
	}
}

func TestDispatchRetriesOnLiveReadFailure(t *testing.T) {
	conv := newFakeConv()
	live := &fakeLive{err: errors.New("session lost")}
	arb, reg, _ := newTestArbiter(t, conv, live)

	m := observer.ConfirmedMessage{Contact: "alice", Preview: "Hi there"}
	speculate(reg, m)

	if got := arb.Dispatch(context.Background(), m, "Hello!"); got != OutcomeRetry {
		t.Fatalf("outcome = %v, want retry", got)
	}
	if len(reg.History("alice")) != 0 {
		t.Error("history not rolled back")
	}
}

func TestDispatchFailsWhenSubmitFails(t *testing.T) {
	conv := newFakeConv()
	conv.submitOK = false
	conv.submitErr = errors.New("composer rejected input")
	live := &fakeLive{state: observer.LiveState{Preview: "Hi there", Found: true}}
	arb, reg, cp := newTestArbiter(t, conv, live)

	m := observer.ConfirmedMessage{Contact: "alice", Preview: "Hi there"}
	speculate(reg, m)

	if got := arb.Dispatch(context.Background(), m, "Hello!"); got != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", got)
	}
	if _, ok := cp.LastAnswered("alice"); ok {
		t.Error("failed send must not checkpoint")
	}
	if len(reg.History("alice")) != 0 {
		t.Error("history not rolled back")
	}
	if reg.IsInFlight("alice") {
		t.Error("in-flight marker leaked")
	}
}

func TestDispatchFailsWhenContactNotFound(t *testing.T) {
	conv := newFakeConv()
	conv.openFound = false
	live := &fakeLive{state: observer.LiveState{Preview: "Hi there", Found: true}}
	arb, reg, _ := newTestArbiter(t, conv, live)

	m := observer.ConfirmedMessage{Contact: "alice", Preview: "Hi there"}
	speculate(reg, m)

	if got := arb.Dispatch(context.Background(), m, "Hello!"); got != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", got)
	}
}

func TestDispatchRefusesOverlap(t *testing.T) {
	conv := newFakeConv()
	live := &fakeLive{state: observer.LiveState{Preview: "Hi there", Found: true}}
	arb, reg, _ := newTestArbiter(t, conv, live)

	reg.MarkInFlight("alice")
	m := observer.ConfirmedMessage{Contact: "alice", Preview: "Hi there"}
	speculate(reg, m)

	if got := arb.Dispatch(context.Background(), m, "Hello!"); got != OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", got)
	}
	if len(conv.sent) != 0 {
		t.Error("overlapping dispatch must not send")
	}
	// The marker belongs to the other dispatch and must survive.
	if !reg.IsInFlight("alice") {
		t.Error("refused dispatch must not clear the other dispatch's marker")
	}
}

func TestOutcomeString(t *testing.T) {
	cases := map[Outcome]string{
		OutcomeSent:    "sent",
		OutcomeAborted: "aborted",
		OutcomeFailed:  "failed",
		OutcomeRetry:   "retry",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(outcome), got, want)
		}
	}
}
