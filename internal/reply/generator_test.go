package reply

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/TayyabAziz11/personal-ai-employee/internal/registry"
)

type stubService struct {
	text  string
	err   error
	delay time.Duration

	gotSystem  string
	gotHistory []registry.HistoryEntry
}

func (s *stubService) Complete(ctx context.Context, systemPrompt string, history []registry.HistoryEntry) (string, error) {
	s.gotSystem = systemPrompt
	s.gotHistory = history
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.text, s.err
}

const testSignature = "— sent by assistant"

func history(texts ...string) []registry.HistoryEntry {
	out := make([]registry.HistoryEntry, 0, len(texts))
	for _, text := range texts {
		out = append(out, registry.HistoryEntry{Role: registry.RoleUser, Text: text})
	}
	return out
}

func TestReplySignsGeneratedText(t *testing.T) {
	svc := &stubService{text: "On my way."}
	g := NewGenerator(svc, nil, time.Second, "be brief", "fallback", testSignature)

	got := g.Reply(context.Background(), "alice", history("where are you?"))
	if got != "On my way.\n\n"+testSignature {
		t.Errorf("Reply = %q", got)
	}
	if svc.gotSystem != "be brief" {
		t.Errorf("system prompt = %q", svc.gotSystem)
	}
	if len(svc.gotHistory) != 1 {
		t.Errorf("history = %+v", svc.gotHistory)
	}
}

func TestReplyDoesNotDoubleSign(t *testing.T) {
	svc := &stubService{text: "Done. " + testSignature}
	g := NewGenerator(svc, nil, time.Second, "", "fallback", testSignature)

	got := g.Reply(context.Background(), "alice", history("hi"))
	if strings.Count(got, testSignature) != 1 {
		t.Errorf("signature appears %d times: %q", strings.Count(got, testSignature), got)
	}
}

func TestReplyFallsBackOnError(t *testing.T) {
	svc := &stubService{err: errors.New("api down")}
	g := NewGenerator(svc, nil, time.Second, "", "I'll get back to you shortly.", testSignature)

	got := g.Reply(context.Background(), "alice", history("hi"))
	if !strings.HasPrefix(got, "I'll get back to you shortly.") {
		t.Errorf("Reply = %q, want fallback", got)
	}
	if !strings.Contains(got, testSignature) {
		t.Error("fallback must still be signed")
	}
}

func TestReplyFallsBackOnEmptyResponse(t *testing.T) {
	svc := &stubService{text: "   \n "}
	g := NewGenerator(svc, nil, time.Second, "", "fallback text", "")

	if got := g.Reply(context.Background(), "alice", history("hi")); got != "fallback text" {
		t.Errorf("Reply = %q", got)
	}
}

func TestReplyFallsBackWithoutService(t *testing.T) {
	g := NewGenerator(nil, nil, time.Second, "", "fallback text", testSignature)

	got := g.Reply(context.Background(), "alice", history("hi"))
	if !strings.HasPrefix(got, "fallback text") {
		t.Errorf("Reply = %q", got)
	}
}

func TestReplyTimesOutToFallback(t *testing.T) {
	svc := &stubService{text: "too late", delay: 500 * time.Millisecond}
	g := NewGenerator(svc, nil, 20*time.Millisecond, "", "fallback text", "")

	start := time.Now()
	got := g.Reply(context.Background(), "alice", history("hi"))
	if got != "fallback text" {
		t.Errorf("Reply = %q, want fallback", got)
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Error("Reply did not honor its timeout")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("rate_limit_error"), true},
		{errors.New("status 429"), true},
		{errors.New("status 500"), true},
		{errors.New("status 503"), true},
		{errors.New("request timeout"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("invalid_request_error: bad model"), false},
		{errors.New("status 401"), false},
	}
	for _, tc := range cases {
		if got := isRetryable(tc.err); got != tc.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestDefaultAnthropicConfig(t *testing.T) {
	cfg := DefaultAnthropicConfig()
	if cfg.Model == "" || cfg.MaxTokens <= 0 || cfg.MaxRetries < 0 {
		t.Errorf("bad defaults: %+v", cfg)
	}
}

func TestNewAnthropicServiceRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAnthropicService(DefaultAnthropicConfig()); err == nil {
		t.Error("missing API key should be an error")
	}

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	if _, err := NewAnthropicService(nil); err != nil {
		t.Errorf("NewAnthropicService: %v", err)
	}
}
