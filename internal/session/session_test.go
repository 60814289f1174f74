package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	s := New(Config{})

	if s.cfg.DebugURL != "http://127.0.0.1:9222" {
		t.Errorf("DebugURL = %q", s.cfg.DebugURL)
	}
	if s.cfg.PageURL != "web.whatsapp.com" {
		t.Errorf("PageURL = %q", s.cfg.PageURL)
	}
	if s.cfg.EvalTimeout != 10*time.Second {
		t.Errorf("EvalTimeout = %v", s.cfg.EvalTimeout)
	}
	if !s.Lost() {
		t.Error("fresh session should report lost until Connect succeeds")
	}
}

func TestSendWithoutConnection(t *testing.T) {
	s := New(Config{})
	if _, err := s.send("Runtime.enable", nil); !errors.Is(err, ErrSessionLost) {
		t.Errorf("send = %v, want ErrSessionLost", err)
	}
}

func TestMarkLost(t *testing.T) {
	s := New(Config{})
	s.lost.Store(false)
	s.MarkLost()
	if !s.Lost() {
		t.Error("MarkLost should flag the session")
	}
}

func TestFindPageTarget(t *testing.T) {
	targets := []map[string]string{
		{"type": "background_page", "url": "chrome-extension://x", "webSocketDebuggerUrl": "ws://h/1"},
		{"type": "page", "url": "https://example.com", "webSocketDebuggerUrl": "ws://h/2"},
		{"type": "page", "url": "https://web.whatsapp.com/", "webSocketDebuggerUrl": "ws://h/3"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(targets)
	}))
	defer srv.Close()

	s := New(Config{DebugURL: srv.URL})
	wsURL, err := s.findPageTarget(context.Background())
	if err != nil {
		t.Fatalf("findPageTarget: %v", err)
	}
	if wsURL != "ws://h/3" {
		t.Errorf("wsURL = %q, want the matching page target", wsURL)
	}
}

func TestFindPageTargetNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"type": "page", "url": "https://example.com", "webSocketDebuggerUrl": "ws://h/1"},
		})
	}))
	defer srv.Close()

	s := New(Config{DebugURL: srv.URL})
	if _, err := s.findPageTarget(context.Background()); err == nil {
		t.Error("no matching tab should be an error")
	}
}

func TestReconnectStopsOnCancel(t *testing.T) {
	// Point at a dead endpoint so every attempt fails.
	s := New(Config{DebugURL: "http://127.0.0.1:1", MaxBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := s.Reconnect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Reconnect = %v, want deadline exceeded", err)
	}
}

func TestJSString(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"alice", `"alice"`},
		{`quo"te`, `"quo\"te"`},
		{"line\nbreak", `"line\nbreak"`},
	}
	for _, tc := range cases {
		if got := jsString(tc.in); got != tc.want {
			t.Errorf("jsString(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestContactScriptsEmbedName(t *testing.T) {
	// Contact names with quotes must not break out of the script literal.
	name := `O'Brien "The Chief"`
	for _, script := range []string{chatRowScript(name), openChatScript(name)} {
		if !strings.Contains(script, jsString(name)) {
			t.Errorf("script does not embed the escaped name:\n%s", script)
		}
	}
}

func TestPortWatcherSignalsRewrite(t *testing.T) {
	dir := t.TempDir()

	changed := make(chan struct{}, 4)
	w, err := NewPortWatcher(dir, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("NewPortWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	// Let the watch register before writing.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "DevToolsActivePort"), []byte("9222\n/devtools"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("port file rewrite not observed")
	}
}

func TestPortWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	changed := make(chan struct{}, 4)
	w, err := NewPortWatcher(dir, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "Preferences"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
		t.Fatal("unrelated file triggered the watcher")
	case <-time.After(200 * time.Millisecond):
	}
}
