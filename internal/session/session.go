// Package session drives the operator's live WhatsApp Web tab over the
// Chrome DevTools Protocol. It attaches to an already-running browser
// (--remote-debugging-port) and never launches a competing session: the
// one live connection serializes all reads and sends.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/TayyabAziz11/personal-ai-employee/internal/observer"
)

// Authorship values returned by the definitive last-message check.
const (
	AuthorshipOurs    = "ours"
	AuthorshipTheirs  = "theirs"
	AuthorshipUnknown = "unknown"
)

// ErrSessionLost marks the automation session as unreachable; the drain
// loop reacts with a capped-backoff reconnect.
var ErrSessionLost = fmt.Errorf("session: lost")

// Config holds session driver configuration.
type Config struct {
	// DebugURL is the browser's CDP HTTP endpoint, e.g. http://127.0.0.1:9222.
	DebugURL string
	// PageURL is matched as a substring against open tab URLs.
	PageURL string
	// EvalTimeout bounds a single CDP round trip.
	EvalTimeout time.Duration
	// SettleDelay is the UI settle wait after navigation-like actions.
	SettleDelay time.Duration
	// MaxBackoff caps the reconnect backoff.
	MaxBackoff time.Duration
}

// Session is the exclusive connection to the chat client. It implements
// observer.ChatSurface and the arbitrator's conversation primitives.
type Session struct {
	cfg Config

	mu    sync.Mutex
	conn  *websocket.Conn
	msgID int

	lost atomic.Bool
}

// New creates a session driver. Call Connect before use.
func New(cfg Config) *Session {
	if cfg.DebugURL == "" {
		cfg.DebugURL = "http://127.0.0.1:9222"
	}
	if cfg.PageURL == "" {
		cfg.PageURL = "web.whatsapp.com"
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = 10 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 800 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	s := &Session{cfg: cfg}
	s.lost.Store(true)
	return s
}

// Connect finds the chat tab via /json/list and dials its debugger socket.
func (s *Session) Connect(ctx context.Context) error {
	wsURL, err := s.findPageTarget(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("session: CDP dial: %w", err)
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	if _, err := s.send("Runtime.enable", nil); err != nil {
		return err
	}
	s.lost.Store(false)
	return nil
}

// findPageTarget queries the CDP HTTP endpoint for the chat tab.
func (s *Session) findPageTarget(ctx context.Context) (string, error) {
	url := strings.TrimRight(s.cfg.DebugURL, "/") + "/json/list"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("session: %s unreachable: %w", url, err)
	}
	defer resp.Body.Close()

	var targets []struct {
		Type                 string `json:"type"`
		URL                  string `json:"url"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("session: decode target list: %w", err)
	}

	for _, t := range targets {
		if t.Type == "page" && strings.Contains(t.URL, s.cfg.PageURL) && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("session: no open tab matching %q", s.cfg.PageURL)
}

// Lost reports whether the session is currently unreachable.
func (s *Session) Lost() bool {
	return s.lost.Load()
}

func (s *Session) markLost() {
	s.lost.Store(true)
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

// MarkLost flags the session as unreachable (used by the endpoint
// watcher when the browser restarts).
func (s *Session) MarkLost() {
	s.markLost()
}

// Reconnect re-attaches with capped exponential backoff until ctx is
// cancelled.
func (s *Session) Reconnect(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := s.Connect(ctx); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// send issues one CDP command and waits for its response frame.
func (s *Session) send(method string, params map[string]any) (gjson.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return gjson.Result{}, ErrSessionLost
	}

	s.msgID++
	id := s.msgID
	msg := map[string]any{"id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}

	if err := s.conn.WriteJSON(msg); err != nil {
		s.conn.Close()
		s.conn = nil
		s.lost.Store(true)
		return gjson.Result{}, fmt.Errorf("%w: write %s: %v", ErrSessionLost, method, err)
	}

	deadline := time.Now().Add(s.cfg.EvalTimeout)
	_ = s.conn.SetReadDeadline(deadline)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.conn.Close()
			s.conn = nil
			s.lost.Store(true)
			return gjson.Result{}, fmt.Errorf("%w: read %s: %v", ErrSessionLost, method, err)
		}

		frame := gjson.ParseBytes(data)
		if frame.Get("id").Int() != int64(id) {
			continue // event frame or stale response
		}
		if errMsg := frame.Get("error.message"); errMsg.Exists() {
			return gjson.Result{}, fmt.Errorf("session: %s: %s", method, errMsg.String())
		}
		return frame.Get("result"), nil
	}
}

// eval runs a JS expression in the page and returns its by-value result.
func (s *Session) eval(ctx context.Context, expr string) (gjson.Result, error) {
	done := make(chan struct{})
	var res gjson.Result
	var err error
	go func() {
		defer close(done)
		res, err = s.send("Runtime.evaluate", map[string]any{
			"expression":    expr,
			"returnByValue": true,
			"awaitPromise":  true,
		})
	}()

	select {
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	case <-done:
	}
	if err != nil {
		return gjson.Result{}, err
	}
	if exc := res.Get("exceptionDetails.text"); exc.Exists() {
		return gjson.Result{}, fmt.Errorf("session: evaluate: %s", exc.String())
	}
	return res.Get("result.value"), nil
}

// Snapshot implements observer.ChatSurface.
func (s *Session) Snapshot(ctx context.Context) ([]observer.ChatRow, error) {
	value, err := s.eval(ctx, chatListScript)
	if err != nil {
		return nil, err
	}

	var rows []observer.ChatRow
	if err := json.Unmarshal([]byte(value.String()), &rows); err != nil {
		return nil, fmt.Errorf("session: decode chat list: %w", err)
	}
	return rows, nil
}

// Row implements observer.ChatSurface for a single contact.
func (s *Session) Row(ctx context.Context, contact string) (observer.ChatRow, bool, error) {
	value, err := s.eval(ctx, chatRowScript(contact))
	if err != nil {
		return observer.ChatRow{}, false, err
	}
	raw := value.String()
	if raw == "" || raw == "null" {
		return observer.ChatRow{}, false, nil
	}

	var row observer.ChatRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return observer.ChatRow{}, false, fmt.Errorf("session: decode chat row: %w", err)
	}
	return row, true, nil
}

// OpenOrFindContact clicks the contact's chat-list row and waits for the
// conversation to settle.
func (s *Session) OpenOrFindContact(ctx context.Context, name string) (bool, error) {
	value, err := s.eval(ctx, openChatScript(name))
	if err != nil {
		return false, err
	}
	if !value.Bool() {
		return false, nil
	}
	s.settle()
	return true, nil
}

// FocusComposer focuses the message input of the open conversation.
func (s *Session) FocusComposer(ctx context.Context) (bool, error) {
	value, err := s.eval(ctx, focusComposerScript)
	if err != nil {
		return false, err
	}
	return value.Bool(), nil
}

// TypeAndSubmit inserts the text into the focused composer and presses
// Enter. Returns false if the composer rejected the input.
func (s *Session) TypeAndSubmit(ctx context.Context, text string) (bool, error) {
	if _, err := s.send("Input.insertText", map[string]any{"text": text}); err != nil {
		return false, err
	}
	s.settle()

	// Confirm the composer actually holds text before committing Enter.
	value, err := s.eval(ctx, composerHasTextScript)
	if err != nil {
		return false, err
	}
	if !value.Bool() {
		return false, nil
	}

	if err := s.pressKey("Enter", 13); err != nil {
		return false, err
	}
	s.settle()
	return true, nil
}

// ReturnToListView presses Escape to close the open conversation.
func (s *Session) ReturnToListView(ctx context.Context) error {
	_ = ctx
	return s.pressKey("Escape", 27)
}

// LastMessageAuthorship performs the definitive authorship read of the
// open conversation's true last-message record (not the list preview,
// which can lag).
func (s *Session) LastMessageAuthorship(ctx context.Context, contact string) (string, error) {
	_ = contact // the check reads whatever conversation is open
	value, err := s.eval(ctx, lastAuthorshipScript)
	if err != nil {
		return AuthorshipUnknown, err
	}
	switch value.String() {
	case AuthorshipOurs:
		return AuthorshipOurs, nil
	case AuthorshipTheirs:
		return AuthorshipTheirs, nil
	default:
		return AuthorshipUnknown, nil
	}
}

func (s *Session) pressKey(key string, virtualKeyCode int) error {
	for _, eventType := range []string{"rawKeyDown", "keyUp"} {
		_, err := s.send("Input.dispatchKeyEvent", map[string]any{
			"type":                  eventType,
			"key":                   key,
			"windowsVirtualKeyCode": virtualKeyCode,
			"nativeVirtualKeyCode":  virtualKeyCode,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) settle() {
	time.Sleep(s.cfg.SettleDelay)
}
