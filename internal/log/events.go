package log

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventVersion is the current lifecycle event schema version.
const EventVersion = 1

// Event captures one responder lifecycle record. Every significant
// transition (candidate scheduled, confirmed, sent, aborted, cooldown)
// produces exactly one event in the JSONL log.
type Event struct {
	Version     int    `json:"v"`
	TimestampMs int64  `json:"ts_ms"`
	EventID     string `json:"event_id"` // "evt-abc123"
	RunID       string `json:"run_id,omitempty"`
	Type        string `json:"type"`
	Contact     string `json:"contact,omitempty"`
	Preview     string `json:"preview,omitempty"` // truncated, never full message bodies
	Status      string `json:"status,omitempty"`  // "success", "fail", "timeout"

	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Count     int     `json:"count,omitempty"`
}

// WithPreview sets a truncated preview for tracing which message triggered
// the event.
func (e Event) WithPreview(preview string) Event {
	e.Preview = truncatePreview(preview)
	return e
}

// WithError sets the error field.
func (e Event) WithError(err string) Event {
	e.Error = err
	return e
}

// WithStatus sets the status field.
func (e Event) WithStatus(status string) Event {
	e.Status = status
	return e
}

// WithLatency sets the latency field in milliseconds.
func (e Event) WithLatency(latencyMs float64) Event {
	e.LatencyMs = latencyMs
	return e
}

// WithCount sets the count field for batch operations.
func (e Event) WithCount(count int) Event {
	e.Count = count
	return e
}

// Event type constants for the responder lifecycle.
const (
	EventTypeCandidateScheduled = "candidate_scheduled"
	EventTypeCandidateCancelled = "candidate_cancelled"
	EventTypeCandidateDiscarded = "candidate_discarded"
	EventTypeConfirmed          = "confirmed"
	EventTypeSkippedCooldown    = "skipped_cooldown"
	EventTypeSkippedAnswered    = "skipped_answered"
	EventTypeAborted            = "aborted"
	EventTypeSent               = "sent"
	EventTypeSendFailed         = "send_failed"
	EventTypeCooldownEntered    = "cooldown_entered"
	EventTypeGenerationFallback = "generation_fallback"
	EventTypeAuthorshipUnknown  = "authorship_indeterminate"
	EventTypeObserverReinjected = "observer_reinjected"
	EventTypeSessionReconnect   = "session_reconnect"
	EventTypeCheckpointReset    = "checkpoint_reset"
)

// GenerateEventID returns an evt- prefixed 8-hex identifier.
func GenerateEventID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		n := time.Now().UnixNano()
		buf[0] = byte(n)
		buf[1] = byte(n >> 8)
		buf[2] = byte(n >> 16)
		buf[3] = byte(n >> 24)
	}
	return "evt-" + hex.EncodeToString(buf)
}

// NewEvent creates a new event with schema defaults.
func NewEvent(eventType, contact string) Event {
	return Event{
		Version:     EventVersion,
		TimestampMs: time.Now().UnixMilli(),
		EventID:     GenerateEventID(),
		Type:        eventType,
		Contact:     contact,
	}
}

func truncatePreview(preview string) string {
	const max = 120
	trimmed := strings.TrimSpace(preview)
	if len(trimmed) <= max {
		return trimmed
	}
	return trimmed[:max]
}

// EventLog writes append-only JSONL logs.
type EventLog struct {
	path  string
	runID string
	mu    sync.Mutex
}

func NewEventLog(logDir, runID string) *EventLog {
	return &EventLog{path: filepath.Join(logDir, "events.jsonl"), runID: runID}
}

func (l *EventLog) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Version == 0 {
		event.Version = EventVersion
	}
	if event.TimestampMs == 0 {
		event.TimestampMs = time.Now().UnixMilli()
	}
	if event.EventID == "" {
		event.EventID = GenerateEventID()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(payload, '\n')); err != nil {
		return err
	}

	return nil
}
