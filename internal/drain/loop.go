// Package drain hosts the polling loop that consumes the observer's
// queues: operator activity first (cooldowns), then confirmed messages
// (reply generation and send arbitration).
package drain

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/TayyabAziz11/personal-ai-employee/internal/arbiter"
	"github.com/TayyabAziz11/personal-ai-employee/internal/checkpoint"
	logpkg "github.com/TayyabAziz11/personal-ai-employee/internal/log"
	"github.com/TayyabAziz11/personal-ai-employee/internal/observer"
	"github.com/TayyabAziz11/personal-ai-employee/internal/registry"
	"github.com/TayyabAziz11/personal-ai-employee/internal/reply"
)

// Reconnector is the session-recovery boundary.
type Reconnector interface {
	Lost() bool
	Reconnect(ctx context.Context) error
}

// Config holds drain loop tuning.
type Config struct {
	TickInterval        time.Duration
	HealthCheckInterval time.Duration
	CooldownWindow      time.Duration
	MaxTickErrors       int
	ObserverStaleAfter  time.Duration
	DryRun              bool
}

// Loop is the single consumer of both observer queues.
type Loop struct {
	obs    *observer.Observer
	reg    *registry.Registry
	cp     *checkpoint.Store
	gen    *reply.Generator
	arb    *arbiter.Arbiter
	sess   Reconnector
	logger *logpkg.EventLog
	out    io.Writer

	cfg Config

	retry []observer.ConfirmedMessage
}

// New creates a drain loop. out receives dry-run reply previews.
func New(obs *observer.Observer, reg *registry.Registry, cp *checkpoint.Store, gen *reply.Generator, arb *arbiter.Arbiter, sess Reconnector, logger *logpkg.EventLog, out io.Writer, cfg Config) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 60 * time.Second
	}
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = 10 * time.Minute
	}
	if cfg.MaxTickErrors <= 0 {
		cfg.MaxTickErrors = 5
	}
	if cfg.ObserverStaleAfter <= 0 {
		cfg.ObserverStaleAfter = 90 * time.Second
	}
	return &Loop{
		obs:    obs,
		reg:    reg,
		cp:     cp,
		gen:    gen,
		arb:    arb,
		sess:   sess,
		logger: logger,
		out:    out,
		cfg:    cfg,
	}
}

// Start runs the loop until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()
	health := time.NewTicker(l.cfg.HealthCheckInterval)
	defer health.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-health.C:
			l.checkObserver(ctx)
		case <-ticker.C:
			if err := l.TickOnce(ctx); err != nil {
				consecutive++
				log.Printf("drain tick error (%d/%d): %v", consecutive, l.cfg.MaxTickErrors, err)
				if consecutive >= l.cfg.MaxTickErrors {
					l.reconnect(ctx)
					consecutive = 0
				}
				continue
			}
			consecutive = 0
		}
	}
}

// TickOnce drains both queues once. Per-message failures are contained;
// only infrastructure-level trouble is returned.
func (l *Loop) TickOnce(ctx context.Context) error {
	if l.sess != nil && l.sess.Lost() {
		return fmt.Errorf("drain: session lost")
	}

	now := time.Now()
	for _, act := range l.obs.DrainActivity() {
		l.reg.SetCooldown(act.Contact, now.Add(l.cfg.CooldownWindow))
		// Defense in depth: the observer should already have cancelled.
		l.obs.CancelCandidate(act.Contact)
		l.logEvent(logpkg.EventTypeCooldownEntered, act.Contact, "", "operator_activity")
	}

	msgs := l.retry
	l.retry = nil
	msgs = append(msgs, l.obs.DrainConfirmed()...)

	for _, m := range msgs {
		if err := l.processSafe(ctx, m); err != nil {
			// Stays local: per-message trouble never counts toward the
			// reconnect budget.
			log.Printf("drain: process %s: %v", m.Contact, err)
		}
	}

	if l.sess != nil && l.sess.Lost() {
		return fmt.Errorf("drain: session lost mid-tick")
	}
	return nil
}

// processSafe contains panics from a single message so one bad contact
// never stops the tick.
func (l *Loop) processSafe(ctx context.Context, m observer.ConfirmedMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.process(ctx, m)
}

func (l *Loop) process(ctx context.Context, m observer.ConfirmedMessage) error {
	now := time.Now()

	if l.reg.InCooldown(m.Contact, now) {
		l.logEvent(logpkg.EventTypeSkippedCooldown, m.Contact, m.Preview, "")
		return nil
	}
	if last, ok := l.cp.LastAnswered(m.Contact); ok && last == m.Preview {
		l.logEvent(logpkg.EventTypeSkippedAnswered, m.Contact, m.Preview, "")
		return nil
	}

	// Speculative: rolled back by the arbitrator on every non-sent path.
	l.reg.AppendHistory(m.Contact, registry.HistoryEntry{Role: registry.RoleUser, Text: m.Preview})

	text := l.gen.Reply(ctx, m.Contact, l.reg.History(m.Contact))

	if l.cfg.DryRun {
		if l.out != nil {
			fmt.Fprintf(l.out, "[dry-run] %s <- %q\n%s\n\n", m.Contact, m.Preview, text)
		}
		l.reg.RollbackHistory(m.Contact)
		return nil
	}

	outcome := l.arb.Dispatch(ctx, m, text)
	if outcome == arbiter.OutcomeRetry {
		l.retry = append(l.retry, m)
	}
	return nil
}

// checkObserver reinjects the scan loop when the observer has stopped
// producing snapshots. Queued items survive reinjection.
func (l *Loop) checkObserver(ctx context.Context) {
	if l.obs.Alive(l.cfg.ObserverStaleAfter) {
		return
	}
	log.Printf("drain: observer stale, reinjecting")
	l.logEvent(logpkg.EventTypeObserverReinjected, "", "", "")
	go func() {
		if err := l.obs.Start(ctx); err != nil {
			log.Printf("drain: reinjected observer exited: %v", err)
		}
	}()
}

func (l *Loop) reconnect(ctx context.Context) {
	if l.sess == nil {
		return
	}
	log.Printf("drain: forcing session reconnect")
	l.logEvent(logpkg.EventTypeSessionReconnect, "", "", "")
	if err := l.sess.Reconnect(ctx); err != nil {
		log.Printf("drain: reconnect failed: %v", err)
	}
}

// RetryBacklog returns the number of messages awaiting a retry tick.
func (l *Loop) RetryBacklog() int {
	return len(l.retry)
}

func (l *Loop) logEvent(eventType, contact, preview, status string) {
	if l.logger == nil {
		return
	}
	evt := logpkg.NewEvent(eventType, contact).WithPreview(preview)
	if status != "" {
		evt = evt.WithStatus(status)
	}
	_ = l.logger.Log(evt)
}
