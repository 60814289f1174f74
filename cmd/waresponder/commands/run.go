package commands

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TayyabAziz11/personal-ai-employee/internal/arbiter"
	"github.com/TayyabAziz11/personal-ai-employee/internal/checkpoint"
	"github.com/TayyabAziz11/personal-ai-employee/internal/drain"
	logpkg "github.com/TayyabAziz11/personal-ai-employee/internal/log"
	"github.com/TayyabAziz11/personal-ai-employee/internal/observer"
	"github.com/TayyabAziz11/personal-ai-employee/internal/registry"
	"github.com/TayyabAziz11/personal-ai-employee/internal/reply"
	"github.com/TayyabAziz11/personal-ai-employee/internal/session"
)

func newRunCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the responder continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResponder(cmd, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "generate and print replies without dispatching or persisting")
	return cmd
}

func runResponder(cmd *cobra.Command, dryRun bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := logpkg.NewEventLog(cfg.LogDir, runID)
	log.Printf("waresponder starting (run %s, dry_run=%v)", runID, dryRun)

	cp, err := checkpoint.Load(cfg.CheckpointPath)
	if err != nil {
		return err
	}
	reg := registry.New(cfg.HistoryLimit)

	sess := session.New(session.Config{
		DebugURL:    cfg.DebugURL,
		PageURL:     cfg.PageURL,
		EvalTimeout: cfg.EvalTimeout,
		SettleDelay: cfg.SettleDelay,
		MaxBackoff:  cfg.ReconnectMaxBackoff,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	if err := sess.Connect(ctx); err != nil {
		log.Printf("session connect failed: %v (retrying with backoff)", err)
		if err := sess.Reconnect(ctx); err != nil {
			return err
		}
	}

	if cfg.ProfileDir != "" {
		pw, err := session.NewPortWatcher(cfg.ProfileDir, sess.MarkLost)
		if err != nil {
			log.Printf("warning: port watcher unavailable: %v", err)
		} else {
			defer pw.Close()
			go func() {
				if err := pw.Start(ctx); err != nil {
					log.Printf("port watcher: %v", err)
				}
			}()
		}
	}

	var svc reply.TextService
	if anthropic, err := reply.NewAnthropicService(&reply.AnthropicConfig{
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		MaxRetries: cfg.MaxRetries,
	}); err != nil {
		log.Printf("warning: %v (replies fall back to the template)", err)
	} else {
		svc = anthropic
	}
	gen := reply.NewGenerator(svc, logger, cfg.GenerationTimeout, cfg.SystemPrompt, cfg.FallbackReply, cfg.ReplySignature)

	obs := observer.New(sess, reg, logger, observer.Config{
		ScanInterval: cfg.ScanInterval,
		GracePeriod:  cfg.GracePeriod,
		Signature:    cfg.ReplySignature,
	})
	arb := arbiter.New(reg, cp, sess, obs, logger, cfg.ReplySignature, cfg.CooldownWindow)

	loop := drain.New(obs, reg, cp, gen, arb, sess, logger, os.Stdout, drain.Config{
		TickInterval:        cfg.TickInterval,
		HealthCheckInterval: cfg.HealthCheckInterval,
		CooldownWindow:      cfg.CooldownWindow,
		MaxTickErrors:       cfg.MaxTickErrors,
		ObserverStaleAfter:  cfg.ObserverStaleAfter,
		DryRun:              dryRun,
	})

	go func() {
		if err := obs.Start(ctx); err != nil {
			// The drain loop's health check reinjects a dead observer.
			log.Printf("observer exited: %v", err)
		}
	}()

	return loop.Start(ctx)
}
