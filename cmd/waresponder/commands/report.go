package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TayyabAziz11/personal-ai-employee/internal/checkpoint"
	"github.com/TayyabAziz11/personal-ai-employee/internal/drain"
	logpkg "github.com/TayyabAziz11/personal-ai-employee/internal/log"
	"github.com/TayyabAziz11/personal-ai-employee/internal/observer"
	"github.com/TayyabAziz11/personal-ai-employee/internal/registry"
	"github.com/TayyabAziz11/personal-ai-employee/internal/session"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "List pending confirmed messages without sending",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigs
				cancel()
			}()

			cp, err := checkpoint.Load(cfg.CheckpointPath)
			if err != nil {
				return err
			}

			sess := session.New(session.Config{
				DebugURL:    cfg.DebugURL,
				PageURL:     cfg.PageURL,
				EvalTimeout: cfg.EvalTimeout,
				SettleDelay: cfg.SettleDelay,
				MaxBackoff:  cfg.ReconnectMaxBackoff,
			})
			if err := sess.Connect(ctx); err != nil {
				return err
			}

			logger := logpkg.NewEventLog(cfg.LogDir, uuid.NewString())
			reg := registry.New(cfg.HistoryLimit)
			obs := observer.New(sess, reg, logger, observer.Config{
				ScanInterval: cfg.ScanInterval,
				GracePeriod:  cfg.GracePeriod,
				Signature:    cfg.ReplySignature,
			})

			return drain.Report(ctx, obs, cp, os.Stdout, cfg.ScanInterval, cfg.GracePeriod)
		},
	}
}
