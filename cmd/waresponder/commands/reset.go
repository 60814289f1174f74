package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TayyabAziz11/personal-ai-employee/internal/checkpoint"
	logpkg "github.com/TayyabAziz11/personal-ai-employee/internal/log"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the checkpoint file",
		Long:  "Removes the contact → last-answered-message checkpoint. Already-answered messages become answerable again on the next run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			cp, err := checkpoint.Load(cfg.CheckpointPath)
			if err != nil {
				return err
			}
			entries := cp.Len()
			if err := cp.Reset(); err != nil {
				return err
			}

			logger := logpkg.NewEventLog(cfg.LogDir, uuid.NewString())
			_ = logger.Log(logpkg.NewEvent(logpkg.EventTypeCheckpointReset, "").WithCount(entries))

			fmt.Printf("checkpoint cleared (%d entries removed): %s\n", entries, cfg.CheckpointPath)
			return nil
		},
	}
}
