package drain

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/TayyabAziz11/personal-ai-employee/internal/checkpoint"
	"github.com/TayyabAziz11/personal-ai-employee/internal/observer"
)

// Report runs a single observation pass and lists pending confirmed
// messages without sending anything or mutating persisted state. It scans
// long enough for one full grace period to elapse so candidates can
// confirm.
func Report(ctx context.Context, obs *observer.Observer, cp *checkpoint.Store, w io.Writer, scanInterval, gracePeriod time.Duration) error {
	deadline := time.Now().Add(gracePeriod + 2*scanInterval)

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if err := obs.ScanOnce(ctx); err != nil {
			return fmt.Errorf("report scan: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	pending := obs.DrainConfirmed()
	count := 0
	for _, m := range pending {
		if last, ok := cp.LastAnswered(m.Contact); ok && last == m.Preview {
			continue // already answered in a previous run
		}
		count++
		fmt.Fprintf(w, "%-30s %s\n", m.Contact, m.Preview)
	}
	if count == 0 {
		fmt.Fprintln(w, "no pending confirmed messages")
	} else {
		fmt.Fprintf(w, "\n%d pending confirmed message(s); %d candidate timer(s) still open\n", count, obs.PendingCandidates())
	}
	return nil
}
