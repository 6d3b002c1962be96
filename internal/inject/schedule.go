package inject

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/takohq/tako/internal/config"
)

// Scheduler turns cron entries from the config into injections. Expressions
// are evaluated once per minute tick against the tick time.
type Scheduler struct {
	entries []config.ScheduleConfig
}

// NewScheduler keeps the valid entries and warns about the rest.
func NewScheduler(entries []config.ScheduleConfig) *Scheduler {
	gron := gronx.New()
	var kept []config.ScheduleConfig
	for _, e := range entries {
		if !gron.IsValid(e.Cron) {
			slog.Warn("schedule skipped: invalid cron expression", "cron", e.Cron)
			continue
		}
		if strings.TrimSpace(e.Text) == "" {
			slog.Warn("schedule skipped: empty text", "cron", e.Cron)
			continue
		}
		kept = append(kept, e)
	}
	return &Scheduler{entries: kept}
}

// Run delivers due entries until ctx is done. With no valid entries it just
// waits for cancellation so callers can treat it like the watcher.
func (s *Scheduler) Run(ctx context.Context, deliver func(Injection)) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.tick(now, deliver)
		}
	}
}

func (s *Scheduler) tick(now time.Time, deliver func(Injection)) {
	gron := gronx.New()
	for _, e := range s.entries {
		due, err := gron.IsDue(e.Cron, now)
		if err != nil {
			slog.Warn("schedule check failed", "cron", e.Cron, "error", err)
			continue
		}
		if !due {
			continue
		}
		slog.Info("schedule fired", "cron", e.Cron)
		deliver(Injection{
			Text:       SystemPrefix + strings.TrimSpace(e.Text),
			NewSession: e.NewSession,
		})
	}
}
