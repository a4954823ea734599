// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/carechat/internal/registry"
	"github.com/user/carechat/internal/summarizer"
	"github.com/user/carechat/internal/types"
)

// Scheduler runs periodic maintenance: archiving sessions that have been
// idle past the configured threshold and sweeping expired summarization
// leases.
type Scheduler struct {
	registry  *registry.Registry
	trigger   *summarizer.Trigger
	schedule  string
	idleAfter time.Duration
	cron      *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler that runs maintenance on the given cron schedule.
func New(reg *registry.Registry, trigger *summarizer.Trigger, schedule string, idleAfter time.Duration) *Scheduler {
	return &Scheduler{
		registry:  reg,
		trigger:   trigger,
		schedule:  schedule,
		idleAfter: idleAfter,
		cron:      cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the maintenance job and starts the cron ticker.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.RunMaintenance(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("maintenance scheduled", "schedule", s.schedule, "idle_after", s.idleAfter)
	return nil
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RunMaintenance performs one maintenance pass. Exposed so tests and the
// CLI can run it directly without the ticker.
func (s *Scheduler) RunMaintenance(ctx context.Context) {
	if swept := s.trigger.SweepLeases(); swept > 0 {
		slog.Info("swept expired summarization leases", "count", swept)
	}

	sessions, err := s.registry.List(ctx)
	if err != nil {
		slog.Error("maintenance: list sessions failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-s.idleAfter)
	for _, sess := range sessions {
		if sess.Status != types.StatusActive || sess.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.registry.SetStatus(ctx, sess.ID, types.StatusArchived); err != nil {
			slog.Warn("maintenance: archive session failed", "session_id", sess.ID, "error", err)
			continue
		}
		slog.Info("archived idle session", "session_id", sess.ID, "idle_since", sess.UpdatedAt)
	}
}
