// Package sweep runs the periodic auto-end pass that settles sessions left
// running past their planned window or across the day cutoff.
package sweep

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"signalnoise/internal/engine"
)

// DefaultSpec runs the sweep every minute.
const DefaultSpec = "* * * * *"

type Sweeper struct {
	Engine engine.Engine
	Logger *slog.Logger
	Spec   string

	cron *cron.Cron
}

func New(e engine.Engine, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{Engine: e, Logger: logger, Spec: DefaultSpec}
}

// Start schedules the recurring sweep and returns immediately.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	spec := s.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.Logger.Info("sweeper started", "spec", spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.Logger.Info("sweeper stopped")
}

// RunOnce executes a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	stopped, err := s.Engine.AutoEndOverdue(ctx)
	if err != nil {
		s.Logger.Error("auto-end sweep failed", "error", err)
		return
	}
	for _, slot := range stopped {
		s.Logger.Info("auto-ended slot", "slot_id", slot.ID, "task_id", slot.TaskID, "total_seconds", slot.AccumulatedSeconds)
	}
}
