package distill

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Pruner removes expired events after each scheduled run.
type Pruner interface {
	Prune(maxDays int) (int64, error)
}

// Scheduler triggers periodic training passes and prunes the event store
// between them.
type Scheduler struct {
	trainer  *Trainer
	pruner   Pruner
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler wires a scheduler around a trainer.
func NewScheduler(trainer *Trainer, pruner Pruner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{trainer: trainer, pruner: pruner, interval: interval, logger: logger}
}

// Run loops until ctx is canceled. A failed pass is logged and the loop
// keeps going; an on-demand run already holding the training slot just
// delays this pass to the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("training scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("training scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one scheduled pass: train, then prune.
func (s *Scheduler) RunOnce(ctx context.Context) {
	report, err := s.trainer.TrainOnce(ctx)
	switch {
	case errors.Is(err, ErrTrainingInProgress):
		s.logger.Debug("skipping scheduled training, run already in flight")
	case err != nil:
		s.logger.Error("scheduled training failed", "error", err)
	default:
		s.logger.Info("scheduled training finished",
			"status", report.Status, "samples", report.Samples)
	}

	removed, err := s.pruner.Prune(s.trainer.params.MaxDays)
	if err != nil {
		s.logger.Error("pruning events failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("pruned expired events", "removed", removed)
	}
}
