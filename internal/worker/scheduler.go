package worker

import (
	"context"
	"time"
)

// Scheduler sweeps on every tick until ctx is cancelled.
func (wk *Worker) Scheduler(ctx context.Context) error {
	ticker := time.NewTicker(wk.Interval)
	defer ticker.Stop()

	wk.Logger.Info("scheduler started", "interval", wk.Interval.String())
	for {
		select {
		case <-ctx.Done():
			wk.Logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			wk.Sweep(ctx)
		}
	}
}

// Sweep starts and closes auctions whose window has been reached and moves
// loans past their due date along the overdue path. Each half runs even if
// the other fails.
func (wk *Worker) Sweep(ctx context.Context) {
	activated, closed, err := wk.Services.Auctions.Autopilot(ctx)
	if err != nil {
		wk.Logger.Error("auction autopilot failed", "error", err)
	}
	if activated+closed > 0 {
		wk.Logger.Info("auction autopilot", "activated", activated, "closed", closed)
	}

	moved, err := wk.Services.Loans.SweepOverdue(ctx)
	if err != nil {
		wk.Logger.Error("overdue sweep failed", "error", err)
	}
	if moved > 0 {
		wk.Logger.Info("overdue sweep", "loans", moved)
	}
}
