package executors

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Cycler runs one trading cycle.
type Cycler interface {
	RunCycle(ctx context.Context) *CycleResult
}

// StartLoop runs a cycle on every tick until ctx is done. A cycle that
// overruns the period makes the next tick skip through the loop lock.
func StartLoop(ctx context.Context, cycler Cycler, period time.Duration) error {
	if period <= 0 {
		period = GetConfig().LoopPeriod
	}
	ticker := time.NewTicker(period) // Set up a ticker that fires periodically
	defer ticker.Stop()

	logger.WithField("period", period.String()).Info("Trading loop started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Trading loop stopped")
			return nil

		case <-ticker.C:
			logger.Debug("loop tick")
			res := cycler.RunCycle(ctx)
			if !res.Success {
				logger.WithFields(logger.Fields{
					"cycle_id": res.CycleID,
					"status":   res.Status,
				}).Warn("Cycle failed, will retry on the next tick")
			}
		}
	}
}
