package handler

import (
	"context"
	"net/http"

	"tradeexecutor/src/executors"
)

type cycleRunner interface {
	RunCycle(ctx context.Context) *executors.CycleResult
}

// RunCycleHandler runs one trading cycle synchronously. A cycle skipped
// because another one holds the lock is still a 200.
func RunCycleHandler(runner cycleRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := runner.RunCycle(r.Context())
		status := http.StatusOK
		if !res.Success {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, res)
	}
}
