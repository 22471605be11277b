package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tradeexecutor/src/executors"
	"tradeexecutor/src/server"
)

type Executor struct{}

// Start runs the trading loop, the HTTP API and the position feed until
// SIGINT or SIGTERM.
func (t *Executor) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	app, err := Build(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to build executor")
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Hub.Run(gctx)
		return nil
	})
	if config.RunLoop {
		g.Go(func() error {
			return executors.StartLoop(gctx, app.Scheduler, app.Config.LoopPeriod)
		})
	}
	if config.ServeHTTP {
		g.Go(func() error {
			return server.StartServer(gctx, server.GetConfig(), app.Router())
		})
	}
	if !config.RunLoop && !config.ServeHTTP {
		logrus.Warn("RUN_LOOP and SERVE_HTTP are both off, nothing to do")
		stop()
	}

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Executor stopped with error")
		return err
	}
	return nil
}

// RunOnce runs a single cycle and writes its result as JSON.
func (t *Executor) RunOnce(out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Build(ctx)
	if err != nil {
		return err
	}
	res := app.Scheduler.RunCycle(ctx)
	if err := writeJSON(out, res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("cycle %s failed with status %s", res.CycleID, res.Status)
	}
	return nil
}

// Reconcile compares stored positions with venue holdings and writes the
// report as JSON.
func (t *Executor) Reconcile(out io.Writer, autoFix bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Build(ctx)
	if err != nil {
		return err
	}
	report, err := app.Reconciler.Reconcile(ctx, autoFix)
	if err != nil {
		return err
	}
	return writeJSON(out, report)
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
