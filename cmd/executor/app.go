package executor

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/controller"
	"tradeexecutor/src/database"
	"tradeexecutor/src/executors"
	"tradeexecutor/src/feed"
	"tradeexecutor/src/handler"
	"tradeexecutor/src/pnl"
	"tradeexecutor/src/reconcile"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/risk"
	"tradeexecutor/src/security"
	"tradeexecutor/src/server"
	"tradeexecutor/src/signals"
)

// App is the wired engine: scheduler, position controller, reconciler and
// the live position feed.
type App struct {
	Scheduler  *executors.Scheduler
	Controller *controller.PositionController
	Reconciler *reconcile.Service
	Hub        *feed.Hub
	Registry   *connectors.Registry
	Config     *executors.Config
}

// Build connects the databases and builds every service from the
// environment. Venue gateways are built once from the connected rows.
func Build(ctx context.Context) (*App, error) {
	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		return nil, err
	}

	signalCfg := signals.GetConfig()
	if strings.ToLower(signalCfg.Source) != "http" {
		// Initialize read-only database
		if err := database.InitReadOnlyDB(); err != nil {
			return nil, err
		}
	}

	cipher, err := security.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("credentials key: %w", err)
	}
	venueRepo := repository.NewVenueConnectionRepository()
	conns, err := venueRepo.ListConnected(ctx)
	if err != nil {
		return nil, fmt.Errorf("load venue connections: %w", err)
	}

	connCfg := connectors.GetConfig()
	seed := connCfg.PaperRandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	paper := connectors.NewPaperTrader(rand.New(rand.NewSource(seed)), connCfg.PaperSlippageMax)
	registry := connectors.LoadRegistry(conns, cipher, connCfg, paper)
	logrus.WithField("venues", registry.Venues()).Info("Venue gateways ready")

	hub := feed.NewHub()
	positions := repository.NewPositionRepository()

	ctrl := controller.NewPositionController(controller.Deps{
		Positions: positions,
		Gateways:  registry,
		Prices:    connectors.NewPublicPriceSource(registry, connCfg.BinanceBaseURL),
		Fees:      pnl.NewFeeSchedule(),
		Feed:      hub,
	})
	rec := reconcile.NewService(positions, registry, hub, reconcile.GetConfig()).WithTakeProfitCloser(ctrl)

	source, err := signals.New(signalCfg)
	if err != nil {
		return nil, err
	}

	execCfg := executors.GetConfig()
	lock, err := executors.NewLock(execCfg)
	if err != nil {
		return nil, err
	}

	sched := executors.NewScheduler(executors.SchedulerDeps{
		Lock:       lock,
		Reconciler: rec,
		Executor:   ctrl,
		Positions:  positions,
		Settings:   repository.NewRiskSettingsRepository(),
		Stats:      repository.NewDailyStatsRepository(),
		Exchanges:  executors.NewConnectedVenues(venueRepo, registry),
		Signals:    source,
		Gate:       risk.NewGate(risk.GetConfig().SessionSizing()),
		Feed:       hub,
		Config:     execCfg,
	})

	return &App{
		Scheduler:  sched,
		Controller: ctrl,
		Reconciler: rec,
		Hub:        hub,
		Registry:   registry,
		Config:     execCfg,
	}, nil
}

// Router mounts the HTTP API over the app's services.
func (a *App) Router() http.Handler {
	return server.NewRouter(server.Routes{
		RunCycle:      handler.RunCycleHandler(a.Scheduler),
		OpenPosition:  handler.OpenPositionHandler(a.Scheduler),
		ClosePosition: handler.ClosePositionHandler(a.Controller),
		Reconcile:     handler.ReconcileHandler(a.Reconciler),
		PositionFeed:  a.Hub.ServeWS,
	})
}
