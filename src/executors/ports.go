package executors

import (
	"context"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/controller"
	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/model"
	"tradeexecutor/src/reconcile"
	"tradeexecutor/src/risk"
)

type Reconciler interface {
	Reconcile(ctx context.Context, autoFix bool) (*reconcile.Report, error)
}

// Executor is the order execution service the cycle drives.
type Executor interface {
	Open(ctx context.Context, sig externalmodel.Signal, sizing *risk.Sizing) (*controller.OpenResult, *model.ExecError)
	CheckTakeProfit(ctx context.Context, pos *model.Position) (*controller.CloseResult, error)
	MonitorFallback(ctx context.Context, pos *model.Position) (*controller.CloseResult, error)
	RetryFailedTakeProfits(ctx context.Context) (int, []*model.ExecError)
}

type PositionReader interface {
	FindOpen(ctx context.Context) ([]model.Position, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (*model.RiskSettings, error)
}

type StatsReader interface {
	Get(ctx context.Context, day string) (*model.DailyStats, error)
}

// Exchanges lists the venues the cycle may trade and resolves their gateways.
type Exchanges interface {
	Connected(ctx context.Context) ([]string, error)
	Get(venue string) (connectors.Gateway, error)
}

type SignalSource interface {
	Analyze(ctx context.Context, venues []string, mode, aggressiveness string) ([]externalmodel.Signal, error)
}

type connectionLister interface {
	ListConnected(ctx context.Context) ([]model.VenueConnection, error)
}

// ConnectedVenues reports the venues that are both marked connected in the
// store and have a gateway built at startup, so disconnecting a venue takes
// effect on the next cycle.
type ConnectedVenues struct {
	conns    connectionLister
	registry *connectors.Registry
}

func NewConnectedVenues(conns connectionLister, registry *connectors.Registry) *ConnectedVenues {
	return &ConnectedVenues{conns: conns, registry: registry}
}

func (v *ConnectedVenues) Connected(ctx context.Context) ([]string, error) {
	rows, err := v.conns.ListConnected(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range rows {
		if _, err := v.registry.Get(c.Venue); err == nil {
			out = append(out, c.Venue)
		}
	}
	return out, nil
}

func (v *ConnectedVenues) Get(venue string) (connectors.Gateway, error) {
	return v.registry.Get(venue)
}
