package executors

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/controller"
	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/model"
	"tradeexecutor/src/reconcile"
	"tradeexecutor/src/risk"
)

// book is the shared in-memory position table of the fakes.
type book struct {
	mu        sync.Mutex
	positions []model.Position
}

func (b *book) FindOpen(context.Context) ([]model.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Position
	for _, p := range b.positions {
		if p.Status == model.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *book) add(p model.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p.ID = uint(len(b.positions) + 1)
	if p.Status == "" {
		p.Status = model.PositionStatusOpen
	}
	b.positions = append(b.positions, p)
}

func (b *book) close(id uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.positions {
		if b.positions[i].ID == id {
			b.positions[i].Status = model.PositionStatusClosed
		}
	}
}

func (b *book) get(id uint) model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions[id-1]
}

func (b *book) TransitionStatus(_ context.Context, id uint, from, to, reason string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &b.positions[id-1]
	if p.Status != from {
		return false, nil
	}
	p.Status, p.StatusReason = to, reason
	return true, nil
}

func (b *book) UpdateQuantity(_ context.Context, id uint, qty, notional float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[id-1].Quantity, b.positions[id-1].Notional = qty, notional
	return nil
}

func (b *book) UpdateTPStatus(_ context.Context, id uint, status string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[id-1].TPStatus = status
	return nil
}

type fakeExecutor struct {
	mu   sync.Mutex
	book *book

	// enter is signalled and gate awaited inside RetryFailedTakeProfits.
	enter chan struct{}
	gate  chan struct{}

	openErr   map[string]*model.ExecError
	tpError   string
	closeOnTP map[uint]bool
	closeOnFB map[uint]bool

	opened    []risk.Sizing
	checked   []uint
	fallbacks []uint
	retries   int
}

func newFakeExecutor(b *book) *fakeExecutor {
	return &fakeExecutor{
		book:      b,
		openErr:   map[string]*model.ExecError{},
		closeOnTP: map[uint]bool{},
		closeOnFB: map[uint]bool{},
	}
}

func (e *fakeExecutor) Open(_ context.Context, sig externalmodel.Signal, sizing *risk.Sizing) (*controller.OpenResult, *model.ExecError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.openErr[sizing.Symbol]; ok {
		return nil, err
	}
	e.opened = append(e.opened, *sizing)
	pos := model.Position{Venue: sizing.Venue, Symbol: sizing.Symbol, Direction: sizing.Direction,
		TradeType: sizing.TradeType, EntryPrice: sizing.EntryPrice, Quantity: sizing.Quantity,
		TPPrice: sizing.EntryPrice * 1.0005, TPStatus: model.TPStatusPending}
	e.book.add(pos)
	return &controller.OpenResult{Position: &pos, TPError: e.tpError}, nil
}

func (e *fakeExecutor) CheckTakeProfit(_ context.Context, pos *model.Position) (*controller.CloseResult, error) {
	e.mu.Lock()
	e.checked = append(e.checked, pos.ID)
	closeIt := e.closeOnTP[pos.ID]
	e.mu.Unlock()
	if !closeIt {
		return nil, nil
	}
	e.book.close(pos.ID)
	return &controller.CloseResult{Status: controller.CloseStatusSuccess, PositionID: pos.ID, NetProfit: 1}, nil
}

func (e *fakeExecutor) MonitorFallback(_ context.Context, pos *model.Position) (*controller.CloseResult, error) {
	e.mu.Lock()
	e.fallbacks = append(e.fallbacks, pos.ID)
	closeIt := e.closeOnFB[pos.ID]
	e.mu.Unlock()
	if !closeIt {
		return nil, errors.New("ticker unavailable")
	}
	e.book.close(pos.ID)
	return &controller.CloseResult{Status: controller.CloseStatusSuccess, PositionID: pos.ID, NetProfit: 1.2}, nil
}

func (e *fakeExecutor) RetryFailedTakeProfits(context.Context) (int, []*model.ExecError) {
	if e.enter != nil {
		e.enter <- struct{}{}
		<-e.gate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries++
	return 0, nil
}

func (e *fakeExecutor) openedSymbols() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[string][]string{}
	for _, s := range e.opened {
		out[s.Venue] = append(out[s.Venue], s.Symbol)
	}
	return out
}

type fakeSettings struct {
	settings *model.RiskSettings
	err      error
}

func (f fakeSettings) Get(context.Context) (*model.RiskSettings, error) { return f.settings, f.err }

type fakeStats struct{ net float64 }

func (f fakeStats) Get(_ context.Context, day string) (*model.DailyStats, error) {
	return &model.DailyStats{Date: day, NetProfit: f.net}, nil
}

type fakeReconciler struct{ calls int }

func (f *fakeReconciler) Reconcile(context.Context, bool) (*reconcile.Report, error) {
	f.calls++
	return &reconcile.Report{Success: true, Matched: 1}, nil
}

type fakeSignals struct {
	sigs []externalmodel.Signal
	err  error
}

func (f fakeSignals) Analyze(context.Context, []string, string, string) ([]externalmodel.Signal, error) {
	return f.sigs, f.err
}

type fakeExchanges map[string]connectors.Gateway

func (f fakeExchanges) Connected(context.Context) ([]string, error) {
	var out []string
	for v := range f {
		out = append(out, v)
	}
	return out, nil
}

func (f fakeExchanges) Get(venue string) (connectors.Gateway, error) {
	gw, ok := f[venue]
	if !ok {
		return nil, connectors.ErrUnknownVenue
	}
	return gw, nil
}

// wallet is a gateway that only answers balance and rules lookups.
type wallet struct {
	name    string
	balance float64
	err     error
}

func (w *wallet) Name() string { return w.name }
func (w *wallet) PlaceLimitOrder(context.Context, connectors.OrderRequest) (*connectors.OrderResult, error) {
	return nil, errors.New("not used")
}
func (w *wallet) PlaceMarketOrder(context.Context, connectors.OrderRequest) (*connectors.OrderResult, error) {
	return nil, errors.New("not used")
}
func (w *wallet) CancelOrder(context.Context, connectors.CancelRequest) error { return nil }
func (w *wallet) GetBalance(_ context.Context, asset string) (*connectors.Balance, error) {
	if w.err != nil {
		return nil, w.err
	}
	return &connectors.Balance{Asset: asset, Free: w.balance}, nil
}
func (w *wallet) GetOpenPositions(context.Context) ([]connectors.ExchangePosition, error) {
	return nil, nil
}
func (w *wallet) SymbolRules(_ context.Context, symbol, _ string) (*connectors.SymbolRules, error) {
	return &connectors.SymbolRules{Symbol: symbol, StepSize: 0.00001, TickSize: 0.01, MinQty: 0.0001}, nil
}

func liveSettings() *model.RiskSettings {
	return &model.RiskSettings{
		TradingEnabled:   true,
		Mode:             model.ModeLive,
		Aggressiveness:   model.AggressivenessBalanced,
		OrderSize:        400,
		MinOrderSize:     10,
		MaxOrderSize:     1000,
		ProfitTarget:     1,
		Leverage:         1,
		MaxOpenPositions: 5,
		DailyLossLimit:   50,
	}
}

func signal(venue, symbol string, score float64) externalmodel.Signal {
	return externalmodel.Signal{Venue: venue, Symbol: symbol, Direction: model.DirectionLong,
		Score: score, Confidence: 0.6, EntryPrice: 50000, TradeType: model.TradeTypeSpot}
}

type fixture struct {
	book      *book
	exec      *fakeExecutor
	lock      *MemoryLock
	reconcile *fakeReconciler
	deps      SchedulerDeps
}

func newFixture(settings *model.RiskSettings, exchanges fakeExchanges, sigs ...externalmodel.Signal) *fixture {
	b := &book{}
	f := &fixture{book: b, exec: newFakeExecutor(b), lock: NewMemoryLock(), reconcile: &fakeReconciler{}}
	f.deps = SchedulerDeps{
		Lock:       f.lock,
		Reconciler: f.reconcile,
		Executor:   f.exec,
		Positions:  b,
		Settings:   fakeSettings{settings: settings},
		Stats:      fakeStats{},
		Exchanges:  exchanges,
		Signals:    fakeSignals{sigs: sigs},
		Config: &Config{
			LockTTL:          120 * time.Second,
			ReconcileAutoFix: true,
			QuoteAsset:       "USDT",
			PaperBalance:     10000,
		},
	}
	return f
}

func (f *fixture) scheduler() *Scheduler {
	return NewScheduler(f.deps)
}

func errorTypes(errs []*model.ExecError) []model.ErrorType {
	var out []model.ErrorType
	for _, e := range errs {
		out = append(out, e.ErrorType)
	}
	return out
}
