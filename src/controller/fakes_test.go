package controller

import (
	"context"
	"fmt"
	"sync"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/feed"
	"tradeexecutor/src/model"
	"tradeexecutor/src/pnl"
	"tradeexecutor/src/repository"
)

var testFees = pnl.FeeSchedule{SpotRate: 0.001, FuturesRate: 0.0005, FundingRate: 0.0001}

// memStore is an in-memory PositionStore with the same conditional-update
// semantics as the repository.
type memStore struct {
	mu        sync.Mutex
	nextID    uint
	positions map[uint]*model.Position
	trades    map[uint]*model.Trade
	outcomes  map[uint]repository.CloseOutcome
	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		positions: map[uint]*model.Position{},
		trades:    map[uint]*model.Trade{},
		outcomes:  map[uint]repository.CloseOutcome{},
	}
}

func (s *memStore) CreateOpened(_ context.Context, trade *model.Trade, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, p := range s.positions {
		if p.Venue == pos.Venue && p.Symbol == pos.Symbol &&
			(p.Status == model.PositionStatusOpen || p.Status == model.PositionStatusClosing) {
			return repository.ErrDuplicateOpenPosition
		}
	}
	s.nextID++
	trade.ID = s.nextID
	trade.Status = model.TradeStatusOpen
	pos.ID = s.nextID
	pos.TradeID = trade.ID
	t, p := *trade, *pos
	s.trades[trade.ID] = &t
	s.positions[pos.ID] = &p
	return nil
}

// add seeds an open position and its trade.
func (s *memStore) add(pos model.Position) *model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	pos.ID = s.nextID
	pos.TradeID = s.nextID
	if pos.Status == "" {
		pos.Status = model.PositionStatusOpen
	}
	s.positions[pos.ID] = &pos
	s.trades[pos.ID] = &model.Trade{ID: pos.ID, Venue: pos.Venue, Symbol: pos.Symbol, Status: model.TradeStatusOpen}
	cp := pos
	return &cp
}

func (s *memStore) get(id uint) model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.positions[id]
}

func (s *memStore) FindByID(_ context.Context, id uint) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) FindOpenBySymbol(_ context.Context, venue, symbol string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.Venue == venue && p.Symbol == symbol &&
			(p.Status == model.PositionStatusOpen || p.Status == model.PositionStatusClosing) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindByTPStatus(_ context.Context, status string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.positions {
		if p.Status == model.PositionStatusOpen && p.TPStatus == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) TransitionStatus(_ context.Context, id uint, from, to, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.StatusReason = reason
	return true, nil
}

func (s *memStore) UpdateMarket(_ context.Context, id uint, price, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.CurrentPrice = price
	p.UnrealizedPnl = pnl
	return nil
}

func (s *memStore) UpdateTakeProfit(_ context.Context, id uint, orderID string, price float64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.TPOrderID, p.TPPrice, p.TPStatus = orderID, price, status
	return nil
}

func (s *memStore) UpdateTPStatus(_ context.Context, id uint, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.TPStatus = status
	return nil
}

func (s *memStore) FinalizeClose(_ context.Context, pos *model.Position, out repository.CloseOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[pos.ID]
	if !ok || p.Status != model.PositionStatusClosing {
		return repository.ErrPositionNotClaimed
	}
	p.Status = model.PositionStatusClosed
	p.StatusReason = out.Reason
	if out.TPStatus != "" {
		p.TPStatus = out.TPStatus
	}
	t := s.trades[pos.TradeID]
	t.Status = model.TradeStatusClosed
	t.CloseReason = out.Reason
	net := out.NetProfit
	t.NetProfit = &net
	s.outcomes[pos.ID] = out
	return nil
}

type memLogs struct {
	mu      sync.Mutex
	entries []model.OrderExecutionLog
}

func (l *memLogs) Create(_ context.Context, e *model.OrderExecutionLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *e)
	return nil
}

func (l *memLogs) purposes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		out = append(out, e.Purpose+":"+e.Status)
	}
	return out
}

type memExceptions struct {
	mu   sync.Mutex
	rows []model.Exception
}

func (m *memExceptions) Create(_ context.Context, e *model.Exception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *e)
	return nil
}

// scriptedGateway answers with canned results and records every call.
type scriptedGateway struct {
	mu    sync.Mutex
	name  string
	rules *connectors.SymbolRules

	limitErr   func(req connectors.OrderRequest) error
	marketErr  error
	cancelErr  error
	balance    float64
	positions  []connectors.ExchangePosition
	balanceErr error

	limits  []connectors.OrderRequest
	markets []connectors.OrderRequest
	cancels []connectors.CancelRequest
	seq     int
}

func (g *scriptedGateway) Name() string { return g.name }

func (g *scriptedGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s-%d", prefix, g.seq)
}

func (g *scriptedGateway) PlaceLimitOrder(_ context.Context, req connectors.OrderRequest) (*connectors.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = append(g.limits, req)
	if g.limitErr != nil {
		if err := g.limitErr(req); err != nil {
			return nil, err
		}
	}
	status := connectors.OrderStatusFilled
	if req.ReduceOnly {
		status = connectors.OrderStatusNew
	}
	return &connectors.OrderResult{OrderID: g.nextID("lmt"), Symbol: req.Symbol, Side: req.Side,
		Price: req.Price, Quantity: req.Quantity, Status: status, Paper: req.Paper}, nil
}

func (g *scriptedGateway) PlaceMarketOrder(_ context.Context, req connectors.OrderRequest) (*connectors.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markets = append(g.markets, req)
	if g.marketErr != nil {
		return nil, g.marketErr
	}
	return &connectors.OrderResult{OrderID: g.nextID("mkt"), Symbol: req.Symbol, Side: req.Side,
		Price: req.Price, Quantity: req.Quantity, Status: connectors.OrderStatusFilled, Paper: req.Paper}, nil
}

func (g *scriptedGateway) CancelOrder(_ context.Context, req connectors.CancelRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, req)
	return g.cancelErr
}

func (g *scriptedGateway) GetBalance(_ context.Context, asset string) (*connectors.Balance, error) {
	if g.balanceErr != nil {
		return nil, g.balanceErr
	}
	return &connectors.Balance{Asset: asset, Free: g.balance}, nil
}

func (g *scriptedGateway) GetOpenPositions(context.Context) ([]connectors.ExchangePosition, error) {
	return g.positions, nil
}

func (g *scriptedGateway) SymbolRules(context.Context, string, string) (*connectors.SymbolRules, error) {
	return g.rules, nil
}

func (g *scriptedGateway) counts() (limits, markets, cancels int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limits), len(g.markets), len(g.cancels)
}

// checkingGateway also answers order status lookups.
type checkingGateway struct {
	*scriptedGateway
	status string
}

func (g *checkingGateway) GetOrder(_ context.Context, _, orderID, _ string) (*connectors.OrderStatus, error) {
	return &connectors.OrderStatus{OrderID: orderID, Status: g.status}, nil
}

type staticResolver map[string]connectors.Gateway

func (r staticResolver) Get(venue string) (connectors.Gateway, error) {
	gw, ok := r[venue]
	if !ok {
		return nil, connectors.ErrUnknownVenue
	}
	return gw, nil
}

type staticPrice struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (p *staticPrice) set(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price = v
}

func (p *staticPrice) LastPrice(context.Context, string, string, string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price, p.err
}

type recordingFeed struct {
	mu     sync.Mutex
	events []feed.Event
}

func (f *recordingFeed) Publish(ev feed.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *recordingFeed) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	store  *memStore
	logs   *memLogs
	excs   *memExceptions
	gw     connectors.Gateway
	prices *staticPrice
	feed   *recordingFeed
	ctrl   *PositionController
}

func newHarness(gw connectors.Gateway) *harness {
	h := &harness{
		store:  newMemStore(),
		logs:   &memLogs{},
		excs:   &memExceptions{},
		gw:     gw,
		prices: &staticPrice{},
		feed:   &recordingFeed{},
	}
	h.ctrl = NewPositionController(Deps{
		Positions:  h.store,
		OrderLogs:  h.logs,
		Exceptions: h.excs,
		Gateways:   staticResolver{gw.Name(): gw},
		Prices:     h.prices,
		Fees:       testFees,
		Feed:       h.feed,
		Config:     &Config{ServiceName: "test", DustRatio: 0.1},
	})
	return h
}

// testPosition is a 400 USDT position at 50k with its take-profit resting.
func testPosition(venue, direction, tradeType string, leverage float64, paper bool) model.Position {
	if tradeType == model.TradeTypeSpot {
		leverage = 1
	}
	pos := model.Position{
		Venue:        venue,
		Symbol:       "BTC/USDT",
		Direction:    direction,
		TradeType:    tradeType,
		EntryPrice:   50000,
		Quantity:     0.008,
		Notional:     400,
		Leverage:     leverage,
		ProfitTarget: 1,
		TPOrderID:    "tp-1",
		TPStatus:     model.TPStatusPending,
		Paper:        paper,
		Status:       model.PositionStatusOpen,
	}
	quote, err := testFees.TakeProfit(pnl.LegFromPosition(&pos), pos.ProfitTarget)
	if err != nil {
		panic(err)
	}
	pos.TPPrice = quote.Price
	return pos
}
