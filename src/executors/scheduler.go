package executors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/controller"
	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/feed"
	"tradeexecutor/src/model"
	"tradeexecutor/src/risk"
)

// Cycle statuses.
const (
	StatusCompleted         = "completed"
	StatusSkippedConcurrent = "skipped_concurrent"
	StatusNoSettings        = "no_settings"
	StatusBotStopped        = "bot_stopped"
	StatusDailyLimit        = "daily_limit_reached"
	StatusNoExchanges       = "no_exchanges"
	StatusMaxPositions      = "max_positions"
	StatusFailed            = "failed"
)

const releaseTimeout = 10 * time.Second

// CycleResult is returned for every cycle, including the ones that stop early.
type CycleResult struct {
	Success          bool               `json:"success"`
	CycleID          string             `json:"cycleId"`
	Status           string             `json:"status"`
	Actions          []string           `json:"actions"`
	SignalsGenerated int                `json:"signalsGenerated"`
	TradesExecuted   int                `json:"tradesExecuted"`
	PositionsClosed  int                `json:"positionsClosed"`
	Errors           []*model.ExecError `json:"errors"`
	StartedAt        time.Time          `json:"startedAt"`
	FinishedAt       time.Time          `json:"finishedAt"`
}

func (r *CycleResult) action(format string, args ...interface{}) {
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}

// stop ends the cycle on a policy outcome. It is not a failure.
func (r *CycleResult) stop(status string, e *model.ExecError) *CycleResult {
	r.Status = status
	if e != nil {
		r.Errors = append(r.Errors, e)
	}
	return r
}

type SchedulerDeps struct {
	Lock       LockPort
	Reconciler Reconciler
	Executor   Executor
	Positions  PositionReader
	Settings   SettingsReader
	Stats      StatsReader
	Exchanges  Exchanges
	Signals    SignalSource
	Gate       *risk.Gate
	Feed       feed.Publisher
	Config     *Config
}

// Scheduler runs trading cycles. Only one cycle runs at a time across every
// process sharing the lock.
type Scheduler struct {
	SchedulerDeps
	now   func() time.Time
	newID func() string
}

func NewScheduler(d SchedulerDeps) *Scheduler {
	if d.Feed == nil {
		d.Feed = feed.Nop{}
	}
	if d.Config == nil {
		d.Config = GetConfig()
	}
	if d.Gate == nil {
		d.Gate = risk.NewGate(nil)
	}
	return &Scheduler{SchedulerDeps: d, now: time.Now, newID: uuid.NewString}
}

// WithClock overrides the time source used for the daily stats key.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	cp := *s
	cp.now = now
	return &cp
}

// RunCycle executes one trading cycle. Each step tolerates the failure of
// the previous best-effort steps; the lock is always released.
func (s *Scheduler) RunCycle(ctx context.Context) *CycleResult {
	res := &CycleResult{
		Success:   true,
		CycleID:   s.newID(),
		Status:    StatusCompleted,
		Actions:   []string{},
		Errors:    []*model.ExecError{},
		StartedAt: s.now().UTC(),
	}
	log := logger.WithField("cycle_id", res.CycleID)
	defer func() {
		res.FinishedAt = s.now().UTC()
		log.WithFields(logger.Fields{
			"status":  res.Status,
			"signals": res.SignalsGenerated,
			"trades":  res.TradesExecuted,
			"closed":  res.PositionsClosed,
			"errors":  len(res.Errors),
		}).Info("Cycle finished")
		s.Feed.Publish(feed.Event{Type: feed.EventCycle, Status: res.Status,
			Message: fmt.Sprintf("trades=%d closed=%d", res.TradesExecuted, res.PositionsClosed)})
	}()

	// 1. single-flight lock
	acquired, err := s.Lock.Acquire(ctx, res.CycleID, s.Config.LockTTL)
	if err != nil {
		log.WithError(err).Error("Failed to acquire loop lock")
		res.Success = false
		return res.stop(StatusFailed, model.NewExecError(model.ErrInternal, "", "", "acquire loop lock: "+err.Error(), ""))
	}
	if !acquired {
		log.Info("Another cycle holds the loop lock, skipping")
		return res.stop(StatusSkippedConcurrent, model.NewExecError(model.ErrConcurrentSkip, "", "",
			ErrLockHeld.Error(), "the running cycle will pick up pending work"))
	}
	// 10. release, also when the caller's context is already cancelled
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.Lock.Release(rctx, res.CycleID); err != nil {
			log.WithError(err).Error("Failed to release loop lock")
		}
	}()

	// 2. reconciliation (best effort)
	if s.Reconciler != nil {
		report, err := s.Reconciler.Reconcile(ctx, s.Config.ReconcileAutoFix)
		if err != nil {
			log.WithError(err).Warn("Reconciliation failed")
		} else {
			res.action("reconciled: %d matched, %d mismatched, %d fixed, %d closed at take-profit",
				report.Matched, report.Mismatched, report.Fixed, report.Closed)
			res.PositionsClosed += report.Closed
			res.Errors = append(res.Errors, report.Errors...)
		}
	}

	// 3. take-profit retries (best effort)
	placed, tpErrs := s.Executor.RetryFailedTakeProfits(ctx)
	if placed > 0 {
		res.action("re-placed %d take-profit orders", placed)
	}
	res.Errors = append(res.Errors, tpErrs...)

	// 4. policy
	settings, err := s.Settings.Get(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to load risk settings")
		res.Success = false
		return res.stop(StatusFailed, model.NewExecError(model.ErrInternal, "", "", "load risk settings: "+err.Error(), ""))
	}
	var today *model.DailyStats
	if settings != nil {
		if today, err = s.Stats.Get(ctx, model.DayKey(s.now())); err != nil {
			log.WithError(err).Warn("Failed to load daily stats")
		}
	}
	if stop := risk.PolicyGate(settings, today); stop != nil {
		return res.stop(policyStatus(stop.ErrorType), stop)
	}

	// 5. venues
	venues, err := s.Exchanges.Connected(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to load connected venues")
		res.Success = false
		return res.stop(StatusFailed, model.NewExecError(model.ErrInternal, "", "", "load venues: "+err.Error(), ""))
	}
	if len(venues) == 0 {
		return res.stop(StatusNoExchanges, nil)
	}

	// 6. monitor open positions
	open, err := s.Positions.FindOpen(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to load open positions")
		res.Success = false
		return res.stop(StatusFailed, model.NewExecError(model.ErrInternal, "", "", "load open positions: "+err.Error(), ""))
	}
	s.monitor(ctx, res, open)

	// 7. capacity, counted after the monitor closed what it could
	if open, err = s.Positions.FindOpen(ctx); err != nil {
		res.Success = false
		return res.stop(StatusFailed, model.NewExecError(model.ErrInternal, "", "", "load open positions: "+err.Error(), ""))
	}
	if stop := risk.CapacityGate(settings, int64(len(open))); stop != nil {
		return res.stop(StatusMaxPositions, stop)
	}

	// 8. candidates
	sigs, err := s.Signals.Analyze(ctx, venues, settings.Mode, settings.Aggressiveness)
	if err != nil {
		log.WithError(err).Warn("Signal source failed")
		res.Errors = append(res.Errors, model.NewExecError(model.ErrGateway, "", "", "signal source: "+err.Error(), "retry on the next cycle"))
		return res
	}
	res.SignalsGenerated = len(sigs)
	byVenue := s.candidates(res, sigs, venues, settings)

	// 9. per-venue fan-out
	s.execute(ctx, res, byVenue, open, settings)
	return res
}

func policyStatus(t model.ErrorType) string {
	switch t {
	case model.ErrNoSettings:
		return StatusNoSettings
	case model.ErrDailyLimit:
		return StatusDailyLimit
	default:
		return StatusBotStopped
	}
}

// monitor checks pending take-profits and runs the fallback for positions
// without one, concurrently per venue.
func (s *Scheduler) monitor(ctx context.Context, res *CycleResult, open []model.Position) {
	byVenue := map[string][]*model.Position{}
	for i := range open {
		byVenue[open[i].Venue] = append(byVenue[open[i].Venue], &open[i])
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for venue, positions := range byVenue {
		venue, positions := venue, positions
		g.Go(func() error {
			for _, pos := range positions {
				var (
					closed *controller.CloseResult
					err    error
				)
				if pos.TPStatus == model.TPStatusPending {
					closed, err = s.Executor.CheckTakeProfit(gctx, pos)
				} else {
					closed, err = s.Executor.MonitorFallback(gctx, pos)
				}

				mu.Lock()
				switch {
				case err != nil:
					logger.WithFields(logger.Fields{"venue": venue, "position_id": pos.ID}).WithError(err).Warn("Position check failed")
					res.Errors = append(res.Errors, model.NewExecError(model.ErrGateway, venue, pos.Symbol, err.Error(), "checked again next cycle"))
				case closed == nil:
				case closed.Success():
					res.PositionsClosed++
					res.action("closed position %d (%s %s) net %.2f", pos.ID, venue, pos.Symbol, closed.NetProfit)
				case closed.Error != nil:
					res.Errors = append(res.Errors, closed.Error)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// candidates keeps the signals that clear the aggressiveness thresholds and
// target a connected venue, grouped by venue in ranked order.
func (s *Scheduler) candidates(res *CycleResult, sigs []externalmodel.Signal, venues []string, settings *model.RiskSettings) map[string][]externalmodel.Signal {
	connected := map[string]bool{}
	for _, v := range venues {
		connected[strings.ToLower(v)] = true
	}
	th := risk.ThresholdsFor(settings.Aggressiveness)

	out := map[string][]externalmodel.Signal{}
	var filtered int
	for _, sig := range sigs {
		venue := strings.ToLower(sig.Venue)
		if !connected[venue] || !th.Passes(sig) {
			filtered++
			continue
		}
		out[venue] = append(out[venue], sig)
	}
	if filtered > 0 {
		res.action("filtered %d of %d signals", filtered, len(sigs))
	}
	return out
}

// slots is the open position capacity shared by the venue workers.
type slots struct {
	mu   sync.Mutex
	left int
}

func (s *slots) take() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left <= 0 {
		return false
	}
	s.left--
	return true
}

func (s *slots) give() {
	s.mu.Lock()
	s.left++
	s.mu.Unlock()
}

type venueOutcome struct {
	trades  int
	actions []string
	errors  []*model.ExecError
}

func (s *Scheduler) execute(ctx context.Context, res *CycleResult, byVenue map[string][]externalmodel.Signal, open []model.Position, settings *model.RiskSettings) {
	capacity := &slots{left: 1 << 30}
	if settings.MaxOpenPositions > 0 {
		capacity.left = settings.MaxOpenPositions - len(open)
	}
	openSymbols := map[string]map[string]bool{}
	for _, p := range open {
		if openSymbols[p.Venue] == nil {
			openSymbols[p.Venue] = map[string]bool{}
		}
		openSymbols[p.Venue][p.Symbol] = true
	}

	venues := make([]string, 0, len(byVenue))
	for v := range byVenue {
		venues = append(venues, v)
	}
	sort.Strings(venues)
	outcomes := make([]venueOutcome, len(venues))

	g, gctx := errgroup.WithContext(ctx)
	for i, venue := range venues {
		i, venue := i, venue
		symbols := openSymbols[venue]
		if symbols == nil {
			symbols = map[string]bool{}
		}
		g.Go(func() error {
			outcomes[i] = s.executeVenue(gctx, venue, byVenue[venue], symbols, settings, capacity)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		res.TradesExecuted += o.trades
		res.Actions = append(res.Actions, o.actions...)
		res.Errors = append(res.Errors, o.errors...)
	}
}

// executeVenue opens the venue's candidates one after the other so each
// one sees the balance left by the previous.
func (s *Scheduler) executeVenue(ctx context.Context, venue string, sigs []externalmodel.Signal, openSymbols map[string]bool, settings *model.RiskSettings, capacity *slots) venueOutcome {
	var out venueOutcome
	log := logger.WithField("venue", venue)

	gw, err := s.Exchanges.Get(venue)
	if err != nil {
		out.errors = append(out.errors, model.NewExecError(model.ErrGateway, venue, "", err.Error(), "connect the venue"))
		return out
	}
	balance, err := s.buyingPower(ctx, gw, settings)
	if err != nil {
		log.WithError(err).Warn("Balance lookup failed")
		out.errors = append(out.errors, model.NewExecError(model.ErrGateway, venue, "", "balance lookup: "+err.Error(), "retry on the next cycle"))
		return out
	}

	for _, sig := range sigs {
		tradeType := sig.TradeType
		if tradeType == "" {
			tradeType = model.TradeTypeSpot
		}
		rules, err := gw.SymbolRules(ctx, connectors.NormalizeSymbol(sig.Symbol), tradeType)
		if err != nil {
			log.WithError(err).WithField("symbol", sig.Symbol).Debug("No symbol rules, skipping venue minimum check")
			rules = nil
		}

		sizing, rejected := s.Gate.Validate(risk.Request{
			Signal:       sig,
			Settings:     settings,
			VenueBalance: balance,
			OpenSymbols:  openSymbols,
			Rules:        rules,
		})
		if rejected != nil {
			out.errors = append(out.errors, rejected)
			continue
		}

		if !capacity.take() {
			out.errors = append(out.errors, model.NewExecError(model.ErrMaxPositions, venue, sizing.Symbol,
				"open position limit reached during the cycle", "wait for positions to close"))
			break
		}
		opened, execErr := s.Executor.Open(ctx, sig, sizing)
		if execErr != nil {
			capacity.give()
			out.errors = append(out.errors, execErr)
			continue
		}

		out.trades++
		balance -= sizing.OrderSize
		openSymbols[sizing.Symbol] = true
		out.actions = append(out.actions, fmt.Sprintf("opened %s %s %s on %s size %.2f tp %.8g",
			sizing.Direction, sizing.TradeType, sizing.Symbol, venue, sizing.OrderSize, opened.Position.TPPrice))
		if opened.TPError != "" {
			out.errors = append(out.errors, model.NewExecError(model.ErrGateway, venue, sizing.Symbol,
				"take-profit not placed: "+opened.TPError, "fallback monitoring is active"))
		}
	}
	return out
}

func (s *Scheduler) buyingPower(ctx context.Context, gw connectors.Gateway, settings *model.RiskSettings) (float64, error) {
	if settings.IsPaper() {
		return s.Config.PaperBalance, nil
	}
	bal, err := gw.GetBalance(ctx, s.Config.QuoteAsset)
	if err != nil {
		return 0, err
	}
	return bal.Free, nil
}
