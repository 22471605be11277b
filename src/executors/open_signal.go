package executors

import (
	"context"
	"strings"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/controller"
	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/model"
	"tradeexecutor/src/risk"
)

// OpenSignal opens one position on demand through the same policy,
// capacity and sizing checks a cycle applies. It holds the loop lock, so it
// never races a cycle or another manual open. orderSize overrides the
// configured size when positive.
func (s *Scheduler) OpenSignal(ctx context.Context, sig externalmodel.Signal, orderSize float64) (*controller.OpenResult, *model.ExecError) {
	venue := strings.ToLower(sig.Venue)
	symbol := connectors.NormalizeSymbol(sig.Symbol)
	owner := "open-" + s.newID()
	log := logger.WithFields(logger.Fields{"op": "OpenSignal", "venue": venue, "symbol": symbol, "owner": owner})

	acquired, err := s.Lock.Acquire(ctx, owner, s.Config.LockTTL)
	if err != nil {
		return nil, model.NewExecError(model.ErrInternal, venue, symbol, "acquire loop lock: "+err.Error(), "")
	}
	if !acquired {
		return nil, model.NewExecError(model.ErrConcurrentSkip, venue, symbol, ErrLockHeld.Error(), "retry once the running cycle finishes")
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.Lock.Release(rctx, owner); err != nil {
			log.WithError(err).Error("Failed to release loop lock")
		}
	}()

	settings, err := s.Settings.Get(ctx)
	if err != nil {
		return nil, model.NewExecError(model.ErrInternal, venue, symbol, "load risk settings: "+err.Error(), "")
	}
	var today *model.DailyStats
	if settings != nil {
		if today, err = s.Stats.Get(ctx, model.DayKey(s.now())); err != nil {
			log.WithError(err).Warn("Failed to load daily stats")
		}
	}
	if stop := risk.PolicyGate(settings, today); stop != nil {
		return nil, stop
	}

	open, err := s.Positions.FindOpen(ctx)
	if err != nil {
		return nil, model.NewExecError(model.ErrInternal, venue, symbol, "load open positions: "+err.Error(), "")
	}
	if stop := risk.CapacityGate(settings, int64(len(open))); stop != nil {
		return nil, stop
	}
	openSymbols := map[string]bool{}
	for _, p := range open {
		if p.Venue == venue {
			openSymbols[p.Symbol] = true
		}
	}

	gw, err := s.Exchanges.Get(venue)
	if err != nil {
		return nil, model.NewExecError(model.ErrGateway, venue, symbol, err.Error(), "connect the venue before trading it")
	}
	balance, err := s.buyingPower(ctx, gw, settings)
	if err != nil {
		return nil, model.NewExecError(model.ErrGateway, venue, symbol, "balance lookup: "+err.Error(), "retry shortly")
	}

	tradeType := sig.TradeType
	if tradeType == "" {
		tradeType = model.TradeTypeSpot
	}
	rules, err := gw.SymbolRules(ctx, symbol, tradeType)
	if err != nil {
		rules = nil
	}

	sizing, rejected := s.Gate.Validate(risk.Request{
		Signal:       sig,
		Settings:     settings,
		VenueBalance: balance,
		OpenSymbols:  openSymbols,
		Rules:        rules,
		OrderSize:    orderSize,
	})
	if rejected != nil {
		return nil, rejected
	}
	return s.Executor.Open(ctx, sig, sizing)
}
