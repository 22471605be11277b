package controller

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/feed"
	"tradeexecutor/src/model"
	"tradeexecutor/src/pnl"
	"tradeexecutor/src/risk"
)

func spotRules() *connectors.SymbolRules {
	return &connectors.SymbolRules{Symbol: "BTC/USDT", StepSize: 0.00001, TickSize: 0.01, MinQty: 0.00001}
}

func btcSizing(paper bool) *risk.Sizing {
	return &risk.Sizing{
		Venue:        "binance",
		Symbol:       "BTC/USDT",
		Direction:    model.DirectionLong,
		TradeType:    model.TradeTypeSpot,
		EntryPrice:   50000,
		OrderSize:    400,
		Leverage:     1,
		Quantity:     0.008,
		ProfitTarget: 1,
		Paper:        paper,
	}
}

func TestOpen_PlacesEntryAndTakeProfit(t *testing.T) {
	gw := &scriptedGateway{name: "binance", rules: spotRules()}
	h := newHarness(gw)

	res, rej := h.ctrl.Open(context.Background(), externalmodel.Signal{Score: 70, Confidence: 0.7}, btcSizing(false))
	require.Nil(t, rej)

	pos := h.store.get(res.Position.ID)
	assert.Equal(t, model.PositionStatusOpen, pos.Status)
	assert.Equal(t, model.TPStatusPending, pos.TPStatus)
	assert.NotEmpty(t, pos.TPOrderID)
	assert.InDelta(t, 0.008, pos.Quantity, 1e-12)
	assert.InDelta(t, 0.40, pos.EntryFee, 1e-9)

	// rounded up to the tick so the target is never undershot
	assert.Equal(t, 50225.23, pos.TPPrice)
	net := testFees.NetPnL(pnl.LegFromPosition(&pos), pos.TPPrice).Net
	assert.GreaterOrEqual(t, net, 1.0)

	require.Len(t, gw.limits, 2)
	assert.Equal(t, connectors.SideBuy, gw.limits[0].Side)
	assert.False(t, gw.limits[0].ReduceOnly)
	assert.Equal(t, connectors.SideSell, gw.limits[1].Side)
	assert.True(t, gw.limits[1].ReduceOnly)

	assert.Equal(t, []string{"entry:filled", "take_profit:accepted"}, h.logs.purposes())
	assert.Equal(t, []string{feed.EventOpened}, h.feed.types())
}

func TestOpen_TakeProfitFailureStillRecordsPosition(t *testing.T) {
	gw := &scriptedGateway{name: "binance", rules: spotRules(),
		limitErr: func(req connectors.OrderRequest) error {
			if req.ReduceOnly {
				return errors.New("venue timeout")
			}
			return nil
		}}
	h := newHarness(gw)

	res, rej := h.ctrl.Open(context.Background(), externalmodel.Signal{}, btcSizing(false))
	require.Nil(t, rej)
	assert.Equal(t, "venue timeout", res.TPError)

	pos := h.store.get(res.Position.ID)
	assert.Equal(t, model.PositionStatusOpen, pos.Status)
	assert.Equal(t, model.TPStatusError, pos.TPStatus)
	assert.Empty(t, pos.TPOrderID)
	assert.Equal(t, []string{"entry:filled", "take_profit:error"}, h.logs.purposes())
}

func TestOpen_EntryFailureWritesNothing(t *testing.T) {
	gw := &scriptedGateway{name: "binance", rules: spotRules(),
		limitErr: func(connectors.OrderRequest) error { return connectors.ErrInsufficientBalance }}
	h := newHarness(gw)

	res, rej := h.ctrl.Open(context.Background(), externalmodel.Signal{}, btcSizing(false))
	assert.Nil(t, res)
	require.NotNil(t, rej)
	assert.Equal(t, model.ErrGateway, rej.ErrorType)
	assert.Equal(t, "binance", rej.Venue)
	assert.Empty(t, h.store.positions)
	assert.Empty(t, h.logs.entries)
	assert.Empty(t, h.feed.types())
}

func TestOpen_ActiveSymbolReachesNoVenue(t *testing.T) {
	for _, status := range []string{model.PositionStatusOpen, model.PositionStatusClosing} {
		t.Run(status, func(t *testing.T) {
			gw := &scriptedGateway{name: "binance", rules: spotRules()}
			h := newHarness(gw)
			held := testPosition("binance", model.DirectionLong, model.TradeTypeSpot, 1, false)
			held.Status = status
			h.store.add(held)

			res, rej := h.ctrl.Open(context.Background(), externalmodel.Signal{}, btcSizing(false))
			assert.Nil(t, res)
			require.NotNil(t, rej)
			assert.Equal(t, model.ErrDuplicatePosition, rej.ErrorType)

			limits, markets, _ := gw.counts()
			assert.Zero(t, limits+markets)
			assert.Len(t, h.store.positions, 1)
		})
	}
}

func TestOpen_UnknownVenue(t *testing.T) {
	h := newHarness(&scriptedGateway{name: "binance"})
	s := btcSizing(false)
	s.Venue = "kraken"

	_, rej := h.ctrl.Open(context.Background(), externalmodel.Signal{}, s)
	require.NotNil(t, rej)
	assert.Equal(t, model.ErrGateway, rej.ErrorType)
}

func TestOpen_FuturesUsesLeveragedExposure(t *testing.T) {
	gw := &scriptedGateway{name: "phemex", rules: &connectors.SymbolRules{StepSize: 0.001, TickSize: 0.1}}
	h := newHarness(gw)
	s := btcSizing(false)
	s.Venue, s.TradeType, s.Leverage, s.Direction = "phemex", model.TradeTypeFutures, 5, model.DirectionShort

	res, rej := h.ctrl.Open(context.Background(), externalmodel.Signal{}, s)
	require.Nil(t, rej)

	assert.InDelta(t, 0.04, gw.limits[0].Quantity, 1e-12)
	assert.Equal(t, connectors.SideSell, gw.limits[0].Side)
	assert.Equal(t, connectors.SideBuy, gw.limits[1].Side)

	pos := h.store.get(res.Position.ID)
	assert.InDelta(t, 0.008, pos.Quantity, 1e-12)
	assert.Less(t, pos.TPPrice, pos.EntryPrice)
	assert.Greater(t, pos.EstimatedFundingFee, 0.0)
}

func TestClose_ConcurrentCallsCloseOnce(t *testing.T) {
	gw := &scriptedGateway{name: "binance", rules: spotRules(), balance: 0.008}
	h := newHarness(gw)
	seeded := h.store.add(testPosition("binance", model.DirectionLong, model.TradeTypeSpot, 1, false))
	h.prices.set(seeded.TPPrice + 50)

	const callers = 2
	results := make([]*CloseResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	var success, already int
	for _, r := range results {
		switch {
		case r.Success():
			success++
		case r.AlreadyClosed:
			already++
			assert.Equal(t, model.ErrAlreadyClosed, r.Error.ErrorType)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, already)

	_, markets, cancels := gw.counts()
	assert.Equal(t, 1, markets)
	assert.Equal(t, 1, cancels)
	assert.Equal(t, model.PositionStatusClosed, h.store.get(seeded.ID).Status)
	assert.Equal(t, model.TPStatusCancelled, h.store.get(seeded.ID).TPStatus)
}

func TestClose_LiveProfitInvariant(t *testing.T) {
	cases := []struct {
		name      string
		direction string
		tradeType string
		leverage  float64
		price     float64
	}{
		{"spot long", model.DirectionLong, model.TradeTypeSpot, 1, 50050},
		{"spot short", model.DirectionShort, model.TradeTypeSpot, 1, 49950},
		{"futures long", model.DirectionLong, model.TradeTypeFutures, 5, 50010},
		{"futures short", model.DirectionShort, model.TradeTypeFutures, 5, 49990},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &scriptedGateway{name: "kucoin", rules: spotRules(), balance: 1}
			h := newHarness(gw)
			seeded := h.store.add(testPosition("kucoin", tc.direction, tc.tradeType, tc.leverage, false))
			h.prices.set(tc.price)

			res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID, RequireProfit: false})
			require.NoError(t, err)
			assert.Equal(t, CloseStatusBlocked, res.Status)
			assert.Equal(t, model.ErrProfitNotMet, res.Error.ErrorType)
			assert.Greater(t, res.Shortfall, 0.0)

			pos := h.store.get(seeded.ID)
			assert.Equal(t, model.PositionStatusOpen, pos.Status)
			assert.Equal(t, tc.price, pos.CurrentPrice)

			limits, markets, cancels := gw.counts()
			assert.Zero(t, limits+markets+cancels, "no venue call may happen for a blocked close")
		})
	}

	t.Run("caller price ignored when live price fails", func(t *testing.T) {
		gw := &scriptedGateway{name: "kucoin", rules: spotRules(), balance: 1}
		h := newHarness(gw)
		seeded := h.store.add(testPosition("kucoin", model.DirectionLong, model.TradeTypeSpot, 1, false))
		h.prices.err = errors.New("ticker timeout")

		res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID, ExitPriceHint: 60000})
		require.NoError(t, err)
		assert.Equal(t, CloseStatusError, res.Status)
		assert.Equal(t, model.PositionStatusOpen, h.store.get(seeded.ID).Status)

		limits, markets, cancels := gw.counts()
		assert.Zero(t, limits+markets+cancels, "a live close without a live price must not reach the venue")
	})
}

func TestClose_BlockedAtFortyCents(t *testing.T) {
	gw := &scriptedGateway{name: "binance", rules: spotRules(), balance: 0.008}
	h := newHarness(gw)
	seeded := h.store.add(testPosition("binance", model.DirectionLong, model.TradeTypeSpot, 1, false))

	// net = 0.008·(P − 50000) − 0.4 − 0.008·P·0.001 = 0.40
	price := 400.8 / (0.008 * 0.999)
	h.prices.set(price)

	res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID})
	require.NoError(t, err)
	assert.Equal(t, CloseStatusBlocked, res.Status)
	assert.InDelta(t, 0.40, res.NetProfit, 1e-6)
	assert.InDelta(t, 0.60, res.Shortfall, 1e-6)

	pos := h.store.get(seeded.ID)
	assert.Equal(t, model.PositionStatusOpen, pos.Status)
	assert.InDelta(t, 0.40, pos.UnrealizedPnl, 1e-6)
	assert.Contains(t, h.feed.types(), feed.EventBlocked)
}

func TestClose_PaperHonorsRequireProfitFlag(t *testing.T) {
	gw := &scriptedGateway{name: "binance", rules: spotRules()}
	h := newHarness(gw)
	seeded := h.store.add(testPosition("binance", model.DirectionLong, model.TradeTypeSpot, 1, true))

	res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID, ExitPriceHint: 49000, RequireProfit: true})
	require.NoError(t, err)
	assert.Equal(t, CloseStatusBlocked, res.Status)

	res, err = h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID, ExitPriceHint: 49000})
	require.NoError(t, err)
	require.True(t, res.Success())
	assert.Less(t, res.NetProfit, 0.0)
	assert.Equal(t, model.PositionStatusClosed, h.store.get(seeded.ID).Status)
}

func TestClose_ExitShrinksToVenueBalance(t *testing.T) {
	gw := &scriptedGateway{name: "binance", rules: spotRules(), balance: 0.006}
	h := newHarness(gw)
	seeded := h.store.add(testPosition("binance", model.DirectionLong, model.TradeTypeSpot, 1, false))
	h.prices.set(60000)

	res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID})
	require.NoError(t, err)
	require.True(t, res.Success())

	require.Len(t, gw.markets, 1)
	assert.InDelta(t, 0.006, gw.markets[0].Quantity, 1e-12)
	assert.True(t, gw.markets[0].ReduceOnly)
	assert.InDelta(t, 0.006, h.store.outcomes[seeded.ID].Quantity, 1e-12)
}

func TestClose_FuturesExitUsesVenuePosition(t *testing.T) {
	gw := &scriptedGateway{name: "phemex", rules: &connectors.SymbolRules{StepSize: 0.001},
		positions: []connectors.ExchangePosition{{Symbol: "BTC/USDT", Direction: model.DirectionShort, Quantity: 0.04}}}
	h := newHarness(gw)
	seeded := h.store.add(testPosition("phemex", model.DirectionShort, model.TradeTypeFutures, 5, false))
	h.prices.set(40000)

	res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID})
	require.NoError(t, err)
	require.True(t, res.Success())
	assert.Equal(t, connectors.SideBuy, gw.markets[0].Side)
	assert.InDelta(t, 0.04, gw.markets[0].Quantity, 1e-12)
}

func TestClose_TakeProfitGoneClosesOnConfirmedFill(t *testing.T) {
	gw := &checkingGateway{
		scriptedGateway: &scriptedGateway{name: "kucoin", rules: spotRules(), cancelErr: connectors.ErrOrderNotFound},
		status:          connectors.OrderStatusFilled,
	}
	h := newHarness(gw)
	seeded := h.store.add(testPosition("kucoin", model.DirectionLong, model.TradeTypeSpot, 1, false))
	h.prices.set(seeded.TPPrice + 10)

	res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID})
	require.NoError(t, err)
	require.True(t, res.Success())
	assert.Equal(t, seeded.TPPrice, res.ExitPrice)
	assert.InDelta(t, 1.0, res.NetProfit, 1e-6)

	out := h.store.outcomes[seeded.ID]
	assert.Equal(t, model.CloseReasonEvidence, out.Reason)
	assert.Equal(t, model.TPStatusFilled, out.TPStatus)
	assert.Empty(t, gw.markets)
}

func TestClose_TakeProfitGoneWithoutConfirmationIsStuck(t *testing.T) {
	gw := &checkingGateway{
		scriptedGateway: &scriptedGateway{name: "kucoin", rules: spotRules(), cancelErr: connectors.ErrOrderNotFound},
		status:          connectors.OrderStatusCancelled,
	}
	h := newHarness(gw)
	seeded := h.store.add(testPosition("kucoin", model.DirectionLong, model.TradeTypeSpot, 1, false))
	h.prices.set(seeded.TPPrice + 10)

	res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID})
	require.NoError(t, err)
	assert.Equal(t, CloseStatusStuck, res.Status)
	assert.Equal(t, model.PositionStatusStuck, h.store.get(seeded.ID).Status)
	assert.Empty(t, h.store.outcomes)
}

func TestClose_ExitFailureReleasesClaim(t *testing.T) {
	gw := &scriptedGateway{name: "binance", rules: spotRules(), balance: 0.008, marketErr: errors.New("503")}
	h := newHarness(gw)
	seeded := h.store.add(testPosition("binance", model.DirectionLong, model.TradeTypeSpot, 1, false))
	h.prices.set(60000)

	res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID})
	require.NoError(t, err)
	assert.Equal(t, CloseStatusError, res.Status)
	assert.Equal(t, model.ErrGateway, res.Error.ErrorType)

	pos := h.store.get(seeded.ID)
	assert.Equal(t, model.PositionStatusOpen, pos.Status)
	// the take-profit was cancelled, so the fallback monitor owns the position now
	assert.Equal(t, model.TPStatusError, pos.TPStatus)
}

func TestClose_NotOpenIsIdempotent(t *testing.T) {
	h := newHarness(&scriptedGateway{name: "binance"})
	p := testPosition("binance", model.DirectionLong, model.TradeTypeSpot, 1, false)
	p.Status = model.PositionStatusClosed
	seeded := h.store.add(p)

	res, err := h.ctrl.Close(context.Background(), CloseRequest{PositionID: seeded.ID})
	require.NoError(t, err)
	assert.True(t, res.AlreadyClosed)
	assert.Equal(t, CloseStatusAlreadyClosed, res.Status)
}
