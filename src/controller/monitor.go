package controller

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/feed"
	"tradeexecutor/src/model"
	"tradeexecutor/src/pnl"
)

// CheckTakeProfit looks for a fill of a pending take-profit and closes the
// position at the take-profit price when one is confirmed. It returns nil
// when the take-profit is still resting.
func (c *PositionController) CheckTakeProfit(ctx context.Context, pos *model.Position) (*CloseResult, error) {
	if pos.Status != model.PositionStatusOpen || pos.TPStatus != model.TPStatusPending {
		return nil, nil
	}
	log := logger.WithFields(logger.Fields{
		"op":          "CheckTakeProfit",
		"position_id": pos.ID,
		"venue":       pos.Venue,
		"symbol":      pos.Symbol,
	})

	gw, err := c.Gateways.Get(pos.Venue)
	if err != nil {
		return nil, err
	}

	price, priceErr := c.Prices.LastPrice(ctx, pos.Venue, pos.Symbol, pos.TradeType)
	if priceErr == nil && price > 0 {
		c.storeMark(ctx, pos, price)
	}

	filled, err := c.takeProfitFilled(ctx, gw, pos, price)
	if err != nil {
		return nil, err
	}
	if !filled {
		return nil, nil
	}

	claimed, err := c.Positions.TransitionStatus(ctx, pos.ID, model.PositionStatusOpen, model.PositionStatusClosing, "take-profit filled")
	if err != nil {
		return nil, err
	}
	if !claimed {
		return c.alreadyClosed(pos), nil
	}
	log.WithField("tp_price", pos.TPPrice).Info("Take-profit fill confirmed")
	return c.finalizeAtTakeProfit(ctx, pos, model.CloseReasonTakeProfit)
}

// takeProfitFilled prefers the venue's order status. Without it, the public
// price must have crossed the take-profit and the venue must no longer hold
// the exposure.
func (c *PositionController) takeProfitFilled(ctx context.Context, gw connectors.Gateway, pos *model.Position, price float64) (bool, error) {
	if pos.Paper {
		return crossed(pos, price), nil
	}
	if checker, ok := gw.(connectors.OrderStatusChecker); ok && pos.TPOrderID != "" {
		st, err := checker.GetOrder(ctx, pos.Symbol, pos.TPOrderID, pos.TradeType)
		switch {
		case err == nil:
			return st.Status == connectors.OrderStatusFilled, nil
		case errors.Is(err, connectors.ErrOrderNotFound):
			// fall through to balance evidence
		default:
			return false, err
		}
	}
	if !crossed(pos, price) {
		return false, nil
	}
	held, err := c.sellableQuantity(ctx, gw, pos)
	if err != nil {
		return false, err
	}
	exposure := pnl.LegFromPosition(pos).Exposure()
	return held <= exposure*c.Config.DustRatio, nil
}

// MonitorFallback watches positions without a working take-profit: it marks
// the position to market and closes it once the fee-inclusive net profit
// reaches the target. It returns nil while the target is not reached.
func (c *PositionController) MonitorFallback(ctx context.Context, pos *model.Position) (*CloseResult, error) {
	if pos.Status != model.PositionStatusOpen {
		return nil, nil
	}
	price, err := c.Prices.LastPrice(ctx, pos.Venue, pos.Symbol, pos.TradeType)
	if err != nil {
		return nil, fmt.Errorf("fallback price for position %d: %w", pos.ID, err)
	}
	net := c.storeMark(ctx, pos, price)
	if net+profitEpsilon < pos.ProfitTarget {
		return nil, nil
	}

	logger.WithFields(logger.Fields{
		"op":          "MonitorFallback",
		"position_id": pos.ID,
		"price":       price,
		"net":         net,
	}).Info("Fallback target reached, closing")

	return c.Close(ctx, CloseRequest{
		PositionID:    pos.ID,
		ExitPriceHint: price,
		RequireProfit: true,
		Reason:        model.CloseReasonFallback,
	})
}

func (c *PositionController) storeMark(ctx context.Context, pos *model.Position, price float64) float64 {
	net := c.Fees.NetPnL(pnl.LegFromPosition(pos), price).Net
	if err := c.Positions.UpdateMarket(ctx, pos.ID, price, net); err != nil {
		logger.WithField("position_id", pos.ID).WithError(err).Warn("Failed to store mark-to-market")
		return net
	}
	pos.CurrentPrice = price
	pos.UnrealizedPnl = net
	c.Feed.Publish(feed.Event{
		Type:       feed.EventMarket,
		PositionID: pos.ID,
		Venue:      pos.Venue,
		Symbol:     pos.Symbol,
		Status:     pos.Status,
		Price:      price,
		PnL:        net,
	})
	return net
}

// RetryFailedTakeProfits re-places take-profit orders for open positions
// whose placement failed. It returns how many were placed.
func (c *PositionController) RetryFailedTakeProfits(ctx context.Context) (int, []*model.ExecError) {
	positions, err := c.Positions.FindByTPStatus(ctx, model.TPStatusError)
	if err != nil {
		return 0, []*model.ExecError{model.NewExecError(model.ErrInternal, "", "", err.Error(), "")}
	}

	var (
		placed int
		errs   []*model.ExecError
	)
	for i := range positions {
		pos := &positions[i]
		if err := c.placeTakeProfit(ctx, pos); err != nil {
			errs = append(errs, model.NewExecError(model.ErrGateway, pos.Venue, pos.Symbol,
				"take-profit retry failed: "+err.Error(), "fallback monitoring stays active"))
			continue
		}
		placed++
	}
	return placed, errs
}

func (c *PositionController) placeTakeProfit(ctx context.Context, pos *model.Position) error {
	gw, err := c.Gateways.Get(pos.Venue)
	if err != nil {
		return err
	}
	rules, err := gw.SymbolRules(ctx, pos.Symbol, pos.TradeType)
	if err != nil {
		rules = nil
	}
	var tick float64
	if rules != nil {
		tick = rules.TickSize
	}

	leg := pnl.LegFromPosition(pos)
	quote, err := c.Fees.TakeProfit(leg, pos.ProfitTarget)
	if err != nil {
		return err
	}
	req := connectors.OrderRequest{
		Symbol:        pos.Symbol,
		Side:          connectors.SideFor(pos.Direction, true),
		TradeType:     pos.TradeType,
		Quantity:      rules.RoundQuantity(leg.Exposure()),
		Price:         connectors.RoundAwayFromEntry(quote.Price, tick, pos.IsLong()),
		Leverage:      pos.EffectiveLeverage(),
		ReduceOnly:    true,
		ClientOrderID: c.clientID(),
		Paper:         pos.Paper,
	}
	at := c.now().UTC()
	res, err := gw.PlaceLimitOrder(ctx, req)
	c.logOrder(ctx, pos, model.OrderPurposeTakeProfit, "limit", req, res, err, at)
	if err != nil {
		return err
	}

	if err := c.Positions.UpdateTakeProfit(ctx, pos.ID, res.OrderID, req.Price, model.TPStatusPending); err != nil {
		return err
	}
	logger.WithFields(logger.Fields{
		"position_id": pos.ID,
		"tp_price":    req.Price,
		"tp_order_id": res.OrderID,
	}).Info("Take-profit re-placed")
	c.Feed.Publish(feed.Event{
		Type:       feed.EventTPUpdated,
		PositionID: pos.ID,
		Venue:      pos.Venue,
		Symbol:     pos.Symbol,
		Status:     pos.Status,
		TPStatus:   model.TPStatusPending,
		Price:      req.Price,
	})
	return nil
}
