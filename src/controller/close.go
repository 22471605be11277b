package controller

import (
	"context"
	"errors"
	"fmt"
	"math"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/feed"
	"tradeexecutor/src/model"
	"tradeexecutor/src/pnl"
	"tradeexecutor/src/repository"
)

const (
	CloseStatusSuccess       = "success"
	CloseStatusBlocked       = "blocked"
	CloseStatusAlreadyClosed = "already_closed"
	CloseStatusStuck         = "stuck"
	CloseStatusError         = "error"
)

// profitEpsilon absorbs float noise when a price sits exactly on the target.
const profitEpsilon = 1e-9

type CloseRequest struct {
	PositionID uint `json:"positionId"`
	// ExitPriceHint is the reference price of paper fills. Live closes
	// always price against the venue and ignore it.
	ExitPriceHint float64 `json:"exitPrice,omitempty"`
	// RequireProfit only matters for paper positions: live positions are
	// always held to their profit target.
	RequireProfit bool   `json:"requireProfit"`
	Reason        string `json:"reason,omitempty"`
}

type CloseResult struct {
	Status        string           `json:"status"`
	AlreadyClosed bool             `json:"alreadyClosed"`
	PositionID    uint             `json:"positionId"`
	ExitPrice     float64          `json:"exitPrice,omitempty"`
	Quantity      float64          `json:"quantity,omitempty"`
	NetProfit     float64          `json:"netProfit"`
	ProfitTarget  float64          `json:"profitTarget"`
	Shortfall     float64          `json:"shortfall,omitempty"`
	Message       string           `json:"message,omitempty"`
	Error         *model.ExecError `json:"error,omitempty"`
}

// Success reports whether the position reached a closed state in this call.
func (r *CloseResult) Success() bool {
	return r != nil && r.Status == CloseStatusSuccess
}

// Close claims the position, holds live positions to their profit target,
// cancels the take-profit and exits with a reduce-only market order sized
// from what the venue actually holds.
func (c *PositionController) Close(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	pos, err := c.Positions.FindByID(ctx, req.PositionID)
	if err != nil {
		return nil, err
	}
	log := logger.WithFields(logger.Fields{
		"op":          "Close",
		"position_id": pos.ID,
		"venue":       pos.Venue,
		"symbol":      pos.Symbol,
		"paper":       pos.Paper,
	})
	reason := req.Reason
	if reason == "" {
		reason = model.CloseReasonManual
	}

	// ------------------------------------------------------------------
	// 1) Atomic claim: open -> closing
	// ------------------------------------------------------------------
	if pos.Status != model.PositionStatusOpen {
		return c.alreadyClosed(pos), nil
	}
	claimed, err := c.Positions.TransitionStatus(ctx, pos.ID, model.PositionStatusOpen, model.PositionStatusClosing, "close: "+reason)
	if err != nil {
		return nil, fmt.Errorf("claim position %d: %w", pos.ID, err)
	}
	if !claimed {
		log.Info("Position already claimed by another caller")
		return c.alreadyClosed(pos), nil
	}

	gw, err := c.Gateways.Get(pos.Venue)
	if err != nil {
		c.release(ctx, pos, "venue unavailable")
		return c.failed(pos, err, "connect the venue"), nil
	}

	// ------------------------------------------------------------------
	// 2) Profit check at the current price
	// ------------------------------------------------------------------
	price, err := c.currentPrice(ctx, pos, req.ExitPriceHint)
	if err != nil {
		c.release(ctx, pos, "no price")
		return c.failed(pos, err, "retry when a price is available"), nil
	}
	leg := pnl.LegFromPosition(pos)
	mark := c.Fees.NetPnL(leg, price)

	if !pos.Paper || req.RequireProfit {
		if mark.Net+profitEpsilon < pos.ProfitTarget {
			return c.blocked(ctx, pos, price, mark.Net), nil
		}
	}

	// ------------------------------------------------------------------
	// 3) Cancel the resting take-profit
	// ------------------------------------------------------------------
	tpStatus, tpGone, err := c.cancelTakeProfit(ctx, gw, pos)
	if err != nil {
		c.release(ctx, pos, "take-profit cancel failed")
		return c.failed(pos, err, "retry the close"), nil
	}

	// ------------------------------------------------------------------
	// 4) Exit sized from the venue's own holdings
	// ------------------------------------------------------------------
	rules, err := gw.SymbolRules(ctx, pos.Symbol, pos.TradeType)
	if err != nil {
		log.WithError(err).Warn("Symbol rules unavailable, exiting unrounded quantity")
		rules = nil
	}
	exitQty, err := c.sellableQuantity(ctx, gw, pos)
	if err != nil {
		c.restoreAfterCancel(ctx, pos, tpGone)
		c.release(ctx, pos, "holdings lookup failed")
		return c.failed(pos, err, "retry the close"), nil
	}
	exitQty = rules.RoundQuantity(exitQty)

	if exitQty <= 0 {
		if tpGone {
			return c.closeOnEvidence(ctx, gw, pos, price)
		}
		return c.markStuck(ctx, pos, "no sellable balance and no fill evidence"), nil
	}

	exitReq := connectors.OrderRequest{
		Symbol:        pos.Symbol,
		Side:          connectors.SideFor(pos.Direction, true),
		TradeType:     pos.TradeType,
		Quantity:      exitQty,
		Price:         price,
		Leverage:      pos.EffectiveLeverage(),
		ReduceOnly:    true,
		ClientOrderID: c.clientID(),
		Paper:         pos.Paper,
	}
	exitAt := c.now().UTC()
	exit, err := gw.PlaceMarketOrder(ctx, exitReq)
	c.logOrder(ctx, pos, model.OrderPurposeExit, "market", exitReq, exit, err, exitAt)
	if err != nil {
		if tpGone && errors.Is(err, connectors.ErrInsufficientBalance) {
			return c.closeOnEvidence(ctx, gw, pos, price)
		}
		c.restoreAfterCancel(ctx, pos, tpGone)
		c.release(ctx, pos, "exit order failed")
		return c.failed(pos, err, "the position stays open and is retried by the monitor"), nil
	}

	// ------------------------------------------------------------------
	// 5) Realized fees and profit for the executed quantity
	// ------------------------------------------------------------------
	exitPrice := exit.Price
	if exitPrice <= 0 {
		exitPrice = price
	}
	executed := leg
	executed.Quantity = exitQty / pos.EffectiveLeverage()
	realized := c.Fees.NetPnL(executed, exitPrice)
	if !pos.Paper && realized.Net+profitEpsilon < pos.ProfitTarget {
		log.WithFields(logger.Fields{
			"net":    realized.Net,
			"target": pos.ProfitTarget,
		}).Warn("Exit slipped below the profit target")
	}

	// ------------------------------------------------------------------
	// 6) Trade/Position -> closed, daily stats
	// ------------------------------------------------------------------
	out := outcome(executed, realized, reason, tpStatus)
	out.ClosedAt = c.now().UTC()
	if err := c.Positions.FinalizeClose(ctx, pos, out); err != nil {
		Capture(ctx, c.Exceptions, c.Config.ServiceName, "controller", "PositionController.Close", "error", err,
			map[string]interface{}{
				"position_id":   pos.ID,
				"exit_order_id": exit.OrderID,
				"exit_price":    exitPrice,
			})
		return nil, fmt.Errorf("finalize close of position %d: %w", pos.ID, err)
	}

	return c.closed(pos, out, "position closed"), nil
}

func (c *PositionController) currentPrice(ctx context.Context, pos *model.Position, hint float64) (float64, error) {
	if pos.Paper && hint > 0 {
		return hint, nil
	}
	price, err := c.Prices.LastPrice(ctx, pos.Venue, pos.Symbol, pos.TradeType)
	if err == nil && price > 0 {
		return price, nil
	}
	if err == nil {
		err = fmt.Errorf("no price for %s", pos.Symbol)
	}
	return 0, err
}

// cancelTakeProfit returns the take-profit status to record on close and
// whether the venue no longer had the order resting.
func (c *PositionController) cancelTakeProfit(ctx context.Context, gw connectors.Gateway, pos *model.Position) (string, bool, error) {
	if pos.TPOrderID == "" || pos.TPStatus != model.TPStatusPending {
		return pos.TPStatus, false, nil
	}
	at := c.now().UTC()
	err := gw.CancelOrder(ctx, connectors.CancelRequest{
		Symbol:    pos.Symbol,
		OrderID:   pos.TPOrderID,
		TradeType: pos.TradeType,
		Paper:     pos.Paper,
	})
	switch {
	case err == nil:
		c.logCancel(ctx, pos, nil, at)
		return model.TPStatusCancelled, false, nil
	case errors.Is(err, connectors.ErrOrderNotFound):
		// Not resting any more: treated as filled, confirmed later by evidence.
		c.logCancel(ctx, pos, err, at)
		return model.TPStatusFilled, true, nil
	default:
		c.logCancel(ctx, pos, err, at)
		return "", false, err
	}
}

// sellableQuantity is the exposure to exit: the recorded exposure, shrunk to
// what the venue reports when that is smaller.
func (c *PositionController) sellableQuantity(ctx context.Context, gw connectors.Gateway, pos *model.Position) (float64, error) {
	exposure := pnl.LegFromPosition(pos).Exposure()
	if pos.Paper {
		return exposure, nil
	}

	var held float64
	if pos.TradeType == model.TradeTypeFutures {
		positions, err := gw.GetOpenPositions(ctx)
		if err != nil {
			return 0, err
		}
		for _, p := range positions {
			if connectors.NormalizeSymbol(p.Symbol) == pos.Symbol && p.Direction == pos.Direction {
				held += p.Quantity
			}
		}
	} else {
		bal, err := gw.GetBalance(ctx, connectors.BaseAsset(pos.Symbol))
		if err != nil {
			return 0, err
		}
		held = bal.Total()
	}
	return math.Min(exposure, held), nil
}

// closeOnEvidence closes a claimed position at its take-profit price when the
// take-profit is gone and the venue holds nothing to sell. The price is only
// trusted with independent confirmation of the fill.
func (c *PositionController) closeOnEvidence(ctx context.Context, gw connectors.Gateway, pos *model.Position, price float64) (*CloseResult, error) {
	ok, why := c.confirmTakeProfit(ctx, gw, pos, price)
	if !ok {
		return c.markStuck(ctx, pos, "take-profit gone without fill confirmation: "+why), nil
	}
	return c.finalizeAtTakeProfit(ctx, pos, model.CloseReasonEvidence)
}

// confirmTakeProfit asks the venue for the order state when it can answer,
// otherwise requires the public price to have crossed the take-profit.
func (c *PositionController) confirmTakeProfit(ctx context.Context, gw connectors.Gateway, pos *model.Position, price float64) (bool, string) {
	if pos.TPPrice <= 0 {
		return false, "no take-profit price recorded"
	}
	if checker, ok := gw.(connectors.OrderStatusChecker); ok && !pos.Paper && pos.TPOrderID != "" {
		st, err := checker.GetOrder(ctx, pos.Symbol, pos.TPOrderID, pos.TradeType)
		if err == nil {
			if st.Status == connectors.OrderStatusFilled {
				return true, "venue reports the take-profit filled"
			}
			return false, "venue reports the take-profit " + st.Status
		}
		logger.WithField("position_id", pos.ID).WithError(err).Warn("Order status lookup failed, falling back to price evidence")
	}
	if crossed(pos, price) {
		return true, "price crossed the take-profit"
	}
	return false, fmt.Sprintf("price %.8g has not reached take-profit %.8g", price, pos.TPPrice)
}

func crossed(pos *model.Position, price float64) bool {
	if price <= 0 {
		return false
	}
	if pos.IsLong() {
		return price >= pos.TPPrice
	}
	return price <= pos.TPPrice
}

func (c *PositionController) finalizeAtTakeProfit(ctx context.Context, pos *model.Position, reason string) (*CloseResult, error) {
	leg := pnl.LegFromPosition(pos)
	realized := c.Fees.NetPnL(leg, pos.TPPrice)
	out := outcome(leg, realized, reason, model.TPStatusFilled)
	out.ClosedAt = c.now().UTC()
	if err := c.Positions.FinalizeClose(ctx, pos, out); err != nil {
		return nil, fmt.Errorf("finalize take-profit close of position %d: %w", pos.ID, err)
	}
	return c.closed(pos, out, "closed at take-profit price"), nil
}

func outcome(leg pnl.Leg, b pnl.Breakdown, reason, tpStatus string) repository.CloseOutcome {
	return repository.CloseOutcome{
		ExitPrice:   b.ExitPrice,
		Quantity:    leg.Quantity,
		GrossProfit: b.Gross,
		EntryFee:    b.EntryFee,
		ExitFee:     b.ExitFee,
		FundingFee:  b.FundingFee,
		NetProfit:   b.Net,
		Reason:      reason,
		TPStatus:    tpStatus,
	}
}

// release returns a claimed position to open.
func (c *PositionController) release(ctx context.Context, pos *model.Position, why string) {
	if _, err := c.Positions.TransitionStatus(ctx, pos.ID, model.PositionStatusClosing, model.PositionStatusOpen, why); err != nil {
		Capture(ctx, c.Exceptions, c.Config.ServiceName, "controller", "PositionController.release", "error", err,
			map[string]interface{}{"position_id": pos.ID, "reason": why})
	}
}

// restoreAfterCancel flags a position whose take-profit was cancelled but
// which stays open, so the fallback monitor takes over.
func (c *PositionController) restoreAfterCancel(ctx context.Context, pos *model.Position, tpGone bool) {
	if pos.TPOrderID == "" || pos.TPStatus != model.TPStatusPending || tpGone {
		return
	}
	if err := c.Positions.UpdateTPStatus(ctx, pos.ID, model.TPStatusError); err != nil {
		logger.WithField("position_id", pos.ID).WithError(err).Warn("Failed to flag cancelled take-profit")
	}
}

func (c *PositionController) blocked(ctx context.Context, pos *model.Position, price, net float64) *CloseResult {
	c.release(ctx, pos, "profit target not met")
	if err := c.Positions.UpdateMarket(ctx, pos.ID, price, net); err != nil {
		logger.WithField("position_id", pos.ID).WithError(err).Warn("Failed to store mark-to-market")
	}

	shortfall := pos.ProfitTarget - net
	msg := fmt.Sprintf("net %.2f is %.2f below target %.2f", net, shortfall, pos.ProfitTarget)
	logger.WithFields(logger.Fields{
		"position_id": pos.ID,
		"price":       price,
		"net":         net,
	}).Info("Close blocked: " + msg)

	c.Feed.Publish(feed.Event{
		Type:       feed.EventBlocked,
		PositionID: pos.ID,
		Venue:      pos.Venue,
		Symbol:     pos.Symbol,
		Status:     model.PositionStatusOpen,
		Price:      price,
		PnL:        net,
		Message:    msg,
	})
	return &CloseResult{
		Status:       CloseStatusBlocked,
		PositionID:   pos.ID,
		ExitPrice:    price,
		NetProfit:    net,
		ProfitTarget: pos.ProfitTarget,
		Shortfall:    shortfall,
		Message:      msg,
		Error: model.NewExecError(model.ErrProfitNotMet, pos.Venue, pos.Symbol, msg,
			"the position stays open until the take-profit or the fallback monitor closes it"),
	}
}

func (c *PositionController) markStuck(ctx context.Context, pos *model.Position, why string) *CloseResult {
	if _, err := c.Positions.TransitionStatus(ctx, pos.ID, model.PositionStatusClosing, model.PositionStatusStuck, why); err != nil {
		Capture(ctx, c.Exceptions, c.Config.ServiceName, "controller", "PositionController.markStuck", "error", err,
			map[string]interface{}{"position_id": pos.ID})
	}
	logger.WithField("position_id", pos.ID).Warn("Position stuck: " + why)
	c.Feed.Publish(feed.Event{
		Type:       feed.EventStuck,
		PositionID: pos.ID,
		Venue:      pos.Venue,
		Symbol:     pos.Symbol,
		Status:     model.PositionStatusStuck,
		Message:    why,
	})
	return &CloseResult{
		Status:       CloseStatusStuck,
		PositionID:   pos.ID,
		ProfitTarget: pos.ProfitTarget,
		Message:      why,
		Error: model.NewExecError(model.ErrReconcileMismatch, pos.Venue, pos.Symbol, why,
			"check the venue order history and resolve the position manually"),
	}
}

func (c *PositionController) alreadyClosed(pos *model.Position) *CloseResult {
	return &CloseResult{
		Status:        CloseStatusAlreadyClosed,
		AlreadyClosed: true,
		PositionID:    pos.ID,
		ProfitTarget:  pos.ProfitTarget,
		Message:       "position is already " + pos.Status,
		Error: model.NewExecError(model.ErrAlreadyClosed, pos.Venue, pos.Symbol,
			"position was already claimed or closed", ""),
	}
}

func (c *PositionController) failed(pos *model.Position, err error, suggestion string) *CloseResult {
	return &CloseResult{
		Status:       CloseStatusError,
		PositionID:   pos.ID,
		ProfitTarget: pos.ProfitTarget,
		Message:      err.Error(),
		Error:        model.NewExecError(model.ErrGateway, pos.Venue, pos.Symbol, err.Error(), suggestion),
	}
}

func (c *PositionController) closed(pos *model.Position, out repository.CloseOutcome, msg string) *CloseResult {
	c.Feed.Publish(feed.Event{
		Type:       feed.EventClosed,
		PositionID: pos.ID,
		Venue:      pos.Venue,
		Symbol:     pos.Symbol,
		Status:     model.PositionStatusClosed,
		TPStatus:   out.TPStatus,
		Price:      out.ExitPrice,
		PnL:        out.NetProfit,
		Message:    out.Reason,
	})
	return &CloseResult{
		Status:       CloseStatusSuccess,
		PositionID:   pos.ID,
		ExitPrice:    out.ExitPrice,
		Quantity:     out.Quantity,
		NetProfit:    out.NetProfit,
		ProfitTarget: pos.ProfitTarget,
		Message:      msg,
	}
}
