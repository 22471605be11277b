package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/feed"
	"tradeexecutor/src/model"
	"tradeexecutor/src/pnl"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/risk"
)

// Deps wires the controller to its stores, venues and price feed. Nil stores
// fall back to the repositories over database.MainDB.
type Deps struct {
	Positions  PositionStore
	OrderLogs  OrderLogStore
	Exceptions ExceptionStore
	Gateways   GatewayResolver
	Prices     PriceSource
	Fees       pnl.FeeSchedule
	Feed       feed.Publisher
	Config     *Config
}

// PositionController opens and closes positions. Every close goes through
// the open -> closing claim so concurrent callers never double-close.
type PositionController struct {
	Deps
	now      func() time.Time
	clientID func() string
}

func NewPositionController(d Deps) *PositionController {
	if d.Positions == nil {
		d.Positions = repository.NewPositionRepository()
	}
	if d.OrderLogs == nil {
		d.OrderLogs = repository.NewOrderExecutionLogRepository()
	}
	if d.Exceptions == nil {
		d.Exceptions = repository.NewExceptionRepository()
	}
	if d.Feed == nil {
		d.Feed = feed.Nop{}
	}
	if d.Config == nil {
		d.Config = GetConfig()
	}
	return &PositionController{
		Deps:     d,
		now:      time.Now,
		clientID: uuid.NewString,
	}
}

// WithClock overrides the time source.
func (c *PositionController) WithClock(now func() time.Time) *PositionController {
	cp := *c
	cp.now = now
	return &cp
}

// OpenResult is the outcome of a successful entry.
type OpenResult struct {
	Trade      *model.Trade         `json:"trade"`
	Position   *model.Position      `json:"position"`
	TakeProfit *pnl.TakeProfitQuote `json:"takeProfit,omitempty"`
	TPError    string               `json:"tpError,omitempty"`
}

// Open places the entry order and its take-profit, then records the trade and
// position in one write. A failed take-profit leaves the position with
// tp_status=error for the fallback monitor; a failed entry writes nothing.
func (c *PositionController) Open(ctx context.Context, sig externalmodel.Signal, sizing *risk.Sizing) (*OpenResult, *model.ExecError) {
	log := logger.WithFields(logger.Fields{
		"op":        "Open",
		"venue":     sizing.Venue,
		"symbol":    sizing.Symbol,
		"direction": sizing.Direction,
		"paper":     sizing.Paper,
	})

	// Checked again by the store on insert; this keeps a duplicate from
	// reaching the venue at all.
	existing, err := c.Positions.FindOpenBySymbol(ctx, sizing.Venue, sizing.Symbol)
	if err != nil {
		return nil, model.NewExecError(model.ErrInternal, sizing.Venue, sizing.Symbol, "load active position: "+err.Error(), "")
	}
	if existing != nil {
		log.WithField("position_id", existing.ID).Info("Symbol already held, entry skipped")
		return nil, model.NewExecError(model.ErrDuplicatePosition, sizing.Venue, sizing.Symbol,
			fmt.Sprintf("position %d is already active for this symbol", existing.ID), "wait for the position to close")
	}

	gw, err := c.Gateways.Get(sizing.Venue)
	if err != nil {
		return nil, model.NewExecError(model.ErrGateway, sizing.Venue, sizing.Symbol, err.Error(), "connect the venue before trading it")
	}

	rules, err := gw.SymbolRules(ctx, sizing.Symbol, sizing.TradeType)
	if err != nil {
		log.WithError(err).Warn("Symbol rules unavailable, using unrounded quantities")
		rules = nil
	}
	var tick float64
	if rules != nil {
		tick = rules.TickSize
	}

	exposure := rules.RoundQuantity(sizing.Exposure())
	if exposure <= 0 {
		return nil, model.NewExecError(model.ErrMinSizeViolation, sizing.Venue, sizing.Symbol,
			"order resolves to zero tradable units after rounding", "raise the order size")
	}
	leverage := sizing.Leverage
	if leverage <= 0 || sizing.TradeType != model.TradeTypeFutures {
		leverage = 1
	}

	// ------------------------------------------------------------------
	// 1) Entry order
	// ------------------------------------------------------------------
	entryReq := connectors.OrderRequest{
		Symbol:        sizing.Symbol,
		Side:          connectors.SideFor(sizing.Direction, false),
		TradeType:     sizing.TradeType,
		Quantity:      exposure,
		Price:         connectors.RoundToTick(sizing.EntryPrice, tick),
		Leverage:      leverage,
		ClientOrderID: c.clientID(),
		Paper:         sizing.Paper,
	}
	entryAt := c.now().UTC()
	entry, err := gw.PlaceLimitOrder(ctx, entryReq)
	if err != nil {
		log.WithError(err).Error("Entry order failed, nothing recorded")
		suggestion := "check the venue status and retry on the next cycle"
		if errors.Is(err, connectors.ErrInsufficientBalance) {
			suggestion = "deposit funds or lower the order size"
		}
		return nil, model.NewExecError(model.ErrGateway, sizing.Venue, sizing.Symbol, "entry order failed: "+err.Error(), suggestion)
	}

	fillPrice := entry.Price
	if fillPrice <= 0 {
		fillPrice = entryReq.Price
	}
	filled := entry.Quantity
	if filled <= 0 {
		filled = exposure
	}
	leg := pnl.Leg{
		Direction:  sizing.Direction,
		TradeType:  sizing.TradeType,
		EntryPrice: fillPrice,
		Quantity:   filled / leverage,
		Leverage:   leverage,
	}

	// ------------------------------------------------------------------
	// 2) Take-profit order at the fee-inclusive target price
	// ------------------------------------------------------------------
	tpStatus := model.TPStatusPending
	var (
		tpReq   connectors.OrderRequest
		tpRes   *connectors.OrderResult
		tpErr   error
		tpPrice float64
		tpAt    time.Time
	)
	quote, tpErr := c.Fees.TakeProfit(leg, sizing.ProfitTarget)
	if tpErr == nil {
		tpPrice = connectors.RoundAwayFromEntry(quote.Price, tick, sizing.Direction != model.DirectionShort)
		tpReq = connectors.OrderRequest{
			Symbol:        sizing.Symbol,
			Side:          connectors.SideFor(sizing.Direction, true),
			TradeType:     sizing.TradeType,
			Quantity:      filled,
			Price:         tpPrice,
			Leverage:      leverage,
			ReduceOnly:    true,
			ClientOrderID: c.clientID(),
			Paper:         sizing.Paper,
		}
		tpAt = c.now().UTC()
		tpRes, tpErr = gw.PlaceLimitOrder(ctx, tpReq)
	}
	if tpErr != nil {
		tpStatus = model.TPStatusError
		log.WithError(tpErr).Warn("Take-profit placement failed, position will be monitored by fallback")
	}

	// ------------------------------------------------------------------
	// 3) Trade + Position in one write
	// ------------------------------------------------------------------
	openedAt := c.now().UTC()
	trade := &model.Trade{
		Venue:            sizing.Venue,
		Symbol:           sizing.Symbol,
		Direction:        sizing.Direction,
		TradeType:        sizing.TradeType,
		EntryPrice:       fillPrice,
		Quantity:         leg.Quantity,
		Notional:         leg.Quantity * fillPrice,
		Leverage:         leverage,
		EntryFee:         c.Fees.EntryFee(leg),
		Paper:            sizing.Paper,
		SignalScore:      sig.Score,
		SignalConfidence: sig.Confidence,
		Reasoning:        sig.Reasoning,
		OpenedAt:         openedAt,
	}
	pos := &model.Position{
		Venue:               sizing.Venue,
		Symbol:              sizing.Symbol,
		Direction:           sizing.Direction,
		TradeType:           sizing.TradeType,
		EntryPrice:          fillPrice,
		Quantity:            leg.Quantity,
		Notional:            leg.Quantity * fillPrice,
		Leverage:            leverage,
		ProfitTarget:        sizing.ProfitTarget,
		EntryFee:            c.Fees.EntryFee(leg),
		EstimatedFundingFee: c.Fees.FundingFee(leg),
		CurrentPrice:        fillPrice,
		EntryOrderID:        entry.OrderID,
		TPStatus:            tpStatus,
		Paper:               sizing.Paper,
		Status:              model.PositionStatusOpen,
		OpenedAt:            openedAt,
	}
	if tpRes != nil {
		pos.TPOrderID = tpRes.OrderID
		pos.TPPrice = tpPrice
	}

	if err := c.Positions.CreateOpened(ctx, trade, pos); err != nil {
		Capture(ctx, c.Exceptions, c.Config.ServiceName, "controller", "PositionController.Open", "error", err,
			map[string]interface{}{
				"venue":          sizing.Venue,
				"symbol":         sizing.Symbol,
				"entry_order_id": entry.OrderID,
				"tp_order_id":    pos.TPOrderID,
			})
		errType := model.ErrInternal
		if errors.Is(err, repository.ErrDuplicateOpenPosition) {
			errType = model.ErrDuplicatePosition
		}
		return nil, model.NewExecError(errType, sizing.Venue, sizing.Symbol,
			fmt.Sprintf("orders placed but position not recorded: %v", err),
			"reconcile the venue and record the position manually")
	}

	// ------------------------------------------------------------------
	// 4) Audit trail, written once the outcome is known
	// ------------------------------------------------------------------
	c.logOrder(ctx, pos, model.OrderPurposeEntry, "limit", entryReq, entry, nil, entryAt)
	if tpReq.Symbol != "" {
		c.logOrder(ctx, pos, model.OrderPurposeTakeProfit, "limit", tpReq, tpRes, tpErr, tpAt)
	}

	log.WithFields(logger.Fields{
		"position_id": pos.ID,
		"entry_price": fillPrice,
		"quantity":    pos.Quantity,
		"tp_price":    pos.TPPrice,
		"tp_status":   pos.TPStatus,
	}).Info("Position opened")

	c.Feed.Publish(feed.Event{
		Type:       feed.EventOpened,
		PositionID: pos.ID,
		Venue:      pos.Venue,
		Symbol:     pos.Symbol,
		Status:     pos.Status,
		TPStatus:   pos.TPStatus,
		Price:      fillPrice,
	})

	res := &OpenResult{Trade: trade, Position: pos}
	if quote != nil {
		res.TakeProfit = quote
	}
	if tpErr != nil {
		res.TPError = tpErr.Error()
	}
	return res, nil
}

// logOrder writes one audit row; failures are logged and swallowed.
func (c *PositionController) logOrder(
	ctx context.Context,
	pos *model.Position,
	purpose string,
	orderType string,
	req connectors.OrderRequest,
	res *connectors.OrderResult,
	callErr error,
	requestedAt time.Time,
) {
	entry := &model.OrderExecutionLog{
		PositionID:       pos.ID,
		Venue:            pos.Venue,
		Symbol:           pos.Symbol,
		Side:             req.Side,
		OrderType:        orderType,
		Purpose:          purpose,
		Quantity:         req.Quantity,
		Paper:            pos.Paper,
		ExchangeClientID: req.ClientOrderID,
		RequestedAt:      requestedAt,
	}
	if req.Price > 0 {
		entry.Price = floatPtr(req.Price)
	}
	switch {
	case callErr != nil:
		entry.Status = model.OrderExecutionStatusError
		entry.ErrorMessage = strPtr(callErr.Error())
	case res != nil:
		entry.ExchangeOrderID = res.OrderID
		entry.Status = model.OrderExecutionStatusAccepted
		if res.Status == connectors.OrderStatusFilled {
			entry.Status = model.OrderExecutionStatusFilled
		}
		if res.Price > 0 {
			entry.Price = floatPtr(res.Price)
		}
	default:
		entry.Status = model.OrderExecutionStatusAccepted
	}

	if err := c.OrderLogs.Create(ctx, entry); err != nil {
		logger.WithFields(logger.Fields{
			"position_id": pos.ID,
			"purpose":     purpose,
		}).WithError(err).Warn("Failed to write order audit row")
	}
}

// logCancel audits a take-profit cancel.
func (c *PositionController) logCancel(ctx context.Context, pos *model.Position, callErr error, at time.Time) {
	entry := &model.OrderExecutionLog{
		PositionID:      pos.ID,
		Venue:           pos.Venue,
		Symbol:          pos.Symbol,
		Side:            connectors.SideFor(pos.Direction, true),
		OrderType:       "cancel",
		Purpose:         model.OrderPurposeCancelTP,
		Quantity:        pnl.LegFromPosition(pos).Exposure(),
		Paper:           pos.Paper,
		ExchangeOrderID: pos.TPOrderID,
		Status:          model.OrderExecutionStatusCanceled,
		RequestedAt:     at,
	}
	if callErr != nil {
		entry.Status = model.OrderExecutionStatusError
		entry.ErrorMessage = strPtr(callErr.Error())
	}
	if err := c.OrderLogs.Create(ctx, entry); err != nil {
		logger.WithField("position_id", pos.ID).WithError(err).Warn("Failed to write cancel audit row")
	}
}
