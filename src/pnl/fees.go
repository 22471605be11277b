package pnl

import (
	"errors"
	"fmt"
	"math"

	"tradeexecutor/src/model"
)

// FeeSchedule holds taker fee rates per trade type and the funding rate
// charged once per futures position.
type FeeSchedule struct {
	SpotRate    float64
	FuturesRate float64
	FundingRate float64
}

// NewFeeSchedule reads the schedule from the environment.
func NewFeeSchedule() FeeSchedule {
	cfg := GetConfig()
	return FeeSchedule{
		SpotRate:    cfg.SpotFeeRate,
		FuturesRate: cfg.FuturesFeeRate,
		FundingRate: cfg.FundingFeeRate,
	}
}

func (f FeeSchedule) Rate(tradeType string) float64 {
	if tradeType == model.TradeTypeFutures {
		return f.FuturesRate
	}
	return f.SpotRate
}

func (f FeeSchedule) funding(tradeType string) float64 {
	if tradeType == model.TradeTypeFutures {
		return f.FundingRate
	}
	return 0
}

// Leg describes the filled entry side of a position.
type Leg struct {
	Direction  string
	TradeType  string
	EntryPrice float64
	Quantity   float64
	Leverage   float64
}

func LegFromPosition(p *model.Position) Leg {
	return Leg{
		Direction:  p.Direction,
		TradeType:  p.TradeType,
		EntryPrice: p.EntryPrice,
		Quantity:   p.Quantity,
		Leverage:   p.EffectiveLeverage(),
	}
}

// Exposure is quantity × leverage; spot is always 1x.
func (l Leg) Exposure() float64 {
	lev := l.Leverage
	if l.TradeType != model.TradeTypeFutures || lev <= 0 {
		lev = 1
	}
	return l.Quantity * lev
}

func (l Leg) sign() float64 {
	if l.Direction == model.DirectionShort {
		return -1
	}
	return 1
}

// EntryFee is charged on the entry notional of the exposure.
func (f FeeSchedule) EntryFee(l Leg) float64 {
	return l.EntryPrice * l.Exposure() * f.Rate(l.TradeType)
}

func (f FeeSchedule) ExitFee(l Leg, exitPrice float64) float64 {
	return exitPrice * l.Exposure() * f.Rate(l.TradeType)
}

func (f FeeSchedule) FundingFee(l Leg) float64 {
	return l.EntryPrice * l.Exposure() * f.funding(l.TradeType)
}

// Breakdown is the realized or mark-to-market result of a leg at an exit price.
type Breakdown struct {
	ExitPrice  float64 `json:"exitPrice"`
	Gross      float64 `json:"gross"`
	EntryFee   float64 `json:"entryFee"`
	ExitFee    float64 `json:"exitFee"`
	FundingFee float64 `json:"fundingFee"`
	Net        float64 `json:"net"`
}

// Fees is the total of all fees in the breakdown.
func (b Breakdown) Fees() float64 {
	return b.EntryFee + b.ExitFee + b.FundingFee
}

// NetPnL computes gross and fee-inclusive net profit if the leg exits at exitPrice.
func (f FeeSchedule) NetPnL(l Leg, exitPrice float64) Breakdown {
	b := Breakdown{
		ExitPrice:  exitPrice,
		Gross:      l.sign() * (exitPrice - l.EntryPrice) * l.Exposure(),
		EntryFee:   f.EntryFee(l),
		ExitFee:    f.ExitFee(l, exitPrice),
		FundingFee: f.FundingFee(l),
	}
	b.Net = b.Gross - b.Fees()
	return b
}

// TakeProfitQuote explains how a take-profit price was derived.
type TakeProfitQuote struct {
	Price               float64 `json:"price"`
	PriceDelta          float64 `json:"priceDelta"`
	RequiredGrossProfit float64 `json:"requiredGrossProfit"`
	EntryFee            float64 `json:"entryFee"`
	ExitFee             float64 `json:"exitFee"`
	FundingFee          float64 `json:"fundingFee"`
}

var ErrUnreachableTarget = errors.New("profit target cannot be reached")

// TakeProfit returns the exit price at which the leg nets exactly profitTarget.
//
//	requiredGrossProfit = profitTarget + entryFee + exitFee + fundingFee
//	priceDelta          = requiredGrossProfit / (quantity × leverage)
//	tp                  = entry ± priceDelta
//
// exitFee depends on tp itself, so the equation is solved in closed form
// instead of estimating the exit fee at the entry price.
func (f FeeSchedule) TakeProfit(l Leg, profitTarget float64) (*TakeProfitQuote, error) {
	q := l.Exposure()
	if q <= 0 || l.EntryPrice <= 0 {
		return nil, fmt.Errorf("invalid leg: entry=%f exposure=%f", l.EntryPrice, q)
	}
	r := f.Rate(l.TradeType)
	entryFee := f.EntryFee(l)
	funding := f.FundingFee(l)

	var price float64
	if l.sign() > 0 {
		price = (profitTarget + funding + l.EntryPrice*q*(1+r)) / (q * (1 - r))
	} else {
		price = (l.EntryPrice*q*(1-r) - profitTarget - funding) / (q * (1 + r))
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("%w: target=%f entry=%f", ErrUnreachableTarget, profitTarget, l.EntryPrice)
	}

	exitFee := f.ExitFee(l, price)
	required := profitTarget + entryFee + exitFee + funding

	return &TakeProfitQuote{
		Price:               price,
		PriceDelta:          required / q,
		RequiredGrossProfit: required,
		EntryFee:            entryFee,
		ExitFee:             exitFee,
		FundingFee:          funding,
	}, nil
}
