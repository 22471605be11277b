package controller

import (
	"context"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/model"
	"tradeexecutor/src/repository"
)

// PositionStore is the subset of the position repository the controller uses.
type PositionStore interface {
	CreateOpened(ctx context.Context, trade *model.Trade, pos *model.Position) error
	FindByID(ctx context.Context, id uint) (*model.Position, error)
	FindOpenBySymbol(ctx context.Context, venue, symbol string) (*model.Position, error)
	FindByTPStatus(ctx context.Context, status string) ([]model.Position, error)
	TransitionStatus(ctx context.Context, id uint, from, to, reason string) (bool, error)
	UpdateMarket(ctx context.Context, id uint, price, pnl float64) error
	UpdateTakeProfit(ctx context.Context, id uint, orderID string, price float64, status string) error
	UpdateTPStatus(ctx context.Context, id uint, status string) error
	FinalizeClose(ctx context.Context, pos *model.Position, out repository.CloseOutcome) error
}

type OrderLogStore interface {
	Create(ctx context.Context, entry *model.OrderExecutionLog) error
}

type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// GatewayResolver maps a venue tag to its adapter.
type GatewayResolver interface {
	Get(venue string) (connectors.Gateway, error)
}

// PriceSource returns a public last traded price.
type PriceSource interface {
	LastPrice(ctx context.Context, venue, symbol, tradeType string) (float64, error)
}
