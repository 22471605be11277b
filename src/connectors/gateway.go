package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	VenueBinance = "binance"
	VenueKucoin  = "kucoin"
	VenuePhemex  = "phemex"
	VenueKraken  = "kraken"

	SideBuy  = "buy"
	SideSell = "sell"

	OrderStatusFilled    = "filled"
	OrderStatusNew       = "new"
	OrderStatusCancelled = "cancelled"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownVenue        = errors.New("unknown venue")
	ErrUnsupported         = errors.New("operation not supported by venue")
	ErrBelowMinimum        = errors.New("order size below venue minimum")
)

// OrderRequest is venue neutral. Symbol is BASE/QUOTE and Quantity is in base
// units of exposure; each gateway converts both to its native form.
type OrderRequest struct {
	Symbol        string
	Side          string
	TradeType     string
	Quantity      float64
	Price         float64 // limit price, or reference price for paper market fills
	Leverage      float64
	ReduceOnly    bool
	ClientOrderID string
	Paper         bool
}

type OrderResult struct {
	OrderID       string  `json:"orderId"`
	ClientOrderID string  `json:"clientOrderId,omitempty"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Quantity      float64 `json:"quantity"`
	Status        string  `json:"status"`
	Paper         bool    `json:"paper"`
}

type CancelRequest struct {
	Symbol    string
	OrderID   string
	TradeType string
	Paper     bool
}

type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total includes funds held by resting orders such as a take-profit.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// ExchangePosition is a venue reported margin position in base units.
type ExchangePosition struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entryPrice"`
}

// SymbolRules are the precision constraints of one market.
// ContractSize > 0 means the venue trades whole contracts of that many base units.
type SymbolRules struct {
	Symbol       string  `json:"symbol"`
	StepSize     float64 `json:"stepSize"`
	TickSize     float64 `json:"tickSize"`
	MinQty       float64 `json:"minQty"`
	MinNotional  float64 `json:"minNotional"`
	ContractSize float64 `json:"contractSize"`
}

// OrderStatus is a venue confirmation of an order's state.
type OrderStatus struct {
	OrderID   string  `json:"orderId"`
	Status    string  `json:"status"`
	FilledQty float64 `json:"filledQty"`
	AvgPrice  float64 `json:"avgPrice"`
}

// Gateway is the capability set every venue adapter implements.
type Gateway interface {
	Name() string
	PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	// CancelOrder returns ErrOrderNotFound when the order is no longer resting.
	CancelOrder(ctx context.Context, req CancelRequest) error
	GetBalance(ctx context.Context, asset string) (*Balance, error)
	GetOpenPositions(ctx context.Context) ([]ExchangePosition, error)
	SymbolRules(ctx context.Context, symbol, tradeType string) (*SymbolRules, error)
}

// OrderStatusChecker is implemented by venues that can confirm a fill.
type OrderStatusChecker interface {
	GetOrder(ctx context.Context, symbol, orderID, tradeType string) (*OrderStatus, error)
}

// PriceQuoter is implemented by venues exposing a public last price.
type PriceQuoter interface {
	LastPrice(ctx context.Context, symbol, tradeType string) (float64, error)
}

// SplitSymbol accepts BASE/QUOTE, BASE-QUOTE, BASE_QUOTE or BASEQUOTE.
func SplitSymbol(symbol string) (base, quote string, err error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.Split(s, sep); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}
	for _, q := range []string{"USDT", "USDC", "USD", "BTC", "EUR"} {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q, nil
		}
	}
	return "", "", fmt.Errorf("cannot split symbol %q", symbol)
}

// NormalizeSymbol returns the canonical BASE/QUOTE form.
func NormalizeSymbol(symbol string) string {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	return base + "/" + quote
}

// BaseAsset returns the base currency of a BASE/QUOTE symbol.
func BaseAsset(symbol string) string {
	base, _, err := SplitSymbol(symbol)
	if err != nil {
		return symbol
	}
	return base
}

func oppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SideFor returns the order side that opens (or, with closing=true, reduces)
// a position in direction.
func SideFor(direction string, closing bool) string {
	side := SideBuy
	if direction == "short" {
		side = SideSell
	}
	if closing {
		return oppositeSide(side)
	}
	return side
}
