// Spot gateway for Binance built on goex.
package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	logger "github.com/sirupsen/logrus"
)

// binanceSpotAPI is the subset of goex.API the gateway calls.
type binanceSpotAPI interface {
	LimitBuy(amount, price string, currency goex.CurrencyPair, opt ...goex.LimitOrderOptionalParameter) (*goex.Order, error)
	LimitSell(amount, price string, currency goex.CurrencyPair, opt ...goex.LimitOrderOptionalParameter) (*goex.Order, error)
	MarketBuy(amount, price string, currency goex.CurrencyPair) (*goex.Order, error)
	MarketSell(amount, price string, currency goex.CurrencyPair) (*goex.Order, error)
	CancelOrder(orderId string, currency goex.CurrencyPair) (bool, error)
	GetOneOrder(orderId string, currency goex.CurrencyPair) (*goex.Order, error)
	GetAccount() (*goex.Account, error)
	GetTicker(currency goex.CurrencyPair) (*goex.Ticker, error)
}

var binanceRules = map[string]SymbolRules{
	"BTC_USDT": {StepSize: 0.00001, TickSize: 0.01, MinQty: 0.00001, MinNotional: 5},
	"ETH_USDT": {StepSize: 0.0001, TickSize: 0.01, MinQty: 0.0001, MinNotional: 5},
	"SOL_USDT": {StepSize: 0.001, TickSize: 0.01, MinQty: 0.001, MinNotional: 5},
	"XRP_USDT": {StepSize: 0.1, TickSize: 0.0001, MinQty: 0.1, MinNotional: 5},
}

type BinanceGateway struct {
	api   binanceSpotAPI
	paper *PaperTrader
}

func newBinanceAPI(apiKey, apiSecret, endpoint string) *binance.Binance {
	if endpoint == "" {
		endpoint = binance.GLOBAL_API_BASE_URL
	}
	return binance.NewWithConfig(&goex.APIConfig{
		HttpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		Endpoint:     endpoint,
		ApiKey:       apiKey,
		ApiSecretKey: apiSecret,
	})
}

func NewBinanceGateway(apiKey, apiSecret, endpoint string, paper *PaperTrader) *BinanceGateway {
	return &BinanceGateway{api: newBinanceAPI(apiKey, apiSecret, endpoint), paper: paper}
}

func (b *BinanceGateway) Name() string { return VenueBinance }

func binancePair(symbol string) (goex.CurrencyPair, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return goex.UNKNOWN_PAIR, err
	}
	return goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: quote}), nil
}

// binanceError maps the venue error codes goex surfaces in its error text.
func binanceError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "-2011"), strings.Contains(msg, "-2013"):
		return fmt.Errorf("%w: %s", ErrOrderNotFound, msg)
	case strings.Contains(msg, "-2010") && strings.Contains(strings.ToLower(msg), "insufficient"):
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, msg)
	}
	return err
}

func (b *BinanceGateway) SymbolRules(_ context.Context, symbol, _ string) (*SymbolRules, error) {
	pair, err := binancePair(symbol)
	if err != nil {
		return nil, err
	}
	key := pair.String()
	rules, ok := binanceRules[key]
	if !ok {
		rules = SymbolRules{StepSize: 0.0001, TickSize: 0.01, MinQty: 0.0001, MinNotional: 5}
	}
	rules.Symbol = key
	return &rules, nil
}

func (b *BinanceGateway) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return b.placeOrder(ctx, req, false)
}

func (b *BinanceGateway) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return b.placeOrder(ctx, req, true)
}

func (b *BinanceGateway) placeOrder(ctx context.Context, req OrderRequest, market bool) (*OrderResult, error) {
	pair, err := binancePair(req.Symbol)
	if err != nil {
		return nil, err
	}
	rules, err := b.SymbolRules(ctx, req.Symbol, req.TradeType)
	if err != nil {
		return nil, err
	}
	req.Quantity = rules.RoundQuantity(req.Quantity)
	if req.Quantity <= 0 {
		return nil, ErrBelowMinimum
	}
	if !market {
		req.Price = RoundToTick(req.Price, rules.TickSize)
	}

	if req.Paper {
		return b.paper.Fill(b.Name(), req, market), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	amount := formatDecimal(req.Quantity)
	price := formatDecimal(req.Price)

	var ord *goex.Order
	switch {
	case market && req.Side == SideBuy:
		ord, err = b.api.MarketBuy(amount, price, pair)
	case market:
		ord, err = b.api.MarketSell(amount, price, pair)
	case req.Side == SideBuy:
		ord, err = b.api.LimitBuy(amount, price, pair)
	default:
		ord, err = b.api.LimitSell(amount, price, pair)
	}
	if err != nil {
		logger.WithError(err).WithField("symbol", req.Symbol).Error("binance order failed")
		return nil, binanceError(err)
	}

	res := &OrderResult{
		OrderID:       ord.OrderID2,
		ClientOrderID: ord.Cid,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        binanceStatus(ord.Status),
	}
	if ord.AvgPrice > 0 {
		res.Price = ord.AvgPrice
	}
	if market && res.Status != OrderStatusFilled && ord.DealAmount >= req.Quantity {
		res.Status = OrderStatusFilled
	}
	return res, nil
}

func binanceStatus(s goex.TradeStatus) string {
	switch s {
	case goex.ORDER_FINISH:
		return OrderStatusFilled
	case goex.ORDER_CANCEL, goex.ORDER_REJECT, goex.ORDER_FAIL:
		return OrderStatusCancelled
	default:
		return OrderStatusNew
	}
}

func (b *BinanceGateway) CancelOrder(_ context.Context, req CancelRequest) error {
	if req.Paper {
		return nil
	}
	pair, err := binancePair(req.Symbol)
	if err != nil {
		return err
	}
	ok, err := b.api.CancelOrder(req.OrderID, pair)
	if err != nil {
		return binanceError(err)
	}
	if !ok {
		return fmt.Errorf("binance cancel of %s was not acknowledged", req.OrderID)
	}
	return nil
}

func (b *BinanceGateway) GetOrder(_ context.Context, symbol, orderID, _ string) (*OrderStatus, error) {
	pair, err := binancePair(symbol)
	if err != nil {
		return nil, err
	}
	ord, err := b.api.GetOneOrder(orderID, pair)
	if err != nil {
		return nil, binanceError(err)
	}
	return &OrderStatus{
		OrderID:   orderID,
		Status:    binanceStatus(ord.Status),
		FilledQty: ord.DealAmount,
		AvgPrice:  ord.AvgPrice,
	}, nil
}

func (b *BinanceGateway) GetBalance(_ context.Context, asset string) (*Balance, error) {
	acc, err := b.api.GetAccount()
	if err != nil {
		return nil, binanceError(err)
	}
	bal := &Balance{Asset: strings.ToUpper(asset)}
	for cur, sub := range acc.SubAccounts {
		if strings.EqualFold(cur.Symbol, asset) {
			bal.Free = sub.Amount
			bal.Locked = sub.ForzenAmount
			break
		}
	}
	return bal, nil
}

// GetOpenPositions is empty for a spot account; holdings are checked via GetBalance.
func (b *BinanceGateway) GetOpenPositions(_ context.Context) ([]ExchangePosition, error) {
	return nil, nil
}

func (b *BinanceGateway) LastPrice(_ context.Context, symbol, _ string) (float64, error) {
	pair, err := binancePair(symbol)
	if err != nil {
		return 0, err
	}
	t, err := b.api.GetTicker(pair)
	if err != nil {
		return 0, err
	}
	if t.Last <= 0 {
		return 0, fmt.Errorf("invalid binance price for %s", pair.String())
	}
	return t.Last, nil
}
