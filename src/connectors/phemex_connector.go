// REST gateway for Phemex USDT-M perpetual futures (hedge mode).
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const defaultPhemexBaseURL = "https://api.phemex.com"

// APIResponse is the envelope of every authenticated Phemex call.
type APIResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type phemexPosition struct {
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	PosSide         string `json:"posSide"`
	SizeRq          string `json:"sizeRq"`
	AvgEntryPriceRp string `json:"avgEntryPriceRp"`
}

// GAccountPositions is the payload of /g-accounts/positions.
type GAccountPositions struct {
	Account struct {
		Currency           string `json:"currency"`
		AccountBalanceRv   string `json:"accountBalanceRv"`
		TotalUsedBalanceRv string `json:"totalUsedBalanceRv"`
	} `json:"account"`
	Positions []phemexPosition `json:"positions"`
}

type phemexOrder struct {
	OrderID    string `json:"orderID"`
	ClOrdID    string `json:"clOrdID"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	PriceRp    string `json:"priceRp"`
	OrderQtyRq string `json:"orderQtyRq"`
	CumQtyRq   string `json:"cumQtyRq"`
	OrdStatus  string `json:"ordStatus"`
}

// phemexRules are the lot and tick sizes of the main USDT perpetuals.
var phemexRules = map[string]SymbolRules{
	"BTCUSDT": {StepSize: 0.001, TickSize: 0.1, MinQty: 0.001},
	"ETHUSDT": {StepSize: 0.01, TickSize: 0.01, MinQty: 0.01},
	"SOLUSDT": {StepSize: 0.1, TickSize: 0.001, MinQty: 0.1},
	"XRPUSDT": {StepSize: 1, TickSize: 0.0001, MinQty: 1},
}

type PhemexGateway struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
	paper     *PaperTrader
}

func NewPhemexGateway(apiKey, apiSecret, baseURL string, paper *PaperTrader) *PhemexGateway {
	if baseURL == "" {
		baseURL = defaultPhemexBaseURL
		logger.Warnf("No Phemex base URL provided, using default: %s", baseURL)
	}

	return &PhemexGateway{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      newRetryingClient(baseURL),
		paper:     paper,
	}
}

func (c *PhemexGateway) Name() string { return VenuePhemex }

func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *PhemexGateway) doRequest(ctx context.Context, method, path, query string, body []byte) (*APIResponse, error) {
	expiry := time.Now().Add(1 * time.Minute).Unix()

	sig := signRequest(path, query, string(body), expiry, c.apiSecret)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("x-phemex-access-token", c.apiKey).
		SetHeader("x-phemex-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-phemex-request-signature", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("phemex HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Code != 0 {
		return nil, phemexError(apiResp.Code, apiResp.Msg)
	}

	return &apiResp, nil
}

// phemexSymbol formats BASE/QUOTE as BASEQUOTE.
func phemexSymbol(symbol string) (string, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

// posSide maps an order to its hedge mode side: opening buys and reducing
// sells both act on the Long side.
func posSide(side string, reduceOnly bool) string {
	if (side == SideBuy) != reduceOnly {
		return "Long"
	}
	return "Short"
}

func (c *PhemexGateway) SymbolRules(_ context.Context, symbol, _ string) (*SymbolRules, error) {
	native, err := phemexSymbol(symbol)
	if err != nil {
		return nil, err
	}
	rules, ok := phemexRules[native]
	if !ok {
		rules = SymbolRules{StepSize: 0.001, TickSize: 0.0001, MinQty: 0.001}
	}
	rules.Symbol = native
	return &rules, nil
}

func (c *PhemexGateway) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return c.placeOrder(ctx, req, "Limit")
}

func (c *PhemexGateway) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return c.placeOrder(ctx, req, "Market")
}

func (c *PhemexGateway) placeOrder(ctx context.Context, req OrderRequest, ordType string) (*OrderResult, error) {
	rules, err := c.SymbolRules(ctx, req.Symbol, req.TradeType)
	if err != nil {
		return nil, err
	}
	req.Quantity = rules.RoundQuantity(req.Quantity)
	if req.Quantity <= 0 {
		return nil, ErrBelowMinimum
	}
	if ordType == "Limit" {
		req.Price = RoundToTick(req.Price, rules.TickSize)
	}

	if req.Paper {
		return c.paper.Fill(c.Name(), req, ordType == "Market"), nil
	}

	body := map[string]interface{}{
		"symbol":     rules.Symbol,
		"side":       phemexSide(req.Side),
		"posSide":    posSide(req.Side, req.ReduceOnly),
		"ordType":    ordType,
		"orderQtyRq": formatDecimal(req.Quantity),
		"reduceOnly": req.ReduceOnly,
		"clOrdID":    req.ClientOrderID,
	}
	if ordType == "Limit" {
		body["priceRp"] = formatDecimal(req.Price)
		body["timeInForce"] = "GoodTillCancel"
	} else {
		body["timeInForce"] = "ImmediateOrCancel"
	}

	b, _ := json.Marshal(body)
	resp, err := c.doRequest(ctx, http.MethodPost, "/g-orders", "", b)
	if err != nil {
		logger.WithFields(logger.Fields{
			"venue":   c.Name(),
			"symbol":  rules.Symbol,
			"side":    req.Side,
			"ordType": ordType,
		}).WithError(err).Error("phemex place order failed")
		return nil, err
	}

	var o phemexOrder
	if err := json.Unmarshal(resp.Data, &o); err != nil {
		return nil, fmt.Errorf("decode phemex order: %w", err)
	}

	res := &OrderResult{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClOrdID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         toFloat(o.PriceRp),
		Quantity:      req.Quantity,
		Status:        phemexStatus(o.OrdStatus),
	}
	if res.Price == 0 {
		res.Price = req.Price
	}
	return res, nil
}

func phemexSide(side string) string {
	if side == SideSell {
		return "Sell"
	}
	return "Buy"
}

func phemexStatus(s string) string {
	switch s {
	case "Filled":
		return OrderStatusFilled
	case "Canceled", "Rejected", "Deactivated":
		return OrderStatusCancelled
	default:
		return OrderStatusNew
	}
}

func (c *PhemexGateway) CancelOrder(ctx context.Context, req CancelRequest) error {
	if req.Paper {
		return nil
	}
	native, err := phemexSymbol(req.Symbol)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("orderID", req.OrderID)
	q.Set("symbol", native)
	_, err = c.doRequest(ctx, http.MethodDelete, "/g-orders/cancel", q.Encode(), nil)
	return err
}

func (c *PhemexGateway) positions(ctx context.Context) (*GAccountPositions, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/g-accounts/positions", "currency=USDT", nil)
	if err != nil {
		return nil, err
	}
	var parsed GAccountPositions
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, fmt.Errorf("decode phemex positions: %w", err)
	}
	return &parsed, nil
}

// GetBalance only knows the USDT settlement balance; other assets are zero.
func (c *PhemexGateway) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	bal := &Balance{Asset: strings.ToUpper(asset)}
	if bal.Asset != "USDT" {
		return bal, nil
	}
	p, err := c.positions(ctx)
	if err != nil {
		return nil, err
	}
	total := toFloat(p.Account.AccountBalanceRv)
	used := toFloat(p.Account.TotalUsedBalanceRv)
	bal.Free = total - used
	bal.Locked = used
	return bal, nil
}

func (c *PhemexGateway) GetOpenPositions(ctx context.Context) ([]ExchangePosition, error) {
	p, err := c.positions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ExchangePosition, 0, len(p.Positions))
	for _, pos := range p.Positions {
		size := toFloat(pos.SizeRq)
		if size == 0 {
			continue
		}
		direction := "long"
		if pos.PosSide == "Short" || (pos.PosSide != "Long" && pos.Side == "Sell") {
			direction = "short"
		}
		out = append(out, ExchangePosition{
			Symbol:     NormalizeSymbol(pos.Symbol),
			Direction:  direction,
			Quantity:   size,
			EntryPrice: toFloat(pos.AvgEntryPriceRp),
		})
	}
	return out, nil
}

func (c *PhemexGateway) LastPrice(ctx context.Context, symbol, _ string) (float64, error) {
	native, err := phemexSymbol(symbol)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", native).
		Get("/md/v3/ticker/24hr")
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("phemex HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var md struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Result struct {
			LastRp string `json:"lastRp"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &md); err != nil {
		return 0, err
	}
	if md.Error != nil {
		return 0, errors.New(md.Error.Message)
	}

	price, err := strconv.ParseFloat(md.Result.LastRp, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("invalid phemex price for %s", native)
	}
	return price, nil
}
