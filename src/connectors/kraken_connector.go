package connectors

// REST gateway for Kraken Futures (v3 /derivatives).

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// Kraken Futures uses /derivatives + /api/v3/...
const (
	defaultKrakenDerivativesBaseURL = "https://futures.kraken.com/derivatives"
	apiV3Prefix                     = "/api/v3"
)

var krakenRules = map[string]SymbolRules{
	"PF_XBTUSD": {StepSize: 0.0001, TickSize: 1, MinQty: 0.0001},
	"PF_ETHUSD": {StepSize: 0.001, TickSize: 0.1, MinQty: 0.001},
	"PF_SOLUSD": {StepSize: 0.01, TickSize: 0.01, MinQty: 0.01},
}

type KrakenGateway struct {
	apiKey    string
	apiSecret string // base64-encoded secret from Kraken
	http      *resty.Client
	paper     *PaperTrader
}

func NewKrakenGateway(apiKey, apiSecret, baseURL string, paper *PaperTrader) *KrakenGateway {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultKrakenDerivativesBaseURL
		logger.Warnf("No Kraken base URL provided, using default: %s", baseURL)
	}

	return &KrakenGateway{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      newRetryingClient(baseURL),
		paper:     paper,
	}
}

func (c *KrakenGateway) Name() string { return VenueKraken }

// Authent:
//  1. message = postData + Nonce + endpointPath (endpointPath has no /derivatives prefix)
//  2. sha256(message)
//  3. hmac-sha512(base64decode(apiSecret), digest)
//  4. base64-encode result
func nonceMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func computeAuthent(postData, nonce, endpointPath, apiSecretB64 string) (string, error) {
	sum := sha256.Sum256([]byte(postData + nonce + endpointPath))

	secret, err := base64.StdEncoding.DecodeString(apiSecretB64)
	if err != nil {
		return "", fmt.Errorf("base64 decode api secret failed: %w", err)
	}

	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write(sum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// We sign exactly what we send; spaces are encoded as %20, not '+'.
func queryEscapeRFC3986(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func encodeValuesRFC3986(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := append([]string(nil), v[k]...)
		sort.Strings(vals)
		ek := queryEscapeRFC3986(k)
		for _, val := range vals {
			parts = append(parts, ek+"="+queryEscapeRFC3986(val))
		}
	}
	return strings.Join(parts, "&")
}

type krakenBaseResp struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (c *KrakenGateway) doRequest(ctx context.Context, method, endpoint string, params url.Values, auth bool, out any) error {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	path := apiV3Prefix + endpoint
	postData := encodeValuesRFC3986(params)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")

	if auth {
		nonce := nonceMillis()
		authent, err := computeAuthent(postData, nonce, path, c.apiSecret)
		if err != nil {
			return err
		}
		req = req.
			SetHeader("APIKey", c.apiKey).
			SetHeader("Nonce", nonce).
			SetHeader("Authent", authent)
	}

	if postData != "" {
		req = req.SetQueryString(postData)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}

	raw := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("kraken HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	// Errors usually come back as HTTP 200 with {result:"error"}.
	var base krakenBaseResp
	if err := json.Unmarshal(raw, &base); err != nil {
		return fmt.Errorf("json unmarshal failed: %w. raw=%s", err, string(raw))
	}
	if strings.EqualFold(base.Result, "error") {
		if base.Error == "" {
			return errors.New("kraken futures returned result=error")
		}
		return fmt.Errorf("kraken futures error: %s", base.Error)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("json unmarshal into output failed: %w. raw=%s", err, string(raw))
		}
	}
	return nil
}

// krakenSymbol formats BTC/USDT as PF_XBTUSD.
func krakenSymbol(symbol string) (string, error) {
	base, _, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	if base == "BTC" {
		base = "XBT"
	}
	return "PF_" + base + "USD", nil
}

func krakenToCanonical(native string) string {
	s := strings.TrimPrefix(strings.ToUpper(native), "PF_")
	s = strings.TrimSuffix(s, "USD")
	if s == "XBT" {
		s = "BTC"
	}
	return s + "/USD"
}

func (c *KrakenGateway) SymbolRules(_ context.Context, symbol, _ string) (*SymbolRules, error) {
	native, err := krakenSymbol(symbol)
	if err != nil {
		return nil, err
	}
	rules, ok := krakenRules[native]
	if !ok {
		rules = SymbolRules{StepSize: 0.001, TickSize: 0.01, MinQty: 0.001}
	}
	rules.Symbol = native
	return &rules, nil
}

type krakenSendOrderResponse struct {
	SendStatus struct {
		Status      string `json:"status"`
		OrderID     string `json:"order_id"`
		OrderEvents []struct {
			Type   string  `json:"type"`
			Price  float64 `json:"price"`
			Amount float64 `json:"amount"`
		} `json:"orderEvents"`
	} `json:"sendStatus"`
}

func (c *KrakenGateway) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return c.sendOrder(ctx, req, "lmt")
}

func (c *KrakenGateway) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return c.sendOrder(ctx, req, "mkt")
}

func (c *KrakenGateway) sendOrder(ctx context.Context, req OrderRequest, orderType string) (*OrderResult, error) {
	rules, err := c.SymbolRules(ctx, req.Symbol, req.TradeType)
	if err != nil {
		return nil, err
	}
	req.Quantity = rules.RoundQuantity(req.Quantity)
	if req.Quantity <= 0 {
		return nil, ErrBelowMinimum
	}
	if orderType == "lmt" {
		req.Price = RoundToTick(req.Price, rules.TickSize)
	}

	if req.Paper {
		return c.paper.Fill(c.Name(), req, orderType == "mkt"), nil
	}

	v := url.Values{}
	v.Set("orderType", orderType)
	v.Set("symbol", rules.Symbol)
	v.Set("side", req.Side)
	v.Set("size", formatDecimal(req.Quantity))
	if orderType == "lmt" {
		v.Set("limitPrice", formatDecimal(req.Price))
	}
	if req.ReduceOnly {
		v.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		v.Set("cliOrdId", req.ClientOrderID)
	}

	var out krakenSendOrderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/sendorder", v, true, &out); err != nil {
		return nil, err
	}

	switch out.SendStatus.Status {
	case "placed":
	case "insufficientAvailableFunds":
		return nil, fmt.Errorf("%w: kraken sendorder status=%s", ErrInsufficientBalance, out.SendStatus.Status)
	default:
		return nil, fmt.Errorf("kraken sendorder rejected: status=%s", out.SendStatus.Status)
	}

	res := &OrderResult{
		OrderID:       out.SendStatus.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        OrderStatusNew,
	}
	for _, ev := range out.SendStatus.OrderEvents {
		if ev.Type == "EXECUTION" && ev.Price > 0 {
			res.Price = ev.Price
			res.Status = OrderStatusFilled
			break
		}
	}
	return res, nil
}

func (c *KrakenGateway) CancelOrder(ctx context.Context, req CancelRequest) error {
	if req.Paper {
		return nil
	}
	v := url.Values{}
	v.Set("order_id", req.OrderID)

	var out struct {
		CancelStatus struct {
			Status string `json:"status"`
		} `json:"cancelStatus"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/cancelorder", v, true, &out); err != nil {
		return err
	}
	switch out.CancelStatus.Status {
	case "cancelled":
		return nil
	case "notFound", "filled":
		return fmt.Errorf("%w: kraken cancel status=%s", ErrOrderNotFound, out.CancelStatus.Status)
	default:
		return fmt.Errorf("kraken cancel failed: status=%s", out.CancelStatus.Status)
	}
}

// GetBalance reads the multi-collateral flex account; only the USD family is tracked.
func (c *KrakenGateway) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	bal := &Balance{Asset: strings.ToUpper(asset)}
	if bal.Asset != "USD" && bal.Asset != "USDT" {
		return bal, nil
	}

	var out struct {
		Accounts struct {
			Flex struct {
				AvailableMargin float64 `json:"availableMargin"`
				InitialMargin   float64 `json:"initialMargin"`
			} `json:"flex"`
		} `json:"accounts"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/accounts", nil, true, &out); err != nil {
		return nil, err
	}
	bal.Free = out.Accounts.Flex.AvailableMargin
	bal.Locked = out.Accounts.Flex.InitialMargin
	return bal, nil
}

type krakenOpenPosition struct {
	Side   string  `json:"side"` // long or short
	Size   float64 `json:"size"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func (c *KrakenGateway) GetOpenPositions(ctx context.Context) ([]ExchangePosition, error) {
	var out struct {
		OpenPositions []krakenOpenPosition `json:"openPositions"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/openpositions", nil, true, &out); err != nil {
		return nil, err
	}

	positions := make([]ExchangePosition, 0, len(out.OpenPositions))
	for _, p := range out.OpenPositions {
		if p.Size == 0 {
			continue
		}
		positions = append(positions, ExchangePosition{
			Symbol:     krakenToCanonical(p.Symbol),
			Direction:  strings.ToLower(p.Side),
			Quantity:   p.Size,
			EntryPrice: p.Price,
		})
	}
	return positions, nil
}

func (c *KrakenGateway) LastPrice(ctx context.Context, symbol, _ string) (float64, error) {
	native, err := krakenSymbol(symbol)
	if err != nil {
		return 0, err
	}
	var out struct {
		Ticker struct {
			Last float64 `json:"last"`
		} `json:"ticker"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/tickers/"+url.PathEscape(native), nil, false, &out); err != nil {
		return 0, err
	}
	if out.Ticker.Last <= 0 {
		return 0, fmt.Errorf("invalid kraken price for %s", native)
	}
	return out.Ticker.Last, nil
}
