package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const (
	kucoinSpotBaseURL    = "https://api.kucoin.com"
	kucoinFuturesBaseURL = "https://api-futures.kucoin.com"
	kucoinSuccessCode    = "200000"
)

// kucoinAPIResponse is the generic KuCoin envelope.
type kucoinAPIResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data"`
}

// KucoinFuturesContract holds the fields of /api/v1/contracts/{symbol} we size orders with.
type KucoinFuturesContract struct {
	Symbol     string  `json:"symbol"`
	Multiplier float64 `json:"multiplier"`
	LotSize    float64 `json:"lotSize"`
	TickSize   float64 `json:"tickSize"`
}

type kucoinSpotAccount struct {
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Holds     string `json:"holds"`
}

type kucoinFuturesAccountOverview struct {
	AvailableBalance float64 `json:"availableBalance"`
	PositionMargin   float64 `json:"positionMargin"`
	OrderMargin      float64 `json:"orderMargin"`
	Currency         string  `json:"currency"`
}

type kucoinFuturesPosition struct {
	Symbol        string  `json:"symbol"`
	CurrentQty    float64 `json:"currentQty"`
	AvgEntryPrice float64 `json:"avgEntryPrice"`
	IsOpen        bool    `json:"isOpen"`
}

type kucoinOrderDetail struct {
	ID          string `json:"id"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	DealSize    string `json:"dealSize"`
	DealFunds   string `json:"dealFunds"`
	IsActive    bool   `json:"isActive"`
	CancelExist bool   `json:"cancelExist"`
}

var kucoinSpotRules = map[string]SymbolRules{
	"BTC-USDT": {StepSize: 0.00000001, TickSize: 0.1, MinQty: 0.00001, MinNotional: 0.1},
	"ETH-USDT": {StepSize: 0.0000001, TickSize: 0.01, MinQty: 0.0001, MinNotional: 0.1},
	"SOL-USDT": {StepSize: 0.0001, TickSize: 0.001, MinQty: 0.01, MinNotional: 0.1},
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

// KC-API-PASSPHRASE = base64( HMAC_SHA256(apiSecret, apiPassphrase) )
func kucoinSignPassphrase(secret, passphrase string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(passphrase))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// KC-API-SIGN = base64( HMAC_SHA256(apiSecret, timestamp + method + requestPath + body) )
// requestPath = path + queryString (ex: "/api/v1/accounts?type=trade")
func kucoinSignRequest(secret, timestamp, method, requestPath, body string) string {
	prehash := timestamp + method + requestPath + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// kucoinRESTClient signs calls against one KuCoin API host (spot or futures).
type kucoinRESTClient struct {
	apiKey        string
	apiSecret     string
	apiPassphrase string
	keyVersion    string
	http          *resty.Client
}

func newKucoinRESTClient(apiKey, apiSecret, apiPassphrase, keyVersion, baseURL string) *kucoinRESTClient {
	return &kucoinRESTClient{
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		apiPassphrase: apiPassphrase,
		keyVersion:    keyVersion,
		http:          newRetryingClient(baseURL),
	}
}

// doRequest performs a signed HTTP call to KuCoin and returns the parsed envelope.
func (c *kucoinRESTClient) doRequest(ctx context.Context, method, endpoint, query, body string) (*kucoinAPIResponse, error) {
	requestPath := endpoint
	if query != "" {
		requestPath = endpoint + "?" + query
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("KC-API-KEY", c.apiKey).
		SetHeader("KC-API-SIGN", kucoinSignRequest(c.apiSecret, timestamp, method, requestPath, body)).
		SetHeader("KC-API-TIMESTAMP", timestamp).
		SetHeader("KC-API-PASSPHRASE", kucoinSignPassphrase(c.apiSecret, c.apiPassphrase))
	if c.keyVersion != "" {
		req = req.SetHeader("KC-API-KEY-VERSION", c.keyVersion)
	}
	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != "" {
		req = req.SetBody(body)
	}

	logger.WithFields(logger.Fields{
		"method": method,
		"path":   requestPath,
		"body":   body,
	}).Debug("KuCoin HTTP request")

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, fmt.Errorf("kucoin http: %w", err)
	}

	raw := resp.Body()
	var apiResp kucoinAPIResponse
	if jsonErr := json.Unmarshal(raw, &apiResp); jsonErr != nil {
		if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
			return nil, fmt.Errorf("kucoin http status %d: %s", resp.StatusCode(), string(raw))
		}
		return nil, fmt.Errorf("unmarshal kucoin response: %w", jsonErr)
	}

	if apiResp.Code != kucoinSuccessCode {
		logger.WithFields(logger.Fields{
			"code": apiResp.Code,
			"msg":  apiResp.Msg,
			"path": requestPath,
		}).Error("KuCoin API returned error code")
		return nil, kucoinError(apiResp.Code, apiResp.Msg)
	}

	return &apiResp, nil
}

func kucoinError(code, msg string) error {
	err := fmt.Errorf("kucoin error code=%s msg=%s", code, msg)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not exist"), strings.Contains(lower, "not found"), code == "400100" && strings.Contains(lower, "cancel"):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case strings.Contains(lower, "balance insufficient"), strings.Contains(lower, "insufficient"), code == "200004":
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	return err
}

// KucoinGateway trades KuCoin spot and USDT-margined futures.
type KucoinGateway struct {
	spotClient       *kucoinRESTClient
	futuresClient    *kucoinRESTClient
	defaultTradeType string
	paper            *PaperTrader

	mu        sync.Mutex
	contracts map[string]*KucoinFuturesContract
}

// NewKucoinGateway uses the public endpoints when spotURL or futuresURL is empty.
func NewKucoinGateway(apiKey, apiSecret, apiPassphrase, spotURL, futuresURL, defaultTradeType string, paper *PaperTrader) *KucoinGateway {
	if spotURL == "" {
		spotURL = kucoinSpotBaseURL
	}
	if futuresURL == "" {
		futuresURL = kucoinFuturesBaseURL
	}
	return &KucoinGateway{
		spotClient:       newKucoinRESTClient(apiKey, apiSecret, apiPassphrase, "2", spotURL),
		futuresClient:    newKucoinRESTClient(apiKey, apiSecret, apiPassphrase, "2", futuresURL),
		defaultTradeType: defaultTradeType,
		paper:            paper,
		contracts:        make(map[string]*KucoinFuturesContract),
	}
}

func (k *KucoinGateway) Name() string { return VenueKucoin }

// kucoinSpotSymbol formats BASE/QUOTE as BASE-QUOTE.
func kucoinSpotSymbol(symbol string) (string, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	return base + "-" + quote, nil
}

// kucoinFuturesSymbol formats BTC/USDT as XBTUSDTM.
func kucoinFuturesSymbol(symbol string) (string, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	if base == "BTC" {
		base = "XBT"
	}
	return base + quote + "M", nil
}

func kucoinFuturesToCanonical(native string) string {
	s := strings.TrimSuffix(native, "M")
	if strings.HasPrefix(s, "XBT") {
		s = "BTC" + strings.TrimPrefix(s, "XBT")
	}
	return NormalizeSymbol(s)
}

func (k *KucoinGateway) client(tradeType string) *kucoinRESTClient {
	if tradeType == "futures" {
		return k.futuresClient
	}
	return k.spotClient
}

// GetFuturesContractInfo fetches (and caches) contract sizing for a futures symbol.
func (k *KucoinGateway) GetFuturesContractInfo(ctx context.Context, native string) (*KucoinFuturesContract, error) {
	k.mu.Lock()
	cached, ok := k.contracts[native]
	k.mu.Unlock()
	if ok {
		return cached, nil
	}

	resp, err := k.futuresClient.doRequest(ctx, http.MethodGet, "/api/v1/contracts/"+native, "", "")
	if err != nil {
		return nil, fmt.Errorf("fetch contract %s: %w", native, err)
	}

	var contract KucoinFuturesContract
	if err := json.Unmarshal(resp.Data, &contract); err != nil {
		return nil, fmt.Errorf("unmarshal contract %s: %w", native, err)
	}
	if contract.Multiplier <= 0 {
		return nil, fmt.Errorf("invalid multiplier for %s", native)
	}

	k.mu.Lock()
	k.contracts[native] = &contract
	k.mu.Unlock()

	logger.WithFields(logger.Fields{
		"symbol":     native,
		"multiplier": contract.Multiplier,
		"lotSize":    contract.LotSize,
		"tickSize":   contract.TickSize,
	}).Debug("KuCoin futures contract loaded")

	return &contract, nil
}

func (k *KucoinGateway) SymbolRules(ctx context.Context, symbol, tradeType string) (*SymbolRules, error) {
	if tradeType == "futures" {
		native, err := kucoinFuturesSymbol(symbol)
		if err != nil {
			return nil, err
		}
		contract, err := k.GetFuturesContractInfo(ctx, native)
		if err != nil {
			return nil, err
		}
		lot := contract.LotSize
		if lot <= 0 {
			lot = 1
		}
		return &SymbolRules{
			Symbol:       native,
			TickSize:     contract.TickSize,
			ContractSize: contract.Multiplier * lot,
		}, nil
	}

	native, err := kucoinSpotSymbol(symbol)
	if err != nil {
		return nil, err
	}
	rules, ok := kucoinSpotRules[native]
	if !ok {
		rules = SymbolRules{StepSize: 0.0001, TickSize: 0.0001, MinNotional: 0.1}
	}
	rules.Symbol = native
	return &rules, nil
}

func (k *KucoinGateway) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return k.placeOrder(ctx, req, "limit")
}

func (k *KucoinGateway) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return k.placeOrder(ctx, req, "market")
}

func (k *KucoinGateway) placeOrder(ctx context.Context, req OrderRequest, orderType string) (*OrderResult, error) {
	rules, err := k.SymbolRules(ctx, req.Symbol, req.TradeType)
	if err != nil {
		return nil, err
	}
	req.Quantity = rules.RoundQuantity(req.Quantity)
	if req.Quantity <= 0 {
		return nil, ErrBelowMinimum
	}
	if orderType == "limit" {
		req.Price = RoundToTick(req.Price, rules.TickSize)
	}

	if req.Paper {
		return k.paper.Fill(k.Name(), req, orderType == "market"), nil
	}

	body := map[string]interface{}{
		"clientOid": req.ClientOrderID,
		"side":      req.Side,
		"symbol":    rules.Symbol,
		"type":      orderType,
	}
	if req.TradeType == "futures" {
		body["size"] = ContractsFor(req.Quantity, rules.ContractSize)
		body["leverage"] = strconv.FormatFloat(math.Max(req.Leverage, 1), 'f', -1, 64)
		body["reduceOnly"] = req.ReduceOnly
	} else {
		body["size"] = formatDecimal(req.Quantity)
	}
	if orderType == "limit" {
		body["price"] = formatDecimal(req.Price)
	}

	b, _ := json.Marshal(body)
	resp, err := k.client(req.TradeType).doRequest(ctx, http.MethodPost, "/api/v1/orders", "", string(b))
	if err != nil {
		logger.WithFields(logger.Fields{
			"venue":     k.Name(),
			"symbol":    rules.Symbol,
			"side":      req.Side,
			"tradeType": req.TradeType,
		}).WithError(err).Error("KuCoin place order failed")
		return nil, err
	}

	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal kucoin order: %w", err)
	}

	status := OrderStatusNew
	if orderType == "market" {
		status = OrderStatusFilled
	}
	return &OrderResult{
		OrderID:       data.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        status,
	}, nil
}

func (k *KucoinGateway) CancelOrder(ctx context.Context, req CancelRequest) error {
	if req.Paper {
		return nil
	}
	_, err := k.client(req.TradeType).doRequest(ctx, http.MethodDelete, "/api/v1/orders/"+url.PathEscape(req.OrderID), "", "")
	return err
}

// GetOrder reports the fill state of an order.
func (k *KucoinGateway) GetOrder(ctx context.Context, _ string, orderID, tradeType string) (*OrderStatus, error) {
	resp, err := k.client(tradeType).doRequest(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(orderID), "", "")
	if err != nil {
		return nil, err
	}
	var d kucoinOrderDetail
	if err := json.Unmarshal(resp.Data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal kucoin order detail: %w", err)
	}

	st := &OrderStatus{OrderID: d.ID, FilledQty: toFloat(d.DealSize)}
	if st.FilledQty > 0 {
		st.AvgPrice = toFloat(d.DealFunds) / st.FilledQty
	}
	switch {
	case d.IsActive:
		st.Status = OrderStatusNew
	case d.CancelExist:
		st.Status = OrderStatusCancelled
	default:
		st.Status = OrderStatusFilled
	}
	return st, nil
}

// GetBalance returns the trade account balance of asset. When the account
// trades futures by default, USDT comes from the futures margin account.
func (k *KucoinGateway) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	asset = strings.ToUpper(asset)

	if asset == "USDT" && k.defaultTradeType == "futures" {
		resp, err := k.futuresClient.doRequest(ctx, http.MethodGet, "/api/v1/account-overview", "currency=USDT", "")
		if err != nil {
			return nil, fmt.Errorf("fetch futures balance: %w", err)
		}
		var fut kucoinFuturesAccountOverview
		if err := json.Unmarshal(resp.Data, &fut); err != nil {
			return nil, fmt.Errorf("unmarshal futures account: %w", err)
		}
		return &Balance{Asset: asset, Free: fut.AvailableBalance, Locked: fut.PositionMargin + fut.OrderMargin}, nil
	}

	q := url.Values{}
	q.Set("currency", asset)
	q.Set("type", "trade")
	resp, err := k.spotClient.doRequest(ctx, http.MethodGet, "/api/v1/accounts", q.Encode(), "")
	if err != nil {
		return nil, fmt.Errorf("fetch spot balances: %w", err)
	}

	var accounts []kucoinSpotAccount
	if err := json.Unmarshal(resp.Data, &accounts); err != nil {
		return nil, fmt.Errorf("unmarshal spot accounts: %w", err)
	}

	bal := &Balance{Asset: asset}
	for _, acc := range accounts {
		if !strings.EqualFold(acc.Currency, asset) {
			continue
		}
		bal.Free += toFloat(acc.Available)
		bal.Locked += toFloat(acc.Holds)
	}
	return bal, nil
}

func (k *KucoinGateway) GetOpenPositions(ctx context.Context) ([]ExchangePosition, error) {
	resp, err := k.futuresClient.doRequest(ctx, http.MethodGet, "/api/v1/positions", "", "")
	if err != nil {
		return nil, fmt.Errorf("fetch futures positions: %w", err)
	}
	var raw []kucoinFuturesPosition
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal futures positions: %w", err)
	}

	out := make([]ExchangePosition, 0, len(raw))
	for _, p := range raw {
		if !p.IsOpen || p.CurrentQty == 0 {
			continue
		}
		contract, err := k.GetFuturesContractInfo(ctx, p.Symbol)
		if err != nil {
			return nil, err
		}
		direction := "long"
		if p.CurrentQty < 0 {
			direction = "short"
		}
		out = append(out, ExchangePosition{
			Symbol:     kucoinFuturesToCanonical(p.Symbol),
			Direction:  direction,
			Quantity:   math.Abs(p.CurrentQty) * contract.Multiplier,
			EntryPrice: p.AvgEntryPrice,
		})
	}
	return out, nil
}

func (k *KucoinGateway) LastPrice(ctx context.Context, symbol, tradeType string) (float64, error) {
	var (
		resp *kucoinAPIResponse
		err  error
	)
	if tradeType == "futures" {
		native, serr := kucoinFuturesSymbol(symbol)
		if serr != nil {
			return 0, serr
		}
		resp, err = k.futuresClient.doRequest(ctx, http.MethodGet, "/api/v1/ticker", "symbol="+native, "")
	} else {
		native, serr := kucoinSpotSymbol(symbol)
		if serr != nil {
			return 0, serr
		}
		resp, err = k.spotClient.doRequest(ctx, http.MethodGet, "/api/v1/market/orderbook/level1", "symbol="+native, "")
	}
	if err != nil {
		return 0, err
	}

	var ticker map[string]interface{}
	if err := json.Unmarshal(resp.Data, &ticker); err != nil {
		return 0, fmt.Errorf("unmarshal kucoin ticker: %w", err)
	}
	price := toFloat(ticker["price"])
	if price <= 0 {
		price = toFloat(ticker["lastTradePrice"])
	}
	if price <= 0 {
		return 0, fmt.Errorf("invalid kucoin price for %s", symbol)
	}
	return price, nil
}
