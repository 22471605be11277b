package connectors

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var krakenTestSecret = base64.StdEncoding.EncodeToString([]byte("kraken-test-secret"))

func newTestKraken(url string) *KrakenGateway {
	return NewKrakenGateway("kraken-key", krakenTestSecret, url, testPaper())
}

func verifyKrakenAuth(t *testing.T, r *http.Request) {
	t.Helper()
	want, err := computeAuthent(r.URL.RawQuery, r.Header.Get("Nonce"), r.URL.Path, krakenTestSecret)
	require.NoError(t, err)
	assert.Equal(t, "kraken-key", r.Header.Get("APIKey"))
	assert.Equal(t, want, r.Header.Get("Authent"))
}

func TestComputeAuthent_RejectsBadSecret(t *testing.T) {
	_, err := computeAuthent("", "1", "/api/v3/openpositions", "%%%")
	assert.Error(t, err)
}

func TestEncodeValuesRFC3986(t *testing.T) {
	v := url.Values{}
	v.Set("symbol", "PF_XBTUSD")
	v.Set("cliOrdId", "a b")
	assert.Equal(t, "cliOrdId=a%20b&symbol=PF_XBTUSD", encodeValuesRFC3986(v))
	assert.Equal(t, "", encodeValuesRFC3986(nil))
}

func TestKrakenSymbol(t *testing.T) {
	s, err := krakenSymbol("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "PF_XBTUSD", s)
	assert.Equal(t, "BTC/USD", krakenToCanonical("PF_XBTUSD"))
	assert.Equal(t, "ETH/USD", krakenToCanonical("pf_ethusd"))
}

func TestKrakenSendOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/sendorder", r.URL.Path)
		verifyKrakenAuth(t, r)

		q := r.URL.Query()
		assert.Equal(t, "lmt", q.Get("orderType"))
		assert.Equal(t, "PF_XBTUSD", q.Get("symbol"))
		assert.Equal(t, "0.0123", q.Get("size"))
		assert.Equal(t, "50000", q.Get("limitPrice"))
		assert.Equal(t, "true", q.Get("reduceOnly"))

		_, _ = w.Write([]byte(`{"result":"success","sendStatus":{"status":"placed","order_id":"kr-1","orderEvents":[]}}`))
	}))
	defer server.Close()

	res, err := newTestKraken(server.URL).PlaceLimitOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT", Side: SideSell, Quantity: 0.01239, Price: 50000.4, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "kr-1", res.OrderID)
	assert.Equal(t, OrderStatusNew, res.Status)
}

func TestKrakenSendOrder_InsufficientFunds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":"success","sendStatus":{"status":"insufficientAvailableFunds"}}`))
	}))
	defer server.Close()

	_, err := newTestKraken(server.URL).PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USD", Side: SideBuy, Quantity: 1, Price: 50000,
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestKrakenCancelOrder_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/cancelorder", r.URL.Path)
		_, _ = w.Write([]byte(`{"result":"success","cancelStatus":{"status":"notFound"}}`))
	}))
	defer server.Close()

	err := newTestKraken(server.URL).CancelOrder(context.Background(), CancelRequest{Symbol: "BTC/USD", OrderID: "kr-1"})
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestKrakenOpenPositions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyKrakenAuth(t, r)
		_, _ = w.Write([]byte(`{"result":"success","openPositions":[
			{"side":"short","symbol":"PF_XBTUSD","price":50000,"size":0.02},
			{"side":"long","symbol":"PF_ETHUSD","price":3000,"size":0}
		]}`))
	}))
	defer server.Close()

	positions, err := newTestKraken(server.URL).GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, ExchangePosition{Symbol: "BTC/USD", Direction: "short", Quantity: 0.02, EntryPrice: 50000}, positions[0])
}

func TestKrakenErrorResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":"error","error":"apiLimitExceeded"}`))
	}))
	defer server.Close()

	_, err := newTestKraken(server.URL).GetBalance(context.Background(), "USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiLimitExceeded")
}
