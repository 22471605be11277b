package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeexecutor/src/controller"
	"tradeexecutor/src/executors"
	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/model"
	"tradeexecutor/src/reconcile"
	"tradeexecutor/src/repository"
)

type stubCycle struct{ res *executors.CycleResult }

func (s stubCycle) RunCycle(context.Context) *executors.CycleResult { return s.res }

type stubOpener struct {
	got       externalmodel.Signal
	orderSize float64
	res       *controller.OpenResult
	err       *model.ExecError
	calls     int
}

func (s *stubOpener) OpenSignal(_ context.Context, sig externalmodel.Signal, orderSize float64) (*controller.OpenResult, *model.ExecError) {
	s.calls++
	s.got, s.orderSize = sig, orderSize
	return s.res, s.err
}

type stubCloser struct {
	got controller.CloseRequest
	res *controller.CloseResult
	err error
}

func (s *stubCloser) Close(_ context.Context, req controller.CloseRequest) (*controller.CloseResult, error) {
	s.got = req
	return s.res, s.err
}

type stubReconciler struct {
	autoFix bool
	report  *reconcile.Report
}

func (s *stubReconciler) Reconcile(_ context.Context, autoFix bool) (*reconcile.Report, error) {
	s.autoFix = autoFix
	return s.report, nil
}

func serve(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestRunCycleHandler(t *testing.T) {
	rr := serve(RunCycleHandler(stubCycle{res: &executors.CycleResult{
		Success: true, Status: executors.StatusSkippedConcurrent, Errors: []*model.ExecError{
			model.NewExecError(model.ErrConcurrentSkip, "", "", "held", ""),
		}}}), "")
	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "skipped_concurrent", body["status"])
	assert.Len(t, body["errors"], 1)

	rr = serve(RunCycleHandler(stubCycle{res: &executors.CycleResult{Status: executors.StatusFailed}}), "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestOpenPositionHandler(t *testing.T) {
	opener := &stubOpener{res: &controller.OpenResult{
		Trade:    &model.Trade{ID: 7},
		Position: &model.Position{ID: 7, Venue: "binance", Symbol: "BTC/USDT", TPPrice: 50225.23},
		TPError:  "tick size",
	}}
	rr := serve(OpenPositionHandler(opener), `{"venue":"binance","symbol":"BTC/USDT","direction":"LONG",
		"tradeType":"spot","entryPrice":50000,"score":60,"confidence":0.6,"orderSize":400}`)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, model.DirectionLong, opener.got.Direction)
	assert.Equal(t, 400.0, opener.orderSize)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["errors"], 1, "missing take-profit is reported")
}

func TestOpenPositionHandler_BadRequests(t *testing.T) {
	cases := map[string]string{
		"malformed":      `{"venue":`,
		"unknown field":  `{"venue":"binance","symbol":"BTC/USDT","direction":"long","entryPrice":1,"leverage":9}`,
		"no symbol":      `{"venue":"binance","direction":"long","entryPrice":1}`,
		"bad direction":  `{"venue":"binance","symbol":"BTC/USDT","direction":"up","entryPrice":1}`,
		"no price":       `{"venue":"binance","symbol":"BTC/USDT","direction":"long"}`,
		"bad trade type": `{"venue":"binance","symbol":"BTC/USDT","direction":"long","entryPrice":1,"tradeType":"options"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			opener := &stubOpener{}
			rr := serve(OpenPositionHandler(opener), body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Zero(t, opener.calls)
			assert.Equal(t, false, decodeBody(t, rr)["success"])
		})
	}
}

func TestOpenPositionHandler_GateRejection(t *testing.T) {
	opener := &stubOpener{err: model.NewExecError(model.ErrInsufficientBalance, "binance", "BTC/USDT",
		"balance 150.00 is 250.00 short of order size 400.00", "deposit funds")}
	rr := serve(OpenPositionHandler(opener), `{"venue":"binance","symbol":"BTC/USDT","direction":"long","entryPrice":50000}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decodeBody(t, rr)
	errs := body["errors"].([]interface{})
	require.Len(t, errs, 1)
	assert.Equal(t, "INSUFFICIENT_BALANCE", errs[0].(map[string]interface{})["errorType"])
}

func TestOpenPositionHandler_ConflictWhileCycleRuns(t *testing.T) {
	opener := &stubOpener{err: model.NewExecError(model.ErrConcurrentSkip, "binance", "BTC/USDT", "loop lock held by another cycle", "")}
	rr := serve(OpenPositionHandler(opener), `{"venue":"binance","symbol":"BTC/USDT","direction":"long","entryPrice":50000}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestClosePositionHandler(t *testing.T) {
	cases := []struct {
		name    string
		res     *controller.CloseResult
		err     error
		code    int
		success bool
	}{
		{"closed", &controller.CloseResult{Status: controller.CloseStatusSuccess, NetProfit: 1.1}, nil, http.StatusOK, true},
		{"duplicate", &controller.CloseResult{Status: controller.CloseStatusAlreadyClosed, AlreadyClosed: true}, nil, http.StatusOK, true},
		{"blocked", &controller.CloseResult{Status: controller.CloseStatusBlocked, Shortfall: 0.6,
			Error: model.NewExecError(model.ErrProfitNotMet, "binance", "BTC/USDT", "short", "")}, nil, http.StatusConflict, false},
		{"not found", nil, repository.ErrPositionNotFound, http.StatusNotFound, false},
		{"store down", nil, assert.AnError, http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			closer := &stubCloser{res: tc.res, err: tc.err}
			rr := serve(ClosePositionHandler(closer), `{"positionId":3,"exitPrice":50100,"requireProfit":true}`)
			assert.Equal(t, tc.code, rr.Code)
			assert.Equal(t, tc.success, decodeBody(t, rr)["success"])
			assert.Equal(t, controller.CloseRequest{PositionID: 3, ExitPriceHint: 50100, RequireProfit: true}, closer.got)
		})
	}

	rr := serve(ClosePositionHandler(&stubCloser{}), `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReconcileHandler(t *testing.T) {
	rec := &stubReconciler{report: &reconcile.Report{Success: true, Matched: 2}}
	rr := serve(ReconcileHandler(rec), `{"autoFix":true}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, rec.autoFix)
	body := decodeBody(t, rr)
	assert.Equal(t, float64(2), body["matched"])
	assert.Equal(t, []interface{}{}, body["errors"])

	rr = serve(ReconcileHandler(rec), "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, rec.autoFix, "empty body means report only")
}
