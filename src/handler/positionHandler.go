package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/controller"
	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/model"
	"tradeexecutor/src/pnl"
	"tradeexecutor/src/repository"
)

type signalOpener interface {
	OpenSignal(ctx context.Context, sig externalmodel.Signal, orderSize float64) (*controller.OpenResult, *model.ExecError)
}

type positionCloser interface {
	Close(ctx context.Context, req controller.CloseRequest) (*controller.CloseResult, error)
}

type OpenPositionPayload struct {
	Venue      string  `json:"venue"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	TradeType  string  `json:"tradeType"`
	EntryPrice float64 `json:"entryPrice"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	OrderSize  float64 `json:"orderSize,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

type openPositionResponse struct {
	Success    bool                 `json:"success"`
	Trade      *model.Trade         `json:"trade,omitempty"`
	Position   *model.Position      `json:"position,omitempty"`
	TakeProfit *pnl.TakeProfitQuote `json:"takeProfit,omitempty"`
	Errors     []*model.ExecError   `json:"errors"`
}

// OpenPositionHandler validates a signal through the risk gate and opens it.
// Gate rejections are 422 so callers can tell them from malformed requests.
func OpenPositionHandler(opener signalOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p OpenPositionPayload
		if err := decode(r, &p); err != nil {
			logger.WithError(err).Warn("invalid open-position payload")
			badRequest(w, "invalid payload")
			return
		}
		p.Direction = strings.ToLower(strings.TrimSpace(p.Direction))
		switch {
		case p.Venue == "" || p.Symbol == "":
			badRequest(w, "venue and symbol are required")
			return
		case p.Direction != model.DirectionLong && p.Direction != model.DirectionShort:
			badRequest(w, "direction must be long or short")
			return
		case p.EntryPrice <= 0:
			badRequest(w, "entryPrice must be positive")
			return
		case p.TradeType != "" && p.TradeType != model.TradeTypeSpot && p.TradeType != model.TradeTypeFutures:
			badRequest(w, "tradeType must be spot or futures")
			return
		}

		sig := externalmodel.Signal{
			Venue:      p.Venue,
			Symbol:     p.Symbol,
			Direction:  p.Direction,
			Score:      p.Score,
			Confidence: p.Confidence,
			EntryPrice: p.EntryPrice,
			TradeType:  p.TradeType,
			Reasoning:  p.Reasoning,
		}
		res, execErr := opener.OpenSignal(r.Context(), sig, p.OrderSize)
		if execErr != nil {
			writeError(w, statusFor(execErr.ErrorType), execErr)
			return
		}

		out := openPositionResponse{
			Success:    true,
			Trade:      res.Trade,
			Position:   res.Position,
			TakeProfit: res.TakeProfit,
			Errors:     []*model.ExecError{},
		}
		if res.TPError != "" {
			out.Errors = append(out.Errors, model.NewExecError(model.ErrGateway, res.Position.Venue, res.Position.Symbol,
				"take-profit not placed: "+res.TPError, "fallback monitoring is active"))
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

type ClosePositionPayload struct {
	PositionID    uint    `json:"positionId"`
	ExitPrice     float64 `json:"exitPrice,omitempty"`
	RequireProfit bool    `json:"requireProfit"`
}

type closePositionResponse struct {
	Success bool `json:"success"`
	*controller.CloseResult
	Errors []*model.ExecError `json:"errors"`
}

// ClosePositionHandler closes a position. Duplicate requests answer 200
// with alreadyClosed, and a close blocked by the profit target is a 409.
func ClosePositionHandler(closer positionCloser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p ClosePositionPayload
		if err := decode(r, &p); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		if p.PositionID == 0 {
			badRequest(w, "positionId is required")
			return
		}

		res, err := closer.Close(r.Context(), controller.CloseRequest{
			PositionID:    p.PositionID,
			ExitPriceHint: p.ExitPrice,
			RequireProfit: p.RequireProfit,
		})
		if err != nil {
			if errors.Is(err, repository.ErrPositionNotFound) {
				writeError(w, http.StatusNotFound, model.NewExecError(model.ErrInternal, "", "",
					fmt.Sprintf("position %d not found", p.PositionID), ""))
				return
			}
			logger.WithError(err).WithField("position_id", p.PositionID).Error("close failed")
			writeError(w, http.StatusInternalServerError, model.NewExecError(model.ErrInternal, "", "", err.Error(), ""))
			return
		}

		out := closePositionResponse{
			Success:     res.Success() || res.AlreadyClosed,
			CloseResult: res,
			Errors:      []*model.ExecError{},
		}
		if res.Error != nil {
			out.Errors = append(out.Errors, res.Error)
		}
		status := http.StatusOK
		switch res.Status {
		case controller.CloseStatusBlocked:
			status = http.StatusConflict
		case controller.CloseStatusStuck, controller.CloseStatusError:
			status = http.StatusBadGateway
		}
		writeJSON(w, status, out)
	}
}

func statusFor(t model.ErrorType) int {
	switch t {
	case model.ErrGateway:
		return http.StatusBadGateway
	case model.ErrInternal:
		return http.StatusInternalServerError
	case model.ErrDuplicatePosition, model.ErrConcurrentSkip:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
