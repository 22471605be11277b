package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/model"
)

// Thresholds are the minimum confidence (0..1) and score (0..100) a signal needs.
type Thresholds struct {
	MinConfidence float64
	MinScore      float64
}

func ThresholdsFor(aggressiveness string) Thresholds {
	switch aggressiveness {
	case model.AggressivenessConservative:
		return Thresholds{MinConfidence: 0.55, MinScore: 55}
	case model.AggressivenessAggressive:
		return Thresholds{MinConfidence: 0.30, MinScore: 35}
	default:
		return Thresholds{MinConfidence: 0.35, MinScore: 40}
	}
}

// Passes reports whether sig clears the thresholds.
func (t Thresholds) Passes(sig externalmodel.Signal) bool {
	return sig.Confidence >= t.MinConfidence && sig.Score >= t.MinScore
}

// Request is one signal to validate against the venue's current state.
type Request struct {
	Signal   externalmodel.Signal
	Settings *model.RiskSettings
	// VenueBalance is the free quote balance, already debited by earlier
	// orders of the same cycle.
	VenueBalance float64
	// OpenSymbols holds the symbols with an active position on the venue.
	OpenSymbols map[string]bool
	Rules       *connectors.SymbolRules
	// OrderSize overrides Settings.OrderSize when positive.
	OrderSize float64
}

// Sizing is the validated order a signal resolves to.
type Sizing struct {
	Venue        string  `json:"venue"`
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"`
	TradeType    string  `json:"tradeType"`
	EntryPrice   float64 `json:"entryPrice"`
	OrderSize    float64 `json:"orderSize"`
	Leverage     float64 `json:"leverage"`
	Quantity     float64 `json:"quantity"`
	ProfitTarget float64 `json:"profitTarget"`
	Paper        bool    `json:"paper"`
	Session      Session `json:"session,omitempty"`
}

// Exposure is the quantity in base units the venue order carries.
func (s *Sizing) Exposure() float64 {
	if s.TradeType == model.TradeTypeSpot {
		return s.Quantity
	}
	return s.Quantity * s.Leverage
}

type Gate struct {
	session *SessionSizeConfig
	now     func() time.Time
}

func NewGate(session *SessionSizeConfig) *Gate {
	return &Gate{session: session, now: time.Now}
}

// WithClock overrides the time source used for session sizing.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	return &Gate{session: g.session, now: now}
}

// Validate runs the per-signal checks in order and returns either a sizing
// or the structured reason the signal was rejected.
func (g *Gate) Validate(req Request) (*Sizing, *model.ExecError) {
	sig := req.Signal
	settings := req.Settings
	venue, symbol := strings.ToLower(sig.Venue), connectors.NormalizeSymbol(sig.Symbol)

	reject := func(t model.ErrorType, msg, suggestion string) (*Sizing, *model.ExecError) {
		logger.WithFields(logger.Fields{
			"venue":  venue,
			"symbol": symbol,
			"reason": t,
		}).Info(msg)
		return nil, model.NewExecError(t, venue, symbol, msg, suggestion)
	}

	if settings == nil {
		return reject(model.ErrNoSettings, "risk settings are not configured", "create the risk settings row")
	}

	th := ThresholdsFor(settings.Aggressiveness)
	if !th.Passes(sig) {
		return reject(model.ErrSignalRejected,
			fmt.Sprintf("confidence %.2f / score %.0f below %.2f / %.0f", sig.Confidence, sig.Score, th.MinConfidence, th.MinScore),
			"wait for a stronger signal or raise aggressiveness")
	}
	if sig.EntryPrice <= 0 {
		return reject(model.ErrSignalRejected, "signal has no entry price", "")
	}
	if sig.Direction != model.DirectionLong && sig.Direction != model.DirectionShort {
		return reject(model.ErrSignalRejected, fmt.Sprintf("unknown direction %q", sig.Direction), "")
	}

	if req.OpenSymbols[symbol] {
		return reject(model.ErrDuplicatePosition, "an open position already exists for this symbol", "close the existing position first")
	}

	tradeType := sig.TradeType
	if tradeType == "" {
		tradeType = model.TradeTypeSpot
	}

	size := settings.OrderSize
	if req.OrderSize > 0 {
		size = req.OrderSize
	}

	var session Session
	if settings.SessionSizing {
		scaled, s := ScaleBySession(decimal.NewFromFloat(size), g.now(), g.session)
		session = s
		size, _ = scaled.Round(2).Float64()
		if size <= 0 {
			return reject(model.ErrSignalRejected, "outside trading hours ("+string(s)+")", "retry when the session reopens")
		}
	}

	if req.VenueBalance < size {
		return reject(model.ErrInsufficientBalance,
			fmt.Sprintf("balance %.2f is %.2f short of order size %.2f", req.VenueBalance, size-req.VenueBalance, size),
			"deposit funds or lower the order size")
	}

	if settings.MinOrderSize > 0 && size < settings.MinOrderSize {
		size = settings.MinOrderSize
	}
	if settings.MaxOrderSize > 0 && size > settings.MaxOrderSize {
		size = settings.MaxOrderSize
	}
	if req.VenueBalance < size {
		return reject(model.ErrInsufficientBalance,
			fmt.Sprintf("balance %.2f is %.2f short of minimum order size %.2f", req.VenueBalance, size-req.VenueBalance, size),
			"deposit funds or lower the minimum order size")
	}

	leverage := 1.0
	if tradeType == model.TradeTypeFutures && settings.Leverage > 1 {
		leverage = settings.Leverage
	}

	sizing := &Sizing{
		Venue:        venue,
		Symbol:       symbol,
		Direction:    sig.Direction,
		TradeType:    tradeType,
		EntryPrice:   sig.EntryPrice,
		OrderSize:    size,
		Leverage:     leverage,
		Quantity:     size / sig.EntryPrice,
		ProfitTarget: settings.ProfitTarget,
		Paper:        settings.IsPaper(),
		Session:      session,
	}

	if req.Rules != nil {
		if err := req.Rules.CheckMinimum(sizing.Exposure(), sig.EntryPrice); err != nil {
			need := minimumOrderSize(req.Rules, sig.EntryPrice, leverage)
			return reject(model.ErrMinSizeViolation,
				fmt.Sprintf("order size %.2f resolves below the venue minimum unit", size),
				fmt.Sprintf("raise the order size to at least %.2f", need))
		}
	}

	return sizing, nil
}

// minimumOrderSize is the quote amount that resolves to one tradable unit.
func minimumOrderSize(r *connectors.SymbolRules, price, leverage float64) float64 {
	unit := r.MinQty
	if r.ContractSize > 0 {
		unit = r.ContractSize
	}
	if unit <= 0 {
		unit = r.StepSize
	}
	need := unit * price / leverage
	if r.MinNotional > 0 {
		need = math.Max(need, r.MinNotional/leverage)
	}
	return need
}

// PolicyGate returns the cycle level outcome that stops trading, if any.
func PolicyGate(settings *model.RiskSettings, today *model.DailyStats) *model.ExecError {
	if settings == nil {
		return model.NewExecError(model.ErrNoSettings, "", "", "risk settings are not configured", "create the risk settings row")
	}
	if !settings.TradingEnabled {
		return model.NewExecError(model.ErrBotStopped, "", "", "trading is disabled", "enable trading in risk settings")
	}
	if today != nil && settings.DailyLossLimit > 0 && today.NetProfit <= -settings.DailyLossLimit {
		return model.NewExecError(model.ErrDailyLimit, "", "",
			fmt.Sprintf("daily loss %.2f reached limit %.2f", -today.NetProfit, settings.DailyLossLimit),
			"trading resumes on the next UTC day")
	}
	return nil
}

// CapacityGate rejects new entries once the open position limit is reached.
func CapacityGate(settings *model.RiskSettings, openCount int64) *model.ExecError {
	if settings == nil || settings.MaxOpenPositions <= 0 {
		return nil
	}
	if openCount >= int64(settings.MaxOpenPositions) {
		return model.NewExecError(model.ErrMaxPositions, "", "",
			fmt.Sprintf("%d open positions reached the limit of %d", openCount, settings.MaxOpenPositions),
			"wait for positions to close or raise the limit")
	}
	return nil
}
