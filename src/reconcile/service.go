package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/controller"
	"tradeexecutor/src/feed"
	"tradeexecutor/src/model"
	"tradeexecutor/src/pnl"
)

// Classification of one stored position against the venue.
const (
	Matched          = "MATCHED"
	QuantityMismatch = "QUANTITY_MISMATCH"
	Missing          = "MISSING"
)

type PositionStore interface {
	FindOpen(ctx context.Context) ([]model.Position, error)
	TransitionStatus(ctx context.Context, id uint, from, to, reason string) (bool, error)
	UpdateQuantity(ctx context.Context, id uint, quantity, notional float64) error
	UpdateTPStatus(ctx context.Context, id uint, status string) error
}

type GatewayResolver interface {
	Get(venue string) (connectors.Gateway, error)
}

// TakeProfitCloser settles a position whose take-profit already filled on
// the venue. It returns nil when there is no fill evidence.
type TakeProfitCloser interface {
	CheckTakeProfit(ctx context.Context, pos *model.Position) (*controller.CloseResult, error)
}

// Mismatch is a position whose venue holdings drifted outside tolerance.
type Mismatch struct {
	PositionID uint    `json:"positionId"`
	Venue      string  `json:"venue"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	TradeType  string  `json:"tradeType"`
	Kind       string  `json:"kind"`
	LocalQty   float64 `json:"localQty"`
	VenueQty   float64 `json:"venueQty"`
	Deviation  float64 `json:"deviation"`
	Fixed      bool    `json:"fixed"`
	Action     string  `json:"action,omitempty"`
}

type Report struct {
	Success    bool               `json:"success"`
	Matched    int                `json:"matched"`
	Mismatched int                `json:"mismatched"`
	Fixed      int                `json:"fixed"`
	Closed     int                `json:"closed"`
	Mismatches []Mismatch         `json:"mismatches"`
	Errors     []*model.ExecError `json:"errors"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// Service diffs open positions against what the venues report. A position
// without holdings is first checked for a filled take-profit; only when no
// fill is evident is it flagged orphaned.
type Service struct {
	positions PositionStore
	gateways  GatewayResolver
	feed      feed.Publisher
	cfg       *Config
	closer    TakeProfitCloser
}

func NewService(positions PositionStore, gateways GatewayResolver, publisher feed.Publisher, cfg *Config) *Service {
	if publisher == nil {
		publisher = feed.Nop{}
	}
	if cfg == nil {
		cfg = GetConfig()
	}
	return &Service{positions: positions, gateways: gateways, feed: publisher, cfg: cfg}
}

// WithTakeProfitCloser lets auto-fix runs close positions whose take-profit
// filled before the monitor saw it.
func (s *Service) WithTakeProfitCloser(closer TakeProfitCloser) *Service {
	s.closer = closer
	return s
}

// Reconcile checks every open position. Venues are fetched concurrently and
// a failing venue is reported without stopping the others.
func (s *Service) Reconcile(ctx context.Context, autoFix bool) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC(), Mismatches: []Mismatch{}}

	open, err := s.positions.FindOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}

	byVenue := map[string][]model.Position{}
	for _, p := range open {
		if p.Paper {
			report.Matched++
			continue
		}
		byVenue[p.Venue] = append(byVenue[p.Venue], p)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for venue, positions := range byVenue {
		venue, positions := venue, positions
		g.Go(func() error {
			vr := s.reconcileVenue(gctx, venue, positions, autoFix)
			mu.Lock()
			defer mu.Unlock()
			report.Matched += vr.Matched
			report.Mismatched += vr.Mismatched
			report.Fixed += vr.Fixed
			report.Closed += vr.Closed
			report.Mismatches = append(report.Mismatches, vr.Mismatches...)
			report.Errors = append(report.Errors, vr.Errors...)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Mismatches, func(i, j int) bool {
		return report.Mismatches[i].PositionID < report.Mismatches[j].PositionID
	})
	report.Success = len(report.Errors) == 0
	report.FinishedAt = time.Now().UTC()

	logger.WithFields(logger.Fields{
		"op":         "Reconcile",
		"auto_fix":   autoFix,
		"matched":    report.Matched,
		"mismatched": report.Mismatched,
		"fixed":      report.Fixed,
		"closed":     report.Closed,
		"errors":     len(report.Errors),
	}).Info("Reconciliation finished")
	return report, nil
}

// holdings caches one venue's balances and margin positions for a run.
type holdings struct {
	gw        connectors.Gateway
	balances  map[string]float64
	positions []connectors.ExchangePosition
	loaded    bool
}

func (h *holdings) quantity(ctx context.Context, p *model.Position) (float64, error) {
	if p.TradeType == model.TradeTypeFutures {
		if !h.loaded {
			ps, err := h.gw.GetOpenPositions(ctx)
			if err != nil {
				return 0, err
			}
			h.positions, h.loaded = ps, true
		}
		var qty float64
		for _, ep := range h.positions {
			if connectors.NormalizeSymbol(ep.Symbol) == p.Symbol && ep.Direction == p.Direction {
				qty += ep.Quantity
			}
		}
		return qty, nil
	}

	asset := connectors.BaseAsset(p.Symbol)
	if qty, ok := h.balances[asset]; ok {
		return qty, nil
	}
	bal, err := h.gw.GetBalance(ctx, asset)
	if err != nil {
		return 0, err
	}
	h.balances[asset] = bal.Total()
	return bal.Total(), nil
}

func (s *Service) reconcileVenue(ctx context.Context, venue string, positions []model.Position, autoFix bool) *Report {
	out := &Report{}
	log := logger.WithFields(logger.Fields{"op": "Reconcile", "venue": venue})

	gw, err := s.gateways.Get(venue)
	if err != nil {
		out.Errors = append(out.Errors, model.NewExecError(model.ErrGateway, venue, "", err.Error(), "connect the venue"))
		return out
	}
	h := &holdings{gw: gw, balances: map[string]float64{}}

	for i := range positions {
		p := &positions[i]
		venueQty, err := h.quantity(ctx, p)
		if err != nil {
			log.WithError(err).WithField("symbol", p.Symbol).Warn("Holdings lookup failed")
			out.Errors = append(out.Errors, model.NewExecError(model.ErrGateway, venue, p.Symbol,
				"holdings lookup failed: "+err.Error(), "reconciliation retries on the next cycle"))
			continue
		}

		m := s.classify(p, venueQty)
		if m.Kind == Matched {
			out.Matched++
			continue
		}
		if m.Kind == Missing && p.TPOrderID != "" && p.TPStatus == model.TPStatusPending {
			outcome, err := s.settleTakeProfit(ctx, gw, p, autoFix)
			if err != nil {
				log.WithError(err).WithField("position_id", p.ID).Warn("Take-profit lookup failed")
				out.Errors = append(out.Errors, model.NewExecError(model.ErrGateway, venue, p.Symbol,
					"take-profit lookup failed: "+err.Error(), "reconciliation retries on the next cycle"))
				continue
			}
			switch outcome {
			case tpClosed:
				out.Closed++
				continue
			case tpFilled:
				out.Matched++
				continue
			}
		}
		out.Mismatched++
		if autoFix {
			s.fix(ctx, gw, p, &m)
			if m.Fixed {
				out.Fixed++
			}
		}
		if m.Kind == Missing {
			out.Errors = append(out.Errors, model.NewExecError(model.ErrReconcileMismatch, venue, p.Symbol,
				fmt.Sprintf("position %d has no matching venue holdings", p.ID),
				"verify the venue history and close the position manually"))
		}
		log.WithFields(logger.Fields{
			"position_id": p.ID,
			"symbol":      p.Symbol,
			"kind":        m.Kind,
			"local_qty":   m.LocalQty,
			"venue_qty":   m.VenueQty,
			"fixed":       m.Fixed,
		}).Warn("Position drift detected")
		out.Mismatches = append(out.Mismatches, m)
	}
	return out
}

// classify compares the recorded exposure with the venue holdings. A spot
// balance larger than the position is not drift since the account may hold
// the asset for other reasons.
func (s *Service) classify(p *model.Position, venueQty float64) Mismatch {
	local := pnl.LegFromPosition(p).Exposure()
	m := Mismatch{
		PositionID: p.ID,
		Venue:      p.Venue,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		TradeType:  p.TradeType,
		LocalQty:   local,
		VenueQty:   venueQty,
	}
	if local <= 0 {
		m.Kind = Matched
		return m
	}
	if venueQty <= local*s.cfg.MissingRatio {
		m.Kind = Missing
		m.Deviation = 1
		return m
	}

	diff := venueQty - local
	if p.TradeType != model.TradeTypeFutures && diff > 0 {
		diff = 0
	}
	m.Deviation = math.Abs(diff) / local
	if m.Deviation <= s.cfg.Tolerance(p.TradeType) {
		m.Kind = Matched
	} else {
		m.Kind = QuantityMismatch
	}
	return m
}

type tpOutcome int

const (
	tpNoFill tpOutcome = iota
	// tpFilled: the venue confirms the fill; the take-profit monitor closes it.
	tpFilled
	tpClosed
)

// settleTakeProfit looks for evidence that the resting take-profit of a
// position without holdings filled. With auto-fix and a closer the position
// is closed at its take-profit right away.
func (s *Service) settleTakeProfit(ctx context.Context, gw connectors.Gateway, p *model.Position, autoFix bool) (tpOutcome, error) {
	log := logger.WithFields(logger.Fields{"op": "Reconcile.settleTakeProfit", "position_id": p.ID, "venue": p.Venue})

	if autoFix && s.closer != nil {
		res, err := s.closer.CheckTakeProfit(ctx, p)
		if err != nil {
			return tpNoFill, err
		}
		if res == nil {
			return tpNoFill, nil
		}
		if res.Success() {
			log.Info("Closed position at filled take-profit")
			return tpClosed, nil
		}
		// claimed elsewhere or stuck; either way no longer ours to orphan
		log.WithField("status", res.Status).Info("Take-profit close handled elsewhere")
		return tpFilled, nil
	}

	checker, ok := gw.(connectors.OrderStatusChecker)
	if !ok {
		return tpNoFill, nil
	}
	st, err := checker.GetOrder(ctx, p.Symbol, p.TPOrderID, p.TradeType)
	switch {
	case errors.Is(err, connectors.ErrOrderNotFound):
		return tpNoFill, nil
	case err != nil:
		return tpNoFill, err
	case st.Status == connectors.OrderStatusFilled:
		log.Info("Take-profit filled, leaving close to the monitor")
		return tpFilled, nil
	}
	return tpNoFill, nil
}

func (s *Service) fix(ctx context.Context, gw connectors.Gateway, p *model.Position, m *Mismatch) {
	log := logger.WithFields(logger.Fields{"op": "Reconcile.fix", "position_id": p.ID, "venue": p.Venue})

	switch m.Kind {
	case QuantityMismatch:
		qty := m.VenueQty / p.EffectiveLeverage()
		if err := s.positions.UpdateQuantity(ctx, p.ID, qty, qty*p.EntryPrice); err != nil {
			log.WithError(err).Error("Failed to update quantity")
			return
		}
		m.Fixed, m.Action = true, "quantity updated"
		s.feed.Publish(feed.Event{Type: feed.EventQuantityFixed, PositionID: p.ID, Venue: p.Venue, Symbol: p.Symbol,
			Status: p.Status, Message: fmt.Sprintf("quantity %.8g -> %.8g", p.Quantity, qty)})

	case Missing:
		ok, err := s.positions.TransitionStatus(ctx, p.ID, model.PositionStatusOpen, model.PositionStatusOrphaned,
			"no matching venue balance or position")
		if err != nil {
			log.WithError(err).Error("Failed to flag orphaned position")
			return
		}
		if !ok {
			// closed or claimed meanwhile
			m.Action = "skipped: position no longer open"
			return
		}
		m.Fixed, m.Action = true, "flagged orphaned"

		if p.TPOrderID != "" && p.TPStatus == model.TPStatusPending {
			err := gw.CancelOrder(ctx, connectors.CancelRequest{
				Symbol:    p.Symbol,
				OrderID:   p.TPOrderID,
				TradeType: p.TradeType,
				Paper:     p.Paper,
			})
			switch {
			case err == nil:
				if err := s.positions.UpdateTPStatus(ctx, p.ID, model.TPStatusCancelled); err != nil {
					log.WithError(err).Warn("Failed to record cancelled take-profit")
				}
				m.Action += ", take-profit cancelled"
			case errors.Is(err, connectors.ErrOrderNotFound):
				// gone without a cancel from us; its fate is for the operator
				log.Warn("Take-profit of orphaned position no longer on the venue")
				m.Action += ", take-profit not found"
			default:
				log.WithError(err).Warn("Failed to cancel take-profit of orphaned position")
				m.Action += ", take-profit cancel failed"
			}
		}
		s.feed.Publish(feed.Event{Type: feed.EventOrphaned, PositionID: p.ID, Venue: p.Venue, Symbol: p.Symbol,
			Status: model.PositionStatusOrphaned, Message: m.Action})
	}
}
