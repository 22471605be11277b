package connectors

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	logger "github.com/sirupsen/logrus"
)

// PaperTrader simulates fills for paper mode. The random source is injected
// so tests can assert on deterministic slippage.
type PaperTrader struct {
	mu          sync.Mutex
	rng         *rand.Rand
	maxSlippage float64
	seq         atomic.Int64
}

func NewPaperTrader(rng *rand.Rand, maxSlippage float64) *PaperTrader {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &PaperTrader{rng: rng, maxSlippage: maxSlippage}
}

func (p *PaperTrader) slippage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() * p.maxSlippage
}

// Fill returns a simulated result. Market orders slip against the trader by a
// bounded random fraction; limit entries fill at their limit and reduce-only
// limits rest as new orders.
func (p *PaperTrader) Fill(venue string, req OrderRequest, market bool) *OrderResult {
	id := fmt.Sprintf("paper-%s-%d", venue, p.seq.Add(1))
	res := &OrderResult{
		OrderID:       id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        OrderStatusFilled,
		Paper:         true,
	}

	switch {
	case market:
		slip := p.slippage()
		if req.Side == SideBuy {
			res.Price = req.Price * (1 + slip)
		} else {
			res.Price = req.Price * (1 - slip)
		}
	case req.ReduceOnly:
		res.Status = OrderStatusNew
	}

	logger.WithFields(logger.Fields{
		"venue":  venue,
		"symbol": req.Symbol,
		"side":   req.Side,
		"qty":    res.Quantity,
		"price":  res.Price,
		"status": res.Status,
	}).Debug("paper order simulated")

	return res
}
