package connectors

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"
)

// PublicPriceSource returns last traded prices without credentials. The
// venue's own quote is preferred; the Binance public ticker is the fallback.
type PublicPriceSource struct {
	registry *Registry
	binance  binanceSpotAPI
}

func NewPublicPriceSource(registry *Registry, binanceEndpoint string) *PublicPriceSource {
	return &PublicPriceSource{
		registry: registry,
		binance:  newBinanceAPI("", "", binanceEndpoint),
	}
}

func (s *PublicPriceSource) LastPrice(ctx context.Context, venue, symbol, tradeType string) (float64, error) {
	if s.registry != nil {
		if gw, err := s.registry.Get(venue); err == nil {
			if q, ok := gw.(PriceQuoter); ok {
				price, qerr := q.LastPrice(ctx, symbol, tradeType)
				if qerr == nil {
					return price, nil
				}
				logger.WithFields(logger.Fields{
					"venue":  venue,
					"symbol": symbol,
				}).WithError(qerr).Warn("venue price unavailable, using public ticker")
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	pair, err := binancePair(usdtQuoted(symbol))
	if err != nil {
		return 0, err
	}
	t, err := s.binance.GetTicker(pair)
	if err != nil {
		return 0, fmt.Errorf("public ticker %s: %w", pair.String(), err)
	}
	if t.Last <= 0 {
		return 0, fmt.Errorf("invalid public price for %s", pair.String())
	}
	return t.Last, nil
}

// usdtQuoted maps USD quoted futures symbols onto the Binance USDT market.
func usdtQuoted(symbol string) string {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return symbol
	}
	if quote == "USD" {
		quote = "USDT"
	}
	return base + "/" + quote
}
