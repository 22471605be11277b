package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BinanceBaseURL string `envconfig:"BINANCE_BASE_URL" default:""`
	PhemexBaseURL  string `envconfig:"PHEMEX_BASE_URL" default:"https://api.phemex.com"`
	KrakenBaseURL  string `envconfig:"KRAKEN_BASE_URL" default:"https://futures.kraken.com/derivatives"`
	KucoinSpotURL  string `envconfig:"KUCOIN_SPOT_BASE_URL" default:"https://api.kucoin.com"`
	KucoinFutURL   string `envconfig:"KUCOIN_FUTURES_BASE_URL" default:"https://api-futures.kucoin.com"`

	PaperSlippageMax float64 `envconfig:"PAPER_SLIPPAGE_MAX" default:"0.0005"`
	// PaperRandomSeed of 0 seeds from the clock.
	PaperRandomSeed int64 `envconfig:"PAPER_RANDOM_SEED" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
