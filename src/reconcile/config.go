package reconcile

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"tradeexecutor/src/model"
)

type Config struct {
	SpotTolerance    float64 `envconfig:"RECONCILE_SPOT_TOLERANCE" default:"0.10"`
	FuturesTolerance float64 `envconfig:"RECONCILE_FUTURES_TOLERANCE" default:"0.20"`
	// MissingRatio is the share of the recorded exposure under which the
	// venue holdings count as missing rather than short.
	MissingRatio float64 `envconfig:"RECONCILE_MISSING_RATIO" default:"0.01"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}

// Tolerance returns the accepted relative drift for a trade type.
func (c *Config) Tolerance(tradeType string) float64 {
	if tradeType == model.TradeTypeFutures {
		return c.FuturesTolerance
	}
	return c.SpotTolerance
}
