package pnl

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SpotFeeRate    float64 `envconfig:"SPOT_FEE_RATE" default:"0.001"`
	FuturesFeeRate float64 `envconfig:"FUTURES_FEE_RATE" default:"0.0005"`
	FundingFeeRate float64 `envconfig:"FUNDING_FEE_RATE" default:"0.0001"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
