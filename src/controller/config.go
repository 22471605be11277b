package controller

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"tradeexecutor"`
	// DustRatio is the share of a position's exposure below which a venue
	// balance counts as gone when looking for take-profit fill evidence.
	DustRatio float64 `envconfig:"TP_EVIDENCE_DUST_RATIO" default:"0.1"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
