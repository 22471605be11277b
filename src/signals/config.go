package signals

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Source is "http" (analyzer service) or "db" (analysis_signals table).
	Source      string        `envconfig:"SIGNAL_SOURCE" default:"db"`
	AnalyzerURL string        `envconfig:"ANALYZER_URL" default:"http://localhost:8090"`
	Timeout     time.Duration `envconfig:"ANALYZER_TIMEOUT" default:"20s"`
	MaxAge      time.Duration `envconfig:"SIGNAL_MAX_AGE" default:"5m"`
	Limit       int           `envconfig:"SIGNAL_LIMIT" default:"50"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
