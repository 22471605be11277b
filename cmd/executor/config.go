package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RunLoop starts the periodic trading loop alongside the HTTP API.
	RunLoop   bool `envconfig:"RUN_LOOP" default:"true"`
	ServeHTTP bool `envconfig:"SERVE_HTTP" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
