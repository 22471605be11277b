package risk

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SessionNoTradeWindow bool `envconfig:"SESSION_NO_TRADE_WINDOW" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// SessionSizing returns the default session multipliers with the no-trade
// window toggled from the environment.
func (c Config) SessionSizing() *SessionSizeConfig {
	cfg := DefaultSessionSizeConfig()
	cfg.EnableNoTradeWindow = c.SessionNoTradeWindow
	return cfg
}
