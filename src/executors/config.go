package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	LockBackendDB    = "db"
	LockBackendRedis = "redis"
)

type Config struct {
	LoopPeriod time.Duration `envconfig:"LOOP_PERIOD" default:"30s"`
	LockTTL    time.Duration `envconfig:"LOCK_TTL" default:"120s"`

	LockBackend   string `envconfig:"LOCK_BACKEND" default:"db"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	LockKey       string `envconfig:"LOCK_KEY" default:"tradeexecutor:loop"`

	ReconcileAutoFix bool `envconfig:"RECONCILE_AUTO_FIX" default:"true"`
	// QuoteAsset is the balance entries are paid from.
	QuoteAsset string `envconfig:"QUOTE_ASSET" default:"USDT"`
	// PaperBalance is the per-venue buying power in paper mode.
	PaperBalance float64 `envconfig:"PAPER_BALANCE" default:"10000"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
