package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradeexecutor/cmd/executor"
	"tradeexecutor/cmd/keys"
	"tradeexecutor/src/database"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/security"
)

var Version string

func main() {
	// A local .env is optional; real environment variables win.
	_ = godotenv.Load()
	SetupLogger()

	app := cli.NewApp()
	app.Name = "tradeexecutor"
	app.Usage = "Trade execution and position reconciliation engine"
	app.Version = Version

	app.Commands = []cli.Command{
		executorCMD,
		cycleCMD,
		reconcileCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SetupLogger reads LOG_LEVEL and LOG_FORMAT (text or json).
func SetupLogger() {
	level, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

var (
	executorCMD = cli.Command{
		Name:        "executor",
		Usage:       "run the trading loop and HTTP API",
		Action:      executorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the periodic cycle loop, the HTTP endpoints and the position feed`,
	}
	cycleCMD = cli.Command{
		Name:        "cycle",
		Usage:       "run one trading cycle",
		Action:      cycleAction,
		Description: `Run a single cycle and print the result as JSON`,
	}
	reconcileCMD = cli.Command{
		Name:   "reconcile",
		Usage:  "compare stored positions with venue holdings",
		Action: reconcileAction,
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "auto-fix", Usage: "orphan missing positions and resize drifted ones"},
		},
	}
	keysCMD = cli.Command{
		Name:   "keys",
		Usage:  "store encrypted venue credentials",
		Action: keysAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "venue", Usage: "binance, kucoin, phemex or kraken"},
			cli.StringFlag{Name: "key", Usage: "API key"},
			cli.StringFlag{Name: "secret", Usage: "API secret"},
			cli.StringFlag{Name: "passphrase", Usage: "API passphrase (kucoin)"},
			cli.StringFlag{Name: "trade-type", Value: "spot", Usage: "default trade type"},
			cli.StringFlag{Name: "base-url", Usage: "override the venue endpoint"},
			cli.StringFlag{Name: "connect", Usage: "on or off; alone, toggles a venue that already has keys"},
		},
	}
)

func executorAction(_ *cli.Context) error {
	logrus.WithField("cmd", "executor").Info("Starting executor CMD")

	e := &executor.Executor{}
	if err := e.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func cycleAction(_ *cli.Context) error {
	logrus.WithField("cmd", "cycle").Info("Running one cycle")
	return (&executor.Executor{}).RunOnce(os.Stdout)
}

func reconcileAction(c *cli.Context) error {
	logrus.WithField("cmd", "reconcile").Info("Running reconciliation")
	return (&executor.Executor{}).Reconcile(os.Stdout, c.Bool("auto-fix"))
}

func keysAction(c *cli.Context) error {
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}
	ctx := context.Background()
	store := repository.NewVenueConnectionRepository()

	connect := keys.GetConfig().Connect
	switch strings.ToLower(c.String("connect")) {
	case "on":
		connect = true
	case "off":
		connect = false
	case "":
	default:
		return fmt.Errorf("--connect must be on or off")
	}

	if c.String("key") == "" && c.String("secret") == "" && c.String("connect") != "" {
		return keys.SetConnected(ctx, store, c.String("venue"), connect)
	}

	cipher, err := security.FromEnv()
	if err != nil {
		return err
	}
	return keys.SetKey(ctx, store, cipher, keys.KeyInput{
		Venue:      c.String("venue"),
		APIKey:     c.String("key"),
		APISecret:  c.String("secret"),
		Passphrase: c.String("passphrase"),
		TradeType:  c.String("trade-type"),
		BaseURL:    c.String("base-url"),
	}, connect)
}
