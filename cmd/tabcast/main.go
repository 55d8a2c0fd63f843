package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tabcast/relay/internal/config"
	"github.com/tabcast/relay/internal/driver"
	"github.com/tabcast/relay/internal/frontend"
	"github.com/tabcast/relay/internal/metrics"
	"github.com/tabcast/relay/internal/monitor"
	"github.com/tabcast/relay/internal/session"
	"github.com/tabcast/relay/internal/ws"
)

const defaultConfigPath = "tabcast.yaml"

func main() {
	root := &cli.Command{
		Name:      "tabcast",
		Usage:     "Stream a browser tab to WebSocket viewers and relay their input back",
		ArgsUsage: "[url]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   defaultConfigPath,
				Sources: cli.EnvVars("TABCAST_CONFIG"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override server port",
				Sources: cli.EnvVars("TABCAST_PORT"),
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Initial URL to open",
			},
			&cli.StringFlag{
				Name:    "cdp-url",
				Usage:   "Attach to a running browser (ws:// URL, http:// endpoint or port) instead of launching one",
				Sources: cli.EnvVars("TABCAST_CDP_URL"),
			},
			&cli.BoolFlag{
				Name:  "mock",
				Usage: "Use a synthetic in-memory browser",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "static-dir",
				Usage: "Serve the viewer page from this directory instead of the embedded copy",
			},
		},
		Action: run,
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Collector
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	d, closeDriver, err := newDriver(ctx, cfg, cmd.Bool("mock"), logger)
	if err != nil {
		return err
	}
	defer closeDriver()

	queue := session.NewQueue(cfg.Relay.QueueCapacity)
	bus := session.NewBus()
	if cfg.Browser.InitialURL != "" {
		queue.TryEnqueue(session.Navigate{URL: cfg.Browser.InitialURL})
	}

	loop := session.NewLoop(d, queue, bus, session.LoopConfig{
		TickInterval:     cfg.Relay.TickInterval,
		FailureThreshold: cfg.Relay.FailureThreshold,
	}, m, logger.WithPrefix("relay"))

	registry := ws.NewRegistry(bus, cfg.Server.MaxViewers, m)
	server := ws.NewServer(cfg, bus, queue, registry, m, logger.WithPrefix("ws"))
	if cfg.Server.StaticDir != "" {
		server.SetStatic(frontend.DirHandler(cfg.Server.StaticDir))
	} else {
		server.SetStatic(frontend.Handler())
	}
	server.SetProcessSampler(monitor.SelfSampler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}

// loadConfig reads the config file and applies flag overrides. A missing
// default config file is not an error.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.IsSet("config") {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}

	if cmd.IsSet("port") {
		cfg.Server.Port = cmd.Int("port")
	}
	if u := cmd.String("url"); u != "" {
		cfg.Browser.InitialURL = u
	}
	if u := cmd.Args().First(); u != "" {
		cfg.Browser.InitialURL = u
	}
	if u := cmd.String("cdp-url"); u != "" {
		cfg.Browser.CDPURL = u
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if dir := cmd.String("static-dir"); dir != "" {
		cfg.Server.StaticDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	if cfg.Format == "json" {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger, nil
}

func newDriver(ctx context.Context, cfg *config.Config, mock bool, logger *log.Logger) (session.Driver, func(), error) {
	if mock {
		logger.Info("using mock browser", "width", cfg.Browser.Width, "height", cfg.Browser.Height)
		return driver.NewMock(cfg.Browser.Width, cfg.Browser.Height), func() {}, nil
	}

	chrome, err := driver.NewChrome(ctx, driver.ChromeConfig{
		CDPURL:      cfg.Browser.CDPURL,
		ChromePath:  cfg.Browser.ChromePath,
		Headless:    cfg.Browser.Headless,
		Width:       cfg.Browser.Width,
		Height:      cfg.Browser.Height,
		CallTimeout: cfg.Browser.CallTimeout,
	}, logger.WithPrefix("chrome"))
	if err != nil {
		return nil, nil, fmt.Errorf("start browser: %w", err)
	}
	return chrome, chrome.Close, nil
}
