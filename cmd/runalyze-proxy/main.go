package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/fx"

	"runalyze-proxy-go/internal/client"
	"runalyze-proxy-go/internal/config"
	"runalyze-proxy-go/internal/fetcher"
	"runalyze-proxy-go/internal/handler"
	"runalyze-proxy-go/internal/metrics"
	"runalyze-proxy-go/internal/server"
	"runalyze-proxy-go/internal/service"
	"runalyze-proxy-go/internal/snapshot"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kctx := kong.Parse(&cli,
		kong.Name("runalyze-proxy"),
		kong.Description("Resting heart rate proxy and snapshot fetcher for the Runalyze Personal API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	switch kctx.Command() {
	case "sync":
		if err := runSync(&cli); err != nil {
			fmt.Fprintln(os.Stderr, "sync:", err)
			os.Exit(1)
		}
	default:
		runServe(&cli)
	}
}

func runServe(cli *config.CLI) {
	fx.New(
		fx.Provide(
			func() *config.CLI { return cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			server.New,
			client.NewRunalyzeClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, server.RegisterMetrics, warnConfigPermissions, server.Start),
	).Run()
}

func runSync(cli *config.CLI) error {
	cfg, err := config.Load(cli)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	token, err := fetcher.ResolveToken(os.Getenv, ".env")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := snapshot.NewStore(cfg.Sync.OutputDir)
	f, err := fetcher.New(client.NewRunalyzeClient(cfg, logger, nil), store, cfg, token, logger)
	if err != nil {
		return err
	}

	logger.Info("starting sync",
		"output_dir", store.Dir(),
		"skip_details", cli.Sync.SkipDetails,
		"activities_only", cli.Sync.ActivitiesOnly,
	)
	res, err := f.Run(ctx, fetcher.Options{
		SkipDetails:    cli.Sync.SkipDetails,
		ActivitiesOnly: cli.Sync.ActivitiesOnly,
	})
	if err != nil {
		return err
	}

	logger.Info("sync complete", "last_updated", res.Metadata.LastUpdated, "counts", res.Counts)
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}
