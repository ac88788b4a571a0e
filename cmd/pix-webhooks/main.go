// Command pix-webhooks serves the PIX gateway webhook endpoint and runs the
// maintenance operations (migrate, drain, sweep, stats) against the same
// storage.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gin-gonic/gin"
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-pix-webhooks/adapters/gocommand"
	"github.com/goliatone/go-pix-webhooks/adapters/gologger"
	pixcommand "github.com/goliatone/go-pix-webhooks/command"
	pixquery "github.com/goliatone/go-pix-webhooks/query"
	httptransport "github.com/goliatone/go-pix-webhooks/transport/http"
	"github.com/goliatone/go-pix-webhooks/webhooks"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var (
	cli        = kingpin.New("pix-webhooks", "PIX payment gateway webhook processor.")
	configPath = cli.Flag("config", "Path to the application config file").Short('c').Default("config.yml").String()

	serveCmd   = cli.Command("serve", "Serve the webhook endpoint and run the retry drainer.").Default()
	migrateCmd = cli.Command("migrate", "Apply SQL migrations for the configured storage driver.")
	drainCmd   = cli.Command("drain", "Replay every due retry once.")
	sweepCmd   = cli.Command("sweep", "Remove expired idempotency records.")
	statsCmd   = cli.Command("stats", "Print processing statistics as JSON.")
)

func main() {
	_ = godotenv.Load()
	selected := kingpin.MustParse(cli.Parse(os.Args[1:]))

	k, cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger, err := gologger.NewZapLogger(gologger.ZapConfig{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
		Service:  cfg.Application,
	})
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if selected == migrateCmd.FullCommand() {
		if err := runMigrate(ctx, cfg); err != nil {
			logger.Fatal("migration failed", "error", err)
		}
		logger.Info("migrations applied", "driver", cfg.Storage.Driver)
		return
	}

	app, err := NewApp(ctx, k, cfg, logger)
	if err != nil {
		logger.Fatal("cannot build application", "error", err)
	}
	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("close application", "error", err)
		}
	}()

	subscriptions, err := app.RegisterHandlers()
	if err != nil {
		logger.Fatal("cannot register command handlers", "error", err)
	}
	defer release(subscriptions)

	switch selected {
	case serveCmd.FullCommand():
		err = runServe(ctx, app)
	case drainCmd.FullCommand():
		err = runDrain(ctx)
	case sweepCmd.FullCommand():
		err = runSweep(ctx)
	case statsCmd.FullCommand():
		err = runStats(ctx)
	}
	if err != nil {
		logger.Error("command failed", "command", selected, "error", err)
		os.Exit(1)
	}
}

func runMigrate(ctx context.Context, cfg AppConfig) error {
	client, err := OpenPersistence(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer client.Close()
	return Migrate(ctx, client, cfg.Storage)
}

func runServe(ctx context.Context, app *App) error {
	if app.Config.IsProdMode {
		gin.SetMode(gin.ReleaseMode)
	}
	handler, err := httptransport.NewHandler(app.Runtime.Coordinator(),
		httptransport.WithLogger(app.ComponentLogger("http")),
		httptransport.WithMaxBodyBytes(app.Runtime.Config().Security.MaxRequestBytes),
	)
	if err != nil {
		return err
	}
	server := httptransport.NewServer(app.Config.Server, handler)

	runner, err := app.Runtime.RetryRunner()
	if err != nil {
		return err
	}
	consumer, err := app.NoticeConsumer()
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		app.Logger.Info("http server listening", "addr", server.Addr())
		return server.Run(ctx)
	})
	group.Go(func() error {
		return ignoreCanceled(runner.Run(ctx))
	})
	if consumer != nil {
		group.Go(func() error {
			return ignoreCanceled(consumer.Run(ctx))
		})
	}
	return group.Wait()
}

func runDrain(ctx context.Context) error {
	collector := gocmd.NewResult[webhooks.DrainStats]()
	if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), pixcommand.DrainRetriesMessage{}); err != nil {
		return err
	}
	stats, _ := collector.Load()
	return printJSON(stats)
}

func runSweep(ctx context.Context) error {
	collector := gocmd.NewResult[pixcommand.SweepResult]()
	if err := gocommand.Dispatch(gocmd.ContextWithResult(ctx, collector), pixcommand.SweepIdempotencyMessage{}); err != nil {
		return err
	}
	result, _ := collector.Load()
	return printJSON(result)
}

func runStats(ctx context.Context) error {
	stats, err := gocommand.Query[pixquery.StatsMessage, webhooks.Stats](ctx, pixquery.StatsMessage{})
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
