package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	pixwebhooks "github.com/goliatone/go-pix-webhooks"
	"github.com/goliatone/go-pix-webhooks/adapters/gocommand"
	"github.com/goliatone/go-pix-webhooks/adapters/gojob"
	"github.com/goliatone/go-pix-webhooks/adapters/gologger"
	natsadapter "github.com/goliatone/go-pix-webhooks/adapters/nats"
	"github.com/goliatone/go-pix-webhooks/core"
	pixmigrations "github.com/goliatone/go-pix-webhooks/migrations"
	mongostore "github.com/goliatone/go-pix-webhooks/store/mongo"
	redisstore "github.com/goliatone/go-pix-webhooks/store/redis"
	sqlstore "github.com/goliatone/go-pix-webhooks/store/sql"
	"github.com/knadh/koanf"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// App holds the runtime and every connection opened for it. Close releases
// them in reverse order.
type App struct {
	Config  AppConfig
	Logger  *gologger.ZapLogger
	Runtime *pixwebhooks.Runtime

	loggers *gologger.ZapProvider
	jobs    *natsadapter.JobQueue
	closers []func(context.Context) error
}

func NewApp(ctx context.Context, k *koanf.Koanf, cfg AppConfig, logger *gologger.ZapLogger) (*App, error) {
	app := &App{Config: cfg, Logger: logger, loggers: gologger.NewZapProvider(logger)}
	built, err := app.build(ctx, k)
	if err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return built, nil
}

func (a *App) build(ctx context.Context, k *koanf.Koanf) (*App, error) {
	cfg := a.Config
	webhooksCfg := pixwebhooks.DefaultConfig()

	backends, err := a.storageBackends(ctx, webhooksCfg)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return client.Close() })
		backends, err = pixwebhooks.WithRedis(backends, client, cfg.Redis.Prefix,
			redisstore.WithLeaseTTL(cfg.Redis.LockLease),
			redisstore.WithLockerLogger(a.ComponentLogger("redis")),
		)
		if err != nil {
			return nil, err
		}
		a.Logger.Info("redis backends enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix, "lock_lease", cfg.Redis.LockLease)
	}

	hooks := pixwebhooks.NewExtensionHooks()
	if cfg.Mongo.Enabled {
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.onClose(client.Disconnect)
		writer, err := mongostore.NewAuditWriter(client, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return nil, err
		}
		if err := hooks.RegisterAuditSink("mongo", writer); err != nil {
			return nil, err
		}
	}
	if cfg.NATS.Enabled {
		if err := a.wireNATS(hooks); err != nil {
			return nil, err
		}
	}
	if names := hooks.Names(); len(names) > 0 {
		a.Logger.Info("extension sinks registered", "sinks", names)
	}

	provider := core.NewCfgxConfigProvider(core.StaticRawConfigLoader{Values: k.Cut("webhooks").Raw()})
	runtime, err := pixwebhooks.Setup(ctx, provider, pixwebhooks.Config{},
		pixwebhooks.WithLogger(a.ComponentLogger("webhooks")),
		pixwebhooks.WithBackends(backends),
		pixwebhooks.WithExtensionHooks(hooks),
	)
	if err != nil {
		return nil, err
	}
	a.Runtime = runtime
	return a, nil
}

func (a *App) storageBackends(ctx context.Context, webhooksCfg pixwebhooks.Config) (pixwebhooks.Backends, error) {
	storage := a.Config.Storage
	if storage.Driver == DriverMemory {
		backends, _ := pixwebhooks.MemoryBackends(webhooksCfg)
		a.Logger.Warn("memory storage selected, state is lost on restart")
		return backends, nil
	}
	client, err := OpenPersistence(ctx, storage)
	if err != nil {
		return pixwebhooks.Backends{}, err
	}
	a.onClose(func(context.Context) error { return client.Close() })
	if storage.AutoMigrate {
		if err := Migrate(ctx, client, storage); err != nil {
			return pixwebhooks.Backends{}, err
		}
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return pixwebhooks.Backends{}, err
	}
	return pixwebhooks.SQLBackends(factory)
}

// wireNATS publishes internal notices on NATS and routes client
// confirmations through go-job messages on a NATS queue group.
func (a *App) wireNATS(hooks *pixwebhooks.ExtensionHooks) error {
	cfg := a.Config.NATS
	conn, err := natsadapter.Connect(cfg.URL, a.Config.Application)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	a.onClose(func(context.Context) error {
		return conn.Drain()
	})

	publisher, err := natsadapter.NewNoticePublisher(conn, cfg.NoticeSubject, a.ComponentLogger("nats"), nil)
	if err != nil {
		return err
	}
	if err := hooks.RegisterNotifier("nats", publisher); err != nil {
		return err
	}

	jobs, err := natsadapter.NewJobQueue(conn, cfg.JobSubject, cfg.JobGroup)
	if err != nil {
		return err
	}
	a.jobs = jobs
	a.onClose(func(context.Context) error { return jobs.Close() })
	return hooks.RegisterConfirmationSender("jobs", gojob.NewNoticeEnqueuer(jobs))
}

// NoticeConsumer returns nil when NATS is disabled.
func (a *App) NoticeConsumer() (*gojob.NoticeConsumer, error) {
	if a.jobs == nil {
		return nil, nil
	}
	logger := a.ComponentLogger("jobs")
	handler := func(_ context.Context, jobID string, notice core.Notice) error {
		logger.Info("client confirmation dispatched",
			"job_id", jobID,
			"transaction_id", notice.TransactionID,
			"amount", notice.Amount,
		)
		return nil
	}
	return gojob.NewNoticeConsumer(a.jobs, handler,
		gojob.RetryPolicy{
			MaxAttempts:     a.Config.NATS.JobMaxAttempts,
			MaxDelay:        a.Config.NATS.JobRetryDelay * 10,
			DeadLetterOnMax: true,
		},
		gojob.WithHook(gojob.NewLoggingHook(logger, nil)),
		gojob.WithRetryDelay(a.Config.NATS.JobRetryDelay),
	)
}

// RegisterHandlers exposes the runtime on the go-command dispatcher.
func (a *App) RegisterHandlers() ([]commanddispatcher.Subscription, error) {
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	subscriptions, err := gocommand.RegisterWebhookHandlers(adapter, gocommand.WebhookHandlers{
		Coordinator: a.Runtime.Coordinator(),
		Sweeper:     a.Runtime.Store(),
		Records:     a.Runtime.Store(),
	})
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(); err != nil {
		release(subscriptions)
		return nil, err
	}
	return subscriptions, nil
}

// ComponentLogger returns the named child of the root logger.
func (a *App) ComponentLogger(name string) glog.Logger {
	_, logger := gologger.Resolve(name, a.loggers, a.Logger)
	return logger
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func release(subscriptions []commanddispatcher.Subscription) {
	for _, subscription := range subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// OpenPersistence opens the SQL database for the sqlite or postgres driver.
func OpenPersistence(_ context.Context, cfg StorageConfig) (*persistence.Client, error) {
	var dialect schema.Dialect
	switch cfg.Driver {
	case DriverSQLite:
		dialect = sqlitedialect.New()
	case DriverPostgres:
		dialect = pgdialect.New()
	default:
		return nil, fmt.Errorf("storage driver %q has no sql database", cfg.Driver)
	}
	sqlDB, err := sql.Open(cfg.sqlDriver(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	return client, nil
}

// Migrate registers the embedded migrations for the configured dialect and
// applies them.
func Migrate(ctx context.Context, client *persistence.Client, cfg StorageConfig) error {
	target, err := pixmigrations.DialectFor(cfg.sqlDriver())
	if err != nil {
		return err
	}
	_, err = pixmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == target {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, pixmigrations.WithValidationTargets(target))
	if err != nil {
		return fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
