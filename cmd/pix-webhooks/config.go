package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	httptransport "github.com/goliatone/go-pix-webhooks/transport/http"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	envPrefix = "PIX_"
)

var DefaultConfig = []byte(`
application: "pix-webhooks"
is_prod_mode: false

logger:
  level: "info"
  encoding: "logfmt"

server:
  addr: ":8080"
  read_timeout: "10s"
  write_timeout: "30s"
  idle_timeout: "60s"
  shutdown_timeout: "15s"

storage:
  driver: "memory"
  dsn: ""
  debug: false
  ping_timeout: "5s"
  auto_migrate: true

redis:
  enabled: false
  addr: "localhost:6379"
  password: ""
  db: 0
  prefix: "pix"
  lock_lease: "30s"

mongo:
  enabled: false
  uri: "mongodb://localhost:27017"
  database: "pix_webhooks"
  collection: "audit_entries"

nats:
  enabled: false
  url: "nats://localhost:4222"
  notice_subject: "pix.webhooks.notices"
  job_subject: "pix.webhooks.jobs"
  job_group: "pix-webhooks-workers"
  job_max_attempts: 5
  job_retry_delay: "5s"

webhooks:
  service_name: "pix-webhooks"
`)

type AppConfig struct {
	Application string                     `koanf:"application"`
	IsProdMode  bool                       `koanf:"is_prod_mode"`
	Logger      LoggerConfig               `koanf:"logger"`
	Server      httptransport.ServerConfig `koanf:"server"`
	Storage     StorageConfig              `koanf:"storage"`
	Redis       RedisConfig                `koanf:"redis"`
	Mongo       MongoConfig                `koanf:"mongo"`
	NATS        NATSConfig                 `koanf:"nats"`
}

type LoggerConfig struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
}

type StorageConfig struct {
	Driver      string        `koanf:"driver"`
	DSN         string        `koanf:"dsn"`
	Debug       bool          `koanf:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout"`
	AutoMigrate bool          `koanf:"auto_migrate"`
}

// StorageConfig doubles as the go-persistence-bun client config.
func (c StorageConfig) GetDebug() bool                { return c.Debug }
func (c StorageConfig) GetDriver() string             { return c.sqlDriver() }
func (c StorageConfig) GetServer() string             { return c.DSN }
func (c StorageConfig) GetPingTimeout() time.Duration { return c.PingTimeout }
func (c StorageConfig) GetOtelIdentifier() string     { return "pix-webhooks" }

func (c StorageConfig) sqlDriver() string {
	if c.Driver == DriverSQLite {
		return "sqlite3"
	}
	return c.Driver
}

func (c StorageConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverMemory, DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.When(c.Driver != DriverMemory, validation.Required)),
	)
}

// RedisConfig.LockLease is the key lock TTL. Holders refresh it while a flow
// runs, so it only bounds how long a crashed instance keeps a key locked.
type RedisConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Addr      string        `koanf:"addr"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db"`
	Prefix    string        `koanf:"prefix"`
	LockLease time.Duration `koanf:"lock_lease"`
}

func (c RedisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.DB, validation.Min(0)),
		validation.Field(&c.LockLease, validation.When(c.Enabled, validation.Required, validation.Min(time.Second))),
	)
}

type MongoConfig struct {
	Enabled    bool   `koanf:"enabled"`
	URI        string `koanf:"uri"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
}

func (c MongoConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URI, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Database, validation.When(c.Enabled, validation.Required)),
	)
}

type NATSConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	NoticeSubject  string        `koanf:"notice_subject"`
	JobSubject     string        `koanf:"job_subject"`
	JobGroup       string        `koanf:"job_group"`
	JobMaxAttempts int           `koanf:"job_max_attempts"`
	JobRetryDelay  time.Duration `koanf:"job_retry_delay"`
}

func (c NATSConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.JobMaxAttempts, validation.Min(0)),
	)
}

func (c AppConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Application, validation.Required),
		validation.Field(&c.Logger),
		validation.Field(&c.Storage),
		validation.Field(&c.Redis),
		validation.Field(&c.Mongo),
		validation.Field(&c.NATS),
	)
}

func (c LoggerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
	)
}

// LoadConfig layers the embedded defaults, the YAML file at path (skipped when
// missing) and PIX_ environment variables. Nested keys use a double
// underscore: PIX_STORAGE__DRIVER=sqlite.
func LoadConfig(path string) (*koanf.Koanf, AppConfig, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(DefaultConfig), yaml.Parser()); err != nil {
		return nil, AppConfig{}, fmt.Errorf("load default config: %w", err)
	}
	if path = strings.TrimSpace(path); path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, AppConfig{}, fmt.Errorf("load config %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, AppConfig{}, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, AppConfig{}, fmt.Errorf("load env config: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, AppConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return k, cfg, nil
}

func envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, envPrefix))
	return strings.ReplaceAll(name, "__", ".")
}
