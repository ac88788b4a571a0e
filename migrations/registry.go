// Package migrations hands the embedded webhook schema to a SQL migration
// runner, one filesystem per dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	pixwebhooks "github.com/goliatone/go-pix-webhooks"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	DefaultSourceLabel = "go-pix-webhooks"

	rootDir   = "data/sql/migrations"
	sqliteDir = "sqlite"
)

// Tables lists the schema tables in creation order.
var Tables = []string{
	"pix_idempotency_records",
	"pix_retry_entries",
	"pix_payments",
	"pix_entitlements",
	"pix_orders",
	"pix_audit_entries",
}

// Source is the migration tree of one dialect. Ups holds the *.up.sql file
// names in lexical order.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
	Ups     []string
}

type Registration struct {
	SourceLabel string
	Registered  []string
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*registerConfig)

type registerConfig struct {
	label   string
	targets []string
	root    fs.FS
}

func WithDialectSourceLabel(label string) Option {
	return func(c *registerConfig) {
		if label = strings.TrimSpace(label); label != "" {
			c.label = label
		}
	}
}

// WithValidationTargets restricts registration to the given dialects.
func WithValidationTargets(targets ...string) Option {
	return func(c *registerConfig) {
		for _, target := range targets {
			if target = normalize(target); target != "" && !slices.Contains(c.targets, target) {
				c.targets = append(c.targets, target)
			}
		}
	}
}

// WithRoot swaps the embedded tree, mainly for tests.
func WithRoot(root fs.FS) Option {
	return func(c *registerConfig) {
		if root != nil {
			c.root = root
		}
	}
}

// DialectFor maps a database/sql driver name onto a migration dialect.
func DialectFor(driver string) (string, error) {
	switch normalize(driver) {
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: no schema for driver %q", driver)
	}
}

// Filesystems resolves the postgres tree at data/sql/migrations and the
// sqlite tree below it. Either tree without up migrations is an error.
func Filesystems(root ...fs.FS) ([]Source, error) {
	tree := pixwebhooks.GetMigrationsFS()
	if len(root) > 0 && root[0] != nil {
		tree = root[0]
	}
	base, err := fs.Sub(tree, rootDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", rootDir, err)
	}
	sqliteFS, err := fs.Sub(base, sqliteDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s/%s: %w", rootDir, sqliteDir, err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: rootDir, FS: base},
		{Dialect: DialectSQLite, Path: rootDir + "/" + sqliteDir, FS: sqliteFS},
	}
	for i := range sources {
		ups, err := fs.Glob(sources[i].FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: list %s: %w", sources[i].Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s has no up migrations", sources[i].Path)
		}
		slices.Sort(ups)
		sources[i].Ups = ups
	}
	return sources, nil
}

// Register calls registerFn once per targeted dialect. Without targets both
// dialects are registered.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	cfg := registerConfig{label: DefaultSourceLabel}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	reg := Registration{SourceLabel: cfg.label}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	for _, target := range cfg.targets {
		if target != DialectPostgres && target != DialectSQLite {
			return reg, fmt.Errorf("migrations: unknown dialect %q", target)
		}
	}

	sources, err := Filesystems(cfg.root)
	if err != nil {
		return reg, err
	}
	for _, source := range sources {
		if len(cfg.targets) > 0 && !slices.Contains(cfg.targets, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, reg.SourceLabel, source.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
		reg.Registered = append(reg.Registered, source.Dialect)
	}
	return reg, nil
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
