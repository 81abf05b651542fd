package application

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/sirupsen/logrus"
)

var ErrNoDatabase = errors.New("migrations require a database pool")

type schema struct {
	module string
	fsys   fs.FS
}

type migrationManager struct {
	pool    *pgxpool.Pool
	logger  *logrus.Logger
	schemas []schema
}

func NewMigrationManager(pool *pgxpool.Pool, logger *logrus.Logger) MigrationManager {
	return &migrationManager{pool: pool, logger: logger}
}

func (m *migrationManager) RegisterSchema(module string, fsys fs.FS) {
	m.schemas = append(m.schemas, schema{module: module, fsys: fsys})
}

func versionTable(module string) string {
	return fmt.Sprintf("goose_%s_version", module)
}

func (m *migrationManager) withProviders(ctx context.Context, fn func(module string, p *goose.Provider) error) error {
	if m.pool == nil {
		return ErrNoDatabase
	}
	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()

	for _, s := range m.schemas {
		store, err := database.NewStore(database.DialectPostgres, versionTable(s.module))
		if err != nil {
			return fmt.Errorf("failed to create migration store for %s: %w", s.module, err)
		}
		provider, err := goose.NewProvider("", db, s.fsys, goose.WithStore(store))
		if err != nil {
			return fmt.Errorf("failed to create migration provider for %s: %w", s.module, err)
		}
		if err := fn(s.module, provider); err != nil {
			return err
		}
	}
	return nil
}

func (m *migrationManager) Run(ctx context.Context) error {
	return m.withProviders(ctx, func(module string, p *goose.Provider) error {
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations for %s: %w", module, err)
		}
		for _, r := range results {
			m.logger.WithFields(logrus.Fields{
				"module":   module,
				"version":  r.Source.Version,
				"duration": r.Duration.String(),
			}).Info("applied migration")
		}
		return nil
	})
}

func (m *migrationManager) Versions(ctx context.Context) (map[string]int64, error) {
	versions := make(map[string]int64, len(m.schemas))
	err := m.withProviders(ctx, func(module string, p *goose.Provider) error {
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("failed to read schema version for %s: %w", module, err)
		}
		versions[module] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}
