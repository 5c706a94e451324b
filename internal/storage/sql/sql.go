package sql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelsql"

	// import the postgres driver - "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"

	// import the sqlite driver - "sqlite"
	_ "modernc.org/sqlite"

	"github.com/model-forge/model-forge/internal/abstractions"
	"github.com/model-forge/model-forge/internal/constants"
)

const (
	// These are the only drivers currently supported
	SQLITE_DRIVER   = "sqlite"
	POSTGRES_DRIVER = "pgx"

	TABLE_PIPELINE_RUNS = "pipeline_runs"
	TABLE_STAGE_EVENTS  = "stage_events"
)

type SQLStorage struct {
	config *DatabaseConfig
	pool   *sql.DB
	logger *slog.Logger
	ctx    context.Context
}

// NewStorage opens the pool through otelsql, checks that the database answers
// and creates the run tables when they are missing.
func NewStorage(raw map[string]any, logger *slog.Logger) (abstractions.Storage, error) {
	conf, err := decodeDatabaseConfig(raw)
	if err != nil {
		return nil, err
	}
	system, err := conf.dbSystem()
	if err != nil {
		return nil, err
	}

	// the url can carry credentials so it is never logged
	logger.Info("Opening the run store", "driver", conf.Driver, "database", conf.DatabaseName)
	pool, err := otelsql.Open(conf.Driver, conf.dataSourceName(),
		otelsql.WithDBSystem(system),
		otelsql.WithDBName(conf.DatabaseName),
	)
	if err != nil {
		return nil, newStorageErrorWithError(err, "failed to open the %s database", conf.Driver)
	}
	conf.applyPoolLimits(pool)

	storage := &SQLStorage{
		config: conf,
		pool:   pool,
		logger: logger,
		ctx:    context.Background(),
	}
	if err := storage.Ping(conf.PingTimeout); err != nil {
		_ = pool.Close()
		return nil, newStorageErrorWithError(err, "the %s database did not answer", conf.Driver)
	}
	if err := storage.ensureSchema(); err != nil {
		_ = pool.Close()
		return nil, newStorageErrorWithError(err, "failed to create the run tables")
	}
	logger.Debug("Run store ready", "driver", conf.Driver)
	return storage, nil
}

func (c *DatabaseConfig) dataSourceName() string {
	if c.Driver != SQLITE_DRIVER || c.BusyTimeout <= 0 {
		return c.URL
	}
	separator := "?"
	if strings.Contains(c.URL, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", c.URL, separator, c.BusyTimeout.Milliseconds())
}

// zero values keep the database/sql defaults
func (c *DatabaseConfig) applyPoolLimits(pool *sql.DB) {
	if c.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
}

func (s *SQLStorage) Ping(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return s.pool.PingContext(ctx)
}

func (s *SQLStorage) GetDatasourceName() string {
	return s.config.Driver
}

// WithLogger returns a storage sharing the same pool that logs to logger.
func (s *SQLStorage) WithLogger(logger *slog.Logger) abstractions.Storage {
	return &SQLStorage{
		config: s.config,
		pool:   s.pool,
		logger: logger.With(constants.LOG_DATASOURCE, s.config.Driver),
		ctx:    s.ctx,
	}
}

// WithContext returns a storage sharing the same pool that runs its statements under ctx.
func (s *SQLStorage) WithContext(ctx context.Context) abstractions.Storage {
	return &SQLStorage{
		config: s.config,
		pool:   s.pool,
		logger: s.logger,
		ctx:    ctx,
	}
}

func (s *SQLStorage) exec(query string, args ...any) (sql.Result, error) {
	return s.pool.ExecContext(s.ctx, query, args...)
}

func (s *SQLStorage) ensureSchema() error {
	schemas, err := schemasForDriver(s.config.Driver)
	if err != nil {
		return err
	}
	_, err = s.exec(schemas)
	return err
}

func (s *SQLStorage) Close() error {
	return s.pool.Close()
}
