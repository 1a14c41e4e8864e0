package dbinfra

import (
	"context"
	"database/sql"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-facetcache/logger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config holds the connection settings of the bun backed database.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	LogQueries      bool
}

// DefaultConfig returns an in-memory sqlite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DSN:          "file::memory:?cache=shared",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// Validate checks the connection settings.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverMySQL, DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
		validation.Field(&c.MaxIdleConns, validation.Min(0)),
		validation.Field(&c.ConnMaxLifetime, validation.Min(time.Duration(0))),
		validation.Field(&c.ConnMaxIdleTime, validation.Min(time.Duration(0))),
	)
}

// Exec is one statement of a batch.
type Exec struct {
	Query       string
	Args        []any
	Conditional bool
}

// DB runs raw statements through bun.
type DB struct {
	db  *bun.DB
	log logger.Logger
}

var errNotApplied = errors.New("conditional statement affected no rows", errors.CategoryConflict)

// Open connects to the configured database.
func Open(cfg Config, log logger.Logger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid database config")
	}
	if log == nil {
		log = logger.NopLogger
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "open "+cfg.Driver)
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	db := bun.NewDB(sqldb, newDialect(cfg.Driver))

	if cfg.LogQueries {
		db.AddQueryHook(&queryLogger{log: log})
	}

	return &DB{db: db, log: log}, nil
}

// Offline returns a bun database without a connection, usable only to build
// queries. MySQL is refused because its dialect queries the server version on
// construction.
func Offline(driver string) (*bun.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return bun.NewDB(nil, newDialect(driver)), nil
	case DriverMySQL:
		return nil, errors.New("mysql statements need an open database", errors.CategoryBadInput).
			WithTextCode("DIALECT_NEEDS_CONNECTION")
	default:
		return nil, errors.New("unknown driver "+driver, errors.CategoryBadInput).
			WithTextCode("UNKNOWN_DRIVER")
	}
}

func newDialect(driver string) schema.Dialect {
	switch driver {
	case DriverMySQL:
		return mysqldialect.New()
	case DriverPostgres:
		return pgdialect.New()
	default:
		return sqlitedialect.New()
	}
}

// Bun exposes the underlying bun database.
func (d *DB) Bun() *bun.DB {
	return d.db
}

// Exec runs a statement outside of any batch, for example DDL.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

// Query runs a read statement and scans every row into a map.
func (d *DB) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]interface{}
	if err := d.db.ScanRows(ctx, rows, &out); err != nil {
		return nil, err
	}

	for _, row := range out {
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
	}
	return out, nil
}

// ExecBatch runs execs in one transaction. A conditional exec affecting no
// rows rolls the transaction back and reports the batch as not applied.
func (d *DB) ExecBatch(ctx context.Context, execs []Exec) (bool, error) {
	err := d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, e := range execs {
			res, err := tx.ExecContext(ctx, e.Query, e.Args...)
			if err != nil {
				return err
			}
			if !e.Conditional {
				continue
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return errNotApplied
			}
		}
		return nil
	})

	if errors.Is(err, errNotApplied) {
		d.log.Debugf("batch of %d statements not applied", len(execs))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// queryLogger logs every statement bun executes at debug level.
type queryLogger struct {
	log logger.Logger
}

func (h *queryLogger) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLogger) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	if event.Err != nil && event.Err != sql.ErrNoRows {
		h.log.Warnf("query failed after %s: %s: %v", elapsed, event.Query, event.Err)
		return
	}
	h.log.Debugf("query took %s: %s", elapsed, event.Query)
}
