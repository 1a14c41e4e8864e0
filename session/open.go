package session

import (
	"context"
	"time"

	"github.com/goliatone/go-facetcache/internal/dbinfra"
	"github.com/goliatone/go-facetcache/logger"
)

// Config exposes the database connection settings.
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
	return convertFromInternal(dbinfra.DefaultConfig())
}

// Validate checks the connection settings.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// DB is a Session owning a connection pool.
type DB interface {
	Session
	// Exec runs a statement outside of any batch, for example DDL.
	Exec(ctx context.Context, query string, args ...any) error
	// StatementBuilder renders statements in the dialect of the connection.
	StatementBuilder() TableBuilder
	Close() error
}

// Open connects to the configured database through bun.
func Open(cfg Config, log logger.Logger) (DB, error) {
	if log == nil {
		log = logger.NopLogger
	}
	db, err := dbinfra.Open(cfg.toInternal(), log.WithPrefix("[db] "))
	if err != nil {
		return nil, err
	}
	return &sqlSession{db: db}, nil
}

type sqlSession struct {
	db *dbinfra.DB
}

func (s *sqlSession) Execute(ctx context.Context, stmt Statement) ([]Row, error) {
	if stmt.IsMutation() {
		if err := s.db.Exec(ctx, stmt.Query, stmt.Args...); err != nil {
			return nil, TransportError(err, "execute "+stmt.Schema+" mutation")
		}
		return nil, nil
	}

	raw, err := s.db.Query(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return nil, TransportError(err, "query "+stmt.Schema)
	}
	rows := make([]Row, len(raw))
	for i, r := range raw {
		rows[i] = Row(r)
	}
	return rows, nil
}

func (s *sqlSession) ExecuteBatch(ctx context.Context, stmts []Statement, ts time.Time) (bool, error) {
	execs := make([]dbinfra.Exec, len(stmts))
	for i, stmt := range stmts {
		execs[i] = dbinfra.Exec{Query: stmt.Query, Args: stmt.Args, Conditional: stmt.Conditional}
	}
	applied, err := s.db.ExecBatch(ctx, execs)
	if err != nil {
		return false, TransportError(err, "execute batch")
	}
	return applied, nil
}

func (s *sqlSession) Exec(ctx context.Context, query string, args ...any) error {
	if err := s.db.Exec(ctx, query, args...); err != nil {
		return TransportError(err, "exec")
	}
	return nil
}

func (s *sqlSession) StatementBuilder() TableBuilder {
	return NewTableBuilder(s.db.Bun())
}

func (s *sqlSession) Close() error {
	return s.db.Close()
}

func (c Config) toInternal() dbinfra.Config {
	return dbinfra.Config{
		Driver:          c.Driver,
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		LogQueries:      c.LogQueries,
	}
}

func convertFromInternal(cfg dbinfra.Config) Config {
	return Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		LogQueries:      cfg.LogQueries,
	}
}
