package sqlite

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"license-activation-server/internal/config"
)

// Store is a fixed-size pool of SQLite connections over one database file in
// WAL mode: any number of snapshot readers, one writer at a time, readers
// never blocked by an in-flight writer.
//
// Store is safe for concurrent use. Individual connections are not; each
// goroutine must take its own connection and put it back when done.
type Store struct {
	pool *sqlitex.Pool
	log  *zerolog.Logger
	path string
}

// Open creates the connection pool, applies the standard pragmas to every
// connection and initializes the schema. The database file is created if it
// does not exist. The caller must Close the store on shutdown.
func Open(cfg config.StoreConfig, logger *zerolog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 8
	}
	busyMs := int(cfg.BusyTimeout.Milliseconds())
	if busyMs <= 0 {
		busyMs = 5000
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, busyMs)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", cfg.Path, err)
	}

	s := &Store{pool: pool, log: logger, path: cfg.Path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlite store: schema: %w", err)
	}

	logger.Info().Str("path", cfg.Path).Int("pool_size", poolSize).Msg("sqlite store opened")
	return s, nil
}

// Take borrows a connection from the pool. Blocks until a connection is
// available or ctx is cancelled. The caller MUST call Put when done.
func (s *Store) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil (no-op).
func (s *Store) Put(conn *sqlite.Conn) {
	s.pool.Put(conn)
}

// Close closes all connections. Blocks until all borrowed connections are
// returned. After Close, Take returns an error.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("sqlite store close error")
		return fmt.Errorf("sqlite store: closing %s: %w", s.path, err)
	}
	s.log.Info().Str("path", s.path).Msg("sqlite store closed")
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.ExecuteScript(conn, schema, nil)
}

func prepareConnection(conn *sqlite.Conn, busyMs int) error {
	// WAL mode: concurrent readers, single writer, no reader blocking.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyMs),
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}
