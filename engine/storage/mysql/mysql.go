// Package mysql implements a tenant engine storage backend using MySQL.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/micromdm/nanotenant/engine/storage"
)

// Schema contains the MySQL schema for the tenant engine storage.
//
//go:embed schema.sql
var Schema string

// checkpointID is the row ID of the single stored checkpoint.
const checkpointID = 1

// MySQLStorage implements a storage.AllStorage using MySQL.
type MySQLStorage struct {
	db *sql.DB
}

type config struct {
	driver string
	dsn    string
	db     *sql.DB
}

// Option allows configuring a MySQLStorage.
type Option func(*config)

// WithDSN sets the storage MySQL data source name.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithDriver sets a custom MySQL driver for the storage.
//
// Default driver is "mysql".
// Value is ignored if WithDB is used.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithDB sets a custom MySQL *sql.DB to the storage.
//
// If set, driver passed via WithDriver is ignored.
func WithDB(db *sql.DB) Option {
	return func(c *config) {
		c.db = db
	}
}

// New creates and returns a new MySQLStorage.
func New(opts ...Option) (*MySQLStorage, error) {
	cfg := &config{driver: "mysql"}
	for _, opt := range opts {
		opt(cfg)
	}
	var err error
	if cfg.db == nil {
		cfg.db, err = sql.Open(cfg.driver, cfg.dsn)
		if err != nil {
			return nil, err
		}
	}
	if err = cfg.db.Ping(); err != nil {
		return nil, err
	}
	return &MySQLStorage{db: cfg.db}, nil
}

// txcb executes SQL within transactions when wrapped in tx().
type txcb func(ctx context.Context, tx *sql.Tx) error

// tx wraps g in transactions using db.
// If g returns an err the transaction will be rolled back; otherwise committed.
func tx(ctx context.Context, db *sql.DB, g txcb) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin: %w", err)
	}
	if err = g(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx rollback: %w; while trying to handle error: %v", rbErr, err)
		}
		return fmt.Errorf("tx rolled back: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	return nil
}

// RetrieveCheckpoint implements the storage interface method.
func (s *MySQLStorage) RetrieveCheckpoint(ctx context.Context) (*storage.Checkpoint, error) {
	var doc []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT document FROM tenant_checkpoints WHERE id = ?;`,
		checkpointID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return storage.Unmarshal(doc)
}

// StoreCheckpoint implements the storage interface method.
func (s *MySQLStorage) StoreCheckpoint(ctx context.Context, c *storage.Checkpoint) error {
	if err := c.Validate(); err != nil {
		return err
	}
	doc, err := storage.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx, `
INSERT INTO tenant_checkpoints
	(id, document)
VALUES
	(?, ?) as new
ON DUPLICATE KEY UPDATE
	document = new.document;`,
			checkpointID,
			doc,
		)
		return err
	})
}

// StoreArchive implements the storage interface method.
func (s *MySQLStorage) StoreArchive(ctx context.Context, kind storage.Kind, name string, doc []byte) error {
	if err := storage.CheckArchiveArgs(kind, name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx, `
INSERT INTO tenant_archives
	(kind, name, document)
VALUES
	(?, ?, ?) as new
ON DUPLICATE KEY UPDATE
	document = new.document;`,
		string(kind),
		name,
		doc,
	)
	return err
}

// RetrieveArchive implements the storage interface method.
func (s *MySQLStorage) RetrieveArchive(ctx context.Context, kind storage.Kind, name string) ([]byte, error) {
	if err := storage.CheckArchiveArgs(kind, name); err != nil {
		return nil, err
	}
	var doc []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT document FROM tenant_archives WHERE kind = ? AND name = ?;`,
		string(kind),
		name,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrArchiveNotFound, name)
	}
	return doc, err
}

// ListArchives implements the storage interface method.
func (s *MySQLStorage) ListArchives(ctx context.Context, kind storage.Kind) ([]string, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownKind, kind)
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT name FROM tenant_archives WHERE kind = ? ORDER BY name;`,
		string(kind),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
