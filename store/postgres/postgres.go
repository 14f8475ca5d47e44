// Package postgres implements the waanauth identity, MFA, reset-token and
// device stores on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waanverse/waanauth"
)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the stores use. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store bundles every PostgreSQL-backed store over one connection pool.
type Store struct {
	pool *pgxpool.Pool

	Identities *IdentityStore
	MFA        *MFAStore
	Resets     *ResetTokenStore
	Devices    *DeviceStore
}

// Open creates a pgx pool for dsn and wires the stores on top of it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(pool)
	s.pool = pool
	return s, nil
}

// New wires the stores on an existing executor.
func New(db DB) *Store {
	return &Store{
		Identities: NewIdentityStore(db),
		MFA:        NewMFAStore(db),
		Resets:     NewResetTokenStore(db),
		Devices:    NewDeviceStore(db),
	}
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres: migrate requires a pool opened with Open")
	}
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool when the store owns one.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func statementBuilder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// nullable maps an empty string to SQL NULL so unique indexes ignore it.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ waanauth.IdentityStore   = (*IdentityStore)(nil)
	_ waanauth.MFAStore        = (*MFAStore)(nil)
	_ waanauth.ResetTokenStore = (*ResetTokenStore)(nil)
	_ waanauth.DeviceStore     = (*DeviceStore)(nil)
)
