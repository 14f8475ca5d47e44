package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/waanverse/waanauth"
)

// ResetTokenStore implements waanauth.ResetTokenStore on the
// password_reset_tokens table.
type ResetTokenStore struct {
	db      DB
	builder squirrel.StatementBuilderType
}

// NewResetTokenStore wires a reset token store on db.
func NewResetTokenStore(db DB) *ResetTokenStore {
	return &ResetTokenStore{db: db, builder: statementBuilder()}
}

// CreateResetToken invalidates every live token of the identity and inserts
// token in one transaction. The identity row is locked first so concurrent
// requests for the same identity serialize and at most one token stays live.
func (s *ResetTokenStore) CreateResetToken(ctx context.Context, token *waanauth.ResetToken) (err error) {
	lock, lockArgs, err := s.builder.Select("id").
		From("identities").
		Where(squirrel.Eq{"id": token.IdentityID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return fmt.Errorf("build lock identity sql: %w", err)
	}
	invalidate, invalidateArgs, err := s.builder.Update("password_reset_tokens").
		Set("is_used", true).
		Where(squirrel.Eq{"identity_id": token.IdentityID, "is_used": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build invalidate reset tokens sql: %w", err)
	}
	insert, insertArgs, err := s.builder.Insert("password_reset_tokens").
		Columns("id", "identity_id", "code_hash", "created_at", "is_used").
		Values(token.ID, token.IdentityID, token.CodeHash, token.CreatedAt, false).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert reset token sql: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset token tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var locked string
	if err = tx.QueryRow(ctx, lock, lockArgs...).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = waanauth.ErrIdentityNotFound
			return err
		}
		return fmt.Errorf("lock identity: %w", err)
	}
	if _, err = tx.Exec(ctx, invalidate, invalidateArgs...); err != nil {
		return fmt.Errorf("invalidate reset tokens: %w", err)
	}
	if _, err = tx.Exec(ctx, insert, insertArgs...); err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset token tx: %w", err)
	}
	return nil
}

// ConsumeResetToken marks the matching live token used in a single UPDATE.
func (s *ResetTokenStore) ConsumeResetToken(ctx context.Context, identityID, codeHash string, notBefore time.Time) (bool, error) {
	stmt, args, err := s.builder.Update("password_reset_tokens").
		Set("is_used", true).
		Where(squirrel.Eq{"identity_id": identityID, "code_hash": codeHash, "is_used": false}).
		Where(squirrel.GtOrEq{"created_at": notBefore}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build consume reset token sql: %w", err)
	}

	var id string
	if err := s.db.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume reset token: %w", err)
	}
	return true, nil
}
