package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/waanverse/waanauth"
)

// MFAStore implements waanauth.MFAStore on the identity_mfa table.
type MFAStore struct {
	db      DB
	builder squirrel.StatementBuilderType
}

// NewMFAStore wires an MFA store on db.
func NewMFAStore(db DB) *MFAStore {
	return &MFAStore{db: db, builder: statementBuilder()}
}

// GetMFA returns (nil, nil) when the identity has no record.
func (s *MFAStore) GetMFA(ctx context.Context, identityID string) (*waanauth.MFARecord, error) {
	stmt, args, err := s.builder.Select(
		"identity_id",
		"activated",
		"activated_at",
		"secret",
		"recovery_codes",
		"last_used_step",
	).
		From("identity_mfa").
		Where(squirrel.Eq{"identity_id": identityID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select mfa sql: %w", err)
	}

	var (
		record      waanauth.MFARecord
		activatedAt sql.NullTime
	)
	err = s.db.QueryRow(ctx, stmt, args...).Scan(
		&record.IdentityID,
		&record.Activated,
		&activatedAt,
		&record.Secret,
		&record.RecoveryCodes,
		&record.LastUsedStep,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan mfa: %w", err)
	}
	if activatedAt.Valid {
		record.ActivatedAt = activatedAt.Time
	}
	return &record, nil
}

// SaveMFA upserts the record, replacing any previous secret and codes.
func (s *MFAStore) SaveMFA(ctx context.Context, record *waanauth.MFARecord) error {
	var activatedAt any
	if !record.ActivatedAt.IsZero() {
		activatedAt = record.ActivatedAt
	}
	codes := record.RecoveryCodes
	if codes == nil {
		codes = []string{}
	}

	stmt, args, err := s.builder.Insert("identity_mfa").
		Columns("identity_id", "activated", "activated_at", "secret", "recovery_codes", "last_used_step").
		Values(record.IdentityID, record.Activated, activatedAt, record.Secret, codes, record.LastUsedStep).
		Suffix(`ON CONFLICT (identity_id) DO UPDATE SET
	activated = EXCLUDED.activated,
	activated_at = EXCLUDED.activated_at,
	secret = EXCLUDED.secret,
	recovery_codes = EXCLUDED.recovery_codes,
	last_used_step = EXCLUDED.last_used_step`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert mfa sql: %w", err)
	}
	if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert mfa: %w", err)
	}
	return nil
}

func (s *MFAStore) DeleteMFA(ctx context.Context, identityID string) error {
	stmt, args, err := s.builder.Delete("identity_mfa").
		Where(squirrel.Eq{"identity_id": identityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete mfa sql: %w", err)
	}
	if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("delete mfa: %w", err)
	}
	return nil
}

// ConsumeRecoveryCode removes codeHash in a single conditional UPDATE so two
// concurrent redemptions cannot both succeed.
func (s *MFAStore) ConsumeRecoveryCode(ctx context.Context, identityID, codeHash string) (bool, error) {
	stmt, args, err := s.builder.Update("identity_mfa").
		Set("recovery_codes", squirrel.Expr("array_remove(recovery_codes, ?)", codeHash)).
		Where(squirrel.Eq{"identity_id": identityID}).
		Where(squirrel.Expr("? = ANY(recovery_codes)", codeHash)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build consume recovery code sql: %w", err)
	}
	tag, err := s.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("consume recovery code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *MFAStore) UpdateLastUsedStep(ctx context.Context, identityID string, step int64) (bool, error) {
	stmt, args, err := s.builder.Update("identity_mfa").
		Set("last_used_step", step).
		Where(squirrel.Eq{"identity_id": identityID}).
		Where(squirrel.Lt{"last_used_step": step}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build update last used step sql: %w", err)
	}
	tag, err := s.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("update last used step: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
