package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/waanverse/waanauth"
)

var identityColumns = []string{
	"id",
	"username",
	"email",
	"phone",
	"password_hash",
	"email_verified",
	"phone_verified",
	"is_active",
	"last_login",
	"created_at",
}

// IdentityStore implements waanauth.IdentityStore on the identities table.
type IdentityStore struct {
	db      DB
	builder squirrel.StatementBuilderType
}

// NewIdentityStore wires an identity store on db.
func NewIdentityStore(db DB) *IdentityStore {
	return &IdentityStore{db: db, builder: statementBuilder()}
}

func (s *IdentityStore) GetByID(ctx context.Context, id string) (*waanauth.Identity, error) {
	return s.getOne(ctx, squirrel.Eq{"id": id})
}

func (s *IdentityStore) GetByEmail(ctx context.Context, email string) (*waanauth.Identity, error) {
	return s.getOne(ctx, squirrel.Eq{"email": email})
}

func (s *IdentityStore) GetByPhone(ctx context.Context, phone string) (*waanauth.Identity, error) {
	return s.getOne(ctx, squirrel.Eq{"phone": phone})
}

func (s *IdentityStore) GetByUsername(ctx context.Context, username string) (*waanauth.Identity, error) {
	return s.getOne(ctx, squirrel.Expr("lower(username) = lower(?)", username))
}

func (s *IdentityStore) getOne(ctx context.Context, where squirrel.Sqlizer) (*waanauth.Identity, error) {
	stmt, args, err := s.builder.Select(identityColumns...).
		From("identities").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select identity sql: %w", err)
	}

	var (
		identity  waanauth.Identity
		email     sql.NullString
		phone     sql.NullString
		lastLogin sql.NullTime
	)
	err = s.db.QueryRow(ctx, stmt, args...).Scan(
		&identity.ID,
		&identity.Username,
		&email,
		&phone,
		&identity.PasswordHash,
		&identity.EmailVerified,
		&identity.PhoneVerified,
		&identity.IsActive,
		&lastLogin,
		&identity.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, waanauth.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	identity.Email = email.String
	identity.Phone = phone.String
	if lastLogin.Valid {
		identity.LastLogin = lastLogin.Time
	}
	return &identity, nil
}

// Create inserts identity. A unique violation on any identifier maps to
// waanauth.ErrIdentifierTaken.
func (s *IdentityStore) Create(ctx context.Context, identity *waanauth.Identity) error {
	createdAt := identity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	stmt, args, err := s.builder.Insert("identities").
		Columns(identityColumns...).
		Values(
			identity.ID,
			identity.Username,
			nullable(identity.Email),
			nullable(identity.Phone),
			identity.PasswordHash,
			identity.EmailVerified,
			identity.PhoneVerified,
			identity.IsActive,
			nil,
			createdAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert identity sql: %w", err)
	}
	if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return waanauth.ErrIdentifierTaken
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	identity.CreatedAt = createdAt
	return nil
}

func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	return s.update(ctx, id, "update password hash", squirrel.Eq{"password_hash": passwordHash})
}

func (s *IdentityStore) MarkEmailVerified(ctx context.Context, id string, activate bool) error {
	set := squirrel.Eq{"email_verified": true}
	if activate {
		set["is_active"] = true
	}
	return s.update(ctx, id, "mark email verified", set)
}

func (s *IdentityStore) MarkPhoneVerified(ctx context.Context, id string, activate bool) error {
	set := squirrel.Eq{"phone_verified": true}
	if activate {
		set["is_active"] = true
	}
	return s.update(ctx, id, "mark phone verified", set)
}

func (s *IdentityStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, "update last login", squirrel.Eq{"last_login": at})
}

func (s *IdentityStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, id, "set active", squirrel.Eq{"is_active": active})
}

func (s *IdentityStore) update(ctx context.Context, id, op string, set map[string]any) error {
	stmt, args, err := s.builder.Update("identities").
		SetMap(set).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s sql: %w", op, err)
	}
	tag, err := s.db.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return waanauth.ErrIdentityNotFound
	}
	return nil
}
