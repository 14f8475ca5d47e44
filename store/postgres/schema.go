package postgres

// Schema is the DDL applied by [Store.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
	id             TEXT PRIMARY KEY,
	username       TEXT NOT NULL UNIQUE,
	email          TEXT UNIQUE,
	phone          TEXT UNIQUE,
	password_hash  TEXT NOT NULL,
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	phone_verified BOOLEAN NOT NULL DEFAULT FALSE,
	is_active      BOOLEAN NOT NULL DEFAULT FALSE,
	last_login     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS identities_username_lower ON identities (lower(username));

CREATE TABLE IF NOT EXISTS identity_mfa (
	identity_id    TEXT PRIMARY KEY REFERENCES identities(id) ON DELETE CASCADE,
	activated      BOOLEAN NOT NULL DEFAULT FALSE,
	activated_at   TIMESTAMPTZ,
	secret         TEXT NOT NULL,
	recovery_codes TEXT[] NOT NULL DEFAULT '{}',
	last_used_step BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS password_reset_tokens (
	id          TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	code_hash   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	is_used     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS password_reset_tokens_live ON password_reset_tokens (identity_id) WHERE NOT is_used;

CREATE TABLE IF NOT EXISTS devices (
	device_id   TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	platform    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
