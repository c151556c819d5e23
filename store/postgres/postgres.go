// Package postgres implements identity.Store on PostgreSQL through the pgx
// database/sql driver.
//
// Lockout accounting and token consumption are single UPDATE statements
// whose CASE expressions read the pre-update row, so the check and the
// write happen under the row lock Postgres takes for the update.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/lockout"
)

const uniqueViolation = "23505"

// DBTX is the subset of *sql.DB and *sql.Tx the store needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres credential store.
type Store struct {
	db DBTX
}

// New returns a Store running its statements on db.
func New(db DBTX) *Store {
	return &Store{db: db}
}

var _ identity.Store = (*Store)(nil)

const identityColumns = `id, name, email, phone, secret_hash, role, status, email_verified, phone_verified,
	failure_count, locked_until, count_reset_at, last_login_at, last_login_ip, last_login_ua,
	verify_token_hash, verify_token_expires_at, verify_token_channel,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

const insertIdentity = `INSERT INTO identities (id, name, email, phone, secret_hash, role, status,
	email_verified, phone_verified, failure_count, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11)`

func (s *Store) Create(ctx context.Context, ident *identity.Identity) error {
	_, err := s.db.ExecContext(ctx, insertIdentity,
		ident.ID, ident.Name, ident.Email, ident.Phone, ident.SecretHash,
		string(ident.Role), string(ident.Status), ident.EmailVerified, ident.PhoneVerified,
		ident.CreatedAt, ident.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

func (s *Store) FindByLogin(ctx context.Context, login string) (*identity.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities
		WHERE (email = $1 OR phone = $1) AND status <> 'deactivated'
		LIMIT 1`, login)
	return scanIdentity(row)
}

// recordFailure locks in the same statement that counts. $2 is now, $3 the
// threshold, $4 the lock expiry a locking attempt sets.
const recordFailure = `UPDATE identities SET
	failure_count = CASE
		WHEN locked_until IS NOT NULL AND locked_until > $2 THEN failure_count
		WHEN locked_until IS NOT NULL THEN 1
		ELSE failure_count + 1
	END,
	locked_until = CASE
		WHEN locked_until IS NOT NULL AND locked_until > $2 THEN locked_until
		WHEN locked_until IS NOT NULL THEN CASE WHEN 1 >= $3 THEN $4::timestamptz ELSE NULL END
		WHEN failure_count + 1 >= $3 THEN $4::timestamptz
		ELSE NULL
	END,
	count_reset_at = CASE
		WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN $2::timestamptz
		ELSE count_reset_at
	END,
	updated_at = CASE
		WHEN locked_until IS NOT NULL AND locked_until > $2 THEN updated_at
		ELSE $2::timestamptz
	END
	WHERE id = $1
	RETURNING failure_count, locked_until, count_reset_at`

func (s *Store) RecordFailure(ctx context.Context, id string, now time.Time, policy lockout.Policy) (lockout.State, error) {
	row := s.db.QueryRowContext(ctx, recordFailure, id, now, policy.Threshold, policy.LockUntil(now))
	return scanLockout(row)
}

const recordSuccess = `UPDATE identities SET
	failure_count = 0,
	locked_until = NULL,
	count_reset_at = CASE
		WHEN failure_count > 0 OR locked_until IS NOT NULL THEN $2::timestamptz
		ELSE count_reset_at
	END,
	last_login_at = $2,
	last_login_ip = $3,
	last_login_ua = $4,
	updated_at = $2
	WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $2)
	RETURNING failure_count, locked_until, count_reset_at`

func (s *Store) RecordSuccess(ctx context.Context, id string, now time.Time, login identity.LastLogin) (lockout.State, error) {
	row := s.db.QueryRowContext(ctx, recordSuccess, id, now, login.IP, login.UserAgent)
	st, err := scanLockout(row)
	if !errors.Is(err, identity.ErrNotFound) {
		return st, err
	}

	// Nothing matched: either the identity is gone or a live lock won.
	row = s.db.QueryRowContext(ctx, `SELECT failure_count, locked_until, count_reset_at FROM identities WHERE id = $1`, id)
	return scanLockout(row)
}

func (s *Store) ClearLockout(ctx context.Context, id string, now time.Time) error {
	return s.execOne(ctx, `UPDATE identities SET failure_count = 0, locked_until = NULL,
		count_reset_at = $2, updated_at = $2 WHERE id = $1`, id, now)
}

func (s *Store) UpdateSecret(ctx context.Context, id, secretHash string, now time.Time) error {
	return s.execOne(ctx, `UPDATE identities SET secret_hash = $2, updated_at = $3 WHERE id = $1`, id, secretHash, now)
}

func (s *Store) SetStatus(ctx context.Context, id string, status identity.Status, now time.Time) error {
	return s.execOne(ctx, `UPDATE identities SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), now)
}

func (s *Store) SetToken(ctx context.Context, id string, kind identity.TokenKind, tok identity.Token, now time.Time) error {
	switch kind {
	case identity.KindVerification:
		return s.execOne(ctx, `UPDATE identities SET verify_token_hash = $2, verify_token_expires_at = $3,
			verify_token_channel = $4, updated_at = $5 WHERE id = $1`,
			id, tok.Hash, tok.ExpiresAt, string(tok.Channel), now)
	case identity.KindReset:
		return s.execOne(ctx, `UPDATE identities SET reset_token_hash = $2, reset_token_expires_at = $3,
			updated_at = $4 WHERE id = $1`,
			id, tok.Hash, tok.ExpiresAt, now)
	default:
		return fmt.Errorf("unknown token kind %d", kind)
	}
}

// consumeToken is parameterized by the slot column prefix. $1 hash, $2 now,
// $3 channel to mark verified or empty, $4 replacement secret or empty.
const consumeToken = `UPDATE identities SET
	%[1]s_hash = NULL,
	%[1]s_expires_at = NULL,%[2]s
	email_verified = email_verified OR $3 = 'email',
	phone_verified = phone_verified OR $3 = 'phone',
	status = CASE WHEN $3 <> '' AND status = 'pending_verification' THEN 'active' ELSE status END,
	secret_hash = COALESCE(NULLIF($4, ''), secret_hash),
	updated_at = $2
	WHERE %[1]s_hash = $1 AND %[1]s_expires_at > $2 AND status <> 'deactivated'
	RETURNING ` + identityColumns

var (
	consumeVerification = fmt.Sprintf(consumeToken, "verify_token", "\n\tverify_token_channel = NULL,")
	consumeReset        = fmt.Sprintf(consumeToken, "reset_token", "")
)

func (s *Store) ConsumeToken(ctx context.Context, kind identity.TokenKind, hash string, now time.Time, effect identity.Effect) (*identity.Identity, error) {
	var query string
	switch kind {
	case identity.KindVerification:
		query = consumeVerification
	case identity.KindReset:
		query = consumeReset
	default:
		return nil, identity.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, query, hash, now, string(effect.Verify), effect.NewSecretHash)
	return scanIdentity(row)
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*identity.Identity, error) {
	var (
		ident                                  identity.Identity
		role, status                           string
		lockedUntil, countResetAt, lastLoginAt sql.NullTime
		lastLoginIP, lastLoginUA               sql.NullString
		verifyHash, verifyChannel, resetHash   sql.NullString
		verifyExpires, resetExpires            sql.NullTime
	)
	err := row.Scan(
		&ident.ID, &ident.Name, &ident.Email, &ident.Phone, &ident.SecretHash,
		&role, &status, &ident.EmailVerified, &ident.PhoneVerified,
		&ident.Lockout.FailureCount, &lockedUntil, &countResetAt,
		&lastLoginAt, &lastLoginIP, &lastLoginUA,
		&verifyHash, &verifyExpires, &verifyChannel,
		&resetHash, &resetExpires,
		&ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	ident.Role = identity.Role(role)
	ident.Status = identity.Status(status)
	ident.Lockout.LockedUntil = nullTime(lockedUntil)
	ident.Lockout.CountResetAt = nullTime(countResetAt)
	ident.CreatedAt = ident.CreatedAt.UTC()
	ident.UpdatedAt = ident.UpdatedAt.UTC()
	if lastLoginAt.Valid {
		ident.LastLogin = &identity.LastLogin{
			At:        lastLoginAt.Time.UTC(),
			IP:        lastLoginIP.String,
			UserAgent: lastLoginUA.String,
		}
	}
	if verifyHash.Valid {
		ident.VerificationToken = &identity.Token{
			Hash:      verifyHash.String,
			ExpiresAt: nullTime(verifyExpires),
			Channel:   identity.Channel(verifyChannel.String),
		}
	}
	if resetHash.Valid {
		ident.ResetToken = &identity.Token{
			Hash:      resetHash.String,
			ExpiresAt: nullTime(resetExpires),
		}
	}
	return &ident, nil
}

func scanLockout(row rowScanner) (lockout.State, error) {
	var (
		st                        lockout.State
		lockedUntil, countResetAt sql.NullTime
	)
	if err := row.Scan(&st.FailureCount, &lockedUntil, &countResetAt); err != nil {
		return lockout.State{}, mapError(err)
	}
	st.LockedUntil = nullTime(lockedUntil)
	st.CountResetAt = nullTime(countResetAt)
	return st, nil
}

func nullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return identity.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return identity.ErrDuplicate
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", identity.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: db error: %v", identity.ErrUnavailable, err)
}
