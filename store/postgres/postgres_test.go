package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/lockout"
	"github.com/railconnect/authcore/store/storetest"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return New(db), mock, db
}

var columns = []string{
	"id", "name", "email", "phone", "secret_hash", "role", "status", "email_verified", "phone_verified",
	"failure_count", "locked_until", "count_reset_at", "last_login_at", "last_login_ip", "last_login_ua",
	"verify_token_hash", "verify_token_expires_at", "verify_token_channel",
	"reset_token_hash", "reset_token_expires_at", "created_at", "updated_at",
}

func identityRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(columns).AddRow(
		"u-1", "Asha", "asha@example.com", "+918123456789", "hash", "passenger", "active", true, false,
		2, nil, now, now, "10.0.0.1", "curl/8",
		nil, nil, nil,
		"rh", now.Add(24*time.Hour), now, now,
	)
}

func TestCreate_Success(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := storetest.Now()
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+identities`).
		WithArgs("u-1", "Asha", "asha@example.com", "+918123456789", "hash", "passenger", "pending_verification", false, false, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Create(context.Background(), &identity.Identity{
		ID: "u-1", Name: "Asha", Email: "asha@example.com", Phone: "+918123456789", SecretHash: "hash",
		Role: identity.RolePassenger, Status: identity.StatusPendingVerification, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_UniqueViolation(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+identities`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "identities_email_live_idx"})

	err := s.Create(context.Background(), storetest.NewIdentity())
	if !errors.Is(err, identity.ErrDuplicate) {
		t.Fatalf("want identity.ErrDuplicate, got %v", err)
	}
}

func TestFindByLogin_Found(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := storetest.Now()
	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+identities\s+WHERE\s+\(email\s*=\s*\$1\s+OR\s+phone\s*=\s*\$1\)\s+AND\s+status\s*<>\s*'deactivated'`).
		WithArgs("asha@example.com").
		WillReturnRows(identityRow(now))

	got, err := s.FindByLogin(context.Background(), "asha@example.com")
	if err != nil {
		t.Fatalf("FindByLogin error: %v", err)
	}
	if got.ID != "u-1" || got.Status != identity.StatusActive || got.Lockout.FailureCount != 2 {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if !got.Lockout.LockedUntil.IsZero() {
		t.Fatalf("expected no lock, got %v", got.Lockout.LockedUntil)
	}
	if got.LastLogin == nil || got.LastLogin.IP != "10.0.0.1" {
		t.Fatalf("unexpected last login: %+v", got.LastLogin)
	}
	if got.VerificationToken != nil {
		t.Fatalf("expected empty verification slot, got %+v", got.VerificationToken)
	}
	if got.ResetToken == nil || got.ResetToken.Hash != "rh" {
		t.Fatalf("unexpected reset slot: %+v", got.ResetToken)
	}
}

func TestFindByLogin_NotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+identities`).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindByLogin(context.Background(), "ghost@example.com")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("want identity.ErrNotFound, got %v", err)
	}
}

func TestFindByID_DBError(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+identities\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("u-1").
		WillReturnError(errors.New("db down"))

	_, err := s.FindByID(context.Background(), "u-1")
	if !errors.Is(err, identity.ErrUnavailable) {
		t.Fatalf("want identity.ErrUnavailable, got %v", err)
	}
	if !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestRecordFailure_ReturnsLockedState(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := storetest.Now()
	policy := lockout.DefaultPolicy()
	until := policy.LockUntil(now)
	mock.ExpectQuery(`(?s)^UPDATE\s+identities\s+SET\s+failure_count\s*=\s*CASE.*RETURNING\s+failure_count,\s*locked_until,\s*count_reset_at`).
		WithArgs("u-1", now, policy.Threshold, until).
		WillReturnRows(sqlmock.NewRows([]string{"failure_count", "locked_until", "count_reset_at"}).AddRow(5, until, nil))

	st, err := s.RecordFailure(context.Background(), "u-1", now, policy)
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if got := policy.Outcome(st, now); got != lockout.OutcomeLocked {
		t.Fatalf("want OutcomeLocked, got %v", got)
	}
	if !st.CountResetAt.IsZero() {
		t.Fatalf("expected zero CountResetAt, got %v", st.CountResetAt)
	}
}

func TestRecordSuccess_LockedFallsBackToRead(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := storetest.Now()
	until := now.Add(time.Hour)
	mock.ExpectQuery(`(?s)^UPDATE\s+identities\s+SET\s+failure_count\s*=\s*0`).
		WithArgs("u-1", now, "10.0.0.1", "curl/8").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)^SELECT\s+failure_count,\s*locked_until,\s*count_reset_at\s+FROM\s+identities`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"failure_count", "locked_until", "count_reset_at"}).AddRow(5, until, nil))

	st, err := s.RecordSuccess(context.Background(), "u-1", now, identity.LastLogin{At: now, IP: "10.0.0.1", UserAgent: "curl/8"})
	if err != nil {
		t.Fatalf("RecordSuccess error: %v", err)
	}
	if !st.Locked(now) {
		t.Fatalf("expected locked state, got %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordSuccess_MissingIdentity(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := storetest.Now()
	mock.ExpectQuery(`(?s)^UPDATE\s+identities`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)^SELECT\s+failure_count`).WillReturnError(sql.ErrNoRows)

	_, err := s.RecordSuccess(context.Background(), "ghost", now, identity.LastLogin{At: now})
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("want identity.ErrNotFound, got %v", err)
	}
}

func TestUpdateSecret_NoRows(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := storetest.Now()
	mock.ExpectExec(`(?s)^UPDATE\s+identities\s+SET\s+secret_hash\s*=\s*\$2`).
		WithArgs("ghost", "new-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateSecret(context.Background(), "ghost", "new-hash", now)
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("want identity.ErrNotFound, got %v", err)
	}
}

func TestSetToken_Reset(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := storetest.Now()
	exp := now.Add(24 * time.Hour)
	mock.ExpectExec(`(?s)^UPDATE\s+identities\s+SET\s+reset_token_hash\s*=\s*\$2`).
		WithArgs("u-1", "digest", exp, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetToken(context.Background(), "u-1", identity.KindReset, identity.Token{Hash: "digest", ExpiresAt: exp}, now); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
}

func TestConsumeToken_Verification(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	now := storetest.Now()
	mock.ExpectQuery(`(?s)^UPDATE\s+identities\s+SET\s+verify_token_hash\s*=\s*NULL.*WHERE\s+verify_token_hash\s*=\s*\$1\s+AND\s+verify_token_expires_at\s*>\s*\$2`).
		WithArgs("digest", now, "email", "").
		WillReturnRows(identityRow(now))

	got, err := s.ConsumeToken(context.Background(), identity.KindVerification, "digest", now, identity.Effect{Verify: identity.ChannelEmail})
	if err != nil {
		t.Fatalf("ConsumeToken error: %v", err)
	}
	if !got.EmailVerified {
		t.Fatalf("expected email verified: %+v", got)
	}
}

func TestConsumeToken_Unknown(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^UPDATE\s+identities\s+SET\s+reset_token_hash\s*=\s*NULL`).
		WillReturnError(sql.ErrNoRows)

	_, err := s.ConsumeToken(context.Background(), identity.KindReset, "nope", storetest.Now(), identity.Effect{NewSecretHash: "h"})
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("want identity.ErrNotFound, got %v", err)
	}
}

// TestStoreSuite runs the shared behavioral suite against a live database
// when AUTHCORE_POSTGRES_DSN is set.
func TestStoreSuite(t *testing.T) {
	dsn := os.Getenv("AUTHCORE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUTHCORE_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}

	storetest.Run(t, func(t *testing.T) identity.Store {
		if _, err := db.ExecContext(ctx, `TRUNCATE identities`); err != nil {
			t.Fatalf("truncate error: %v", err)
		}
		return New(db)
	})
}
