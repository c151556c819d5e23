// Package storetest is the behavioral suite every identity.Store backend runs.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/lockout"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) identity.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, identity.Store)
	}{
		{"CreateAndFind", testCreateAndFind},
		{"DuplicateEmailOrPhone", testDuplicate},
		{"DeactivatedReleasesLogin", testDeactivatedReleasesLogin},
		{"FailuresLockAtThreshold", testFailuresLockAtThreshold},
		{"LockOutcomeAtNanosecondClock", testLockOutcomeNanosecondClock},
		{"LockedRejectsWithoutIncrement", testLockedRejects},
		{"ExpiredLockRollsOver", testExpiredLockRollsOver},
		{"SuccessResetsAndStampsLastLogin", testSuccessResets},
		{"SuccessRefusedWhileLocked", testSuccessRefusedWhileLocked},
		{"ConcurrentFailuresCountExactly", testConcurrentFailures},
		{"ClearLockout", testClearLockout},
		{"UpdateSecretAndStatus", testUpdateSecretAndStatus},
		{"TokenConsumedOnce", testTokenConsumedOnce},
		{"TokenSuperseded", testTokenSuperseded},
		{"TokenExpired", testTokenExpired},
		{"ConcurrentConsumeSingleWinner", testConcurrentConsume},
		{"MissingIdentity", testMissingIdentity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

var seq atomic.Uint64

// Now returns a millisecond-truncated UTC instant, the precision every backend preserves.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewIdentity returns a unique pending identity ready for Create.
func NewIdentity() *identity.Identity {
	n := seq.Add(1)
	now := Now()
	return &identity.Identity{
		ID:         uuid.NewString(),
		Name:       fmt.Sprintf("Rider %d", n),
		Email:      fmt.Sprintf("rider%d-%s@example.com", n, uuid.NewString()[:8]),
		Phone:      fmt.Sprintf("+9181%08d", n%100000000),
		SecretHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		Role:       identity.RolePassenger,
		Status:     identity.StatusPendingVerification,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func mustCreate(t *testing.T, s identity.Store) *identity.Identity {
	t.Helper()
	ident := NewIdentity()
	if err := s.Create(context.Background(), ident); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return ident
}

func testCreateAndFind(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)

	got, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Email != ident.Email || got.Phone != ident.Phone || got.SecretHash != ident.SecretHash {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.Role != identity.RolePassenger || got.Status != identity.StatusPendingVerification {
		t.Fatalf("unexpected role/status: %s/%s", got.Role, got.Status)
	}

	byEmail, err := s.FindByLogin(ctx, ident.Email)
	if err != nil || byEmail.ID != ident.ID {
		t.Fatalf("FindByLogin(email) = %v, %v", byEmail, err)
	}
	byPhone, err := s.FindByLogin(ctx, ident.Phone)
	if err != nil || byPhone.ID != ident.ID {
		t.Fatalf("FindByLogin(phone) = %v, %v", byPhone, err)
	}
}

func testDuplicate(t *testing.T, s identity.Store) {
	ctx := context.Background()
	first := mustCreate(t, s)

	sameEmail := NewIdentity()
	sameEmail.Email = first.Email
	if err := s.Create(ctx, sameEmail); !errors.Is(err, identity.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for email collision, got %v", err)
	}

	samePhone := NewIdentity()
	samePhone.Phone = first.Phone
	if err := s.Create(ctx, samePhone); !errors.Is(err, identity.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for phone collision, got %v", err)
	}
}

func testDeactivatedReleasesLogin(t *testing.T, s identity.Store) {
	ctx := context.Background()
	first := mustCreate(t, s)

	if err := s.SetStatus(ctx, first.ID, identity.StatusDeactivated, Now()); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if _, err := s.FindByLogin(ctx, first.Email); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected deactivated identity hidden from login lookup, got %v", err)
	}

	again := NewIdentity()
	again.Email = first.Email
	again.Phone = first.Phone
	if err := s.Create(ctx, again); err != nil {
		t.Fatalf("expected deactivated identity to release email/phone, got %v", err)
	}
	got, err := s.FindByLogin(ctx, first.Email)
	if err != nil || got.ID != again.ID {
		t.Fatalf("expected new identity on login lookup, got %v, %v", got, err)
	}
}

func testFailuresLockAtThreshold(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	policy := lockout.DefaultPolicy()
	now := Now()

	for i := 1; i < policy.Threshold; i++ {
		st, err := s.RecordFailure(ctx, ident.ID, now, policy)
		if err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i, err)
		}
		if st.FailureCount != i || st.Locked(now) {
			t.Fatalf("attempt %d: unexpected state %+v", i, st)
		}
	}

	st, err := s.RecordFailure(ctx, ident.ID, now, policy)
	if err != nil {
		t.Fatalf("RecordFailure at threshold failed: %v", err)
	}
	if !st.Locked(now) {
		t.Fatalf("expected lock at threshold, got %+v", st)
	}
	if want := now.Add(policy.Duration); !st.LockedUntil.Equal(want) {
		t.Fatalf("expected lockedUntil %v, got %v", want, st.LockedUntil)
	}
	if got := policy.Outcome(st, now); got != lockout.OutcomeLocked {
		t.Fatalf("expected locked outcome, got %s", got)
	}

	stored, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if !stored.IsLocked(now) {
		t.Fatal("expected persisted lock")
	}
}

func testLockOutcomeNanosecondClock(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	policy := lockout.DefaultPolicy()
	// Backends keep less than nanosecond precision; the lock must still be
	// recognized as set by the attempt that crossed the threshold.
	now := Now().Add(123456789 * time.Nanosecond % time.Millisecond)

	var st lockout.State
	for i := 0; i < policy.Threshold; i++ {
		var err error
		if st, err = s.RecordFailure(ctx, ident.ID, now, policy); err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i, err)
		}
	}
	if got := policy.Outcome(st, now); got != lockout.OutcomeLocked {
		t.Fatalf("expected locked outcome, got %s (lockedUntil %v, now %v)", got, st.LockedUntil, now)
	}
	if got := policy.Outcome(st, now.Add(time.Second)); got != lockout.OutcomeRejected {
		t.Fatalf("expected rejected outcome for a later attempt, got %s", got)
	}
}

func testLockedRejects(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	policy := lockout.DefaultPolicy()
	now := Now()

	for i := 0; i < policy.Threshold; i++ {
		if _, err := s.RecordFailure(ctx, ident.ID, now, policy); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	later := now.Add(time.Minute)
	st, err := s.RecordFailure(ctx, ident.ID, later, policy)
	if err != nil {
		t.Fatalf("RecordFailure while locked failed: %v", err)
	}
	if st.FailureCount != policy.Threshold {
		t.Fatalf("expected count to stay at %d, got %d", policy.Threshold, st.FailureCount)
	}
	if !st.LockedUntil.Equal(now.Add(policy.Duration)) {
		t.Fatalf("expected lock expiry unchanged, got %v", st.LockedUntil)
	}
	if got := policy.Outcome(st, later); got != lockout.OutcomeRejected {
		t.Fatalf("expected rejected outcome, got %s", got)
	}
}

func testExpiredLockRollsOver(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	policy := lockout.DefaultPolicy()
	now := Now()

	for i := 0; i < policy.Threshold; i++ {
		if _, err := s.RecordFailure(ctx, ident.ID, now, policy); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	after := now.Add(policy.Duration + time.Second)
	st, err := s.RecordFailure(ctx, ident.ID, after, policy)
	if err != nil {
		t.Fatalf("RecordFailure after expiry failed: %v", err)
	}
	if st.FailureCount != 1 || st.Locked(after) {
		t.Fatalf("expected Unlocked(1) after rollover, got %+v", st)
	}
	if !st.CountResetAt.Equal(after) {
		t.Fatalf("expected CountResetAt=%v, got %v", after, st.CountResetAt)
	}
}

func testSuccessResets(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	policy := lockout.DefaultPolicy()
	now := Now()

	for i := 0; i < 3; i++ {
		if _, err := s.RecordFailure(ctx, ident.ID, now, policy); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	st, err := s.RecordSuccess(ctx, ident.ID, now, identity.LastLogin{At: now, IP: "203.0.113.9", UserAgent: "suite"})
	if err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}
	if st.FailureCount != 0 || !st.LockedUntil.IsZero() {
		t.Fatalf("expected Unlocked(0), got %+v", st)
	}

	stored, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if stored.LastLogin == nil || stored.LastLogin.IP != "203.0.113.9" || !stored.LastLogin.At.Equal(now) {
		t.Fatalf("expected last login stamped, got %+v", stored.LastLogin)
	}
	if stored.Lockout.FailureCount != 0 {
		t.Fatalf("expected persisted count 0, got %d", stored.Lockout.FailureCount)
	}
}

func testSuccessRefusedWhileLocked(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	policy := lockout.DefaultPolicy()
	now := Now()

	for i := 0; i < policy.Threshold; i++ {
		if _, err := s.RecordFailure(ctx, ident.ID, now, policy); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	st, err := s.RecordSuccess(ctx, ident.ID, now.Add(time.Second), identity.LastLogin{At: now})
	if err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}
	if !st.Locked(now.Add(time.Second)) {
		t.Fatalf("expected lock to win over success, got %+v", st)
	}

	after := now.Add(policy.Duration)
	st, err = s.RecordSuccess(ctx, ident.ID, after, identity.LastLogin{At: after})
	if err != nil {
		t.Fatalf("RecordSuccess after expiry failed: %v", err)
	}
	if st.FailureCount != 0 || !st.LockedUntil.IsZero() {
		t.Fatalf("expected cleared state after expiry, got %+v", st)
	}
}

func testConcurrentFailures(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	policy := lockout.DefaultPolicy()
	now := Now()

	const workers = 24
	var (
		wg     sync.WaitGroup
		locked atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.RecordFailure(ctx, ident.ID, now, policy)
			if err != nil {
				t.Errorf("RecordFailure failed: %v", err)
				return
			}
			if policy.Outcome(st, now) == lockout.OutcomeLocked && st.FailureCount == policy.Threshold {
				locked.Add(1)
			}
		}()
	}
	wg.Wait()

	stored, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if stored.Lockout.FailureCount != policy.Threshold {
		t.Fatalf("expected exactly %d counted failures, got %d", policy.Threshold, stored.Lockout.FailureCount)
	}
	if !stored.IsLocked(now) {
		t.Fatal("expected identity locked after concurrent failures")
	}
	if locked.Load() == 0 {
		t.Fatal("expected at least one attempt to observe the lock transition")
	}
}

func testClearLockout(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	policy := lockout.DefaultPolicy()
	now := Now()

	for i := 0; i < policy.Threshold; i++ {
		if _, err := s.RecordFailure(ctx, ident.ID, now, policy); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if err := s.ClearLockout(ctx, ident.ID, now); err != nil {
		t.Fatalf("ClearLockout failed: %v", err)
	}
	stored, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if stored.IsLocked(now) || stored.Lockout.FailureCount != 0 {
		t.Fatalf("expected cleared lockout, got %+v", stored.Lockout)
	}
}

func testUpdateSecretAndStatus(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)

	if err := s.UpdateSecret(ctx, ident.ID, "$argon2id$new", Now()); err != nil {
		t.Fatalf("UpdateSecret failed: %v", err)
	}
	if err := s.SetStatus(ctx, ident.ID, identity.StatusSuspended, Now()); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	stored, err := s.FindByID(ctx, ident.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if stored.SecretHash != "$argon2id$new" || stored.Status != identity.StatusSuspended {
		t.Fatalf("unexpected identity after updates: %+v", stored)
	}
	if _, err := s.FindByLogin(ctx, ident.Email); err != nil {
		t.Fatalf("expected suspended identity to stay visible to login lookup, got %v", err)
	}
}

func testTokenConsumedOnce(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	now := Now()

	tok := identity.Token{Hash: "hash-" + ident.ID, ExpiresAt: now.Add(24 * time.Hour), Channel: identity.ChannelEmail}
	if err := s.SetToken(ctx, ident.ID, identity.KindVerification, tok, now); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	got, err := s.ConsumeToken(ctx, identity.KindVerification, tok.Hash, now, identity.Effect{Verify: identity.ChannelEmail})
	if err != nil {
		t.Fatalf("ConsumeToken failed: %v", err)
	}
	if got.ID != ident.ID || !got.EmailVerified || got.Status != identity.StatusActive {
		t.Fatalf("expected verified active identity, got %+v", got)
	}
	if got.VerificationToken != nil {
		t.Fatal("expected verification slot cleared")
	}

	if _, err := s.ConsumeToken(ctx, identity.KindVerification, tok.Hash, now, identity.Effect{Verify: identity.ChannelEmail}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected second consume to fail with ErrNotFound, got %v", err)
	}

	reset := identity.Token{Hash: "reset-" + ident.ID, ExpiresAt: now.Add(10 * time.Minute)}
	if err := s.SetToken(ctx, ident.ID, identity.KindReset, reset, now); err != nil {
		t.Fatalf("SetToken(reset) failed: %v", err)
	}
	if _, err := s.ConsumeToken(ctx, identity.KindVerification, reset.Hash, now, identity.Effect{}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected reset hash to be invisible to verification consume, got %v", err)
	}
	got, err = s.ConsumeToken(ctx, identity.KindReset, reset.Hash, now, identity.Effect{NewSecretHash: "$argon2id$reset"})
	if err != nil {
		t.Fatalf("ConsumeToken(reset) failed: %v", err)
	}
	if got.SecretHash != "$argon2id$reset" || got.ResetToken != nil {
		t.Fatalf("expected secret replaced and slot cleared, got %+v", got)
	}
}

func testTokenSuperseded(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	now := Now()

	first := identity.Token{Hash: "first-" + ident.ID, ExpiresAt: now.Add(10 * time.Minute)}
	second := identity.Token{Hash: "second-" + ident.ID, ExpiresAt: now.Add(10 * time.Minute)}
	if err := s.SetToken(ctx, ident.ID, identity.KindReset, first, now); err != nil {
		t.Fatalf("SetToken(first) failed: %v", err)
	}
	if err := s.SetToken(ctx, ident.ID, identity.KindReset, second, now); err != nil {
		t.Fatalf("SetToken(second) failed: %v", err)
	}

	if _, err := s.ConsumeToken(ctx, identity.KindReset, first.Hash, now, identity.Effect{NewSecretHash: "x"}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected superseded token rejected, got %v", err)
	}
	if _, err := s.ConsumeToken(ctx, identity.KindReset, second.Hash, now, identity.Effect{NewSecretHash: "y"}); err != nil {
		t.Fatalf("expected latest token accepted, got %v", err)
	}
}

func testTokenExpired(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	now := Now()

	tok := identity.Token{Hash: "exp-" + ident.ID, ExpiresAt: now.Add(10 * time.Minute)}
	if err := s.SetToken(ctx, ident.ID, identity.KindReset, tok, now); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	if _, err := s.ConsumeToken(ctx, identity.KindReset, tok.Hash, tok.ExpiresAt, identity.Effect{NewSecretHash: "x"}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected token rejected at expiry, got %v", err)
	}
}

func testConcurrentConsume(t *testing.T, s identity.Store) {
	ctx := context.Background()
	ident := mustCreate(t, s)
	now := Now()

	tok := identity.Token{Hash: "race-" + ident.ID, ExpiresAt: now.Add(10 * time.Minute)}
	if err := s.SetToken(ctx, ident.ID, identity.KindReset, tok, now); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	const workers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ConsumeToken(ctx, identity.KindReset, tok.Hash, now, identity.Effect{NewSecretHash: fmt.Sprintf("h%d", i)})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, identity.ErrNotFound):
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", wins.Load())
	}
}

func testMissingIdentity(t *testing.T, s identity.Store) {
	ctx := context.Background()
	missing := uuid.NewString()
	now := Now()

	if _, err := s.FindByID(ctx, missing); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("FindByID: expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindByLogin(ctx, "nobody@example.com"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("FindByLogin: expected ErrNotFound, got %v", err)
	}
	if _, err := s.RecordFailure(ctx, missing, now, lockout.DefaultPolicy()); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("RecordFailure: expected ErrNotFound, got %v", err)
	}
	if _, err := s.RecordSuccess(ctx, missing, now, identity.LastLogin{At: now}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("RecordSuccess: expected ErrNotFound, got %v", err)
	}
	if err := s.SetToken(ctx, missing, identity.KindReset, identity.Token{Hash: "h", ExpiresAt: now.Add(time.Minute)}, now); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("SetToken: expected ErrNotFound, got %v", err)
	}
}
