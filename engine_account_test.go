package authcore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/railconnect/authcore/identity"
)

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	sess := env.register(t, "asha@example.com")
	ctx := ctxFromIP("203.0.113.70")

	next, err := env.engine.ChangePassword(ctx, sess.Identity.ID, testPassword, "brand-new-secret-7", false)
	if err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if next.RefreshToken == "" || next.RefreshToken == sess.RefreshToken {
		t.Fatal("expected a fresh session")
	}
	if _, err := env.engine.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected old refresh token revoked, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("expected new refresh token live, got %v", err)
	}
	if _, err := env.engine.Login(ctx, Credentials{Identifier: "asha@example.com", Password: "brand-new-secret-7"}); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestChangePasswordRejects(t *testing.T) {
	env := newTestEnv(t)
	sess := env.register(t, "asha@example.com")
	ctx := context.Background()

	if _, err := env.engine.ChangePassword(ctx, sess.Identity.ID, "wrong-password", "brand-new-secret-7", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := env.identity(t, sess.Identity.ID).Lockout.FailureCount; got != 1 {
		t.Fatalf("expected wrong current password to count once, got %d", got)
	}
	if _, err := env.engine.ChangePassword(ctx, sess.Identity.ID, testPassword, testPassword, false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unchanged password, got %v", err)
	}
	if _, err := env.engine.ChangePassword(ctx, sess.Identity.ID, "", "brand-new-secret-7", false); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing current password, got %v", err)
	}
	if _, err := env.engine.ChangePassword(ctx, "missing", testPassword, "brand-new-secret-7", false); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for unknown identity, got %v", err)
	}
}

func TestChangePasswordGuessingLocks(t *testing.T) {
	env := newTestEnv(t)
	sess := env.register(t, "asha@example.com")
	ctx := ctxFromIP("203.0.113.71")
	threshold := env.engine.config.Lockout.Threshold

	for i := 1; i < threshold; i++ {
		_, err := env.engine.ChangePassword(ctx, sess.Identity.ID, fmt.Sprintf("guess-%d-wrong", i), "brand-new-secret-7", false)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("guess %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := env.engine.ChangePassword(ctx, sess.Identity.ID, "final-guess-wrong", "brand-new-secret-7", false); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked at threshold, got %v", err)
	}

	stored := env.identity(t, sess.Identity.ID)
	if stored.Lockout.FailureCount != threshold || !stored.IsLocked(env.clock.Now()) {
		t.Fatalf("expected identity locked after %d guesses, got %+v", threshold, stored.Lockout)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLoginLocked]; got != 1 {
		t.Fatalf("expected one lock transition, got %d", got)
	}

	// The right secret no longer helps, on either path.
	if _, err := env.engine.ChangePassword(ctx, sess.Identity.ID, testPassword, "brand-new-secret-7", false); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked with correct current password, got %v", err)
	}
	if _, err := env.engine.Login(ctx, Credentials{Identifier: "asha@example.com", Password: testPassword}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected login locked too, got %v", err)
	}
}

func TestSetStatusRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	sess := env.register(t, "asha@example.com")
	ctx := context.Background()

	if err := env.engine.SetStatus(ctx, sess.Identity.ID, identity.StatusSuspended); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, sess.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected refresh revoked, got %v", err)
	}
	// Access tokens run to expiry.
	if _, err := env.engine.Validate(ctx, sess.AccessToken); err != nil {
		t.Fatalf("expected access token still valid, got %v", err)
	}

	if err := env.engine.SetStatus(ctx, sess.Identity.ID, identity.StatusActive); err != nil {
		t.Fatalf("reactivate failed: %v", err)
	}
	if _, err := env.engine.Login(ctxFromIP("203.0.113.71"), Credentials{Identifier: "asha@example.com", Password: testPassword}); err != nil {
		t.Fatalf("expected login after reactivation, got %v", err)
	}
}

func TestSetStatusErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.engine.SetStatus(ctx, "missing", identity.StatusActive); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := env.engine.SetStatus(ctx, "missing", identity.Status("banned")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDeactivatedIdentityFreesLogin(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "asha@example.com")
	ctx := context.Background()

	if err := env.engine.SetStatus(ctx, first.Identity.ID, identity.StatusDeactivated); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if _, err := env.engine.Login(ctxFromIP("203.0.113.72"), Credentials{Identifier: "asha@example.com", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected deactivated identity invisible to login, got %v", err)
	}

	second := env.register(t, "asha@example.com")
	if second.Identity.ID == first.Identity.ID {
		t.Fatal("expected a new identity")
	}
}

func TestUnlock(t *testing.T) {
	env := newTestEnv(t, generousLoginLimit)
	sess := env.register(t, "asha@example.com")
	ctx := ctxFromIP("203.0.113.73")

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, Credentials{Identifier: "asha@example.com", Password: "wrong-password"})
	}
	if err := env.engine.Unlock(context.Background(), sess.Identity.ID); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, Credentials{Identifier: "asha@example.com", Password: testPassword}); err != nil {
		t.Fatalf("expected login after unlock, got %v", err)
	}
	if err := env.engine.Unlock(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "asha@example.com")

	cases := []struct {
		name  string
		req   Registration
		field string
	}{
		{name: "missing name", req: Registration{Email: "b@example.com", Phone: "+919876500001", Password: testPassword}, field: "name"},
		{name: "bad email", req: Registration{Name: "B", Email: "not-an-email", Phone: "+919876500001", Password: testPassword}, field: "email"},
		{name: "bad phone", req: Registration{Name: "B", Email: "b@example.com", Phone: "12", Password: testPassword}, field: "phone"},
		{name: "short password", req: Registration{Name: "B", Email: "b@example.com", Phone: "+919876500001", Password: "short"}, field: "password"},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := ctxFromIP(fmt.Sprintf("198.18.0.%d", i+1))
			_, err := env.engine.Register(ctx, tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %q, got %v", tc.field, err)
			}
		})
	}

	_, err := env.engine.Register(ctxFromIP("198.18.1.1"), Registration{
		Name:     "Other",
		Email:    "other@example.com",
		Phone:    first.Identity.Phone,
		Password: testPassword,
	})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity on phone, got %v", err)
	}
	_, err = env.engine.Register(ctxFromIP("198.18.1.2"), Registration{
		Name:     "Other",
		Email:    "ASHA@example.com",
		Phone:    "+919876500002",
		Password: testPassword,
	})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity on email, got %v", err)
	}
}

func TestRegisterRateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := ctxFromIP("198.18.2.1")

	for i := 0; i < 3; i++ {
		_, _ = env.engine.Register(ctx, Registration{Name: "X", Email: "bad"})
	}
	_, err := env.engine.Register(ctx, Registration{Name: "X", Email: "bad"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
