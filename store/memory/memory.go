// Package memory is a process-local identity.Store for development and tests.
//
// Every mutation runs under one mutex, which makes RecordFailure,
// RecordSuccess and ConsumeToken atomic within the process. Data does not
// survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/lockout"
)

// Store keeps identities in maps keyed by id and by login field.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*identity.Identity
	byLogin map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*identity.Identity),
		byLogin: make(map[string]string),
	}
}

var _ identity.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, ident *identity.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[ident.ID]; ok {
		return identity.ErrDuplicate
	}
	if _, ok := s.byLogin[ident.Email]; ok && ident.Email != "" {
		return identity.ErrDuplicate
	}
	if _, ok := s.byLogin[ident.Phone]; ok && ident.Phone != "" {
		return identity.ErrDuplicate
	}

	stored := ident.Clone()
	s.byID[stored.ID] = stored
	s.index(stored)
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return ident.Clone(), nil
}

func (s *Store) FindByLogin(ctx context.Context, login string) (*identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLogin[login]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *Store) RecordFailure(ctx context.Context, id string, now time.Time, policy lockout.Policy) (lockout.State, error) {
	var out lockout.State
	err := s.mutate(ctx, id, func(ident *identity.Identity) error {
		before := ident.Lockout
		ident.Lockout = policy.Fail(before, now)
		if ident.Lockout != before {
			ident.UpdatedAt = now
		}
		out = ident.Lockout
		return nil
	})
	return out, err
}

func (s *Store) RecordSuccess(ctx context.Context, id string, now time.Time, login identity.LastLogin) (lockout.State, error) {
	var out lockout.State
	err := s.mutate(ctx, id, func(ident *identity.Identity) error {
		next, ok := lockout.Policy{}.Succeed(ident.Lockout, now)
		if !ok {
			out = ident.Lockout
			return nil
		}
		ident.Lockout = next
		ll := login
		ident.LastLogin = &ll
		ident.UpdatedAt = now
		out = next
		return nil
	})
	return out, err
}

func (s *Store) ClearLockout(ctx context.Context, id string, now time.Time) error {
	return s.mutate(ctx, id, func(ident *identity.Identity) error {
		ident.Lockout = lockout.State{CountResetAt: now}
		ident.UpdatedAt = now
		return nil
	})
}

func (s *Store) UpdateSecret(ctx context.Context, id, secretHash string, now time.Time) error {
	return s.mutate(ctx, id, func(ident *identity.Identity) error {
		ident.SecretHash = secretHash
		ident.UpdatedAt = now
		return nil
	})
}

func (s *Store) SetStatus(ctx context.Context, id string, status identity.Status, now time.Time) error {
	return s.mutate(ctx, id, func(ident *identity.Identity) error {
		if status != identity.StatusDeactivated && ident.Status == identity.StatusDeactivated {
			if s.collides(ident) {
				return identity.ErrDuplicate
			}
		}
		s.unindex(ident)
		ident.Status = status
		ident.UpdatedAt = now
		s.index(ident)
		return nil
	})
}

func (s *Store) SetToken(ctx context.Context, id string, kind identity.TokenKind, tok identity.Token, now time.Time) error {
	return s.mutate(ctx, id, func(ident *identity.Identity) error {
		stored := tok
		switch kind {
		case identity.KindVerification:
			ident.VerificationToken = &stored
		case identity.KindReset:
			ident.ResetToken = &stored
		default:
			return identity.ErrNotFound
		}
		ident.UpdatedAt = now
		return nil
	})
}

func (s *Store) ConsumeToken(ctx context.Context, kind identity.TokenKind, hash string, now time.Time, effect identity.Effect) (*identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ident := range s.byID {
		if ident.Status == identity.StatusDeactivated {
			continue
		}
		slot := ident.TokenSlot(kind)
		if slot == nil || slot.Hash != hash || !now.Before(slot.ExpiresAt) {
			continue
		}
		effect.Apply(ident, kind, now)
		return ident.Clone(), nil
	}
	return nil, identity.ErrNotFound
}

func (s *Store) mutate(ctx context.Context, id string, fn func(*identity.Identity) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return identity.ErrNotFound
	}
	return fn(ident)
}

// index and unindex maintain the login lookup, which only covers
// non-deactivated identities. Callers hold s.mu.
func (s *Store) index(ident *identity.Identity) {
	if ident.Status == identity.StatusDeactivated {
		return
	}
	if ident.Email != "" {
		s.byLogin[ident.Email] = ident.ID
	}
	if ident.Phone != "" {
		s.byLogin[ident.Phone] = ident.ID
	}
}

func (s *Store) unindex(ident *identity.Identity) {
	for _, key := range []string{ident.Email, ident.Phone} {
		if key != "" && s.byLogin[key] == ident.ID {
			delete(s.byLogin, key)
		}
	}
}

func (s *Store) collides(ident *identity.Identity) bool {
	for _, key := range []string{ident.Email, ident.Phone} {
		if other, ok := s.byLogin[key]; ok && key != "" && other != ident.ID {
			return true
		}
	}
	return false
}
