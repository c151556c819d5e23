// Package mongo implements identity.Store on MongoDB.
//
// Every state transition is one FindOneAndUpdate or UpdateOne whose filter
// and pipeline update read the document as it was before the write, so the
// server's document-level atomicity serializes concurrent attempts.
//
// Uniqueness of live logins is enforced by email_key and phone_key: copies
// of email and phone that exist only while the identity is not deactivated,
// covered by unique partial indexes.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/lockout"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// DefaultCollection is the collection identities live in.
const DefaultCollection = "identities"

type tokenDoc struct {
	Hash      string    `bson:"hash"`
	ExpiresAt time.Time `bson:"expires_at"`
	Channel   string    `bson:"channel,omitempty"`
}

type lastLoginDoc struct {
	At        time.Time `bson:"at"`
	IP        string    `bson:"ip"`
	UserAgent string    `bson:"ua"`
}

type document struct {
	ID            string        `bson:"_id"`
	Name          string        `bson:"name"`
	Email         string        `bson:"email"`
	Phone         string        `bson:"phone"`
	EmailKey      string        `bson:"email_key,omitempty"`
	PhoneKey      string        `bson:"phone_key,omitempty"`
	SecretHash    string        `bson:"secret_hash"`
	Role          string        `bson:"role"`
	Status        string        `bson:"status"`
	EmailVerified bool          `bson:"email_verified"`
	PhoneVerified bool          `bson:"phone_verified"`
	FailureCount  int           `bson:"failure_count"`
	LockedUntil   *time.Time    `bson:"locked_until"`
	CountResetAt  *time.Time    `bson:"count_reset_at"`
	LastLogin     *lastLoginDoc `bson:"last_login,omitempty"`
	VerifyToken   *tokenDoc     `bson:"verify_token,omitempty"`
	ResetToken    *tokenDoc     `bson:"reset_token,omitempty"`
	CreatedAt     time.Time     `bson:"created_at"`
	UpdatedAt     time.Time     `bson:"updated_at"`
}

type lockoutDoc struct {
	FailureCount int        `bson:"failure_count"`
	LockedUntil  *time.Time `bson:"locked_until"`
	CountResetAt *time.Time `bson:"count_reset_at"`
}

// Store is the MongoDB credential store.
type Store struct {
	coll *mongo.Collection
}

// New returns a Store on coll. Call EnsureIndexes once before serving.
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

var _ identity.Store = (*Store)(nil)

// Open connects to uri and verifies the primary is reachable.
func Open(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect error: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongo ping error: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the uniqueness and token lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	exists := func(field string) bson.M { return bson.M{field: bson.M{"$exists": true}} }
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(exists("email_key")),
		},
		{
			Keys:    bson.D{{Key: "phone_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(exists("phone_key")),
		},
		{
			Keys:    bson.D{{Key: "verify_token.hash", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "reset_token.hash", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongo index error: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, ident *identity.Identity) error {
	doc := toDocument(ident)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *Store) FindByLogin(ctx context.Context, login string) (*identity.Identity, error) {
	return s.findOne(ctx, bson.M{"$or": bson.A{
		bson.M{"email_key": login},
		bson.M{"phone_key": login},
	}})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*identity.Identity, error) {
	var doc document
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return doc.toIdentity(), nil
}

var lockoutProjection = bson.M{"failure_count": 1, "locked_until": 1, "count_reset_at": 1}

func hasLock() bson.M {
	return bson.M{"$eq": bson.A{bson.M{"$type": "$locked_until"}, "date"}}
}

func (s *Store) RecordFailure(ctx context.Context, id string, now time.Time, policy lockout.Policy) (lockout.State, error) {
	until := policy.LockUntil(now)
	live := bson.M{"$and": bson.A{hasLock(), bson.M{"$gt": bson.A{"$locked_until", now}}}}
	expired := bson.M{"$and": bson.A{hasLock(), bson.M{"$lte": bson.A{"$locked_until", now}}}}

	var rolloverLock any
	if 1 >= policy.Threshold {
		rolloverLock = until
	}

	update := bson.A{bson.M{"$set": bson.M{
		"failure_count": bson.M{"$switch": bson.M{
			"branches": bson.A{
				bson.M{"case": live, "then": "$failure_count"},
				bson.M{"case": expired, "then": 1},
			},
			"default": bson.M{"$add": bson.A{"$failure_count", 1}},
		}},
		"locked_until": bson.M{"$switch": bson.M{
			"branches": bson.A{
				bson.M{"case": live, "then": "$locked_until"},
				bson.M{"case": expired, "then": rolloverLock},
				bson.M{"case": bson.M{"$gte": bson.A{bson.M{"$add": bson.A{"$failure_count", 1}}, policy.Threshold}}, "then": until},
			},
			"default": nil,
		}},
		"count_reset_at": bson.M{"$cond": bson.A{expired, now, "$count_reset_at"}},
		"updated_at":     bson.M{"$cond": bson.A{live, "$updated_at", now}},
	}}}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(lockoutProjection)
	var doc lockoutDoc
	if err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc); err != nil {
		return lockout.State{}, mapError(err)
	}
	return doc.state(), nil
}

func (s *Store) RecordSuccess(ctx context.Context, id string, now time.Time, login identity.LastLogin) (lockout.State, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"locked_until": nil},
			bson.M{"locked_until": bson.M{"$lte": now}},
		},
	}
	dirty := bson.M{"$or": bson.A{bson.M{"$gt": bson.A{"$failure_count", 0}}, hasLock()}}
	update := bson.A{bson.M{"$set": bson.M{
		"failure_count":  0,
		"locked_until":   nil,
		"count_reset_at": bson.M{"$cond": bson.A{dirty, now, "$count_reset_at"}},
		"last_login": bson.M{
			"at": now,
			"ip": bson.M{"$literal": login.IP},
			"ua": bson.M{"$literal": login.UserAgent},
		},
		"updated_at": now,
	}}}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(lockoutProjection)
	var doc lockoutDoc
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.state(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return lockout.State{}, mapError(err)
	}

	// Nothing matched: either the identity is gone or a live lock won.
	findOpts := options.FindOne().SetProjection(lockoutProjection)
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}, findOpts).Decode(&doc); err != nil {
		return lockout.State{}, mapError(err)
	}
	return doc.state(), nil
}

func (s *Store) ClearLockout(ctx context.Context, id string, now time.Time) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{
		"failure_count":  0,
		"locked_until":   nil,
		"count_reset_at": now,
		"updated_at":     now,
	}})
}

func (s *Store) UpdateSecret(ctx context.Context, id, secretHash string, now time.Time) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{
		"secret_hash": secretHash,
		"updated_at":  now,
	}})
}

func (s *Store) SetStatus(ctx context.Context, id string, status identity.Status, now time.Time) error {
	if status == identity.StatusDeactivated {
		return s.updateOne(ctx, id, bson.M{
			"$set":   bson.M{"status": string(status), "updated_at": now},
			"$unset": bson.M{"email_key": "", "phone_key": ""},
		})
	}
	return s.updateOne(ctx, id, bson.A{bson.M{"$set": bson.M{
		"status":     bson.M{"$literal": string(status)},
		"email_key":  "$email",
		"phone_key":  "$phone",
		"updated_at": now,
	}}})
}

func (s *Store) SetToken(ctx context.Context, id string, kind identity.TokenKind, tok identity.Token, now time.Time) error {
	field, err := slotField(kind)
	if err != nil {
		return err
	}
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{
		field: tokenDoc{
			Hash:      tok.Hash,
			ExpiresAt: tok.ExpiresAt,
			Channel:   string(tok.Channel),
		},
		"updated_at": now,
	}})
}

func (s *Store) ConsumeToken(ctx context.Context, kind identity.TokenKind, hash string, now time.Time, effect identity.Effect) (*identity.Identity, error) {
	field, err := slotField(kind)
	if err != nil {
		return nil, identity.ErrNotFound
	}
	filter := bson.M{
		field + ".hash":       hash,
		field + ".expires_at": bson.M{"$gt": now},
		"status":              bson.M{"$ne": string(identity.StatusDeactivated)},
	}

	set := bson.M{"updated_at": now}
	switch effect.Verify {
	case identity.ChannelEmail:
		set["email_verified"] = true
	case identity.ChannelPhone:
		set["phone_verified"] = true
	}
	if effect.Verify != "" {
		set["status"] = bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{"$status", string(identity.StatusPendingVerification)}},
			string(identity.StatusActive),
			"$status",
		}}
	}
	if effect.NewSecretHash != "" {
		set["secret_hash"] = bson.M{"$literal": effect.NewSecretHash}
	}
	update := bson.A{
		bson.M{"$set": set},
		bson.M{"$unset": field},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc document
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return doc.toIdentity(), nil
}

func (s *Store) updateOne(ctx context.Context, id string, update any) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func slotField(kind identity.TokenKind) (string, error) {
	switch kind {
	case identity.KindVerification:
		return "verify_token", nil
	case identity.KindReset:
		return "reset_token", nil
	default:
		return "", fmt.Errorf("unknown token kind %d", kind)
	}
}

func toDocument(ident *identity.Identity) document {
	doc := document{
		ID:            ident.ID,
		Name:          ident.Name,
		Email:         ident.Email,
		Phone:         ident.Phone,
		SecretHash:    ident.SecretHash,
		Role:          string(ident.Role),
		Status:        string(ident.Status),
		EmailVerified: ident.EmailVerified,
		PhoneVerified: ident.PhoneVerified,
		FailureCount:  ident.Lockout.FailureCount,
		LockedUntil:   timePtr(ident.Lockout.LockedUntil),
		CountResetAt:  timePtr(ident.Lockout.CountResetAt),
		CreatedAt:     ident.CreatedAt,
		UpdatedAt:     ident.UpdatedAt,
	}
	if ident.Status != identity.StatusDeactivated {
		doc.EmailKey = ident.Email
		doc.PhoneKey = ident.Phone
	}
	return doc
}

func (d document) toIdentity() *identity.Identity {
	ident := &identity.Identity{
		ID:            d.ID,
		Name:          d.Name,
		Email:         d.Email,
		Phone:         d.Phone,
		SecretHash:    d.SecretHash,
		Role:          identity.Role(d.Role),
		Status:        identity.Status(d.Status),
		EmailVerified: d.EmailVerified,
		PhoneVerified: d.PhoneVerified,
		Lockout: lockoutDoc{
			FailureCount: d.FailureCount,
			LockedUntil:  d.LockedUntil,
			CountResetAt: d.CountResetAt,
		}.state(),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if d.LastLogin != nil {
		ident.LastLogin = &identity.LastLogin{
			At:        d.LastLogin.At.UTC(),
			IP:        d.LastLogin.IP,
			UserAgent: d.LastLogin.UserAgent,
		}
	}
	if d.VerifyToken != nil {
		ident.VerificationToken = d.VerifyToken.token()
	}
	if d.ResetToken != nil {
		ident.ResetToken = d.ResetToken.token()
	}
	return ident
}

func (t *tokenDoc) token() *identity.Token {
	return &identity.Token{
		Hash:      t.Hash,
		ExpiresAt: t.ExpiresAt.UTC(),
		Channel:   identity.Channel(t.Channel),
	}
}

func (d lockoutDoc) state() lockout.State {
	st := lockout.State{FailureCount: d.FailureCount}
	if d.LockedUntil != nil {
		st.LockedUntil = d.LockedUntil.UTC()
	}
	if d.CountResetAt != nil {
		st.CountResetAt = d.CountResetAt.UTC()
	}
	return st
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func mapError(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return identity.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return identity.ErrDuplicate
	default:
		return fmt.Errorf("%w: mongo error: %w", identity.ErrUnavailable, err)
	}
}
