// Package mongo implements store.Store on MongoDB. RunTransaction maps to
// a session transaction, which gives the same single-document
// read-modify-write atomicity the lease manager needs. Requires a replica
// set (transactions are unavailable on standalone servers).
package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/store"
)

const colJobs = "mail_jobs"

var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store. The caller owns the
// client lifecycle.
type Store struct {
	client *mongod.Client
	col    *mongod.Collection
}

func New(client *mongod.Client, database string) *Store {
	return &Store{
		client: client,
		col:    client.Database(database).Collection(colJobs),
	}
}

func (s *Store) Create(ctx context.Context, j *domain.Job) (string, error) {
	now := time.Now().UTC()
	cp := *j
	cp.ID = uuid.NewString()
	cp.Status = domain.StatusQueued
	cp.Attempts = 0
	if cp.NotBefore.IsZero() {
		cp.NotBefore = now
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now

	if _, err := s.col.InsertOne(ctx, toJobModel(&cp)); err != nil {
		return "", errors.Wrap(err, "insert mail job")
	}
	*j = cp
	return cp.ID, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	var m jobModel
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongod.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get mail job")
	}
	return fromJobModel(&m), nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		return nil, fn(sc, &mongoTx{col: s.col})
	})
	return err
}

type mongoTx struct{ col *mongod.Collection }

func (t *mongoTx) Get(ctx context.Context, id string) (*domain.Job, error) {
	var m jobModel
	err := t.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongod.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "tx get mail job")
	}
	return fromJobModel(&m), nil
}

func (t *mongoTx) Update(ctx context.Context, id string, p store.Patch) error {
	set := bson.M{}
	unset := bson.M{}

	if p.Status != nil {
		set["status"] = string(*p.Status)
	}
	if p.Attempts != nil {
		set["attempts"] = *p.Attempts
	}
	if p.LastError != nil {
		set["last_error"] = *p.LastError
	}
	if p.ClearLastError {
		unset["last_error"] = ""
	}
	if p.LeaseOwner != nil {
		set["lease_owner"] = *p.LeaseOwner
	}
	if p.LeaseExpiresAt != nil {
		set["lease_expires_at"] = *p.LeaseExpiresAt
	}
	if p.ClearLease {
		unset["lease_owner"] = ""
		unset["lease_expires_at"] = ""
	}
	if p.NotBefore != nil {
		set["not_before"] = *p.NotBefore
	}
	if p.DeliveryID != nil {
		set["delivery_id"] = *p.DeliveryID
	}
	if p.SentAt != nil {
		set["sent_at"] = *p.SentAt
	}
	if !p.UpdatedAt.IsZero() {
		set["updated_at"] = p.UpdatedAt
	} else {
		set["updated_at"] = time.Now().UTC()
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	res, err := t.col.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return errors.Wrap(err, "tx update mail job")
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListDue(ctx context.Context, environment string, now time.Time, limit int) ([]*domain.Job, error) {
	filter := bson.M{
		"environment": environment,
		"status":      string(domain.StatusQueued),
		"not_before":  bson.M{"$lte": now},
	}
	return s.list(ctx, filter, bson.D{{Key: "created_at", Value: 1}}, limit)
}

func (s *Store) ListExpiredLeases(ctx context.Context, environment string, now time.Time, limit int) ([]*domain.Job, error) {
	filter := bson.M{
		"environment":      environment,
		"status":           string(domain.StatusProcessing),
		"lease_expires_at": bson.M{"$lt": now},
	}
	return s.list(ctx, filter, bson.D{{Key: "created_at", Value: 1}}, limit)
}

func (s *Store) ListByStatus(ctx context.Context, environment string, status domain.Status, limit int) ([]*domain.Job, error) {
	filter := bson.M{
		"environment": environment,
		"status":      string(status),
	}
	return s.list(ctx, filter, bson.D{{Key: "created_at", Value: -1}}, limit)
}

func (s *Store) list(ctx context.Context, filter bson.M, sort bson.D, limit int) ([]*domain.Job, error) {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list mail jobs")
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, errors.Wrap(err, "decode mail jobs")
	}
	jobs := make([]*domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, fromJobModel(&models[i]))
	}
	return jobs, nil
}

// Migrate creates the indexes the scheduler and dispatcher queries rely on.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongod.IndexModel{
		{Keys: bson.D{{Key: "environment", Value: 1}, {Key: "status", Value: 1}, {Key: "not_before", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "lease_expires_at", Value: 1}}},
	})
	return errors.Wrap(err, "create indexes")
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }
func (s *Store) Close() error                   { return s.client.Disconnect(context.Background()) }
