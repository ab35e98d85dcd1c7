// Package mongo implements the check-in key-value store on MongoDB. Each key
// is one document in the state collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/checkin/runtime/checkin/store"
)

const (
	defaultCollection = "checkin_state"
	defaultTimeout    = 5 * time.Second
	clientName        = "store-mongo"
)

type (
	// Options configures the Mongo store.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		// Namespace scopes keys, for example per user. Empty means global.
		Namespace string
		Timeout   time.Duration
	}

	// Store implements store.Store on a MongoDB collection.
	Store struct {
		mongo     *mongodriver.Client
		coll      collection
		namespace string
		timeout   time.Duration
		now       func() time.Time
	}

	stateDocument struct {
		ID        string    `bson:"_id"`
		Namespace string    `bson:"namespace"`
		Key       string    `bson:"key"`
		Value     []byte    `bson:"value"`
		UpdatedAt time.Time `bson:"updated_at"`
	}

	collection interface {
		FindOne(ctx context.Context, filter any) singleResult
		ReplaceOne(ctx context.Context, filter any, doc any) error
		DeleteOne(ctx context.Context, filter any) error
	}

	singleResult interface {
		Decode(val any) error
	}

	mongoCollection struct {
		coll *mongodriver.Collection
	}
)

// New returns a Mongo-backed store.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	return newStoreWithCollection(opts.Client, coll, opts.Namespace, opts.Timeout), nil
}

// Connect dials uri and returns a store on database scoped to namespace.
func Connect(ctx context.Context, uri, database, namespace string) (*Store, error) {
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(Options{Client: client, Database: database, Namespace: namespace})
}

func newStoreWithCollection(client *mongodriver.Client, coll collection, namespace string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{mongo: client, coll: coll, namespace: namespace, timeout: timeout, now: time.Now}
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Disconnect closes the underlying client.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.mongo.Disconnect(ctx)
}

// Get returns the value stored under key or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var doc stateDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": s.id(key)}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find %s: %w", key, err)
	}
	return doc.Value, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	doc := stateDocument{
		ID:        s.id(key),
		Namespace: s.namespace,
		Key:       key,
		Value:     append([]byte(nil), value...),
		UpdatedAt: s.now().UTC(),
	}
	if err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.coll.DeleteOne(ctx, bson.M{"_id": s.id(key)}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) id(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + "/" + key
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, doc any) error {
	_, err := c.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any) error {
	_, err := c.coll.DeleteOne(ctx, filter)
	return err
}
