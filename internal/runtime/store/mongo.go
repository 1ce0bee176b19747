package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig holds the connection settings of the MongoDB backend.
type MongoConfig struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	MaxIdleTime            time.Duration
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	RetryWrites            bool
	RetryReads             bool
}

// collection is the subset of *mongo.Collection the backend uses.
type collection interface {
	InsertOne(ctx context.Context, doc any) (any, error)
	Find(ctx context.Context, filter bson.M, opts *options.FindOptions) (*mongo.Cursor, error)
	CreateIndex(ctx context.Context, model mongo.IndexModel) error
}

type driverCollection struct {
	c *mongo.Collection
}

func (d driverCollection) InsertOne(ctx context.Context, doc any) (any, error) {
	res, err := d.c.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (d driverCollection) Find(ctx context.Context, filter bson.M, opts *options.FindOptions) (*mongo.Cursor, error) {
	return d.c.Find(ctx, filter, opts)
}

func (d driverCollection) CreateIndex(ctx context.Context, model mongo.IndexModel) error {
	_, err := d.c.Indexes().CreateOne(ctx, model)
	return err
}

// Mongo is the MongoDB Documents backend. One client is shared by the
// consumer and the health endpoint; the driver pool makes that safe.
type Mongo struct {
	collection func(name string) collection
	ping       func(ctx context.Context) error
	disconnect func(ctx context.Context) error
}

// ConnectMongo dials MongoDB and verifies the primary is reachable.
func ConnectMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetRetryWrites(cfg.RetryWrites).
		SetRetryReads(cfg.RetryReads)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.MaxIdleTime > 0 {
		opts.SetMaxConnIdleTime(cfg.MaxIdleTime)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrStore, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("%w: ping: %w", ErrStore, err)
	}

	db := client.Database(cfg.Database)
	return &Mongo{
		collection: func(name string) collection { return driverCollection{c: db.Collection(name)} },
		ping: func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		},
		disconnect: client.Disconnect,
	}, nil
}

func (m *Mongo) Append(ctx context.Context, coll string, doc any) (string, error) {
	id, err := m.collection(coll).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("%w: %s: %w", ErrDuplicate, coll, err)
		}
		return "", fmt.Errorf("%w: insert into %s: %w", ErrStore, coll, err)
	}
	return idString(id), nil
}

func (m *Mongo) Find(ctx context.Context, coll string, q Query, out any) error {
	opts := options.Find()
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.SortBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.SortBy, Value: dir}})
	}

	cursor, err := m.collection(coll).Find(ctx, bson.M(q.Filter), opts)
	if err != nil {
		return fmt.Errorf("%w: find in %s: %w", ErrStore, coll, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrStore, coll, err)
	}
	return nil
}

func (m *Mongo) EnsureUnique(ctx context.Context, coll, name string, fields ...string) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: index %s has no fields", ErrStore, name)
	}
	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	model := mongo.IndexModel{
		Keys: keys,
		Options: options.Index().
			SetName(name).
			SetUnique(true).
			SetPartialFilterExpression(bson.M{fields[0]: bson.M{"$exists": true}}),
	}
	if err := m.collection(coll).CreateIndex(ctx, model); err != nil {
		return fmt.Errorf("%w: create index %s on %s: %w", ErrStore, name, coll, err)
	}
	return nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStore, err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m.disconnect == nil {
		return nil
	}
	if err := m.disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: disconnect: %w", ErrStore, err)
	}
	return nil
}

func idString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
