// Package mongo implements the repository interfaces on MongoDB, the
// production document store.
//
// Collections: users, videos, subscriptions. Unique indexes on
// users.username and users.email back the uniqueness invariants, and a sparse
// unique index on users.githubId keeps one account per GitHub identity; the service
// layer's pre-check is only a friendlier error message.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/sakif/channelhub/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store holds the client and the three collections it uses.
type Store struct {
	client        *mongo.Client
	users         *mongo.Collection
	videos        *mongo.Collection
	subscriptions *mongo.Collection
}

// New connects to uri, verifies the connection and ensures indexes.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:        client,
		users:         db.Collection("users"),
		videos:        db.Collection("videos"),
		subscriptions: db.Collection("subscriptions"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "githubId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "fullName", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating user indexes: %w", err)
	}

	_, err = s.subscriptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "channel", Value: 1}}},
		{
			Keys:    bson.D{{Key: "subscriber", Value: 1}, {Key: "channel", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating subscription indexes: %w", err)
	}

	_, err = s.videos.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "owner", Value: 1}}})
	if err != nil {
		return fmt.Errorf("mongo: creating video indexes: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client, waiting up to ten seconds for in-flight
// operations.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes the whole database. Tests only.
func (s *Store) Drop(ctx context.Context) error {
	return s.users.Database().Drop(ctx)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
