package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sakif/channelhub/internal/model"
)

func (s *Store) CreateVideo(ctx context.Context, v *model.Video) error {
	now := time.Now().UTC()
	if v.ID == "" {
		v.ID = xid.New().String()
	}
	v.CreatedAt = now
	v.UpdatedAt = now

	if _, err := s.videos.InsertOne(ctx, v); err != nil {
		return fmt.Errorf("mongo: inserting video %q: %w", v.Title, err)
	}
	return nil
}

func (s *Store) GetVideosByIDs(ctx context.Context, ids []string) ([]model.Video, error) {
	videos := []model.Video{}
	if len(ids) == 0 {
		return videos, nil
	}

	cur, err := s.videos.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, fmt.Errorf("mongo: listing videos by id: %w", err)
	}
	if err := cur.All(ctx, &videos); err != nil {
		return nil, fmt.Errorf("mongo: decoding videos: %w", err)
	}
	return videos, nil
}

// Subscribe upserts on (subscriber, channel) so repeating it is a no-op.
func (s *Store) Subscribe(ctx context.Context, subscriberID, channelID string) error {
	filter := bson.D{{Key: "subscriber", Value: subscriberID}, {Key: "channel", Value: channelID}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "_id", Value: xid.New().String()},
		{Key: "createdAt", Value: time.Now().UTC()},
	}}}

	_, err := s.subscriptions.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongo: subscribing %s to %s: %w", subscriberID, channelID, err)
	}
	return nil
}

func (s *Store) CountSubscribers(ctx context.Context, channelID string) (int64, error) {
	n, err := s.subscriptions.CountDocuments(ctx, bson.D{{Key: "channel", Value: channelID}})
	if err != nil {
		return 0, fmt.Errorf("mongo: counting subscribers of %s: %w", channelID, err)
	}
	return n, nil
}

func (s *Store) CountSubscriptions(ctx context.Context, subscriberID string) (int64, error) {
	n, err := s.subscriptions.CountDocuments(ctx, bson.D{{Key: "subscriber", Value: subscriberID}})
	if err != nil {
		return 0, fmt.Errorf("mongo: counting subscriptions of %s: %w", subscriberID, err)
	}
	return n, nil
}

func (s *Store) IsSubscribed(ctx context.Context, subscriberID, channelID string) (bool, error) {
	n, err := s.subscriptions.CountDocuments(ctx,
		bson.D{{Key: "subscriber", Value: subscriberID}, {Key: "channel", Value: channelID}},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongo: checking subscription: %w", err)
	}
	return n > 0, nil
}
