package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// Subscribe records subscriberID → channelID. Subscribing twice is a no-op.
func (db *DB) Subscribe(ctx context.Context, subscriberID, channelID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO subscriptions (id, subscriber_id, channel_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (subscriber_id, channel_id) DO NOTHING`,
		xid.New().String(), subscriberID, channelID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: subscribing %s to %s: %w", subscriberID, channelID, err)
	}
	return nil
}

func (db *DB) CountSubscribers(ctx context.Context, channelID string) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM subscriptions WHERE channel_id = ?`, channelID)
}

func (db *DB) CountSubscriptions(ctx context.Context, subscriberID string) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM subscriptions WHERE subscriber_id = ?`, subscriberID)
}

func (db *DB) IsSubscribed(ctx context.Context, subscriberID, channelID string) (bool, error) {
	n, err := db.count(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE subscriber_id = ? AND channel_id = ?`,
		subscriberID, channelID)
	return n > 0, err
}

func (db *DB) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting subscriptions: %w", err)
	}
	return n, nil
}
