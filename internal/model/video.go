package model

import "time"

// Video is owned by the video catalogue. This service only reads it to
// enrich watch history, and writes it when seeding.
type Video struct {
	ID          string    `json:"_id"         bson:"_id"`
	OwnerID     string    `json:"owner"       bson:"owner"`
	Title       string    `json:"title"       bson:"title"`
	Description string    `json:"description" bson:"description"`
	VideoFile   string    `json:"videoFile"   bson:"videoFile"`
	Thumbnail   string    `json:"thumbnail"   bson:"thumbnail"`
	Duration    float64   `json:"duration"    bson:"duration"`
	Views       int64     `json:"views"       bson:"views"`
	IsPublished bool      `json:"isPublished" bson:"isPublished"`
	CreatedAt   time.Time `json:"createdAt"   bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"   bson:"updatedAt"`
}

// Subscription records that SubscriberID follows ChannelID. Both are user ids.
type Subscription struct {
	ID           string    `json:"_id"        bson:"_id"`
	SubscriberID string    `json:"subscriber" bson:"subscriber"`
	ChannelID    string    `json:"channel"    bson:"channel"`
	CreatedAt    time.Time `json:"createdAt"  bson:"createdAt"`
}
