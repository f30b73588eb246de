package model

import "time"

// ChannelProfile is the public view of a user as a channel, plus the
// viewer-relative IsSubscribed flag.
type ChannelProfile struct {
	ID                       string `json:"_id"`
	FullName                 string `json:"fullName"`
	Username                 string `json:"username"`
	Email                    string `json:"email"`
	Avatar                   string `json:"avatar"`
	CoverImage               string `json:"coverImage"`
	SubscriberCount          int64  `json:"subscriberCount"`
	ChannelSubscribedToCount int64  `json:"channelSubscribedToCount"`
	IsSubscribed             bool   `json:"isSubscribed"`
}

// VideoOwner is the projection of a User embedded in watch history entries.
type VideoOwner struct {
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// WatchedVideo is one watch history entry. Owner is nil when the owning
// account no longer exists.
type WatchedVideo struct {
	ID          string      `json:"_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	VideoFile   string      `json:"videoFile"`
	Thumbnail   string      `json:"thumbnail"`
	Duration    float64     `json:"duration"`
	Views       int64       `json:"views"`
	IsPublished bool        `json:"isPublished"`
	CreatedAt   time.Time   `json:"createdAt"`
	Owner       *VideoOwner `json:"owner"`
}

// NewWatchedVideo copies v and attaches owner's public projection.
func NewWatchedVideo(v Video, owner *User) WatchedVideo {
	w := WatchedVideo{
		ID:          v.ID,
		Title:       v.Title,
		Description: v.Description,
		VideoFile:   v.VideoFile,
		Thumbnail:   v.Thumbnail,
		Duration:    v.Duration,
		Views:       v.Views,
		IsPublished: v.IsPublished,
		CreatedAt:   v.CreatedAt,
	}
	if owner != nil {
		w.Owner = &VideoOwner{
			FullName: owner.FullName,
			Username: owner.Username,
			Avatar:   owner.Avatar,
		}
	}
	return w
}
