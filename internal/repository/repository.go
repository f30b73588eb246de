// Package repository declares the storage contracts the services depend on.
//
// Two backends implement them: repository/mongo (the document store used in
// production) and repository/sqlite (embedded, used for local runs and
// tests). Services only ever see these interfaces.
//
// ERROR CONTRACT:
//   - lookups that find nothing return an error wrapping apperror.ErrNotFound
//   - unique username/email violations return an error wrapping apperror.ErrConflict
//   - everything else is an opaque wrapped driver error
package repository

import (
	"context"

	"github.com/sakif/channelhub/internal/model"
)

type UserRepository interface {
	// CreateUser inserts u, assigning ID and timestamps when empty.
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// FindUserByUsernameOrEmail matches either field. Inputs are compared
	// against the stored lowercase values.
	FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	// FindUserByGitHubID matches the linked GitHub account ID. Zero never
	// matches.
	FindUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error)

	// UpdateProfile writes fullName, email, avatar and coverImage.
	UpdateProfile(ctx context.Context, u *model.User) error
	// LinkGitHubID records githubID on the user. An ID already linked to
	// another user is a conflict.
	LinkGitHubID(ctx context.Context, id string, githubID int64) error
	// UpdatePassword writes only the password hash.
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// SetRefreshToken overwrites the stored token; "" clears it.
	SetRefreshToken(ctx context.Context, id, token string) error
	// SwapRefreshToken replaces current with next only if current is still
	// the stored value. It reports whether the swap happened.
	SwapRefreshToken(ctx context.Context, id, current, next string) (bool, error)

	// AppendWatchHistory adds videoID to the end of the user's history.
	AppendWatchHistory(ctx context.Context, userID, videoID string) error
}

type VideoRepository interface {
	CreateVideo(ctx context.Context, v *model.Video) error
	// GetVideosByIDs returns the videos that exist, in no particular order.
	GetVideosByIDs(ctx context.Context, ids []string) ([]model.Video, error)
}

type SubscriptionRepository interface {
	Subscribe(ctx context.Context, subscriberID, channelID string) error
	// CountSubscribers counts subscriptions whose channel is channelID.
	CountSubscribers(ctx context.Context, channelID string) (int64, error)
	// CountSubscriptions counts subscriptions whose subscriber is subscriberID.
	CountSubscriptions(ctx context.Context, subscriberID string) (int64, error)
	IsSubscribed(ctx context.Context, subscriberID, channelID string) (bool, error)
}

// Store is everything a backend provides.
type Store interface {
	UserRepository
	VideoRepository
	SubscriptionRepository
	Ping(ctx context.Context) error
	Close() error
}
