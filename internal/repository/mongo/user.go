package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/model"
)

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = xid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.WatchHistory == nil {
		u.WatchHistory = []string{}
	}

	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ConflictMessage("User with email or username already exists")
		}
		return fmt.Errorf("mongo: inserting user %s: %w", u.Username, err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findOne(ctx, id, bson.D{{Key: "_id", Value: id}})
}

func (s *Store) FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "username", Value: strings.ToLower(username)}},
		bson.D{{Key: "email", Value: strings.ToLower(email)}},
	}}}
	return s.findOne(ctx, username+"/"+email, filter)
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findOne(ctx, username, bson.D{{Key: "username", Value: strings.ToLower(username)}})
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findOne(ctx, email, bson.D{{Key: "email", Value: strings.ToLower(email)}})
}

func (s *Store) FindUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	key := fmt.Sprintf("github:%d", githubID)
	if githubID == 0 {
		return nil, apperror.NotFound("user", key)
	}
	return s.findOne(ctx, key, bson.D{{Key: "githubId", Value: githubID}})
}

func (s *Store) findOne(ctx context.Context, key string, filter bson.D) (*model.User, error) {
	var u model.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("mongo: finding user %s: %w", key, err)
	}
	if u.WatchHistory == nil {
		u.WatchHistory = []string{}
	}
	return &u, nil
}

func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	users := []model.User{}
	if len(ids) == 0 {
		return users, nil
	}

	cur, err := s.users.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, fmt.Errorf("mongo: listing users by id: %w", err)
	}
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("mongo: decoding users: %w", err)
	}
	return users, nil
}

func (s *Store) UpdateProfile(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now().UTC()
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "fullName", Value: u.FullName},
		{Key: "email", Value: u.Email},
		{Key: "avatar", Value: u.Avatar},
		{Key: "coverImage", Value: u.CoverImage},
		{Key: "updatedAt", Value: u.UpdatedAt},
	}}}

	res, err := s.users.UpdateByID(ctx, u.ID, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ConflictMessage("Email is already in use")
		}
		return fmt.Errorf("mongo: updating user %s: %w", u.ID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", u.ID)
	}
	return nil
}

func (s *Store) LinkGitHubID(ctx context.Context, id string, githubID int64) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "githubId", Value: githubID},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}}
	res, err := s.users.UpdateByID(ctx, id, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ConflictMessage("GitHub account is already linked to another user")
		}
		return fmt.Errorf("mongo: linking github id for %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.setFields(ctx, id, bson.D{{Key: "password", Value: passwordHash}})
}

// SetRefreshToken stores token, or removes the field entirely when token is
// empty so that "no active session" is an absent field, as before.
func (s *Store) SetRefreshToken(ctx context.Context, id, token string) error {
	if token != "" {
		return s.setFields(ctx, id, bson.D{{Key: "refreshToken", Value: token}})
	}

	res, err := s.users.UpdateByID(ctx, id, bson.D{
		{Key: "$unset", Value: bson.D{{Key: "refreshToken", Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: clearing refresh token for %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// SwapRefreshToken matches on both _id and the current token, so the check
// and the write are one atomic document update.
func (s *Store) SwapRefreshToken(ctx context.Context, id, current, next string) (bool, error) {
	if current == "" {
		return false, nil
	}
	filter := bson.D{{Key: "_id", Value: id}, {Key: "refreshToken", Value: current}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "refreshToken", Value: next},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}}}

	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mongo: swapping refresh token for %s: %w", id, err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) AppendWatchHistory(ctx context.Context, userID, videoID string) error {
	res, err := s.users.UpdateByID(ctx, userID, bson.D{
		{Key: "$push", Value: bson.D{{Key: "watchHistory", Value: videoID}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: appending watch history for %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (s *Store) setFields(ctx context.Context, id string, fields bson.D) error {
	fields = append(fields, bson.E{Key: "updatedAt", Value: time.Now().UTC()})
	res, err := s.users.UpdateByID(ctx, id, bson.D{{Key: "$set", Value: fields}})
	if err != nil {
		return fmt.Errorf("mongo: updating user %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}
