package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/cache"
	"github.com/sakif/channelhub/internal/model"
	"github.com/sakif/channelhub/internal/repository"
)

// ProfileCache is the read-through cache ChannelService uses for the
// viewer-independent part of a channel profile. *cache.Cache satisfies it.
type ProfileCache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// channelCacheKey is where the profile of the channel named username lives.
func channelCacheKey(username string) string {
	return "channel:" + username
}

// ChannelService serves the two aggregation read paths: channel profiles
// with subscription counts, and watch history joined with videos and owners.
// Both are composed from a few indexed queries rather than one server-side
// pipeline, so the sqlite and mongo stores share the logic.
type ChannelService struct {
	users  repository.UserRepository
	videos repository.VideoRepository
	subs   repository.SubscriptionRepository
	logger *slog.Logger

	cache    ProfileCache
	cacheTTL time.Duration
}

func NewChannelService(
	users repository.UserRepository,
	videos repository.VideoRepository,
	subs repository.SubscriptionRepository,
	logger *slog.Logger,
) *ChannelService {
	return &ChannelService{users: users, videos: videos, subs: subs, logger: logger}
}

// WithCache enables profile caching for ttl. Profile fields are evicted by
// AccountService when they change; counts can lag behind new subscriptions
// by up to ttl.
func (s *ChannelService) WithCache(c ProfileCache, ttl time.Duration) *ChannelService {
	s.cache = c
	s.cacheTTL = ttl
	return s
}

// ChannelProfile looks up a channel by username (case-insensitive) and
// reports its subscriber count, how many channels it subscribes to, and
// whether viewerID subscribes to it. An empty viewerID means an anonymous
// viewer, who is never subscribed.
func (s *ChannelService) ChannelProfile(ctx context.Context, username, viewerID string) (*model.ChannelProfile, error) {
	name := normalizeHandle(username)
	if name == "" {
		return nil, apperror.BadRequest("username is missing")
	}

	if s.cache == nil {
		return s.buildProfile(ctx, name, viewerID)
	}

	profile, err := cache.GetOrLoadJSON(ctx, s.cache, channelCacheKey(name), s.cacheTTL,
		func(ctx context.Context) (*model.ChannelProfile, error) {
			return s.buildProfile(ctx, name, "")
		})
	if err != nil {
		return nil, err
	}
	if viewerID != "" {
		profile.IsSubscribed, err = s.subs.IsSubscribed(ctx, viewerID, profile.ID)
		if err != nil {
			return nil, fmt.Errorf("service/channel: checking subscription: %w", err)
		}
	}
	return profile, nil
}

// buildProfile runs the lookup, then the two counts and the membership
// check concurrently.
func (s *ChannelService) buildProfile(ctx context.Context, name, viewerID string) (*model.ChannelProfile, error) {
	channel, err := s.users.FindUserByUsername(ctx, name)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFoundMessage("channel does not exist")
		}
		return nil, fmt.Errorf("service/channel: finding channel %s: %w", name, err)
	}

	p := &model.ChannelProfile{
		ID:         channel.ID,
		FullName:   channel.FullName,
		Username:   channel.Username,
		Email:      channel.Email,
		Avatar:     channel.Avatar,
		CoverImage: channel.CoverImage,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.subs.CountSubscribers(gctx, channel.ID)
		p.SubscriberCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.subs.CountSubscriptions(gctx, channel.ID)
		p.ChannelSubscribedToCount = n
		return err
	})
	if viewerID != "" {
		g.Go(func() error {
			ok, err := s.subs.IsSubscribed(gctx, viewerID, channel.ID)
			p.IsSubscribed = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service/channel: aggregating channel %s: %w", name, err)
	}
	return p, nil
}

// WatchHistory returns the user's watched videos in history order, each
// with its owner's public projection. History entries whose video is gone
// are skipped; a video whose owner is gone has a nil Owner. Repeated
// entries are kept.
func (s *ChannelService) WatchHistory(ctx context.Context, userID string) ([]model.WatchedVideo, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/channel: loading user %s: %w", userID, err)
	}
	if len(u.WatchHistory) == 0 {
		return []model.WatchedVideo{}, nil
	}

	videos, err := s.videos.GetVideosByIDs(ctx, distinct(u.WatchHistory))
	if err != nil {
		return nil, fmt.Errorf("service/channel: loading videos: %w", err)
	}
	videoByID := make(map[string]model.Video, len(videos))
	ownerIDs := make([]string, 0, len(videos))
	for _, v := range videos {
		videoByID[v.ID] = v
		ownerIDs = append(ownerIDs, v.OwnerID)
	}

	owners, err := s.users.GetUsersByIDs(ctx, distinct(ownerIDs))
	if err != nil {
		return nil, fmt.Errorf("service/channel: loading video owners: %w", err)
	}
	ownerByID := make(map[string]*model.User, len(owners))
	for i := range owners {
		ownerByID[owners[i].ID] = &owners[i]
	}

	out := make([]model.WatchedVideo, 0, len(u.WatchHistory))
	for _, id := range u.WatchHistory {
		v, ok := videoByID[id]
		if !ok {
			continue
		}
		out = append(out, model.NewWatchedVideo(v, ownerByID[v.OwnerID]))
	}
	return out, nil
}

// RecordView appends videoID to the user's watch history.
func (s *ChannelService) RecordView(ctx context.Context, userID, videoID string) error {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return apperror.BadRequest("video id is missing")
	}

	found, err := s.videos.GetVideosByIDs(ctx, []string{videoID})
	if err != nil {
		return fmt.Errorf("service/channel: loading video %s: %w", videoID, err)
	}
	if len(found) == 0 {
		return apperror.NotFoundMessage("video does not exist")
	}

	if err := s.users.AppendWatchHistory(ctx, userID, videoID); err != nil {
		return fmt.Errorf("service/channel: recording view: %w", err)
	}
	return nil
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
