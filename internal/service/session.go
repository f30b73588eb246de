package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/auth"
	"github.com/sakif/channelhub/internal/model"
	"github.com/sakif/channelhub/internal/repository"
)

const (
	msgTokenGeneration    = "Something went wrong while generating refresh and access token"
	msgNoRefreshToken     = "unauthorized request"
	msgUnknownRefreshUser = "invalid refresh token"
	msgStaleRefreshToken  = "refresh token is expired or used"
)

// TokenPair is what a successful login or refresh hands back to the client.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SessionIssuer mints token pairs and is the only writer of a user's stored
// refresh token (Logout clears it through the repository directly).
//
// A user has at most one live refresh token. Rotation replaces it with a
// compare-and-swap, so of several concurrent refreshes presenting the same
// token only one can win; the rest see "refresh token is expired or used".
type SessionIssuer struct {
	users  repository.UserRepository
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewSessionIssuer(users repository.UserRepository, tokens *auth.TokenService, logger *slog.Logger) *SessionIssuer {
	return &SessionIssuer{users: users, tokens: tokens, logger: logger}
}

// CreateSessionTokens issues a fresh pair for userID and stores the refresh
// half, replacing any previous session. Every failure is reported as the
// same internal error; the cause is logged.
func (s *SessionIssuer) CreateSessionTokens(ctx context.Context, userID string) (*TokenPair, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.internal(userID, fmt.Errorf("loading user: %w", err))
	}

	pair, err := s.issue(u)
	if err != nil {
		return nil, s.internal(userID, err)
	}

	if err := s.users.SetRefreshToken(ctx, u.ID, pair.RefreshToken); err != nil {
		return nil, s.internal(userID, fmt.Errorf("storing refresh token: %w", err))
	}
	return pair, nil
}

// RotateSessionTokens exchanges a valid, current refresh token for a new
// pair. The presented token stops working as soon as this returns.
func (s *SessionIssuer) RotateSessionTokens(ctx context.Context, incoming string) (*TokenPair, error) {
	if incoming == "" {
		return nil, apperror.Unauthorized(msgNoRefreshToken)
	}

	userID, err := s.tokens.ParseRefreshToken(incoming)
	if err != nil {
		return nil, apperror.Unauthorized(err.Error())
	}

	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgUnknownRefreshUser)
		}
		return nil, fmt.Errorf("service/session: loading user %s: %w", userID, err)
	}
	if u.RefreshToken == "" || u.RefreshToken != incoming {
		return nil, apperror.Unauthorized(msgStaleRefreshToken)
	}

	pair, err := s.issue(u)
	if err != nil {
		return nil, s.internal(userID, err)
	}

	swapped, err := s.users.SwapRefreshToken(ctx, u.ID, incoming, pair.RefreshToken)
	if err != nil {
		return nil, s.internal(userID, fmt.Errorf("swapping refresh token: %w", err))
	}
	if !swapped {
		s.logger.Warn("refresh token lost rotation race", slog.String("userID", userID))
		return nil, apperror.Unauthorized(msgStaleRefreshToken)
	}

	return pair, nil
}

func (s *SessionIssuer) issue(u *model.User) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(u)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(u)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *SessionIssuer) internal(userID string, cause error) error {
	s.logger.Error("session token issuance failed",
		slog.String("userID", userID),
		slog.String("error", cause.Error()),
	)
	return apperror.Internal(msgTokenGeneration, cause)
}
