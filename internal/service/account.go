// Package service holds the account business rules.
//
//	AccountHandler (HTTP) → AccountService (rules) → UserRepository (store)
//	                                              ↘ SessionIssuer (tokens)
//	                                              ↘ assets.Uploader (images)
//
// Services never touch http.Request or cookies. They take plain inputs,
// return sanitized models, and report failures as *apperror.AppError so the
// handler boundary can pick the status and message.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/assets"
	"github.com/sakif/channelhub/internal/auth"
	"github.com/sakif/channelhub/internal/model"
	"github.com/sakif/channelhub/internal/repository"
)

// bcrypt ignores everything past 72 bytes.
const maxPasswordBytes = 72

// RegisterInput carries the registration form. AvatarPath and CoverImagePath
// are staged temp files; the service removes them once uploaded.
type RegisterInput struct {
	FullName       string
	Username       string
	Email          string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

type LoginInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdateAccountInput struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// LoginResult is returned by password and GitHub sign-in.
type LoginResult struct {
	User   *model.User
	Tokens *TokenPair
}

type AccountService struct {
	users     repository.UserRepository
	sessions  *SessionIssuer
	passwords *auth.PasswordService
	uploader  assets.Uploader
	logger    *slog.Logger

	// profiles, when set, holds cached channel profiles to evict after a
	// profile write.
	profiles ProfileCache
}

func NewAccountService(
	users repository.UserRepository,
	sessions *SessionIssuer,
	passwords *auth.PasswordService,
	uploader assets.Uploader,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		sessions:  sessions,
		passwords: passwords,
		uploader:  uploader,
		logger:    logger,
	}
}

// WithCache makes profile writes evict the cached channel profile, so the
// next ChannelProfile read sees the new name, email and images.
func (s *AccountService) WithCache(c ProfileCache) *AccountService {
	s.profiles = c
	return s
}

// saveProfile persists the profile fields and evicts the cached channel.
// A failed eviction is logged; the entry then expires with its TTL.
func (s *AccountService) saveProfile(ctx context.Context, u *model.User) error {
	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return fmt.Errorf("service/account: updating user %s: %w", u.ID, err)
	}
	if s.profiles != nil {
		if err := s.profiles.Delete(ctx, channelCacheKey(u.Username)); err != nil {
			s.logger.Warn("evicting cached channel profile",
				slog.String("username", u.Username),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func normalizeHandle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register creates an account. The avatar is mandatory and uploaded before
// the user is written; a failed cover upload is logged and leaves the cover
// empty.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Username = normalizeHandle(in.Username)
	in.Email = normalizeHandle(in.Email)
	if in.FullName == "" || in.Username == "" || in.Email == "" || strings.TrimSpace(in.Password) == "" {
		return nil, apperror.BadRequest("All fields are required")
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
	}

	_, err := s.users.FindUserByUsernameOrEmail(ctx, in.Username, in.Email)
	switch {
	case err == nil:
		return nil, apperror.ConflictMessage("User with email or username already exists")
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/account: checking existing user: %w", err)
	}

	if in.AvatarPath == "" {
		return nil, apperror.BadRequest("Avatar file is required")
	}
	avatar, err := assets.UploadAndDiscard(ctx, s.uploader, in.AvatarPath)
	if err != nil {
		s.logger.Warn("avatar upload failed", slog.String("error", err.Error()))
		return nil, apperror.BadRequest("Avatar upload failed")
	}

	coverURL := ""
	if in.CoverImagePath != "" {
		cover, err := assets.UploadAndDiscard(ctx, s.uploader, in.CoverImagePath)
		if err != nil {
			s.logger.Warn("cover image upload failed", slog.String("error", err.Error()))
		} else {
			coverURL = cover.URL
		}
	}

	u := &model.User{
		Username:   in.Username,
		Email:      in.Email,
		FullName:   in.FullName,
		Avatar:     avatar.URL,
		CoverImage: coverURL,
	}
	u.SetPassword(in.Password)
	if err := s.passwords.HashIfModified(u); err != nil {
		return nil, fmt.Errorf("service/account: hashing password: %w", err)
	}

	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("service/account: creating user %s: %w", in.Username, err)
	}

	created, err := s.users.GetUserByID(ctx, u.ID)
	if err != nil {
		return nil, apperror.Internal("Something went wrong while registering the user", err)
	}

	s.logger.Info("user registered", slog.String("userID", created.ID), slog.String("username", created.Username))
	return created.Sanitized(), nil
}

// Login checks credentials and starts a session.
func (s *AccountService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	username := normalizeHandle(in.Username)
	email := normalizeHandle(in.Email)
	if username == "" && email == "" {
		return nil, apperror.BadRequest("username or email is required")
	}

	u, err := s.users.FindUserByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFoundMessage("User does not exist")
		}
		return nil, fmt.Errorf("service/account: finding user: %w", err)
	}

	if err := s.passwords.Verify(u.PasswordHash, in.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash is unreadable",
				slog.String("userID", u.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.Unauthorized("Invalid user credentials")
	}

	tokens, err := s.sessions.CreateSessionTokens(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("userID", u.ID))
	return &LoginResult{User: u.Sanitized(), Tokens: tokens}, nil
}

// Logout clears the stored refresh token so it can no longer be rotated.
// Already-issued access tokens stay valid until they expire.
func (s *AccountService) Logout(ctx context.Context, userID string) error {
	if err := s.users.SetRefreshToken(ctx, userID, ""); err != nil {
		return fmt.Errorf("service/account: clearing refresh token for %s: %w", userID, err)
	}
	return nil
}

// Refresh rotates a refresh token into a new pair.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.sessions.RotateSessionTokens(ctx, refreshToken)
}

// ChangePassword verifies oldPassword and stores a hash of newPassword.
// Only the password column is written.
func (s *AccountService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" || strings.TrimSpace(newPassword) == "" {
		return apperror.BadRequest("Old password and new password are required")
	}
	if len(newPassword) > maxPasswordBytes {
		return apperror.ValidationFailed("newPassword", "Password must be 72 bytes or fewer")
	}

	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("service/account: loading user %s: %w", userID, err)
	}
	if !s.passwords.Matches(u.PasswordHash, oldPassword) {
		return apperror.Unauthorized("Invalid old password")
	}

	u.SetPassword(newPassword)
	if err := s.passwords.HashIfModified(u); err != nil {
		return fmt.Errorf("service/account: hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, u.PasswordHash); err != nil {
		return fmt.Errorf("service/account: updating password for %s: %w", userID, err)
	}

	s.logger.Info("password changed", slog.String("userID", userID))
	return nil
}

func (s *AccountService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/account: loading user %s: %w", userID, err)
	}
	return u.Sanitized(), nil
}

// UpdateAccount replaces the full name and email.
func (s *AccountService) UpdateAccount(ctx context.Context, userID string, in UpdateAccountInput) (*model.User, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := normalizeHandle(in.Email)
	if fullName == "" || email == "" {
		return nil, apperror.BadRequest("All fields are required")
	}

	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/account: loading user %s: %w", userID, err)
	}
	u.FullName = fullName
	u.Email = email
	if err := s.saveProfile(ctx, u); err != nil {
		return nil, err
	}
	return u.Sanitized(), nil
}

// UpdateAvatar uploads the staged file at localPath and points the user's
// avatar at it.
//
// TODO: delete the replaced image from the asset host once Uploader has a
// Delete method.
func (s *AccountService) UpdateAvatar(ctx context.Context, userID, localPath string) (*model.User, error) {
	if localPath == "" {
		return nil, apperror.BadRequest("Avatar file is missing")
	}
	asset, err := assets.UploadAndDiscard(ctx, s.uploader, localPath)
	if err != nil {
		return nil, uploadError("Error while uploading avatar", err)
	}
	return s.setImage(ctx, userID, func(u *model.User) { u.Avatar = asset.URL })
}

// UpdateCoverImage is UpdateAvatar for the cover image.
func (s *AccountService) UpdateCoverImage(ctx context.Context, userID, localPath string) (*model.User, error) {
	if localPath == "" {
		return nil, apperror.BadRequest("Cover image file is missing")
	}
	asset, err := assets.UploadAndDiscard(ctx, s.uploader, localPath)
	if err != nil {
		return nil, uploadError("Error while uploading cover image", err)
	}
	return s.setImage(ctx, userID, func(u *model.User) { u.CoverImage = asset.URL })
}

// uploadError keeps a rejected file type a client error.
func uploadError(msg string, err error) error {
	if errors.Is(err, assets.ErrUnsupportedType) {
		return apperror.BadRequest("Only image files can be uploaded")
	}
	return apperror.Internal(msg, err)
}

func (s *AccountService) setImage(ctx context.Context, userID string, apply func(*model.User)) (*model.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/account: loading user %s: %w", userID, err)
	}
	apply(u)
	if err := s.saveProfile(ctx, u); err != nil {
		return nil, err
	}
	return u.Sanitized(), nil
}

// LoginWithGitHub signs in the account linked to the GitHub identity,
// creating one on first visit. Identity is the numeric GitHub ID. An
// unlinked account is only adopted when GitHub vouches for its email
// (VerifiedEmail); a matching username never links. New accounts get the
// GitHub avatar and a random password nobody knows, so password login stays
// closed until the user sets one.
func (s *AccountService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*LoginResult, error) {
	if gh == nil {
		return nil, fmt.Errorf("service/account: GitHub user must not be nil")
	}
	if gh.ID == 0 {
		return nil, apperror.BadRequest("GitHub account id is missing")
	}

	u, err := s.resolveGitHubUser(ctx, gh)
	if err != nil {
		return nil, err
	}

	tokens, err := s.sessions.CreateSessionTokens(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", u.ID),
		slog.String("login", gh.Login),
		slog.Int64("githubID", gh.ID),
	)
	return &LoginResult{User: u.Sanitized(), Tokens: tokens}, nil
}

func (s *AccountService) resolveGitHubUser(ctx context.Context, gh *auth.GitHubUser) (*model.User, error) {
	u, err := s.users.FindUserByGitHubID(ctx, gh.ID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/account: finding GitHub user %d: %w", gh.ID, err)
	}

	if email := normalizeHandle(gh.VerifiedEmail); email != "" {
		u, err := s.users.FindUserByEmail(ctx, email)
		switch {
		case err == nil:
			return s.linkGitHubUser(ctx, u, gh)
		case !errors.Is(err, apperror.ErrNotFound):
			return nil, fmt.Errorf("service/account: finding user by email: %w", err)
		}
	}

	return s.createGitHubUser(ctx, gh)
}

func (s *AccountService) linkGitHubUser(ctx context.Context, u *model.User, gh *auth.GitHubUser) (*model.User, error) {
	if u.GitHubID != 0 && u.GitHubID != gh.ID {
		return nil, apperror.ConflictMessage("Account is linked to a different GitHub user")
	}
	if err := s.users.LinkGitHubID(ctx, u.ID, gh.ID); err != nil {
		return nil, fmt.Errorf("service/account: linking GitHub user %d: %w", gh.ID, err)
	}
	u.GitHubID = gh.ID

	s.logger.Info("GitHub account linked by verified email",
		slog.String("userID", u.ID),
		slog.Int64("githubID", gh.ID),
	)
	return u, nil
}

// createGitHubUser registers a fresh account for gh. The GitHub login becomes
// the username unless a local account already holds it, in which case the
// GitHub ID is appended. Without a verified email the account gets GitHub's
// noreply address.
func (s *AccountService) createGitHubUser(ctx context.Context, gh *auth.GitHubUser) (*model.User, error) {
	username := normalizeHandle(gh.Login)
	switch _, err := s.users.FindUserByUsername(ctx, username); {
	case err == nil:
		username = fmt.Sprintf("%s-%d", username, gh.ID)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/account: checking username %s: %w", username, err)
	}

	email := normalizeHandle(gh.VerifiedEmail)
	if email == "" {
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", gh.ID, normalizeHandle(gh.Login))
	}

	fullName := strings.TrimSpace(gh.Name)
	if fullName == "" {
		fullName = gh.Login
	}

	u := &model.User{
		Username: username,
		Email:    email,
		FullName: fullName,
		Avatar:   gh.AvatarURL,
		GitHubID: gh.ID,
	}
	u.SetPassword(rand.Text())
	if err := s.passwords.HashIfModified(u); err != nil {
		return nil, fmt.Errorf("service/account: hashing password: %w", err)
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("service/account: creating GitHub user %s: %w", username, err)
	}
	return u, nil
}
