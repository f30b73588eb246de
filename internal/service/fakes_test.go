package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/assets"
	"github.com/sakif/channelhub/internal/auth"
	"github.com/sakif/channelhub/internal/model"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// fakeStore is an in-memory repository.Store. It hands out copies so the
// services cannot mutate stored records without going through a write
// method, the same as a real database.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	videos map[string]model.Video
	subs   map[[2]string]bool // {subscriber, channel}
	nextID int

	// set to a non-nil error to simulate a database failure
	getByIDErr  error
	setTokenErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*model.User),
		videos: make(map[string]model.Video),
		subs:   make(map[[2]string]bool),
		nextID: 1,
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.WatchHistory = slices.Clone(u.WatchHistory)
	return &c
}

func (f *fakeStore) CreateUser(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return apperror.ConflictMessage("User with email or username already exists")
		}
		if u.GitHubID != 0 && existing.GitHubID == u.GitHubID {
			return apperror.ConflictMessage("GitHub account is already linked to another user")
		}
	}
	if u.ID == "" {
		u.ID = fmt.Sprintf("user-%d", f.nextID)
		f.nextID++
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	f.users[u.ID] = cloneUser(u)
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getByIDErr != nil {
		return nil, f.getByIDErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return cloneUser(u), nil
}

func (f *fakeStore) FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if (username != "" && u.Username == username) || (email != "" && u.Email == email) {
			return cloneUser(u), nil
		}
	}
	return nil, apperror.NotFoundMessage("user not found")
}

func (f *fakeStore) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return f.FindUserByUsernameOrEmail(ctx, username, "")
}

func (f *fakeStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return f.FindUserByUsernameOrEmail(ctx, "", email)
}

func (f *fakeStore) FindUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if githubID != 0 && u.GitHubID == githubID {
			return cloneUser(u), nil
		}
	}
	return nil, apperror.NotFoundMessage("user not found")
}

func (f *fakeStore) LinkGitHubID(ctx context.Context, id string, githubID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	for otherID, other := range f.users {
		if otherID != id && other.GitHubID == githubID {
			return apperror.ConflictMessage("GitHub account is already linked to another user")
		}
	}
	stored.GitHubID = githubID
	return nil
}

func (f *fakeStore) GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, *cloneUser(u))
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateProfile(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[u.ID]
	if !ok {
		return apperror.NotFound("user", u.ID)
	}
	for id, other := range f.users {
		if id != u.ID && other.Email == u.Email {
			return apperror.ConflictMessage("Email is already in use")
		}
	}
	stored.FullName = u.FullName
	stored.Email = u.Email
	stored.Avatar = u.Avatar
	stored.CoverImage = u.CoverImage
	stored.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	stored.PasswordHash = passwordHash
	return nil
}

func (f *fakeStore) SetRefreshToken(ctx context.Context, id, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setTokenErr != nil {
		return f.setTokenErr
	}
	stored, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	stored.RefreshToken = token
	return nil
}

func (f *fakeStore) SwapRefreshToken(ctx context.Context, id, current, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[id]
	if !ok || stored.RefreshToken != current {
		return false, nil
	}
	stored.RefreshToken = next
	return true, nil
}

func (f *fakeStore) AppendWatchHistory(ctx context.Context, userID, videoID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	stored.WatchHistory = append(stored.WatchHistory, videoID)
	return nil
}

func (f *fakeStore) CreateVideo(ctx context.Context, v *model.Video) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v.ID == "" {
		v.ID = fmt.Sprintf("video-%d", f.nextID)
		f.nextID++
	}
	f.videos[v.ID] = *v
	return nil
}

func (f *fakeStore) GetVideosByIDs(ctx context.Context, ids []string) ([]model.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Video
	for _, id := range ids {
		if v, ok := f.videos[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) Subscribe(ctx context.Context, subscriberID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[[2]string{subscriberID, channelID}] = true
	return nil
}

func (f *fakeStore) CountSubscribers(ctx context.Context, channelID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.subs {
		if k[1] == channelID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountSubscriptions(ctx context.Context, subscriberID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.subs {
		if k[0] == subscriberID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) IsSubscribed(ctx context.Context, subscriberID, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[[2]string{subscriberID, channelID}], nil
}

func (f *fakeStore) deleteUser(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
}

func (f *fakeStore) deleteVideo(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.videos, id)
}

func (f *fakeStore) storedUser(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := f.GetUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("storedUser(%s): %v", id, err)
	}
	return u
}

// =========================================================================
// FAKE UPLOADER
// =========================================================================

type fakeUploader struct {
	mu       sync.Mutex
	uploaded []string
	// paths listed here fail to upload
	failPaths map[string]bool
	// when true the upload "succeeds" with no URL
	emptyURL bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{failPaths: make(map[string]bool)}
}

func (f *fakeUploader) Upload(ctx context.Context, localPath string) (*assets.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPaths[localPath] {
		return nil, errors.New("asset host unavailable")
	}
	if f.emptyURL {
		return &assets.Asset{}, nil
	}
	f.uploaded = append(f.uploaded, localPath)
	name := filepath.Base(localPath)
	return &assets.Asset{URL: "https://assets.test/" + name, Key: name}, nil
}

// =========================================================================
// HELPERS
// =========================================================================

var testTokenConfig = auth.TokenConfig{
	AccessSecret:  "access-secret-at-least-16-chars",
	RefreshSecret: "refresh-secret-at-least-16-chars",
	AccessTTL:     15 * time.Minute,
	RefreshTTL:    240 * time.Hour,
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	store     *fakeStore
	uploader  *fakeUploader
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	sessions  *SessionIssuer
	accounts  *AccountService
	channels  *ChannelService
}

// newTestEnv wires every service against one fake store. Cost 4 is the
// bcrypt minimum and keeps the tests fast.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tokens, err := auth.NewTokenService(testTokenConfig)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	store := newFakeStore()
	uploader := newFakeUploader()
	passwords := auth.NewPasswordServiceForTest(4)
	logger := testLogger()
	sessions := NewSessionIssuer(store, tokens, logger)

	return &testEnv{
		store:     store,
		uploader:  uploader,
		tokens:    tokens,
		passwords: passwords,
		sessions:  sessions,
		accounts:  NewAccountService(store, sessions, passwords, uploader, logger),
		channels:  NewChannelService(store, store, store, logger),
	}
}

// stageFile writes a throwaway file the way the handler's stager would.
func stageFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("image-bytes"), 0o600); err != nil {
		t.Fatalf("staging %s: %v", name, err)
	}
	return path
}

func (e *testEnv) register(t *testing.T, username, email, password string) *model.User {
	t.Helper()
	u, err := e.accounts.Register(context.Background(), RegisterInput{
		FullName:   "Full " + username,
		Username:   username,
		Email:      email,
		Password:   password,
		AvatarPath: stageFile(t, username+"-avatar.png"),
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

// assertAppError checks the status err maps to and, when wantMsg is not
// empty, the client-facing message.
func assertAppError(t *testing.T, err error, wantStatus int, wantMsg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d, got nil", wantStatus)
	}
	if got := apperror.StatusCode(err); got != wantStatus {
		t.Errorf("StatusCode = %d, want %d (err: %v)", got, wantStatus, err)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an *apperror.AppError", err)
	}
	if wantMsg != "" && appErr.Message != wantMsg {
		t.Errorf("Message = %q, want %q", appErr.Message, wantMsg)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
