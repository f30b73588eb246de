package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/channelhub/internal/assets"
	"github.com/sakif/channelhub/internal/auth"
	"github.com/sakif/channelhub/internal/handler"
	"github.com/sakif/channelhub/internal/model"
	"github.com/sakif/channelhub/internal/repository/sqlite"
	"github.com/sakif/channelhub/internal/service"
)

// =========================================================================
// FIXTURE
// =========================================================================

// stubUploader records what it was asked to upload. It reads the staged
// file so tests can prove the file existed at upload time.
type stubUploader struct {
	mu       sync.Mutex
	contents map[string]string // base name → bytes seen
	fail     bool
}

func (s *stubUploader) Upload(ctx context.Context, localPath string) (*assets.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("asset host down")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(localPath)
	s.contents[name] = string(data)
	return &assets.Asset{URL: "https://cdn.test/" + name, Key: name}, nil
}

type fixture struct {
	db       *sqlite.DB
	tokens   *auth.TokenService
	uploader *stubUploader
	stageDir string
	logger   *slog.Logger
	accounts *service.AccountService
	channels *service.ChannelService
	account  *handler.AccountHandler
	channel  *handler.ChannelHandler
	cookies  handler.CookieConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "access-secret-at-least-16-chars",
		RefreshSecret: "refresh-secret-at-least-16-chars",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    240 * time.Hour,
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	uploader := &stubUploader{contents: make(map[string]string)}
	sessions := service.NewSessionIssuer(db, tokens, logger)
	accounts := service.NewAccountService(db, sessions, auth.NewPasswordServiceForTest(4), uploader, logger)
	channels := service.NewChannelService(db, db, db, logger)

	stageDir := t.TempDir()
	cookies := handler.CookieConfig{Secure: true, AccessTTL: tokens.AccessTTL(), RefreshTTL: tokens.RefreshTTL()}
	limits := handler.Limits{JSONBody: 16 << 10, MultipartBody: 4 << 20, MultipartMemory: 1 << 20}

	return &fixture{
		db:       db,
		tokens:   tokens,
		uploader: uploader,
		stageDir: stageDir,
		logger:   logger,
		accounts: accounts,
		channels: channels,
		account:  handler.NewAccountHandler(accounts, assets.NewStager(stageDir, 1<<20), cookies, limits, logger),
		channel:  handler.NewChannelHandler(channels, logger),
		cookies:  cookies,
	}
}

func (f *fixture) serve(fn handler.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.Handle(f.logger, fn).ServeHTTP(rr, req)
	return rr
}

// registerUser creates an account directly through the service.
func (f *fixture) registerUser(t *testing.T, username, password string) *model.User {
	t.Helper()
	avatar := filepath.Join(t.TempDir(), username+".png")
	require.NoError(t, os.WriteFile(avatar, []byte("png"), 0o600))
	u, err := f.accounts.Register(context.Background(), service.RegisterInput{
		FullName:   "Full " + username,
		Username:   username,
		Email:      username + "@example.com",
		Password:   password,
		AvatarPath: avatar,
	})
	require.NoError(t, err)
	return u
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: userID}))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// uploadBytes returns content that sniffs as the type the filename claims:
// PNG and JPEG headers for images, an HTML page for anything else.
func uploadBytes(name string) []byte {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), name...)
	case ".jpg", ".jpeg":
		return append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), name...)
	default:
		return []byte("<html><body>" + name + "</body></html>")
	}
}

// multipartRequest builds a form with text fields and files (field → filename).
func multipartRequest(t *testing.T, method, target string, fields, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, _ = fw.Write(uploadBytes(name))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
	Errors     []string        `json:"errors"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func assertStageDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged uploads must be removed when the request ends")
}
