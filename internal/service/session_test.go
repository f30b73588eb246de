package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sakif/channelhub/internal/model"
)

// =========================================================================
// CreateSessionTokens TESTS
// =========================================================================

func TestCreateSessionTokens_StoresRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw-alice-1")

	pair, err := env.sessions.CreateSessionTokens(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("CreateSessionTokens() error = %v", err)
	}

	if got := env.store.storedUser(t, u.ID).RefreshToken; got != pair.RefreshToken {
		t.Errorf("stored refresh token = %q, want the issued one", got)
	}

	claims, err := env.tokens.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if claims.UserID != u.ID || claims.Username != "alice" || claims.Email != "alice@example.com" {
		t.Errorf("access claims = %+v, want user %s", claims, u.ID)
	}

	userID, err := env.tokens.ParseRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("ParseRefreshToken() error = %v", err)
	}
	if userID != u.ID {
		t.Errorf("refresh token user = %q, want %q", userID, u.ID)
	}
}

func TestCreateSessionTokens_ReplacesPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw-alice-1")
	ctx := context.Background()

	first, _ := env.sessions.CreateSessionTokens(ctx, u.ID)
	if _, err := env.sessions.CreateSessionTokens(ctx, u.ID); err != nil {
		t.Fatalf("second CreateSessionTokens() error = %v", err)
	}

	_, err := env.sessions.RotateSessionTokens(ctx, first.RefreshToken)
	assertAppError(t, err, http.StatusUnauthorized, "refresh token is expired or used")
}

func TestCreateSessionTokens_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sessions.CreateSessionTokens(context.Background(), "nobody")
	assertAppError(t, err, http.StatusInternalServerError,
		"Something went wrong while generating refresh and access token")
}

func TestCreateSessionTokens_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw-alice-1")
	env.store.setTokenErr = errors.New("disk full")

	_, err := env.sessions.CreateSessionTokens(context.Background(), u.ID)
	assertAppError(t, err, http.StatusInternalServerError,
		"Something went wrong while generating refresh and access token")
}

// =========================================================================
// RotateSessionTokens TESTS
// =========================================================================

func TestRotateSessionTokens_ReturnsNewPairAndRetiresOld(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw-alice-1")
	ctx := context.Background()

	first, err := env.sessions.CreateSessionTokens(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateSessionTokens() error = %v", err)
	}

	second, err := env.sessions.RotateSessionTokens(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("RotateSessionTokens() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation returned the presented refresh token")
	}
	if got := env.store.storedUser(t, u.ID).RefreshToken; got != second.RefreshToken {
		t.Error("stored refresh token is not the one handed back to the client")
	}

	_, err = env.sessions.RotateSessionTokens(ctx, first.RefreshToken)
	assertAppError(t, err, http.StatusUnauthorized, "refresh token is expired or used")

	if _, err := env.sessions.RotateSessionTokens(ctx, second.RefreshToken); err != nil {
		t.Errorf("rotating the new token error = %v", err)
	}
}

func TestRotateSessionTokens_Empty(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sessions.RotateSessionTokens(context.Background(), "")
	assertAppError(t, err, http.StatusUnauthorized, "unauthorized request")
}

func TestRotateSessionTokens_Garbage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sessions.RotateSessionTokens(context.Background(), "not.a.jwt")
	assertAppError(t, err, http.StatusUnauthorized, "")
	if !strings.HasPrefix(err.Error(), "invalid token") {
		t.Errorf("message = %q, want the verification failure", err.Error())
	}
}

func TestRotateSessionTokens_AccessTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw-alice-1")
	pair, _ := env.sessions.CreateSessionTokens(context.Background(), u.ID)

	_, err := env.sessions.RotateSessionTokens(context.Background(), pair.AccessToken)
	assertAppError(t, err, http.StatusUnauthorized, "")
}

func TestRotateSessionTokens_DeletedUser(t *testing.T) {
	env := newTestEnv(t)

	ghost, err := env.tokens.IssueRefreshToken(&model.User{ID: "ghost"})
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}

	_, err = env.sessions.RotateSessionTokens(context.Background(), ghost)
	assertAppError(t, err, http.StatusUnauthorized, "invalid refresh token")
}

func TestRotateSessionTokens_ConcurrentRefreshHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw-alice-1")
	pair, _ := env.sessions.CreateSessionTokens(context.Background(), u.ID)

	const workers = 12
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		winner  atomic.Value
		start   = make(chan struct{})
		badErrs atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			next, err := env.sessions.RotateSessionTokens(context.Background(), pair.RefreshToken)
			if err != nil {
				if !strings.Contains(err.Error(), "expired or used") {
					badErrs.Add(1)
				}
				return
			}
			wins.Add(1)
			winner.Store(next.RefreshToken)
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("successful rotations = %d, want exactly 1", got)
	}
	if got := badErrs.Load(); got != 0 {
		t.Errorf("%d losers failed with an unexpected error", got)
	}
	if got := env.store.storedUser(t, u.ID).RefreshToken; got != winner.Load().(string) {
		t.Error("stored token is not the winner's token")
	}
}
