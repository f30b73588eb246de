package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rs/xid"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/auth"
	"github.com/sakif/channelhub/internal/service"
)

const stateCookie = "oauth_state"

// GitHubAuthenticator is the part of auth.GitHubProvider the handler uses.
type GitHubAuthenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// GitHubHandler runs the GitHub sign-in flow and ends it with the same
// session cookies a password login sets.
type GitHubHandler struct {
	github   GitHubAuthenticator
	accounts *service.AccountService
	cookies  CookieConfig
	appURL   string
	logger   *slog.Logger
}

// NewGitHubHandler creates a GitHubHandler. appURL is where the browser is
// sent once sign-in finishes.
func NewGitHubHandler(
	github GitHubAuthenticator,
	accounts *service.AccountService,
	cookies CookieConfig,
	appURL string,
	logger *slog.Logger,
) *GitHubHandler {
	if appURL == "" {
		appURL = "/"
	}
	return &GitHubHandler{
		github:   github,
		accounts: accounts,
		cookies:  cookies,
		appURL:   appURL,
		logger:   logger,
	}
}

// HandleLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /api/v1/users/auth/github/login
//
// A random state is stored in a short-lived cookie and checked on callback,
// which ties the callback to a login this server started.
func (h *GitHubHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the flow.
//
// HTTP: GET /api/v1/users/auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter against the cookie
//  2. Exchange the code for a GitHub profile
//  3. Find or create the account and start a session
//  4. Set the session cookies and redirect to the app
func (h *GitHubHandler) HandleCallback(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || q.Get("state") != c.Value {
		h.logger.Warn("github callback: state mismatch")
		return apperror.BadRequest("invalid OAuth state")
	}

	// single-use
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("github callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, h.redirectTarget("denied"), http.StatusSeeOther)
		return nil
	}

	code := q.Get("code")
	if code == "" {
		return apperror.BadRequest("missing OAuth code")
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		return apperror.Internal("authentication failed", err)
	}

	res, err := h.accounts.LoginWithGitHub(r.Context(), ghUser)
	if err != nil {
		return err
	}

	h.cookies.setSession(w, res.Tokens)
	http.Redirect(w, r, h.redirectTarget(""), http.StatusSeeOther)
	return nil
}

func (h *GitHubHandler) redirectTarget(outcome string) string {
	if outcome == "" {
		return h.appURL
	}
	u, err := url.Parse(h.appURL)
	if err != nil {
		return "/?auth=" + url.QueryEscape(outcome)
	}
	q := u.Query()
	q.Set("auth", outcome)
	u.RawQuery = q.Encode()
	return u.String()
}
