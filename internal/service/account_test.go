package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sakif/channelhub/internal/auth"
)

// =========================================================================
// Register TESTS
// =========================================================================

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t)
	avatar := stageFile(t, "avatar.png")
	cover := stageFile(t, "cover.png")

	u, err := env.accounts.Register(context.Background(), RegisterInput{
		FullName:       "  Alice Doe ",
		Username:       " Alice ",
		Email:          "Alice@Example.com",
		Password:       "s3cret-pass",
		AvatarPath:     avatar,
		CoverImagePath: cover,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if u.Username != "alice" || u.Email != "alice@example.com" || u.FullName != "Alice Doe" {
		t.Errorf("identity not normalized: %+v", u)
	}
	if u.Avatar != "https://assets.test/avatar.png" || u.CoverImage != "https://assets.test/cover.png" {
		t.Errorf("image urls = %q / %q", u.Avatar, u.CoverImage)
	}
	if u.PasswordHash != "" || u.RefreshToken != "" {
		t.Error("Register() returned credential fields")
	}
	if u.WatchHistory == nil {
		t.Error("WatchHistory should be an empty slice, not nil")
	}
	if fileExists(avatar) || fileExists(cover) {
		t.Error("staged files should be removed after upload")
	}

	stored := env.store.storedUser(t, u.ID)
	if stored.PasswordHash == "s3cret-pass" || !strings.HasPrefix(stored.PasswordHash, "$2") {
		t.Errorf("stored password is not a bcrypt hash: %q", stored.PasswordHash)
	}
	if !env.passwords.Matches(stored.PasswordHash, "s3cret-pass") {
		t.Error("stored hash does not verify against the registered password")
	}
}

func TestRegister_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]RegisterInput{
		"no full name": {Username: "a", Email: "a@x.io", Password: "pw"},
		"no username":  {FullName: "A", Email: "a@x.io", Password: "pw"},
		"no email":     {FullName: "A", Username: "a", Password: "pw"},
		"blank pass":   {FullName: "A", Username: "a", Email: "a@x.io", Password: "   "},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			in.AvatarPath = stageFile(t, "avatar.png")
			_, err := env.accounts.Register(context.Background(), in)
			assertAppError(t, err, http.StatusBadRequest, "All fields are required")
		})
	}
}

func TestRegister_DuplicateUsernameOrEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "pw-alice-1")

	cases := map[string]RegisterInput{
		"same username":          {Username: "alice", Email: "other@example.com"},
		"same username any case": {Username: "ALICE", Email: "other@example.com"},
		"same email":             {Username: "other", Email: "alice@example.com"},
		"same email any case":    {Username: "other", Email: "Alice@Example.COM"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			in.FullName = "Someone"
			in.Password = "pw"
			in.AvatarPath = stageFile(t, "avatar.png")
			_, err := env.accounts.Register(context.Background(), in)
			assertAppError(t, err, http.StatusConflict, "User with email or username already exists")
		})
	}
}

func TestRegister_AvatarRequired(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.accounts.Register(context.Background(), RegisterInput{
		FullName: "Alice", Username: "alice", Email: "alice@example.com", Password: "pw",
	})
	assertAppError(t, err, http.StatusBadRequest, "Avatar file is required")
}

func TestRegister_AvatarUploadFails(t *testing.T) {
	env := newTestEnv(t)
	avatar := stageFile(t, "avatar.png")
	env.uploader.failPaths[avatar] = true

	_, err := env.accounts.Register(context.Background(), RegisterInput{
		FullName: "Alice", Username: "alice", Email: "alice@example.com", Password: "pw",
		AvatarPath: avatar,
	})
	assertAppError(t, err, http.StatusBadRequest, "Avatar upload failed")

	if len(env.store.users) != 0 {
		t.Error("no user should be created when the avatar upload fails")
	}
	if fileExists(avatar) {
		t.Error("staged avatar should be removed after a failed upload")
	}
}

func TestRegister_CoverUploadFailureLeavesCoverEmpty(t *testing.T) {
	env := newTestEnv(t)
	cover := stageFile(t, "cover.png")
	env.uploader.failPaths[cover] = true

	u, err := env.accounts.Register(context.Background(), RegisterInput{
		FullName: "Alice", Username: "alice", Email: "alice@example.com", Password: "pw",
		AvatarPath: stageFile(t, "avatar.png"), CoverImagePath: cover,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.CoverImage != "" {
		t.Errorf("CoverImage = %q, want empty", u.CoverImage)
	}
}

func TestRegister_ReloadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.getByIDErr = errors.New("replica lag")

	_, err := env.accounts.Register(context.Background(), RegisterInput{
		FullName: "Alice", Username: "alice", Email: "alice@example.com", Password: "pw",
		AvatarPath: stageFile(t, "avatar.png"),
	})
	assertAppError(t, err, http.StatusInternalServerError, "Something went wrong while registering the user")
}

func TestRegister_PasswordTooLong(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.accounts.Register(context.Background(), RegisterInput{
		FullName: "Alice", Username: "alice", Email: "alice@example.com",
		Password: strings.Repeat("x", 73), AvatarPath: stageFile(t, "avatar.png"),
	})
	assertAppError(t, err, http.StatusBadRequest, "")
}

// =========================================================================
// Login / Logout / Refresh TESTS
// =========================================================================

func TestLogin_ByUsernameOrEmail(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw-alice-1")

	for name, in := range map[string]LoginInput{
		"username":       {Username: "alice", Password: "pw-alice-1"},
		"email":          {Email: "alice@example.com", Password: "pw-alice-1"},
		"mixed case":     {Username: "ALICE", Password: "pw-alice-1"},
		"email any case": {Email: " Alice@Example.com ", Password: "pw-alice-1"},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := env.accounts.Login(context.Background(), in)
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if res.User.ID != u.ID {
				t.Errorf("logged in as %q, want %q", res.User.ID, u.ID)
			}
			if res.User.PasswordHash != "" || res.User.RefreshToken != "" {
				t.Error("Login() returned credential fields")
			}
			if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
				t.Fatal("Login() returned empty tokens")
			}
			if got := env.store.storedUser(t, u.ID).RefreshToken; got != res.Tokens.RefreshToken {
				t.Error("refresh token was not persisted")
			}
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "pw-alice-1")
	ctx := context.Background()

	_, err := env.accounts.Login(ctx, LoginInput{Password: "pw-alice-1"})
	assertAppError(t, err, http.StatusBadRequest, "username or email is required")

	_, err = env.accounts.Login(ctx, LoginInput{Username: "bob", Password: "pw"})
	assertAppError(t, err, http.StatusNotFound, "User does not exist")

	_, err = env.accounts.Login(ctx, LoginInput{Username: "alice", Password: "wrong"})
	assertAppError(t, err, http.StatusUnauthorized, "Invalid user credentials")
}

func TestLogout_BlocksRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "pw-alice-1")
	ctx := context.Background()

	res, err := env.accounts.Login(ctx, LoginInput{Username: "alice", Password: "pw-alice-1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := env.accounts.Logout(ctx, res.User.ID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if got := env.store.storedUser(t, res.User.ID).RefreshToken; got != "" {
		t.Errorf("refresh token after logout = %q, want empty", got)
	}

	_, err = env.accounts.Refresh(ctx, res.Tokens.RefreshToken)
	assertAppError(t, err, http.StatusUnauthorized, "refresh token is expired or used")
}

func TestRefresh_RotatesAfterLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "pw-alice-1")
	ctx := context.Background()

	res, _ := env.accounts.Login(ctx, LoginInput{Username: "alice", Password: "pw-alice-1"})
	pair, err := env.accounts.Refresh(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if pair.RefreshToken == res.Tokens.RefreshToken {
		t.Error("Refresh() handed back the old refresh token")
	}
}

// =========================================================================
// ChangePassword TESTS
// =========================================================================

func TestChangePassword_Success(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "old-pass")
	ctx := context.Background()

	res, _ := env.accounts.Login(ctx, LoginInput{Username: "alice", Password: "old-pass"})

	if err := env.accounts.ChangePassword(ctx, u.ID, "old-pass", "new-pass"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if env.store.storedUser(t, u.ID).RefreshToken != res.Tokens.RefreshToken {
		t.Error("changing the password should only write the password")
	}

	_, err := env.accounts.Login(ctx, LoginInput{Username: "alice", Password: "old-pass"})
	assertAppError(t, err, http.StatusUnauthorized, "Invalid user credentials")

	if _, err := env.accounts.Login(ctx, LoginInput{Username: "alice", Password: "new-pass"}); err != nil {
		t.Errorf("login with new password error = %v", err)
	}
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "old-pass")
	before := env.store.storedUser(t, u.ID).PasswordHash

	err := env.accounts.ChangePassword(context.Background(), u.ID, "nope", "new-pass")
	assertAppError(t, err, http.StatusUnauthorized, "Invalid old password")

	if env.store.storedUser(t, u.ID).PasswordHash != before {
		t.Error("hash changed after a rejected password change")
	}
}

func TestChangePassword_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "old-pass")

	err := env.accounts.ChangePassword(context.Background(), u.ID, "", "new-pass")
	assertAppError(t, err, http.StatusBadRequest, "")
	err = env.accounts.ChangePassword(context.Background(), u.ID, "old-pass", "")
	assertAppError(t, err, http.StatusBadRequest, "")
}

// =========================================================================
// Profile TESTS
// =========================================================================

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw")

	got, err := env.accounts.CurrentUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if got.Username != "alice" || got.PasswordHash != "" {
		t.Errorf("CurrentUser() = %+v", got)
	}

	_, err = env.accounts.CurrentUser(context.Background(), "missing")
	assertAppError(t, err, http.StatusNotFound, "")
}

func TestUpdateAccount_ProfileSaveKeepsPasswordHash(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw")
	hash := env.store.storedUser(t, u.ID).PasswordHash

	got, err := env.accounts.UpdateAccount(context.Background(), u.ID, UpdateAccountInput{
		FullName: " Alice Cooper ",
		Email:    "ALICE@new.example.com",
	})
	if err != nil {
		t.Fatalf("UpdateAccount() error = %v", err)
	}
	if got.FullName != "Alice Cooper" || got.Email != "alice@new.example.com" {
		t.Errorf("UpdateAccount() = %+v", got)
	}

	stored := env.store.storedUser(t, u.ID)
	if stored.PasswordHash != hash {
		t.Error("profile save rehashed the password")
	}
	if stored.Email != "alice@new.example.com" {
		t.Errorf("stored email = %q", stored.Email)
	}
}

func TestUpdateAccount_Failures(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw")
	env.register(t, "bob", "bob@example.com", "pw")

	_, err := env.accounts.UpdateAccount(context.Background(), u.ID, UpdateAccountInput{FullName: "A"})
	assertAppError(t, err, http.StatusBadRequest, "All fields are required")

	_, err = env.accounts.UpdateAccount(context.Background(), u.ID, UpdateAccountInput{
		FullName: "Alice", Email: "bob@example.com",
	})
	assertAppError(t, err, http.StatusConflict, "")
}

func TestUpdateAvatar(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw")
	ctx := context.Background()

	_, err := env.accounts.UpdateAvatar(ctx, u.ID, "")
	assertAppError(t, err, http.StatusBadRequest, "Avatar file is missing")

	broken := stageFile(t, "broken.png")
	env.uploader.failPaths[broken] = true
	_, err = env.accounts.UpdateAvatar(ctx, u.ID, broken)
	assertAppError(t, err, http.StatusInternalServerError, "Error while uploading avatar")

	got, err := env.accounts.UpdateAvatar(ctx, u.ID, stageFile(t, "fresh.png"))
	if err != nil {
		t.Fatalf("UpdateAvatar() error = %v", err)
	}
	if got.Avatar != "https://assets.test/fresh.png" {
		t.Errorf("Avatar = %q", got.Avatar)
	}
	if env.store.storedUser(t, u.ID).Avatar != got.Avatar {
		t.Error("avatar was not persisted")
	}
}

func TestUpdateAvatar_EmptyURLIsUploadFailure(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw")
	env.uploader.emptyURL = true

	_, err := env.accounts.UpdateAvatar(context.Background(), u.ID, stageFile(t, "a.png"))
	assertAppError(t, err, http.StatusInternalServerError, "Error while uploading avatar")
}

func TestUpdateCoverImage(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw")
	ctx := context.Background()

	_, err := env.accounts.UpdateCoverImage(ctx, u.ID, "")
	assertAppError(t, err, http.StatusBadRequest, "Cover image file is missing")

	broken := stageFile(t, "broken.png")
	env.uploader.failPaths[broken] = true
	_, err = env.accounts.UpdateCoverImage(ctx, u.ID, broken)
	assertAppError(t, err, http.StatusInternalServerError, "Error while uploading cover image")

	got, err := env.accounts.UpdateCoverImage(ctx, u.ID, stageFile(t, "banner.png"))
	if err != nil {
		t.Fatalf("UpdateCoverImage() error = %v", err)
	}
	if got.CoverImage != "https://assets.test/banner.png" {
		t.Errorf("CoverImage = %q", got.CoverImage)
	}
}

// =========================================================================
// LoginWithGitHub TESTS
// =========================================================================

func TestLoginWithGitHub_NewUser(t *testing.T) {
	env := newTestEnv(t)
	gh := &auth.GitHubUser{
		ID:        42,
		Login:     "OctoCat",
		Name:      "The Octocat",
		Email:     "octocat@github.com",
		AvatarURL: "https://avatars.githubusercontent.com/u/42",
	}

	res, err := env.accounts.LoginWithGitHub(context.Background(), gh)
	if err != nil {
		t.Fatalf("LoginWithGitHub() error = %v", err)
	}
	if res.User.Username != "octocat" || res.User.FullName != "The Octocat" || res.User.Avatar != gh.AvatarURL {
		t.Errorf("created user = %+v", res.User)
	}
	if res.Tokens.RefreshToken == "" {
		t.Fatal("LoginWithGitHub() returned no refresh token")
	}
	if env.store.storedUser(t, res.User.ID).PasswordHash == "" {
		t.Error("GitHub users still need an (unusable) password hash")
	}

	again, err := env.accounts.LoginWithGitHub(context.Background(), gh)
	if err != nil {
		t.Fatalf("second LoginWithGitHub() error = %v", err)
	}
	if again.User.ID != res.User.ID {
		t.Error("second GitHub login created a new account")
	}
}

func TestLoginWithGitHub_LinksExistingAccountByVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "alice", "alice@example.com", "pw")
	ctx := context.Background()

	res, err := env.accounts.LoginWithGitHub(ctx, &auth.GitHubUser{
		ID: 7, Login: "alice-gh", VerifiedEmail: "Alice@example.com",
	})
	if err != nil {
		t.Fatalf("LoginWithGitHub() error = %v", err)
	}
	if res.User.ID != u.ID {
		t.Errorf("signed in as %q, want existing %q", res.User.ID, u.ID)
	}
	if got := env.store.storedUser(t, u.ID).GitHubID; got != 7 {
		t.Errorf("GitHubID = %d, want 7", got)
	}

	// Once linked, the GitHub ID alone finds the account, even after the
	// GitHub login and emails change.
	again, err := env.accounts.LoginWithGitHub(ctx, &auth.GitHubUser{ID: 7, Login: "renamed"})
	if err != nil {
		t.Fatalf("second LoginWithGitHub() error = %v", err)
	}
	if again.User.ID != u.ID {
		t.Errorf("signed in as %q, want linked %q", again.User.ID, u.ID)
	}
}

func TestLoginWithGitHub_CollidingLoginGetsSeparateAccount(t *testing.T) {
	env := newTestEnv(t)
	victim := env.register(t, "alice", "alice@victim.example", "pw")
	ctx := context.Background()
	if _, err := env.accounts.Login(ctx, LoginInput{Username: "alice", Password: "pw"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	victimToken := env.store.storedUser(t, victim.ID).RefreshToken

	res, err := env.accounts.LoginWithGitHub(ctx, &auth.GitHubUser{ID: 999, Login: "Alice"})
	if err != nil {
		t.Fatalf("LoginWithGitHub() error = %v", err)
	}
	if res.User.ID == victim.ID {
		t.Fatal("a GitHub login matching a local username signed in as that user")
	}
	if res.User.Username != "alice-999" {
		t.Errorf("Username = %q, want %q", res.User.Username, "alice-999")
	}
	if env.store.storedUser(t, victim.ID).RefreshToken != victimToken {
		t.Error("the local user's session was touched")
	}
	if env.store.storedUser(t, victim.ID).GitHubID != 0 {
		t.Error("the local user was linked to the GitHub account")
	}
}

func TestLoginWithGitHub_UnverifiedEmailDoesNotLink(t *testing.T) {
	env := newTestEnv(t)
	victim := env.register(t, "alice", "alice@example.com", "pw")

	res, err := env.accounts.LoginWithGitHub(context.Background(), &auth.GitHubUser{
		ID: 5, Login: "mallory", Email: "alice@example.com",
	})
	if err != nil {
		t.Fatalf("LoginWithGitHub() error = %v", err)
	}
	if res.User.ID == victim.ID {
		t.Fatal("an unverified profile email linked an existing account")
	}
	if res.User.Email != "5+mallory@users.noreply.github.com" {
		t.Errorf("Email = %q, want the noreply address", res.User.Email)
	}
}

func TestLoginWithGitHub_EmailLinkedToAnotherGitHubUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "alice", "alice@example.com", "pw")
	if err := env.store.LinkGitHubID(ctx, u.ID, 1); err != nil {
		t.Fatalf("LinkGitHubID() error = %v", err)
	}

	_, err := env.accounts.LoginWithGitHub(ctx, &auth.GitHubUser{
		ID: 2, Login: "other", VerifiedEmail: "alice@example.com",
	})
	assertAppError(t, err, http.StatusConflict, "Account is linked to a different GitHub user")
}

func TestLoginWithGitHub_NoPublicEmail(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.accounts.LoginWithGitHub(context.Background(), &auth.GitHubUser{ID: 9, Login: "quiet"})
	if err != nil {
		t.Fatalf("LoginWithGitHub() error = %v", err)
	}
	if res.User.Email != "9+quiet@users.noreply.github.com" {
		t.Errorf("Email = %q", res.User.Email)
	}
	if res.User.FullName != "quiet" {
		t.Errorf("FullName = %q, want the login", res.User.FullName)
	}
}

func TestLoginWithGitHub_NilUser(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.accounts.LoginWithGitHub(context.Background(), nil); err == nil {
		t.Fatal("LoginWithGitHub(nil) should fail")
	}
}

func TestLoginWithGitHub_MissingID(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.accounts.LoginWithGitHub(context.Background(), &auth.GitHubUser{Login: "ghost"})
	assertAppError(t, err, http.StatusBadRequest, "GitHub account id is missing")
}
