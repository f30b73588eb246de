package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/assets"
	"github.com/sakif/channelhub/internal/auth"
	"github.com/sakif/channelhub/internal/model"
	"github.com/sakif/channelhub/internal/response"
	"github.com/sakif/channelhub/internal/service"
)

// AccountHandler serves the credential and profile endpoints under
// /api/v1/users.
//
// Multipart uploads are staged to temp files here and handed to the service
// by path. Every staged file is discarded when the handler returns, so a
// request that fails before the upload (bad fields, duplicate user) leaves
// nothing behind.
type AccountHandler struct {
	accounts *service.AccountService
	stager   *assets.Stager
	cookies  CookieConfig
	limits   Limits
	logger   *slog.Logger
}

func NewAccountHandler(
	accounts *service.AccountService,
	stager *assets.Stager,
	cookies CookieConfig,
	limits Limits,
	logger *slog.Logger,
) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		stager:   stager,
		cookies:  cookies,
		limits:   limits,
		logger:   logger,
	}
}

type loginResponse struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleRegister creates an account.
//
// HTTP: POST /api/v1/users/register (multipart/form-data)
// Fields: fullName, username, email, password; files: avatar (required),
// coverImage (optional).
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) error {
	if err := h.parseMultipart(w, r); err != nil {
		return err
	}
	defer r.MultipartForm.RemoveAll()

	avatar, err := h.stage(r, "avatar")
	if err != nil {
		return err
	}
	defer h.discard(avatar)

	cover, err := h.stage(r, "coverImage")
	if err != nil {
		return err
	}
	defer h.discard(cover)

	u, err := h.accounts.Register(r.Context(), service.RegisterInput{
		FullName:       r.FormValue("fullName"),
		Username:       r.FormValue("username"),
		Email:          r.FormValue("email"),
		Password:       r.FormValue("password"),
		AvatarPath:     avatar,
		CoverImagePath: cover,
	})
	if err != nil {
		return err
	}

	response.Success(w, http.StatusCreated, u, "User registered Successfully")
	return nil
}

// HandleLogin checks credentials and sets the session cookies. The tokens
// are also returned in the body for clients that cannot use cookies.
//
// HTTP: POST /api/v1/users/login {"username"|"email", "password"}
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) error {
	var in service.LoginInput
	if err := decodeBody(w, r, h.limits.JSONBody, &in, false); err != nil {
		return err
	}

	res, err := h.accounts.Login(r.Context(), in)
	if err != nil {
		return err
	}

	h.cookies.setSession(w, res.Tokens)
	response.Success(w, http.StatusOK, loginResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	}, "User logged In Successfully")
	return nil
}

// HandleLogout ends the caller's session.
//
// HTTP: POST /api/v1/users/logout (auth)
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}
	if err := h.accounts.Logout(r.Context(), userID); err != nil {
		return err
	}

	h.cookies.clearSession(w)
	response.Success(w, http.StatusOK, emptyData, "User logged Out")
	return nil
}

// HandleRefresh rotates the refresh token. The token comes from the
// refreshToken cookie, or from the JSON body when the cookie is absent.
//
// HTTP: POST /api/v1/users/refresh-token
func (h *AccountHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) error {
	incoming := ""
	if c, err := r.Cookie(auth.RefreshCookie); err == nil {
		incoming = c.Value
	}
	if incoming == "" {
		var body refreshRequest
		if err := decodeBody(w, r, h.limits.JSONBody, &body, true); err != nil {
			return err
		}
		incoming = body.RefreshToken
	}

	pair, err := h.accounts.Refresh(r.Context(), incoming)
	if err != nil {
		return err
	}

	h.cookies.setSession(w, pair)
	response.Success(w, http.StatusOK, pair, "Access token refreshed")
	return nil
}

// HTTP: POST /api/v1/users/change-password (auth) {"oldPassword", "newPassword"}
func (h *AccountHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}
	var in changePasswordRequest
	if err := decodeBody(w, r, h.limits.JSONBody, &in, false); err != nil {
		return err
	}

	if err := h.accounts.ChangePassword(r.Context(), userID, in.OldPassword, in.NewPassword); err != nil {
		return err
	}
	response.Success(w, http.StatusOK, emptyData, "Password changed successfully")
	return nil
}

// HTTP: GET /api/v1/users/current-user (auth)
func (h *AccountHandler) HandleCurrentUser(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}
	u, err := h.accounts.CurrentUser(r.Context(), userID)
	if err != nil {
		return err
	}
	response.Success(w, http.StatusOK, u, "User fetched successfully")
	return nil
}

// HTTP: PATCH /api/v1/users/account (auth) {"fullName", "email"}
func (h *AccountHandler) HandleUpdateAccount(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}
	var in service.UpdateAccountInput
	if err := decodeBody(w, r, h.limits.JSONBody, &in, false); err != nil {
		return err
	}

	u, err := h.accounts.UpdateAccount(r.Context(), userID, in)
	if err != nil {
		return err
	}
	response.Success(w, http.StatusOK, u, "Account details updated successfully")
	return nil
}

// HTTP: PATCH /api/v1/users/avatar (auth, multipart field "avatar")
func (h *AccountHandler) HandleUpdateAvatar(w http.ResponseWriter, r *http.Request) error {
	return h.updateImage(w, r, "avatar", h.accounts.UpdateAvatar, "Avatar image updated successfully")
}

// HTTP: PATCH /api/v1/users/cover-image (auth, multipart field "coverImage")
func (h *AccountHandler) HandleUpdateCoverImage(w http.ResponseWriter, r *http.Request) error {
	return h.updateImage(w, r, "coverImage", h.accounts.UpdateCoverImage, "Cover image updated successfully")
}

type imageUpdate func(ctx context.Context, userID, localPath string) (*model.User, error)

func (h *AccountHandler) updateImage(w http.ResponseWriter, r *http.Request, field string, update imageUpdate, message string) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}

	path := ""
	switch err := h.parseMultipart(w, r); {
	case err == nil:
		defer r.MultipartForm.RemoveAll()
		if path, err = h.stage(r, field); err != nil {
			return err
		}
		defer h.discard(path)
	case errors.Is(err, errNotMultipart):
		// no file at all; the service reports it as missing
	default:
		return err
	}

	u, err := update(r.Context(), userID, path)
	if err != nil {
		return err
	}
	response.Success(w, http.StatusOK, u, message)
	return nil
}

var errNotMultipart = apperror.BadRequest("Request must be multipart/form-data")

func (h *AccountHandler) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	if h.limits.MultipartBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.limits.MultipartBody)
	}
	err := r.ParseMultipartForm(h.limits.MultipartMemory)
	if err == nil {
		return nil
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		return errNotMultipart
	case errors.As(err, &tooLarge):
		return apperror.BadRequest("Request body too large")
	default:
		return apperror.BadRequest("Invalid multipart form")
	}
}

// stage copies the first file in field to a temp file. A missing field
// yields "".
func (h *AccountHandler) stage(r *http.Request, field string) (string, error) {
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return "", nil
	}

	path, err := h.stager.Stage(files[0])
	if err != nil {
		if errors.Is(err, assets.ErrTooLarge) {
			return "", apperror.ValidationFailed(field, fmt.Sprintf("%s file is too large", field))
		}
		if errors.Is(err, assets.ErrUnsupportedType) {
			return "", apperror.BadRequest(fmt.Sprintf("%s must be a PNG, JPEG, GIF or WebP image", field))
		}
		return "", apperror.Internal("Failed to read uploaded file", err)
	}
	return path, nil
}

func (h *AccountHandler) discard(path string) {
	if err := assets.Discard(path); err != nil {
		h.logger.Warn("failed to remove staged upload", slog.String("error", err.Error()))
	}
}

// requireUserID reads the identity RequireAuth attached to the request.
func requireUserID(r *http.Request) (string, error) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthorized("Unauthorized request")
	}
	return userID, nil
}
