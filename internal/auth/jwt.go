// Package auth provides credential hashing, JWT issuance/verification and the
// HTTP gate that turns an access token into a request identity.
//
// TWO TOKENS, TWO SECRETS:
//
//	access token  → short-lived, carries {_id, email, username, fullName},
//	                sent on every API call (cookie or Bearer header)
//	refresh token → long-lived, carries {_id} only, used once to obtain a
//	                new pair, and stored server-side on the user record
//
// Each kind is signed with its own HMAC secret. A refresh token therefore can
// never pass as an access token (or the other way round) even though both
// are HS256 JWTs with the same registered claims.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//
// Issuing a token is pure computation. Nothing here touches storage.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/sakif/channelhub/internal/model"
)

const defaultIssuer = "channelhub"

var (
	// ErrTokenExpired is returned when a token's exp claim is in the past.
	ErrTokenExpired = errors.New("jwt expired")
	// ErrTokenInvalid covers bad signatures, wrong algorithm, wrong issuer,
	// malformed input and missing claims.
	ErrTokenInvalid = errors.New("invalid token")
)

// TokenConfig is the token slice of the application config.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string // defaults to "channelhub"
}

// TokenService handles JWT creation and validation for both token kinds.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string

	now func() time.Time
}

// NewTokenService validates cfg and returns a TokenService.
// Secrets should be at least 32 bytes of random data in production:
//
//	ACCESS_TOKEN_SECRET=$(openssl rand -hex 32)
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.AccessSecret) < 16 || len(cfg.RefreshSecret) < 16 {
		return nil, errors.New("auth: token secrets must be at least 16 characters")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}

	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        issuer,
		now:           time.Now,
	}, nil
}

// AccessTTL is the lifetime of issued access tokens (also the cookie max-age).
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL is the lifetime of issued refresh tokens.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// AccessClaims is the access token payload.
type AccessClaims struct {
	UserID   string `json:"_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	UserID string `json:"_id"`
	jwt.RegisteredClaims
}

// registered builds the standard claims. The jti is a fresh xid so two
// tokens for the same user issued within the same second still differ, which
// is what lets refresh rotation tell an old token from a new one.
func (s *TokenService) registered(userID string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		ID:        xid.New().String(),
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// IssueAccessToken signs an access token for u with the access secret.
func (s *TokenService) IssueAccessToken(u *model.User) (string, error) {
	c := AccessClaims{
		UserID:           u.ID,
		Email:            u.Email,
		Username:         u.Username,
		FullName:         u.FullName,
		RegisteredClaims: s.registered(u.ID, s.accessTTL),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.accessSecret)
	if err != nil {
		return "", fmt.Errorf("auth: signing access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken signs a refresh token for u with the refresh secret.
func (s *TokenService) IssueRefreshToken(u *model.User) (string, error) {
	c := refreshClaims{
		UserID:           u.ID,
		RegisteredClaims: s.registered(u.ID, s.refreshTTL),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("auth: signing refresh token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies an access token and returns its claims.
func (s *TokenService) ParseAccessToken(tokenStr string) (*AccessClaims, error) {
	c := &AccessClaims{}
	if err := s.parse(tokenStr, c, s.accessSecret); err != nil {
		return nil, err
	}
	if c.UserID == "" {
		return nil, fmt.Errorf("%w: token has no user id", ErrTokenInvalid)
	}
	return c, nil
}

// ParseRefreshToken verifies a refresh token and returns the user id it
// encodes.
func (s *TokenService) ParseRefreshToken(tokenStr string) (string, error) {
	c := &refreshClaims{}
	if err := s.parse(tokenStr, c, s.refreshSecret); err != nil {
		return "", err
	}
	if c.UserID == "" {
		return "", fmt.Errorf("%w: token has no user id", ErrTokenInvalid)
	}
	return c.UserID, nil
}

// parse runs the shared verification. WithValidMethods pins HS256 so a token
// declaring "none" or an asymmetric algorithm is rejected before the key
// function is trusted.
func (s *TokenService) parse(tokenStr string, c jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
