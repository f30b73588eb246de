// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a registered account.
//
// Usernames and emails are stored lowercased and trimmed, which is what makes
// the case-insensitive channel lookup a plain equality match in both stores.
//
// PasswordHash and RefreshToken are tagged json:"-" so no serialization path
// can leak them, even if a handler forgets to call Sanitized.
//
// GitHubID is GitHub's numeric account ID. Logins can be renamed and
// recycled on GitHub, so the ID is the only stable key for a GitHub identity.
//
// WHY A STAGED PASSWORD?
// Callers never write PasswordHash. They call SetPassword with plaintext,
// which marks the password as modified; auth.PasswordService.HashIfModified
// turns the staged value into a bcrypt hash right before the record is
// persisted. A save that did not stage a password leaves the hash alone, so
// re-saving a user never double-hashes.
type User struct {
	ID           string    `json:"_id"          bson:"_id"`
	Username     string    `json:"username"     bson:"username"`
	Email        string    `json:"email"        bson:"email"`
	FullName     string    `json:"fullName"     bson:"fullName"`
	Avatar       string    `json:"avatar"       bson:"avatar"`
	CoverImage   string    `json:"coverImage"   bson:"coverImage"`
	WatchHistory []string  `json:"watchHistory" bson:"watchHistory"`
	PasswordHash string    `json:"-"            bson:"password"`
	RefreshToken string    `json:"-"            bson:"refreshToken,omitempty"`
	GitHubID     int64     `json:"-"            bson:"githubId,omitempty"` // 0 until a GitHub sign-in links the account
	CreatedAt    time.Time `json:"createdAt"    bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"    bson:"updatedAt"`

	pendingPassword  string
	passwordModified bool
}

// SetPassword stages a new plaintext password.
func (u *User) SetPassword(plaintext string) {
	u.pendingPassword = plaintext
	u.passwordModified = true
}

// PasswordModified reports whether a staged password is waiting to be hashed.
func (u *User) PasswordModified() bool {
	return u.passwordModified
}

// PendingPassword returns the staged plaintext, or "" when nothing is staged.
func (u *User) PendingPassword() string {
	return u.pendingPassword
}

// CommitPasswordHash stores hash and clears the staged plaintext.
func (u *User) CommitPasswordHash(hash string) {
	u.PasswordHash = hash
	u.pendingPassword = ""
	u.passwordModified = false
}

// Sanitized returns a copy of u with the credential fields cleared.
// Every user record that leaves the service layer goes through here.
func (u *User) Sanitized() *User {
	c := *u
	c.PasswordHash = ""
	c.RefreshToken = ""
	c.pendingPassword = ""
	c.passwordModified = false
	if c.WatchHistory == nil {
		c.WatchHistory = []string{}
	}
	return &c
}
