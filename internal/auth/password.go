// WHY BCRYPT?
// bcrypt is a password hashing function specifically designed to be slow.
// That slowness is a security feature: it makes brute-force attacks expensive.
//
// bcrypt automatically:
//   - Generates a random salt (so two users with the same password get different hashes)
//   - Embeds the salt in the output hash (no separate salt column needed)
//   - Controls the work factor via "cost" (higher = slower = harder to crack)
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$10$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (10 rounds → 2^10 = 1024 iterations)
//	 version

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/channelhub/internal/model"
)

// DefaultCost is the bcrypt work factor for stored passwords. Existing
// accounts were hashed at 10; bcrypt reads the cost from each hash, so raising
// it later only affects new hashes.
const DefaultCost = 10

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so that the cost can be injected
// in tests, where cost 4 keeps the suites fast.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with DefaultCost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: DefaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with a custom cost.
// Pass bcrypt.MinCost (4) from tests in other packages.
//
// Do NOT use in production: cost 4 is far too weak.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash hashes the given plaintext password with bcrypt.
//
// Returns an error if the plaintext is too long (bcrypt reads at most 72 bytes).
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		// bcrypt silently truncates passwords longer than 72 bytes.
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
//
// Returns nil if they match, ErrPasswordMismatch if they don't, and a wrapped
// error if the stored hash is malformed. The comparison inside bcrypt is
// constant-time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// Matches is Verify collapsed to a bool. Malformed hashes never match.
func (p *PasswordService) Matches(hash, plaintext string) bool {
	return p.Verify(hash, plaintext) == nil
}

// HashIfModified is the pre-persistence hook for users.
//
// If u has a staged password (model.User.SetPassword), it is hashed and
// committed to u.PasswordHash. Otherwise u is left untouched, which is what
// keeps profile-only saves from re-hashing an existing hash.
//
// Call it immediately before every write that includes the password column.
func (p *PasswordService) HashIfModified(u *model.User) error {
	if !u.PasswordModified() {
		return nil
	}

	hash, err := p.Hash(u.PendingPassword())
	if err != nil {
		return err
	}
	u.CommitPasswordHash(hash)
	return nil
}
