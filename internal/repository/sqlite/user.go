package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/model"
)

const userColumns = `id, username, email, full_name, avatar, cover_image, password, refresh_token, created_at, updated_at, github_id`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var githubID sql.NullInt64
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FullName,
		&u.Avatar,
		&u.CoverImage,
		&u.PasswordHash,
		&u.RefreshToken,
		&u.CreatedAt,
		&u.UpdatedAt,
		&githubID,
	)
	if err != nil {
		return nil, err
	}
	u.GitHubID = githubID.Int64
	return &u, nil
}

// CreateUser inserts a user. ID and timestamps are generated when empty.
// A duplicate username or email surfaces as apperror.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now()
	if u.ID == "" {
		u.ID = xid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Username,
		u.Email,
		u.FullName,
		u.Avatar,
		u.CoverImage,
		u.PasswordHash,
		u.RefreshToken,
		u.CreatedAt,
		u.UpdatedAt,
		nullGitHubID(u.GitHubID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictMessage("User with email or username already exists")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", u.Username, err)
	}
	return nil
}

// GetUserByID retrieves a user and their watch history.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id", `id = ?`, id)
}

func (db *DB) FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	return db.getUser(ctx, "username or email", `username = ? OR email = ?`,
		strings.ToLower(username), strings.ToLower(email))
}

func (db *DB) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUser(ctx, "username", `username = ?`, strings.ToLower(username))
}

func (db *DB) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, "email", `email = ?`, strings.ToLower(email))
}

// FindUserByGitHubID matches the numeric GitHub account ID stored by
// LinkGitHubID or CreateUser.
func (db *DB) FindUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	if githubID == 0 {
		return nil, apperror.NotFound("user", "github:0")
	}
	return db.getUser(ctx, "github id", `github_id = ?`, githubID)
}

func (db *DB) getUser(ctx context.Context, by, where string, args ...any) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` LIMIT 1`, args...)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", fmt.Sprint(args[0]))
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", by, err)
	}

	if u.WatchHistory, err = db.watchHistory(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUsersByIDs returns the users that exist among ids. Watch history is not
// loaded; callers use this for owner enrichment only.
func (db *DB) GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}

	placeholders, args := inClause(ids)
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users by id: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}
	return users, nil
}

// UpdateProfile writes the profile columns. The password and refresh token
// have their own targeted updates.
func (db *DB) UpdateProfile(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET full_name = ?, email = ?, avatar = ?, cover_image = ?, updated_at = ?
		 WHERE id = ?`,
		u.FullName,
		u.Email,
		u.Avatar,
		u.CoverImage,
		u.UpdatedAt,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictMessage("Email is already in use")
		}
		return fmt.Errorf("sqlite: updating user %s: %w", u.ID, err)
	}
	return expectOneRow(result, u.ID)
}

// LinkGitHubID attaches a GitHub account to an existing user. A GitHub ID
// already linked elsewhere surfaces as apperror.ErrConflict.
func (db *DB) LinkGitHubID(ctx context.Context, id string, githubID int64) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET github_id = ?, updated_at = ? WHERE id = ?`,
		nullGitHubID(githubID), time.Now(), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictMessage("GitHub account is already linked to another user")
		}
		return fmt.Errorf("sqlite: linking github id for %s: %w", id, err)
	}
	return expectOneRow(result, id)
}

func (db *DB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for %s: %w", id, err)
	}
	return expectOneRow(result, id)
}

func (db *DB) SetRefreshToken(ctx context.Context, id, token string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ?`,
		token, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting refresh token for %s: %w", id, err)
	}
	return expectOneRow(result, id)
}

// SwapRefreshToken is a compare-and-swap. The WHERE clause makes the check
// and the write a single statement, so two rotations racing with the same
// token cannot both match.
func (db *DB) SwapRefreshToken(ctx context.Context, id, current, next string) (bool, error) {
	if current == "" {
		return false, nil
	}
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET refresh_token = ?, updated_at = ?
		 WHERE id = ? AND refresh_token = ?`,
		next, time.Now(), id, current,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: swapping refresh token for %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

// AppendWatchHistory adds videoID after the user's last entry.
func (db *DB) AppendWatchHistory(ctx context.Context, userID, videoID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO watch_history (user_id, position, video_id)
		 SELECT ?, COALESCE(MAX(position) + 1, 0), ? FROM watch_history WHERE user_id = ?`,
		userID, videoID, userID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", userID)
		}
		return fmt.Errorf("sqlite: appending watch history for %s: %w", userID, err)
	}
	return nil
}

func (db *DB) watchHistory(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT video_id FROM watch_history WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading watch history for %s: %w", userID, err)
	}
	defer rows.Close()

	history := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning watch history: %w", err)
		}
		history = append(history, id)
	}
	return history, rows.Err()
}

// nullGitHubID stores 0 as NULL so the partial unique index ignores
// accounts that never signed in with GitHub.
func nullGitHubID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// expectOneRow turns "no rows affected" into NotFound.
func expectOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}
