package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/channelhub/internal/model"
)

func (db *DB) CreateVideo(ctx context.Context, v *model.Video) error {
	now := time.Now()
	if v.ID == "" {
		v.ID = xid.New().String()
	}
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO videos (id, owner_id, title, description, video_file, thumbnail,
		                     duration, views, is_published, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.OwnerID, v.Title, v.Description, v.VideoFile, v.Thumbnail,
		v.Duration, v.Views, v.IsPublished, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting video %q: %w", v.Title, err)
	}
	return nil
}

func (db *DB) GetVideosByIDs(ctx context.Context, ids []string) ([]model.Video, error) {
	if len(ids) == 0 {
		return []model.Video{}, nil
	}

	placeholders, args := inClause(ids)
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, owner_id, title, description, video_file, thumbnail,
		        duration, views, is_published, created_at, updated_at
		 FROM videos WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing videos by id: %w", err)
	}
	defer rows.Close()

	videos := []model.Video{}
	for rows.Next() {
		var v model.Video
		if err := rows.Scan(
			&v.ID, &v.OwnerID, &v.Title, &v.Description, &v.VideoFile, &v.Thumbnail,
			&v.Duration, &v.Views, &v.IsPublished, &v.CreatedAt, &v.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning video row: %w", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating video rows: %w", err)
	}
	return videos, nil
}
