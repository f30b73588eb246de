package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore copies uploads into a directory served by something else
// (a reverse proxy, a CDN origin). Useful in development and single-box
// deployments.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assets: creating %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *LocalStore) Upload(ctx context.Context, localPath string) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("assets: opening %s: %w", localPath, err)
	}
	defer src.Close()

	contentType, ext, err := sniffImage(src)
	if err != nil {
		return nil, err
	}

	key := objectKey("images", ext)
	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("assets: creating %s: %w", filepath.Dir(dst), err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("assets: creating %s: %w", dst, err)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return nil, fmt.Errorf("assets: copying to %s: %w", dst, err)
	}

	return &Asset{
		URL:         l.baseURL + "/" + key,
		Key:         key,
		ContentType: contentType,
		Size:        n,
	}, nil
}
