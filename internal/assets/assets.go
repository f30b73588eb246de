// Package assets moves uploaded images to durable storage and hands back a
// public URL.
//
// UPLOAD LIFECYCLE:
//  1. the handler stages each multipart file into a temp file (Stager)
//  2. the service calls UploadAndDiscard with the temp path
//  3. the Uploader copies the file to its backend (S3 or a local directory)
//  4. the temp file is removed whether step 3 succeeded or not
//
// The handler also defers the stager's cleanup, so temp files that never
// reach step 2 (validation failures, missing avatar) are removed too.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrUnsupportedType is returned for files whose sniffed content is not one
// of the accepted image formats.
var ErrUnsupportedType = errors.New("assets: unsupported file type")

// imageExtensions maps each accepted sniffed content type to the extension
// stored objects get. The client's filename never picks the extension.
var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Asset is a stored file.
type Asset struct {
	URL         string
	Key         string
	ContentType string
	Size        int64
}

// Uploader stores the file at localPath and returns where it can be fetched.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (*Asset, error)
}

// UploadAndDiscard uploads localPath and always removes it afterwards.
// An empty localPath is reported as an error without touching the uploader.
func UploadAndDiscard(ctx context.Context, u Uploader, localPath string) (*Asset, error) {
	if localPath == "" {
		return nil, errors.New("assets: no file to upload")
	}
	defer func() { _ = Discard(localPath) }()

	asset, err := u.Upload(ctx, localPath)
	if err != nil {
		return nil, err
	}
	if asset == nil || asset.URL == "" {
		return nil, errors.New("assets: upload returned no URL")
	}
	return asset, nil
}

// Discard removes a staged file. A file that is already gone is fine.
func Discard(localPath string) error {
	if localPath == "" {
		return nil
	}
	if err := os.Remove(localPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("assets: removing %s: %w", localPath, err)
	}
	return nil
}

// detectImage sniffs head and returns its content type and extension, or
// ErrUnsupportedType.
func detectImage(head []byte) (contentType, ext string, err error) {
	contentType = http.DetectContentType(head)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return contentType, ext, nil
}

// sniffImage reads the first 512 bytes of f, rewinds it and reports what
// detectImage makes of them.
func sniffImage(f *os.File) (contentType, ext string, err error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", "", fmt.Errorf("assets: reading %s: %w", f.Name(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("assets: rewinding %s: %w", f.Name(), err)
	}
	return detectImage(head[:n])
}

// objectKey builds "<prefix>/yyyy/m/d/<uuid><ext>", spreading objects across
// date prefixes.
func objectKey(prefix, ext string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("%s/%d/%d/%d/%s%s", prefix, d.Year(), d.Month(), d.Day(), uuid.New(), ext)
}
