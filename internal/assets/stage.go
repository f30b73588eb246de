package assets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
)

// ErrTooLarge is returned when a staged file exceeds the configured limit.
var ErrTooLarge = errors.New("assets: file too large")

// Stager copies multipart uploads into temp files.
type Stager struct {
	dir      string
	maxBytes int64
}

// NewStager stages into dir (os.TempDir when empty). maxBytes <= 0 means no
// limit.
func NewStager(dir string, maxBytes int64) *Stager {
	return &Stager{dir: dir, maxBytes: maxBytes}
}

// Stage writes fh to a new temp file and returns its path. The caller owns
// the file and must Discard it. Content that does not sniff as an accepted
// image is rejected with ErrUnsupportedType before anything is written, and
// the temp file's extension follows the sniffed type.
func (s *Stager) Stage(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("assets: opening upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("assets: reading upload %s: %w", fh.Filename, err)
	}
	head = head[:n]
	_, ext, err := detectImage(head)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("assets: creating temp file: %w", err)
	}
	path := tmp.Name()

	var r io.Reader = io.MultiReader(bytes.NewReader(head), src)
	if s.maxBytes > 0 {
		r = io.LimitReader(r, s.maxBytes+1)
	}
	written, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("assets: staging %s: %w", fh.Filename, err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		_ = os.Remove(path)
		return "", ErrTooLarge
	}

	return path, nil
}
