// Package imagestore loads image bytes for evaluation runs. A storage ref is
// either a path relative to the image root or an http(s) URL.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiranshivaraju/visionbench/internal/config"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// MaxImageBytes bounds a single image read.
const MaxImageBytes = 32 << 20

var (
	ErrImageNotFound    = errors.New("image not found")
	ErrImageUnreachable = errors.New("image store unreachable")
	ErrImageTimeout     = errors.New("image fetch timeout")
	ErrImageTooLarge    = errors.New("image exceeds size limit")
	ErrInvalidRef       = errors.New("invalid storage ref")
)

// Loader returns the raw bytes behind a storage ref.
type Loader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// FileLoader reads images from a directory tree.
type FileLoader struct {
	root string
}

func NewFileLoader(root string) *FileLoader {
	return &FileLoader{root: root}
}

func (l *FileLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := filepath.Clean(filepath.FromSlash(ref))
	if ref == "" || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	f, err := os.Open(filepath.Join(l.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
		}
		return nil, fmt.Errorf("opening image %s: %w", ref, err)
	}
	defer f.Close()
	return readLimited(f, ref)
}

// HTTPLoader fetches images over HTTP.
type HTTPLoader struct {
	client *http.Client
}

func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	return &HTTPLoader{client: &http.Client{Timeout: timeout}}
}

func (l *HTTPLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrImageUnreachable, resp.StatusCode)
	}
	return readLimited(resp.Body, ref)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrImageTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrImageTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrImageUnreachable, err)
}

func readLimited(r io.Reader, ref string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", ref, err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: %s", ErrImageTooLarge, ref)
	}
	return data, nil
}

// Store routes each ref to the HTTP or file loader.
type Store struct {
	files Loader
	web   Loader
}

// New builds the default Store from config.
func New(cfg config.ImageConfig) *Store {
	return &Store{
		files: NewFileLoader(cfg.Root),
		web:   NewHTTPLoader(cfg.HTTPTimeout),
	}
}

// NewStore wires explicit loaders.
func NewStore(files, web Loader) *Store {
	return &Store{files: files, web: web}
}

func (s *Store) Load(ctx context.Context, ref string) ([]byte, error) {
	if IsURL(ref) {
		return s.web.Load(ctx, ref)
	}
	return s.files.Load(ctx, ref)
}

// IsURL reports whether ref is fetched over HTTP.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Dimensions reads the pixel size from the image header. Formats the
// standard decoders do not know, such as webp, return an error.
func Dimensions(data []byte) (models.ImageSize, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.ImageSize{}, fmt.Errorf("reading image header: %w", err)
	}
	return models.ImageSize{Width: cfg.Width, Height: cfg.Height}, nil
}

var _ Loader = (*Store)(nil)
