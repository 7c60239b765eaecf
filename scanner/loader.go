package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrImageTooLarge is returned when an image exceeds the configured size
var ErrImageTooLarge = errors.New("image exceeds size limit")

// ImageLoader fetches image bytes for an image reference
type ImageLoader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// SourceLoader reads local paths, file:// URLs and http(s) URLs
type SourceLoader struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewSourceLoader creates a loader. A non-positive maxBytes disables the limit.
func NewSourceLoader(timeout time.Duration, maxBytes int64) *SourceLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SourceLoader{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

// Load returns the raw bytes behind ref
func (l *SourceLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path, including Windows drive letters
		return l.loadFile(ref)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return l.loadFile(filepath.FromSlash(u.Path))
	case "http", "https":
		return l.loadHTTP(ctx, ref)
	default:
		return nil, fmt.Errorf("unsupported image source scheme %q", u.Scheme)
	}
}

func (l *SourceLoader) loadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open image file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if l.maxBytes > 0 && info.Size() > l.maxBytes {
		return nil, l.tooLarge(info.Size())
	}

	return l.readLimited(f)
}

func (l *SourceLoader) loadHTTP(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", ref, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", ref, resp.StatusCode)
	}
	if l.maxBytes > 0 && resp.ContentLength > l.maxBytes {
		return nil, l.tooLarge(resp.ContentLength)
	}

	return l.readLimited(resp.Body)
}

func (l *SourceLoader) readLimited(r io.Reader) ([]byte, error) {
	if l.maxBytes <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, l.tooLarge(int64(len(data)))
	}
	return data, nil
}

func (l *SourceLoader) tooLarge(size int64) error {
	return fmt.Errorf("%w: %s > %s", ErrImageTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(l.maxBytes)))
}
