// Package imagestore abstracts where page images live. Page records hold
// references; controllers resolve them through a Store so local files and
// remote URLs are handled the same way.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store resolves image references to bytes and persists derived images.
type Store interface {
	// Open returns a reader for the referenced image.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Exists reports whether the reference resolves without reading it.
	Exists(ctx context.Context, ref string) (bool, error)
	// Write persists data under ref and returns the stored reference.
	Write(ctx context.Context, ref string, data []byte) (string, error)
}

// Local stores images under a root directory. References are paths relative
// to the root; absolute paths are honoured as-is.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

// Root returns the base directory.
func (l *Local) Root() string {
	return l.root
}

// Path resolves a reference to an absolute filesystem path.
func (l *Local) Path(ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(l.root, ref)
}

func (l *Local) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.Path(ref))
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", ref, err)
	}
	return f, nil
}

func (l *Local) Exists(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(l.Path(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat image %q: %w", ref, err)
	}
	return !info.IsDir(), nil
}

func (l *Local) Write(ctx context.Context, ref string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(ref) == "" {
		return "", errors.New("image reference is empty")
	}
	path := l.Path(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image %q: %w", ref, err)
	}
	return ref, nil
}

// Fetching wraps a Local store with HTTP resolution so page photos referenced
// by URL can be read transparently. Writes always land in the local store.
type Fetching struct {
	Local  *Local
	Client *http.Client
}

// NewFetching builds a Fetching store over dir with a default HTTP client.
func NewFetching(dir string, timeout time.Duration) *Fetching {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetching{
		Local:  NewLocal(dir),
		Client: &http.Client{Timeout: timeout},
	}
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (f *Fetching) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !isRemote(ref) {
		return f.Local.Open(ctx, ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image %q: %w", ref, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch image %q: status %d: %s", ref, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

func (f *Fetching) Exists(ctx context.Context, ref string) (bool, error) {
	if !isRemote(ref) {
		return f.Local.Exists(ctx, ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref, nil)
	if err != nil {
		return false, fmt.Errorf("build image request: %w", err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return false, fmt.Errorf("check image %q: %w", ref, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK, nil
}

func (f *Fetching) Write(ctx context.Context, ref string, data []byte) (string, error) {
	if isRemote(ref) {
		return "", fmt.Errorf("cannot write to remote reference %q", ref)
	}
	return f.Local.Write(ctx, ref, data)
}

func (f *Fetching) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// ReadAll resolves a reference and returns its bytes.
func ReadAll(ctx context.Context, store Store, ref string) ([]byte, error) {
	rc, err := store.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read image %q: %w", ref, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %q is empty", ref)
	}
	return data, nil
}

// MIMEType guesses the MIME type of a reference from its extension. Unknown
// extensions fall back to JPEG, the dominant page photo format.
func MIMEType(ref string) string {
	if isRemote(ref) {
		if i := strings.IndexAny(ref, "?#"); i >= 0 {
			ref = ref[:i]
		}
	}
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}

// Memory is an in-memory Store for tests.
type Memory struct {
	files map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

func (m *Memory) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m.files[ref]
	if !ok {
		return nil, fmt.Errorf("open image %q: %w", ref, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Exists(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := m.files[ref]
	return ok, nil
}

func (m *Memory) Write(ctx context.Context, ref string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[ref] = cp
	return ref, nil
}
