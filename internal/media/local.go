package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// LocalStore keeps blobs on the local filesystem and serves them under a
// public URL base, for development setups without S3.
type LocalStore struct {
	BaseDir    string
	PublicBase string
}

// NewLocalStore constructs a store rooted at baseDir. If baseDir is empty a
// directory below os.TempDir() is used.
func NewLocalStore(baseDir, publicBase string) (*LocalStore, error) {
	dir := baseDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "room-render-media")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local media dir: %w", err)
	}
	if publicBase == "" {
		publicBase = "/media/"
	}
	if !strings.HasSuffix(publicBase, "/") {
		publicBase += "/"
	}
	return &LocalStore{BaseDir: dir, PublicBase: publicBase}, nil
}

// Put writes the blob to BaseDir/path, replacing any previous content.
func (l *LocalStore) Put(_ context.Context, input PutInput) (Object, error) {
	if input.Body == nil {
		return Object{}, errors.New("put body is required")
	}
	rel, ok := cleanPath(input.Path)
	if !ok {
		rel = uuid.NewString()
	}
	target := filepath.Join(l.BaseDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("create media dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	size, err := io.Copy(tmpFile, input.Body)
	closeErr := tmpFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpFile.Name())
		return Object{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), target); err != nil {
		os.Remove(tmpFile.Name())
		return Object{}, fmt.Errorf("move media file: %w", err)
	}

	return Object{
		Path:       rel,
		URL:        l.PublicBase + rel,
		UploadedAt: timeNow(),
		Size:       size,
	}, nil
}

// List walks the tree and returns objects whose path starts with prefix,
// newest first.
func (l *LocalStore) List(_ context.Context, prefix string) ([]Object, error) {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	objects := []Object{}
	err := filepath.WalkDir(l.BaseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(l.BaseDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Path:       rel,
			URL:        l.PublicBase + rel,
			UploadedAt: info.ModTime(),
			Size:       info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list media dir: %w", err)
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].UploadedAt.After(objects[j].UploadedAt)
	})
	return objects, nil
}

// Get reads a blob by path.
func (l *LocalStore) Get(_ context.Context, p string) ([]byte, error) {
	rel, ok := cleanPath(p)
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(l.BaseDir, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read media file: %w", err)
	}
	return data, nil
}

// Handler serves the files below subtree (default "renders") under
// PublicBase. Directories and anything outside the subtree, such as cache
// entries, answer 404.
func (l *LocalStore) Handler(subtree string) http.Handler {
	subtree = strings.Trim(subtree, "/")
	if subtree == "" {
		subtree = "renders"
	}
	base := l.PublicBase
	if u, err := url.Parse(base); err == nil && u.Path != "" {
		base = u.Path
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, base) {
			http.NotFound(w, r)
			return
		}
		rel, ok := cleanPath(strings.TrimPrefix(r.URL.Path, base))
		if !ok || !strings.HasPrefix(rel, subtree+"/") {
			http.NotFound(w, r)
			return
		}
		full := filepath.Join(l.BaseDir, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, full)
	})
}
