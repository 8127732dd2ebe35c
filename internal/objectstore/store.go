package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"highlightflow/internal/util"
)

var ErrNotFound = errors.New("object not found")

type Store interface {
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// FS stores objects as files under Root. Uploads are written to a temp file
// and renamed, so a key is either absent or complete.
type FS struct {
	Root    string
	BaseURI string
}

func NewFS(root, baseURI string) (*FS, error) {
	if err := util.EnsureDir(root); err != nil {
		return nil, err
	}
	return &FS{Root: root, BaseURI: strings.TrimRight(baseURI, "/")}, nil
}

func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return k, nil
}

func (s *FS) path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, filepath.FromSlash(k)), nil
}

// URI is the reference recorded for key.
func (s *FS) URI(key string) string {
	if s.BaseURI == "" {
		return "file://" + filepath.ToSlash(filepath.Join(s.Root, filepath.FromSlash(key)))
	}
	return s.BaseURI + "/" + key
}

func (s *FS) Upload(ctx context.Context, key string, r io.Reader) (uri string, err error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := util.EnsureDir(filepath.Dir(dst)); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create upload temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := io.Copy(tmp, readerWithContext{ctx: ctx, r: r}); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("commit object %s: %w", key, err)
	}
	return s.URI(key), nil
}

func (s *FS) Download(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

func (s *FS) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// FetchToFile downloads key into dir, keeping the key's base name.
func FetchToFile(ctx context.Context, s Store, key, dir string) (localPath string, err error) {
	rc, err := s.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	localPath = filepath.Join(dir, path.Base(key))
	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local copy: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(localPath)
		}
	}()
	if _, err := io.Copy(f, readerWithContext{ctx: ctx, r: rc}); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("copy %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close local copy: %w", err)
	}
	return localPath, nil
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
