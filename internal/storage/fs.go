package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FSStore keeps objects as files on an afero filesystem. Production uses
// a base path on disk, tests use an in-memory filesystem.
type FSStore struct {
	fs afero.Fs
}

func NewFSStore(f afero.Fs) *FSStore {
	return &FSStore{fs: f}
}

// NewLocalStore stores objects under root on the local disk
func NewLocalStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root, %w", err)
	}

	return NewFSStore(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

func fsPath(key string) string {
	return "/" + strings.TrimPrefix(path.Clean("/"+key), "/")
}

func (s *FSStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	p := fsPath(key)

	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s, %w", key, err)
	}

	f, err := s.fs.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create %s, %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write %s, %w", key, err)
	}

	return nil
}

func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := s.fs.Open(fsPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to open %s, %w", key, err)
	}

	return f, nil
}

func (s *FSStore) Stat(_ context.Context, key string) (*Object, error) {
	info, err := s.fs.Stat(fsPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to stat %s, %w", key, err)
	}

	return &Object{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	err := s.fs.Remove(fsPath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s, %w", key, err)
	}

	return nil
}

func (s *FSStore) DeleteMany(ctx context.Context, keys []string) error {
	var errs []error
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *FSStore) List(_ context.Context, prefix string) ([]Object, error) {
	root := fsPath(prefix)
	if !strings.HasSuffix(prefix, "/") {
		root = path.Dir(root)
	}

	var objects []Object

	err := afero.Walk(s.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if info.IsDir() {
			return nil
		}

		key := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		objects = append(objects, Object{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s, %w", prefix, err)
	}

	return objects, nil
}

func (s *FSStore) Compose(ctx context.Context, dst string, srcs []string, _ string) (int64, error) {
	if len(srcs) == 0 {
		return 0, errors.New("nothing to compose")
	}

	p := fsPath(dst)
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s, %w", dst, err)
	}

	out, err := s.fs.Create(p)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s, %w", dst, err)
	}
	defer out.Close()

	var written int64
	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		n, err := s.appendFile(out, src)
		if err != nil {
			return 0, err
		}

		written += n
	}

	return written, nil
}

func (s *FSStore) appendFile(w io.Writer, key string) (int64, error) {
	f, err := s.fs.Open(fsPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("failed to open %s, %w", key, ErrNotFound)
		}

		return 0, fmt.Errorf("failed to open %s, %w", key, err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return 0, fmt.Errorf("failed to append %s, %w", key, err)
	}

	return n, nil
}
