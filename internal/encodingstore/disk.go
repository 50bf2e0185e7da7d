package encodingstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/example/face-attendance/internal/face"
)

// DiskStore keeps one JSON file per key below BasePath.
type DiskStore struct {
	basePath  string
	dirs      map[string]bool
	dirsMutex sync.Mutex
}

// NewDiskStore creates the base directory if needed.
func NewDiskStore(basePath string) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("creating encoding dir: %w", err)
	}
	return &DiskStore{basePath: basePath, dirs: make(map[string]bool)}, nil
}

func (s *DiskStore) createDir(dir string) error {
	s.dirsMutex.Lock()
	defer s.dirsMutex.Unlock()

	if s.dirs[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	s.dirs[dir] = true
	return nil
}

func (s *DiskStore) fullPath(key face.EncodingKey) string {
	return filepath.Join(s.basePath, filepath.FromSlash(ObjectName(key)))
}

// writeTemp writes data to a synced temp file next to the destination and returns its name.
func (s *DiskStore) writeTemp(dest string, data []byte) (string, error) {
	if err := s.createDir(filepath.Dir(dest)); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *DiskStore) Save(ctx context.Context, key face.EncodingKey, set face.EncodingSet) error {
	data, err := encode(key, set)
	if err != nil {
		return err
	}
	dest := s.fullPath(key)
	tmp, err := s.writeTemp(dest, data)
	if err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}

// Create links a fully written temp file into place; link fails if the
// destination exists, which makes the insert atomic.
func (s *DiskStore) Create(ctx context.Context, key face.EncodingKey, set face.EncodingSet) error {
	data, err := encode(key, set)
	if err != nil {
		return err
	}
	dest := s.fullPath(key)
	tmp, err := s.writeTemp(dest, data)
	if err != nil {
		return fmt.Errorf("creating %s: %w", key, err)
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, dest); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("creating %s: %w", key, err)
	}
	return nil
}

// ExclusiveCreate is always true: os.Link never replaces an existing file.
func (s *DiskStore) ExclusiveCreate() bool { return true }

func (s *DiskStore) Load(ctx context.Context, key face.EncodingKey) (face.EncodingSet, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.fullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	return decode(key, data)
}

func (s *DiskStore) Exists(ctx context.Context, key face.EncodingKey) (bool, error) {
	set, err := s.Load(ctx, key)
	if err != nil {
		return false, err
	}
	return len(set) > 0, nil
}

func (s *DiskStore) Delete(ctx context.Context, key face.EncodingKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := os.Remove(s.fullPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *DiskStore) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		key, err := ParseObjectName(filepath.ToSlash(rel))
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: key, Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing encodings: %w", err)
	}
	return objects, nil
}
