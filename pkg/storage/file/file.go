package file

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/qrtrail/scanhistory/pkg/storage"
)

const (
	fileExt = ".json"
	lockExt = ".lock"
)

// Slot stores each key as a file in a directory. Writes go to a temp file
// that is renamed over the target, so a reader never sees a torn value.
//
// Mutations hold an exclusive lock on a sibling <key>.json.lock file. On osfs
// that is an flock, so Slots in different processes sharing one directory
// exclude each other. memfs files do not lock; there only the per-Slot mutex
// applies.
type Slot struct {
	fs billy.Filesystem
	mu sync.Mutex
}

// New wraps an existing filesystem, e.g. memfs.New() in tests.
func New(fs billy.Filesystem) *Slot {
	return &Slot{fs: fs}
}

// Open returns a slot rooted at dir, creating the directory if needed.
func Open(dir string) (*Slot, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	return New(osfs.New(dir)), nil
}

func (s *Slot) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(key)
}

func (s *Slot) Write(_ context.Context, key string, value []byte) error {
	unlock, err := s.lock(key)
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(key, value)
}

func (s *Slot) Remove(_ context.Context, key string) error {
	unlock, err := s.lock(key)
	if err != nil {
		return err
	}
	defer unlock()
	err = s.fs.Remove(fileName(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Update holds the key's lock from the read until the rename lands.
func (s *Slot) Update(_ context.Context, key string, fn storage.UpdateFunc) error {
	unlock, err := s.lock(key)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.read(key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	return s.write(key, next)
}

// lock takes the in-process mutex, then the file lock. The lock file is never
// removed: deleting it would let two lockers hold different inodes.
func (s *Slot) lock(key string) (func(), error) {
	s.mu.Lock()
	f, err := s.fs.OpenFile(fileName(key)+lockExt, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("open lock for %q: %w", key, err)
	}
	if err := f.Lock(); err != nil {
		_ = f.Close()
		s.mu.Unlock()
		return nil, fmt.Errorf("lock %q: %w", key, err)
	}
	return func() {
		_ = f.Unlock()
		_ = f.Close()
		s.mu.Unlock()
	}, nil
}

func (s *Slot) read(key string) ([]byte, error) {
	data, err := util.ReadFile(s.fs, fileName(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return data, nil
}

func (s *Slot) write(key string, value []byte) error {
	name := fileName(key)
	tmp, err := util.TempFile(s.fs, ".", "."+name+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp for %q: %w", key, err)
	}
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("close %q: %w", key, err)
	}
	if err := s.fs.Rename(tmp.Name(), name); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("rename %q: %w", key, err)
	}
	return nil
}

func fileName(key string) string {
	return url.PathEscape(key) + fileExt
}
