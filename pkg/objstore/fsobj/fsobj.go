// Package fsobj implements objstore.Store on top of the local filesystem.
// It is the default backend for a single-node deployment: catalog log
// segments, checkpoints, and persisted Parquet files all land under a
// root directory, one file per key.
//
// PutIfAbsent needs to reject a second writer racing on the same key.
// os.OpenFile with O_CREATE|O_EXCL already gives that atomically on a
// POSIX filesystem, but the parent directories may not exist yet and
// two goroutines creating them concurrently can still collide, so a
// per-key flock guards the create-or-check: one advisory lock file per
// operation, held only long enough to decide winner or loser.
package fsobj

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/cuemby/chronicle/pkg/objstore"
)

// Store is a local-filesystem objstore.Store rooted at a directory.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsobj: creating root %s: %w", dir, err)
	}
	return &Store{root: filepath.Clean(dir)}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *Store) lockPath(key string) string {
	return s.path(key) + ".lock"
}

func meta(key string, info fs.FileInfo) objstore.ObjectMeta {
	return objstore.ObjectMeta{
		Key:          key,
		Size:         info.Size(),
		ETag:         fmt.Sprintf("%x-%d", info.ModTime().UnixNano(), info.Size()),
		LastModified: info.ModTime(),
	}
}

func (s *Store) Put(_ context.Context, key string, data []byte) (objstore.ObjectMeta, error) {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put %s: %w", key, err)
	}

	tmp := p + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put %s: %w", key, err)
	}

	info, err := os.Stat(p)
	if err != nil {
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put %s: %w", key, err)
	}
	return meta(key, info), nil
}

func (s *Store) PutIfAbsent(_ context.Context, key string, data []byte) (objstore.ObjectMeta, error) {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put-if-absent %s: %w", key, err)
	}

	lockP := s.lockPath(key)
	if err := os.MkdirAll(filepath.Dir(lockP), 0o755); err != nil {
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put-if-absent %s: %w", key, err)
	}
	lock := flock.New(lockP)
	locked, err := lock.TryLock()
	if err != nil {
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: acquiring lock for %s: %w", key, err)
	}
	if !locked {
		return objstore.ObjectMeta{}, objstore.ErrAlreadyExists
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return objstore.ObjectMeta{}, objstore.ErrAlreadyExists
		}
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put-if-absent %s: %w", key, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(p)
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put-if-absent %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p)
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put-if-absent %s: %w", key, err)
	}

	info, err := os.Stat(p)
	if err != nil {
		return objstore.ObjectMeta{}, fmt.Errorf("fsobj: put-if-absent %s: %w", key, err)
	}
	return meta(key, info), nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, objstore.ErrNotFound
		}
		return nil, fmt.Errorf("fsobj: get %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) List(_ context.Context, prefix string, offset, limit int) ([]objstore.ObjectMeta, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".lock") || strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fsobj: list %s: %w", prefix, err)
	}
	sort.Strings(keys)

	if offset >= len(keys) {
		return nil, nil
	}
	keys = keys[offset:]
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]objstore.ObjectMeta, 0, len(keys))
	for _, k := range keys {
		info, err := os.Stat(s.path(k))
		if err != nil {
			continue
		}
		out = append(out, meta(k, info))
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsobj: delete %s: %w", key, err)
	}
	_ = os.Remove(s.lockPath(key))
	return nil
}

// Create opens a streaming writer for key, satisfying objstore.StreamingStore.
// The object becomes visible only once Close succeeds, via rename-from-temp
// the same way Put does.
func (s *Store) Create(_ context.Context, key string) (io.WriteCloser, error) {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("fsobj: create %s: %w", key, err)
	}
	tmp := p + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("fsobj: create %s: %w", key, err)
	}
	return &streamWriter{f: f, tmp: tmp, final: p}, nil
}

type streamWriter struct {
	f     *os.File
	tmp   string
	final string
}

func (w *streamWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *streamWriter) Close() error {
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmp)
		return err
	}
	return os.Rename(w.tmp, w.final)
}

var _ objstore.StreamingStore = (*Store)(nil)
