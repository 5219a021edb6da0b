package history

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/stupiduntilnot/zyro/internal/prompt"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600
	lockRetryWait   = 25 * time.Millisecond
)

// FileBackend stores every window in one JSON document:
//
//	{"<user id>": [{"role": "user", "content": "..."}, ...], ...}
//
// Each Write re-reads the document under an exclusive file lock, replaces the
// user's entry and atomically swaps the file, so several processes may share
// one document without losing each other's users.
type FileBackend struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFileBackend returns a backend for the document at path. The file is not
// touched until Load or Write.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("history file path is empty")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "resolve history path %s", path)
	}
	return &FileBackend{
		path: abs,
		lock: flock.New(abs + ".lock"),
	}, nil
}

// Path returns the absolute document path.
func (b *FileBackend) Path() string { return b.path }

// Load reads the document, creating it as {} when absent.
func (b *FileBackend) Load(ctx context.Context) (map[string][]prompt.Message, error) {
	var doc map[string][]prompt.Message
	err := b.withLock(ctx, func() error {
		var found bool
		var err error
		doc, found, err = b.read()
		if err != nil {
			return err
		}
		if !found {
			return b.writeAtomic(doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Write replaces the user's window in the document.
func (b *FileBackend) Write(ctx context.Context, userID string, window []prompt.Message) error {
	return b.withLock(ctx, func() error {
		doc, _, err := b.read()
		if err != nil {
			return err
		}
		doc[userID] = window
		return b.writeAtomic(doc)
	})
}

// Close is a no-op; the lock is only held during Load and Write.
func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) withLock(ctx context.Context, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), defaultDirPerm); err != nil {
		return errors.Wrapf(err, "ensure dir for %s", b.path)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	locked, err := b.lock.TryLockContext(ctx, lockRetryWait)
	if err != nil {
		return errors.Wrapf(err, "lock %s", b.lock.Path())
	}
	if !locked {
		return errors.Errorf("lock %s not acquired", b.lock.Path())
	}
	defer func() { _ = b.lock.Unlock() }()
	return fn()
}

func (b *FileBackend) read() (map[string][]prompt.Message, bool, error) {
	doc := make(map[string][]prompt.Message)
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, false, nil
		}
		return nil, false, errors.Wrapf(err, "read %s", b.path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, false, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, errors.Wrapf(err, "decode %s", b.path)
	}
	if doc == nil {
		doc = make(map[string][]prompt.Message)
	}
	return doc, true, nil
}

func (b *FileBackend) writeAtomic(doc map[string][]prompt.Message) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", b.path)
	}
	data = append(data, '\n')

	parentDir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(parentDir, filepath.Base(b.path)+".tmp.*")
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", b.path)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrapf(err, "write temp for %s", b.path)
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrapf(err, "sync temp for %s", b.path)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		return errors.Wrapf(err, "chmod temp for %s", b.path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close temp for %s", b.path)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return errors.Wrapf(err, "rename temp for %s", b.path)
	}

	// Best effort directory sync.
	if dir, err := os.Open(parentDir); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

var _ Backend = (*FileBackend)(nil)
