// Package lock implements the process-singleton guard (C0): a kb.lock file
// under the data root, held for the lifetime of a kbd serve process so two
// instances never open the same kb.db concurrently.
//
// Grounded on the teacher's internal/embed.FileLock (gofrs/flock-based
// download-time mutual exclusion), generalized from "lock while downloading
// a model" to "lock for the whole process lifetime" and changed from
// blocking Lock to non-blocking TryLock, since a second kbd serve should
// fail fast with a clear error rather than wait forever for the first one
// to exit.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	kberrors "github.com/pieceproject/kbd/internal/errors"
)

// ProcessLock wraps an exclusive, non-blocking file lock.
type ProcessLock struct {
	path string
	fl   *flock.Flock
}

// Acquire creates (if needed) dataDir and takes an exclusive, non-blocking
// lock on dataDir/kb.lock. Returns a Conflict-kind error naming the lock
// path if another process already holds it, so the caller can print a
// clear "already running" message instead of a bare flock error.
func Acquire(dataDir string) (*ProcessLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, kberrors.Storage("create data directory", err)
	}

	path := filepath.Join(dataDir, "kb.lock")
	fl := flock.New(path)

	acquired, err := fl.TryLock()
	if err != nil {
		return nil, kberrors.Storage("acquire process lock", err)
	}
	if !acquired {
		return nil, kberrors.Conflict(fmt.Sprintf("another kbd process already holds %s", path))
	}

	return &ProcessLock{path: path, fl: fl}, nil
}

// Release unlocks the file. Safe to call once; calling it again is a no-op.
func (l *ProcessLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return kberrors.Storage("release process lock", err)
	}
	return nil
}

// Path returns the lock file's path, for logging.
func (l *ProcessLock) Path() string {
	return l.path
}
