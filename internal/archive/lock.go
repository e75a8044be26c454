package archive

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jaakkos/agentmail/internal/domain"
)

// Lock is a per-project advisory file lock. It serializes the archive-write
// then index-write sequence across processes sharing a storage root. The
// lock file carries owner metadata so a crashed holder can be detected and
// its lock broken.
type Lock struct {
	path string
}

const (
	lockFileName = ".archive.lock"

	// lockStaleAfter is how old an orphaned lock must be before a waiter
	// whose owner pid is unverifiable breaks it.
	lockStaleAfter = 3 * time.Minute

	lockPollInterval = 25 * time.Millisecond
)

type lockOwner struct {
	PID       int       `json:"pid"`
	CreatedTS time.Time `json:"created_ts"`
}

// acquireLock takes the lock for a project directory, polling until the
// deadline passes. Expired waits surface as TIMEOUT so callers can hand the
// stable code straight back to clients.
func acquireLock(projectDir string, deadline time.Time) (*Lock, error) {
	path := filepath.Join(projectDir, lockFileName)
	for {
		ok, err := tryLock(path)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{path: path}, nil
		}
		breakIfStale(path)
		if time.Now().Add(lockPollInterval).After(deadline) {
			return nil, domain.Errorf(domain.ErrTimeout, "could not acquire archive lock for %s", projectDir)
		}
		time.Sleep(lockPollInterval)
	}
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() {
	if l == nil || l.path == "" {
		return
	}
	_ = os.Remove(l.path)
	l.path = ""
}

func tryLock(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	owner := lockOwner{PID: os.Getpid(), CreatedTS: time.Now().UTC()}
	data, _ := json.Marshal(owner)
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		if werr != nil {
			return false, werr
		}
		return false, cerr
	}
	return true, nil
}

// breakIfStale removes a lock whose owner is gone. A lock is stale when its
// recorded pid no longer exists, or when the pid cannot be read and the file
// is older than lockStaleAfter.
func breakIfStale(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var owner lockOwner
	if json.Unmarshal(data, &owner) == nil && owner.PID > 0 {
		if pidAlive(owner.PID) {
			return
		}
		_ = os.Remove(path)
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) >= lockStaleAfter {
		_ = os.Remove(path)
	}
}

func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, os.ErrPermission)
}
