package runstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrLocked is returned when another process is advancing the same run.
var ErrLocked = errors.New("run is being advanced by another process")

// StaleLockAge is how old a lock file must be before it is assumed abandoned.
// A held lock is touched every lockRefresh, so only a lock whose holder died
// ever gets this old, however long the stage it guards runs.
const StaleLockAge = 30 * time.Minute

var lockRefresh = StaleLockAge / 3

// Lock takes the per-run advance lock so that no two stages of the same run
// execute concurrently, even across processes. The returned func releases it.
func (s *Store) Lock(id string) (func(), error) {
	if _, err := os.Stat(s.runDir(id)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	path := filepath.Join(s.runDir(id), ".advance.lock")

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			return holdLock(path), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil || time.Since(info.ModTime()) < StaleLockAge {
			return nil, fmt.Errorf("run %s: %w", id, ErrLocked)
		}
		os.Remove(path)
	}
	return nil, fmt.Errorf("run %s: %w", id, ErrLocked)
}

// holdLock keeps the lock file's mtime fresh until the returned func is
// called, which stops the refresh and removes the file.
func holdLock(path string) func() {
	done := make(chan struct{})
	ticker := time.NewTicker(lockRefresh)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				now := time.Now()
				os.Chtimes(path, now, now)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			os.Remove(path)
		})
	}
}
