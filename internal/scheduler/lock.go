package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// lockInfo is the JSON payload of the worker lock file.
type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AcquireLock takes the single-worker lock at path. A lock held by a
// process that no longer exists is reclaimed; a live holder wins.
// The returned release function removes the lock.
func AcquireLock(path string) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		release, err := tryAcquire(path)
		if err == nil {
			return release, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		holder, readErr := readLock(path)
		if readErr != nil {
			// Corrupt or half-written lock file; reclaim it.
			fmt.Fprintf(os.Stderr, "Warning: removing unreadable lock file: %v\n", readErr)
			os.Remove(path)
			continue
		}
		if processAlive(holder.PID) {
			return nil, fmt.Errorf("another worker is running (pid %d since %s)",
				holder.PID, holder.AcquiredAt.Format(time.RFC3339))
		}
		// Holder died without releasing.
		fmt.Fprintf(os.Stderr, "Warning: reclaiming lock from dead process %d\n", holder.PID)
		os.Remove(path)
	}
	return nil, fmt.Errorf("could not acquire worker lock at %s", path)
}

func tryAcquire(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	info := lockInfo{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	return func() { os.Remove(path) }, nil
}

func readLock(path string) (*lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	if info.PID <= 0 {
		return nil, fmt.Errorf("lock file has no pid")
	}
	return &info, nil
}

// processAlive reports whether pid exists, using signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return err == syscall.EPERM
}
