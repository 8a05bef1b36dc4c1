package hostsfile

import (
	"fmt"
	"os"
	"time"
)

// withLock opens path+".rai-connect.lock" and serializes fn against
// concurrent callers via a platform advisory lock, retrying up to
// maxLockRetries times with lockRetryDelay backoff on contention.
func withLock(path string, fn func() error) error {
	lockPath := path + ".rai-connect.lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	var lockErr error
	for attempt := 0; attempt <= maxLockRetries; attempt++ {
		lockErr = tryLock(f)
		if lockErr == nil {
			break
		}
		time.Sleep(lockRetryDelay * time.Duration(attempt+1))
	}
	if lockErr != nil {
		return fmt.Errorf("acquire advisory lock on %s after %d attempts: %w", lockPath, maxLockRetries+1, lockErr)
	}
	defer unlock(f)

	return fn()
}
