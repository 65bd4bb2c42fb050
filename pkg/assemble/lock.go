// pkg/assemble/lock.go
package assemble

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/arc-language/reloc/pkg/core"
)

// stagingLock is an exclusive flock on a file next to the staging directory.
// The lock lives outside the staging tree so it never ends up in an archive.
type stagingLock struct {
	f *os.File
}

func lockStaging(stagingDir string) (*stagingLock, error) {
	path := stagingDir + ".lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening staging lock: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, &core.Error{Op: "lock staging", Err: fmt.Errorf("%w: %s", core.ErrStagingBusy, stagingDir)}
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &stagingLock{f: f}, nil
}

func (l *stagingLock) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
