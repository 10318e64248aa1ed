//go:build unix

package election

import (
	"os"

	"golang.org/x/sys/unix"
)

var errWouldBlock error = unix.EWOULDBLOCK

// lockExclusive takes a non-blocking exclusive flock. flock locks belong to
// the open file description, so two opens in one process also exclude each
// other.
func lockExclusive(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}
