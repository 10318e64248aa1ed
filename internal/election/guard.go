package election

import (
	"os"
	"sync"

	"github.com/standardbeagle/semidx/internal/debug"
)

// LeaderGuard is proof of leadership. The lock is held for as long as the
// guard's file stays open.
type LeaderGuard struct {
	file       *os.File
	lockPath   string
	socketPath string

	once sync.Once
	err  error
}

// SocketPath is where the leader must listen
func (g *LeaderGuard) SocketPath() string { return g.socketPath }

// LockPath is the locked file
func (g *LeaderGuard) LockPath() string { return g.lockPath }

// Release removes the socket file and closes the lock file, which releases
// the lock. The lock file itself is left in place: unlinking it would let a
// newcomer lock a fresh inode while a waiter still holds the old one.
// Calling Release more than once is safe.
func (g *LeaderGuard) Release() error {
	g.once.Do(func() {
		_ = os.Remove(g.socketPath)
		g.err = g.file.Close()
		debug.LogElection("released leadership (lock %s)", g.lockPath)
	})
	return g.err
}
