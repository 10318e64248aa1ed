// Package election decides which process owns the index for a workspace.
//
// The owner holds an exclusive advisory lock on a per-workspace lock file and
// serves RPC on a sibling Unix socket. Both paths are derived from a hash of
// the absolute workspace root, so every process that opens the same workspace
// computes the same pair. The lock is released by the OS when the holder
// exits, which is what lets a crashed leader be replaced.
package election

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/semidx/internal/debug"
)

const (
	// DefaultPrefix names the lock and socket files
	DefaultPrefix = "semidx"

	// HashLength is the number of hex characters of the root hash kept in file names
	HashLength = 12
)

var (
	// ErrLockHeld means another process is the leader. It is control flow,
	// not a failure.
	ErrLockHeld = errors.New("lock held by another process")

	// ErrLockFileCreation means the lock directory or file could not be created
	ErrLockFileCreation = errors.New("cannot create lock file")

	// ErrLockAcquisition means flock failed for a reason other than contention
	ErrLockAcquisition = errors.New("cannot acquire lock")
)

// ElectionError carries the path involved and the OS error. errors.Is matches
// it against its Kind sentinel.
type ElectionError struct {
	Kind error
	Path string
	Err  error
}

func (e *ElectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Path)
}

func (e *ElectionError) Unwrap() error { return e.Err }

func (e *ElectionError) Is(target error) bool { return target == e.Kind }

// Role is the outcome of Resolve
type Role int

const (
	RoleLeader Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleLeader {
		return "leader"
	}
	return "client"
}

// Identity is the deterministic naming of one workspace's lock and socket.
type Identity struct {
	Root       string
	Hash       string
	LockPath   string
	SocketPath string
}

// Option configures an Election
type Option func(*Election)

// WithDir sets the directory holding lock and socket files.
func WithDir(dir string) Option {
	return func(e *Election) {
		if dir != "" {
			e.dir = dir
		}
	}
}

// WithPrefix sets the file name prefix.
func WithPrefix(prefix string) Option {
	return func(e *Election) {
		if prefix != "" {
			e.prefix = prefix
		}
	}
}

// Election computes the identity for one workspace root and arbitrates
// leadership over it.
type Election struct {
	dir    string
	prefix string
	id     Identity
}

// New resolves root to an absolute path and derives the lock identity.
// Defaults: os.TempDir() and DefaultPrefix.
func New(root string, opts ...Option) (*Election, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %q: %w", root, err)
	}

	e := &Election{dir: os.TempDir(), prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(e)
	}
	e.id = deriveIdentity(filepath.Clean(abs), e.dir, e.prefix)
	return e, nil
}

// RootHash returns the first HashLength hex characters of xxhash64(root).
func RootHash(root string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(root))[:HashLength]
}

func deriveIdentity(root, dir, prefix string) Identity {
	hash := RootHash(root)
	base := filepath.Join(dir, prefix+"-"+hash)
	return Identity{
		Root:       root,
		Hash:       hash,
		LockPath:   base + ".lock",
		SocketPath: base + ".sock",
	}
}

// Identity returns the lock and socket paths for this workspace
func (e *Election) Identity() Identity {
	return e.id
}

// TryBecomeLeader makes one non-blocking attempt at the workspace lock.
// On success any stale socket left by a crashed leader is removed and the
// caller's PID is written into the lock file. When another process holds the
// lock the error matches ErrLockHeld.
func (e *Election) TryBecomeLeader() (*LeaderGuard, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, &ElectionError{Kind: ErrLockFileCreation, Path: e.dir, Err: err}
	}

	f, err := os.OpenFile(e.id.LockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &ElectionError{Kind: ErrLockFileCreation, Path: e.id.LockPath, Err: err}
	}

	if err := lockExclusive(f); err != nil {
		f.Close()
		if errors.Is(err, errWouldBlock) {
			debug.LogElection("lock %s held elsewhere", e.id.LockPath)
			return nil, &ElectionError{Kind: ErrLockHeld, Path: e.id.LockPath}
		}
		return nil, &ElectionError{Kind: ErrLockAcquisition, Path: e.id.LockPath, Err: err}
	}

	// Nobody else can be serving on this socket now.
	if err := os.Remove(e.id.SocketPath); err == nil {
		debug.LogElection("removed stale socket %s", e.id.SocketPath)
	}

	if err := writePID(f); err != nil {
		debug.LogElection("could not record pid in %s: %v", e.id.LockPath, err)
	}

	debug.LogElection("became leader for %s (lock %s)", e.id.Root, e.id.LockPath)
	return &LeaderGuard{file: f, lockPath: e.id.LockPath, socketPath: e.id.SocketPath}, nil
}

// Resolve attempts leadership once. A held lock yields RoleClient and a nil
// guard; any other failure is returned.
func (e *Election) Resolve(ctx context.Context) (*LeaderGuard, Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, RoleClient, err
	}
	guard, err := e.TryBecomeLeader()
	switch {
	case err == nil:
		return guard, RoleLeader, nil
	case errors.Is(err, ErrLockHeld):
		return nil, RoleClient, nil
	default:
		return nil, RoleClient, err
	}
}

// LeaderExists reports whether the socket file exists. A crashed leader
// leaves its socket behind, so this is only a hint; use ProbeLeader to know.
func (e *Election) LeaderExists() bool {
	_, err := os.Stat(e.id.SocketPath)
	return err == nil
}

// ProbeLeader dials the socket and reports whether a listener accepted.
func (e *Election) ProbeLeader(ctx context.Context, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "unix", e.id.SocketPath)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// HolderPID returns the PID recorded by the current or last leader, or 0.
func (e *Election) HolderPID() int {
	data, err := os.ReadFile(e.id.LockPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}
