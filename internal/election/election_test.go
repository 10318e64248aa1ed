package election

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// shortDir keeps socket paths under the sun_path limit.
func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sxe")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newElection(t *testing.T, root, dir string) *Election {
	t.Helper()
	e, err := New(root, WithDir(dir))
	require.NoError(t, err)
	return e
}

func TestIdentityIsDeterministic(t *testing.T) {
	dir := shortDir(t)
	root := t.TempDir()

	a := newElection(t, root, dir).Identity()
	b := newElection(t, root+string(filepath.Separator), dir).Identity()
	c := newElection(t, filepath.Join(root, "sub", ".."), dir).Identity()

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Len(t, a.Hash, HashLength)
	assert.Equal(t, filepath.Join(dir, "semidx-"+a.Hash+".lock"), a.LockPath)
	assert.Equal(t, filepath.Join(dir, "semidx-"+a.Hash+".sock"), a.SocketPath)
	assert.Equal(t, RootHash(root), a.Hash)
}

func TestIdentityRelativeRootResolves(t *testing.T) {
	dir := shortDir(t)
	wd, err := os.Getwd()
	require.NoError(t, err)

	rel := newElection(t, ".", dir).Identity()
	abs := newElection(t, wd, dir).Identity()
	assert.Equal(t, abs, rel)
}

func TestIdentityDistinctRoots(t *testing.T) {
	dir := shortDir(t)
	a := newElection(t, "/work/alpha", dir).Identity()
	b := newElection(t, "/work/beta", dir).Identity()

	assert.NotEqual(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.LockPath, b.LockPath)
	assert.NotEqual(t, a.SocketPath, b.SocketPath)
}

func TestWithPrefix(t *testing.T) {
	dir := shortDir(t)
	e, err := New("/work/alpha", WithDir(dir), WithPrefix("custom"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(e.Identity().LockPath), "custom-"))
}

func TestSecondAttemptSeesLockHeld(t *testing.T) {
	dir := shortDir(t)
	root := t.TempDir()

	guard, err := newElection(t, root, dir).TryBecomeLeader()
	require.NoError(t, err)
	defer guard.Release()

	_, err = newElection(t, root, dir).TryBecomeLeader()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockHeld))
	assert.False(t, errors.Is(err, ErrLockAcquisition))
}

func TestReleaseHandsOverLeadership(t *testing.T) {
	dir := shortDir(t)
	root := t.TempDir()
	e := newElection(t, root, dir)

	guard, err := e.TryBecomeLeader()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(guard.SocketPath(), nil, 0o600))

	require.NoError(t, guard.Release())
	assert.NoError(t, guard.Release(), "release is idempotent")

	_, err = os.Stat(guard.SocketPath())
	assert.True(t, os.IsNotExist(err), "socket removed on release")
	_, err = os.Stat(guard.LockPath())
	assert.NoError(t, err, "lock file stays in place")

	next, err := newElection(t, root, dir).TryBecomeLeader()
	require.NoError(t, err)
	require.NoError(t, next.Release())
}

func TestStaleSocketRemovedOnAcquire(t *testing.T) {
	dir := shortDir(t)
	e := newElection(t, t.TempDir(), dir)

	require.NoError(t, os.WriteFile(e.Identity().SocketPath, []byte("stale"), 0o600))
	assert.True(t, e.LeaderExists(), "socket presence is only a heuristic")
	assert.False(t, e.ProbeLeader(context.Background(), 100*time.Millisecond))

	guard, err := e.TryBecomeLeader()
	require.NoError(t, err)
	defer guard.Release()

	assert.False(t, e.LeaderExists())
}

func TestProbeLeaderLiveListener(t *testing.T) {
	dir := shortDir(t)
	e := newElection(t, t.TempDir(), dir)

	guard, err := e.TryBecomeLeader()
	require.NoError(t, err)
	defer guard.Release()

	ln, err := net.Listen("unix", guard.SocketPath())
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	assert.True(t, e.ProbeLeader(context.Background(), time.Second))
	require.NoError(t, ln.Close())
	<-done
}

func TestHolderPID(t *testing.T) {
	dir := shortDir(t)
	e := newElection(t, t.TempDir(), dir)
	assert.Equal(t, 0, e.HolderPID())

	guard, err := e.TryBecomeLeader()
	require.NoError(t, err)
	defer guard.Release()

	assert.Equal(t, os.Getpid(), e.HolderPID())
}

func TestResolveRoles(t *testing.T) {
	dir := shortDir(t)
	root := t.TempDir()
	ctx := context.Background()

	guard, role, err := newElection(t, root, dir).Resolve(ctx)
	require.NoError(t, err)
	require.NotNil(t, guard)
	assert.Equal(t, RoleLeader, role)
	defer guard.Release()

	other, role, err := newElection(t, root, dir).Resolve(ctx)
	require.NoError(t, err)
	assert.Nil(t, other)
	assert.Equal(t, RoleClient, role)
	assert.Equal(t, "client", role.String())
}

func TestLockFileCreationFailure(t *testing.T) {
	blocker := filepath.Join(shortDir(t), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	e := newElection(t, t.TempDir(), filepath.Join(blocker, "nested"))
	_, err := e.TryBecomeLeader()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockFileCreation))

	var ee *ElectionError
	require.True(t, errors.As(err, &ee))
	assert.NotNil(t, ee.Err)
}

func TestConcurrentCandidatesElectExactlyOne(t *testing.T) {
	dir := shortDir(t)
	root := t.TempDir()

	const candidates = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		held    atomic.Int32
		start   = make(chan struct{})
		guards  = make(chan *LeaderGuard, candidates)
	)
	for i := 0; i < candidates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := New(root, WithDir(dir))
			if err != nil {
				return
			}
			<-start
			guard, err := e.TryBecomeLeader()
			switch {
			case err == nil:
				winners.Add(1)
				guards <- guard
			case errors.Is(err, ErrLockHeld):
				held.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(guards)

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(candidates-1), held.Load())
	for g := range guards {
		require.NoError(t, g.Release())
	}
}
