package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/semidx/internal/config"
	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/election"
	"github.com/standardbeagle/semidx/internal/embedding"
	"github.com/standardbeagle/semidx/internal/indexing"
	"github.com/standardbeagle/semidx/internal/metrics"
	"github.com/standardbeagle/semidx/internal/server"
)

// serverStartTimeout bounds how long a client waits for an autostarted
// leader to accept connections.
const serverStartTimeout = 15 * time.Second

func newElection(cfg *config.Config) (*election.Election, error) {
	return election.New(cfg.Project.Root,
		election.WithDir(cfg.Election.Dir),
		election.WithPrefix(cfg.Election.Prefix),
	)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// serveCommand runs the index server until a signal or a shutdown request.
// A second serve for the same workspace reports the running leader and exits.
func serveCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	el, err := newElection(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	guard, role, err := el.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("leader election failed: %w", err)
	}
	if role == election.RoleClient {
		fmt.Fprintf(c.App.Writer, "Index server already running for %s (pid %d)\n", cfg.Project.Root, el.HolderPID())
		return nil
	}

	return runLeader(ctx, cfg, guard, c.App.Writer)
}

// runLeader owns the workspace while ctx lives: it serves RPC on the guard's
// socket, builds the index in the background and, once the build is done,
// watches the tree for changes. It returns after a graceful shutdown and
// releases the guard.
func runLeader(ctx context.Context, cfg *config.Config, guard *election.LeaderGuard, out io.Writer) error {
	defer guard.Release()

	m := metrics.New()
	ic := indexing.NewIndexContext(cfg, embedding.NewLoader(cfg.EmbeddingConfig()), indexing.WithMetrics(m))
	defer ic.Close()

	service := server.NewQueryService(ic, server.DefaultsFromConfig(cfg), m)
	srv := server.NewIndexServer(service, guard.SocketPath(),
		server.WithRequestTimeout(seconds(cfg.Server.RequestTimeoutSec)),
		server.WithServerMetrics(m),
	)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	fmt.Fprintf(out, "Index server started\n")
	fmt.Fprintf(out, "Socket: %s\n", guard.SocketPath())
	fmt.Fprintf(out, "Root: %s\n", cfg.Project.Root)

	buildCtx, cancelBuild := context.WithCancel(ctx)
	defer cancelBuild()

	var (
		wg      sync.WaitGroup
		watcher *indexing.FileWatcher
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := ic.Build(buildCtx, cfg.WorkerCount())
		if err != nil {
			if buildCtx.Err() == nil {
				log.Printf("Index build failed: %v", err)
			}
			return
		}
		if result.Failed > 0 {
			log.Printf("Indexed %d files with %d failures: %v", result.Files, result.Failed, result.Errors)
		}
		debug.LogIndexing("indexed %d files (%d chunks) in %v", result.Files, result.Chunks, result.Duration)

		if !cfg.Index.WatchMode || buildCtx.Err() != nil {
			return
		}
		w, err := startWatcher(ic, cfg)
		if err != nil {
			log.Printf("Warning: file watching disabled: %v", err)
			return
		}
		watcher = w
	}()

	select {
	case <-ctx.Done():
		debug.LogRPC("leader context done: %v", context.Cause(ctx))
	case <-srv.Done():
		debug.LogRPC("shutdown requested over RPC")
	}

	cancelBuild()
	wg.Wait()
	if watcher != nil {
		_ = watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), seconds(cfg.Server.ShutdownTimeoutSec))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	fmt.Fprintln(out, "Server shut down cleanly")
	return nil
}

func startWatcher(ic *indexing.IndexContext, cfg *config.Config) (*indexing.FileWatcher, error) {
	w, err := indexing.NewFileWatcher(ic, time.Duration(cfg.Index.WatchDebounceMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return nil, err
	}
	return w, nil
}

// serveArgs rebuilds the global flags a background server needs so it
// indexes the same workspace with the same settings.
func serveArgs(c *cli.Context, cfg *config.Config) []string {
	args := []string{"--root", cfg.Project.Root}
	if path := c.String("config"); path != "" {
		args = append(args, "--config", path)
	}
	for _, p := range c.StringSlice("include") {
		args = append(args, "--include", p)
	}
	for _, p := range c.StringSlice("exclude") {
		args = append(args, "--exclude", p)
	}
	if v := c.String("embedder"); v != "" {
		args = append(args, "--embedder", v)
	}
	if v := c.String("model"); v != "" {
		args = append(args, "--model", v)
	}
	return append(args, "serve")
}

// connectClient returns a client for the workspace leader. When no leader
// answers, one is started in the background unless --no-autostart is set.
// With --wait it also blocks until the index is ready.
func connectClient(c *cli.Context, cfg *config.Config) (*server.Client, error) {
	el, err := newElection(cfg)
	if err != nil {
		return nil, err
	}
	socketPath := el.Identity().SocketPath
	client := server.NewClient(socketPath, seconds(cfg.Server.RequestTimeoutSec))
	probeTimeout := time.Duration(cfg.Election.ProbeTimeoutMs) * time.Millisecond

	if !el.ProbeLeader(c.Context, probeTimeout) {
		if c.Bool("no-autostart") {
			return nil, fmt.Errorf("no index server running for %s (start one with 'semidx serve')", cfg.Project.Root)
		}
		if err := startBackgroundServer(c, cfg); err != nil {
			return nil, err
		}
		if err := waitForLeader(c.Context, el, probeTimeout); err != nil {
			return nil, err
		}
		fmt.Fprintln(c.App.ErrWriter, "Index server ready")
	}

	if c.Bool("wait") {
		if err := client.WaitForReady(c.Context, seconds(cfg.Server.ReadyTimeoutSec)); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// startBackgroundServer launches "semidx serve" detached from this process.
func startBackgroundServer(c *cli.Context, cfg *config.Config) error {
	fmt.Fprintln(c.App.ErrWriter, "Index server not running, starting in background...")

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(executable, serveArgs(c, cfg)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to detach server process: %w", err)
	}
	return nil
}

func waitForLeader(ctx context.Context, el *election.Election, probeTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, serverStartTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if el.ProbeLeader(ctx, probeTimeout) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("index server did not start within %v", serverStartTimeout)
		case <-ticker.C:
		}
	}
}

// shutdownCommand sends a shutdown request to the running server
func shutdownCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	el, err := newElection(cfg)
	if err != nil {
		return err
	}

	client := server.NewClient(el.Identity().SocketPath, seconds(cfg.Server.RequestTimeoutSec))
	defer client.Close()
	if !client.IsServerRunning(c.Context) {
		return fmt.Errorf("no server is running for root: %s", cfg.Project.Root)
	}

	fmt.Fprintf(c.App.Writer, "Shutting down server for root: %s\n", cfg.Project.Root)
	if err := client.Shutdown(c.Context, c.Bool("force")); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
