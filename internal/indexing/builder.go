package indexing

import (
	"context"
	stderrors "errors"
	"io/fs"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/errors"
)

// BuildResult summarises one initial build.
type BuildResult struct {
	Files    int
	Chunks   int
	Failed   int
	Duration time.Duration
	// Errors holds the per-file failures; nil when there were none.
	Errors error
}

// Build discovers every indexable file, announces the total, then parses,
// chunks and embeds with at most workers files in flight.
//
// Files that cannot be read, parsed or embedded still count as processed so
// the index can become ready; their failures are collected in
// BuildResult.Errors. The returned error is reserved for discovery failures
// and cancellation.
func (ic *IndexContext) Build(ctx context.Context, workers int) (*BuildResult, error) {
	start := time.Now()
	if workers < 1 {
		workers = 1
	}

	paths, err := ic.filter.Discover(ctx)
	if err != nil {
		return nil, err
	}
	_ = ic.WithWrite(func(m *Mutator) error {
		m.announce(paths)
		return nil
	})
	debug.LogIndexing("discovered %d files under %s", len(paths), ic.RootPath())

	var (
		failMu   sync.Mutex
		failures []error
	)
	fail := func(err error) {
		failMu.Lock()
		failures = append(failures, err)
		failMu.Unlock()
		debug.LogIndexing("%v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := ic.buildFile(gctx, rel); err != nil {
				fail(err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &BuildResult{
		Files:    len(paths),
		Failed:   len(failures),
		Duration: time.Since(start),
		Errors:   errors.NewMultiError(failures).ErrorOrNil(),
	}
	status := ic.Status()
	result.Chunks = status.ChunkCount
	ic.metrics.SetIndexStatus(status)
	debug.LogIndexing("build finished: %d files, %d chunks, %d failures in %v", result.Files, result.Chunks, result.Failed, result.Duration)
	return result, nil
}

// buildFile stores the parsed file as soon as it is parsed, so listing and
// AST queries see it, then settles it with the embedded chunks if nothing
// replaced the entry in the meantime.
func (ic *IndexContext) buildFile(ctx context.Context, rel string) error {
	entry := ic.parseFile(rel)

	if stderrors.Is(entry.err, fs.ErrNotExist) {
		// Deleted since discovery: nothing is left to count.
		ic.remove(rel)
		return entry.err
	}
	entry.settled = entry.err != nil

	var old *fileEntry
	_ = ic.WithWrite(func(m *Mutator) error {
		old, _ = m.store(rel, entry)
		return nil
	})
	old.close()

	if entry.err != nil {
		return entry.err
	}

	chunks, err := ic.embedChunks(ctx, entry.chunks)
	_ = ic.WithWrite(func(m *Mutator) error {
		m.settle(rel, entry, chunks, err == nil)
		return nil
	})
	if err != nil {
		return errors.NewIndexingError("embed", rel, err)
	}
	return nil
}
