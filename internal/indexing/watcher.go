package indexing

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/semidx/internal/debug"
)

// FileWatcher keeps the index in step with the filesystem: changed paths are
// debounced and each one is refreshed individually.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	index     *IndexContext
	filter    *PathFilter
	debouncer *eventDebouncer
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	// Optional hook called after each debounced batch; used by tests and the
	// server's progress logging.
	onBatchEnd func(count int, duration time.Duration)

	eventsProcessed int64
	errorCount      int64
	lastEventTime   time.Time
	statsMu         sync.RWMutex
}

// FileEventType represents the type of file system event
type FileEventType int

const (
	FileEventCreate FileEventType = iota
	FileEventWrite
	FileEventRemove
	FileEventRename
)

func (t FileEventType) String() string {
	switch t {
	case FileEventCreate:
		return "create"
	case FileEventWrite:
		return "write"
	case FileEventRemove:
		return "remove"
	case FileEventRename:
		return "rename"
	}
	return "unknown"
}

// NewFileWatcher creates a watcher that refreshes ic. Nothing is watched
// until Start.
func NewFileWatcher(ic *IndexContext, debounce time.Duration) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FileWatcher{
		watcher:   watcher,
		index:     ic,
		filter:    ic.Filter(),
		debouncer: newEventDebouncer(debounce),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetBatchCallback registers fn to run after every debounced batch.
func (fw *FileWatcher) SetBatchCallback(fn func(count int, duration time.Duration)) {
	fw.onBatchEnd = fn
}

// Start watches every non-excluded directory under the root.
func (fw *FileWatcher) Start() error {
	root := fw.filter.Root()
	debug.LogWatch("starting file watcher for %s", root)

	if err := fw.addWatches(root); err != nil {
		return fmt.Errorf("failed to add watches starting from %s: %w", root, err)
	}

	fw.wg.Add(2)
	go fw.processEvents()
	go fw.debouncer.run(fw.ctx, &fw.wg, fw.flush)
	return nil
}

// Stop ends watching and waits for in-flight refreshes. Events still pending
// in the debouncer are dropped. Safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.cancel()
		err = fw.watcher.Close()
		fw.wg.Wait()
		debug.LogWatch("file watcher stopped")
	})
	return err
}

// addWatches recursively adds watches to all relevant directories
func (fw *FileWatcher) addWatches(root string) error {
	// Symlink cycles are cut by remembering resolved directories.
	visitedDirs := make(map[string]bool)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return filepath.SkipDir
		}
		if visitedDirs[realPath] {
			return filepath.SkipDir
		}
		visitedDirs[realPath] = true

		if rel, ok := fw.filter.Rel(path); ok && fw.filter.SkipDir(rel) {
			return filepath.SkipDir
		}

		if err := fw.watcher.Add(path); err != nil {
			log.Printf("Warning: failed to add watch for %s: %v", path, err)
		}
		return nil
	})
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.incrementStats(0, 1)
			log.Printf("File watcher error: %v", err)
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	rel, ok := fw.filter.Rel(path)
	if !ok {
		return
	}
	debug.LogWatch("event %v for %s", event.Op, rel)

	info, err := os.Stat(path)
	if err != nil {
		// Gone: either a file or a whole directory of tracked files.
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			for _, tracked := range fw.trackedUnder(rel) {
				fw.debouncer.addEvent(tracked, FileEventRemove)
			}
		}
		return
	}

	if info.IsDir() {
		if event.Has(fsnotify.Create) && !fw.filter.SkipDir(rel) {
			fw.watchNewDirectory(path)
		}
		return
	}

	if !fw.filter.Accept(rel, info.Size()) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		fw.debouncer.addEvent(rel, FileEventCreate)
	case event.Has(fsnotify.Write):
		fw.debouncer.addEvent(rel, FileEventWrite)
	case event.Has(fsnotify.Rename):
		fw.debouncer.addEvent(rel, FileEventRename)
	}
}

// watchNewDirectory watches a directory created after Start and queues the
// files that landed in it before the watch existed.
func (fw *FileWatcher) watchNewDirectory(dir string) {
	if err := fw.addWatches(dir); err != nil {
		log.Printf("Warning: failed to add watch for new directory %s: %v", dir, err)
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, ok := fw.filter.Rel(path)
		if !ok {
			return nil
		}
		if info, err := d.Info(); err == nil && fw.filter.Accept(rel, info.Size()) {
			fw.debouncer.addEvent(rel, FileEventCreate)
		}
		return nil
	})
}

// trackedUnder returns rel itself if tracked, or every tracked file below it.
func (fw *FileWatcher) trackedUnder(rel string) []string {
	var out []string
	_ = fw.index.WithRead(func(v View) error {
		prefix := rel + "/"
		for _, f := range v.Files() {
			if f == rel || strings.HasPrefix(f, prefix) {
				out = append(out, f)
			}
		}
		return nil
	})
	return out
}

// flush refreshes a batch: removals first to free trees, then changes, then
// creations.
func (fw *FileWatcher) flush(ctx context.Context, events map[string]FileEventType) {
	start := time.Now()
	debug.LogWatch("processing %d debounced file events", len(events))

	var creates, removes, changes []string
	for path, eventType := range events {
		switch eventType {
		case FileEventCreate:
			creates = append(creates, path)
		case FileEventRemove:
			removes = append(removes, path)
		case FileEventWrite, FileEventRename:
			changes = append(changes, path)
		}
	}

	for _, batch := range [][]string{removes, changes, creates} {
		sort.Strings(batch)
		for _, rel := range batch {
			if ctx.Err() != nil {
				return
			}
			if _, err := fw.index.Refresh(ctx, rel); err != nil {
				debug.LogWatch("refresh %s failed: %v", rel, err)
				fw.incrementStats(1, 1)
				continue
			}
			fw.incrementStats(1, 0)
		}
	}

	if fw.onBatchEnd != nil {
		fw.onBatchEnd(len(events), time.Since(start))
	}
}

// eventDebouncer collects events until none has arrived for the debounce
// period, then hands the batch to flush on its own goroutine.
type eventDebouncer struct {
	events   map[string]FileEventType
	mutex    sync.Mutex
	debounce time.Duration
	kick     chan struct{}
}

func newEventDebouncer(debounce time.Duration) *eventDebouncer {
	return &eventDebouncer{
		events:   make(map[string]FileEventType),
		debounce: debounce,
		kick:     make(chan struct{}, 1),
	}
}

// addEvent records the latest event for path and restarts the quiet period.
func (d *eventDebouncer) addEvent(path string, eventType FileEventType) {
	d.mutex.Lock()
	d.events[path] = eventType
	d.mutex.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *eventDebouncer) take() map[string]FileEventType {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	events := d.events
	d.events = make(map[string]FileEventType)
	return events
}

func (d *eventDebouncer) run(ctx context.Context, wg *sync.WaitGroup, flush func(context.Context, map[string]FileEventType)) {
	defer wg.Done()

	timer := time.NewTimer(d.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
			timer.Reset(d.debounce)
		case <-timer.C:
			if events := d.take(); len(events) > 0 {
				flush(ctx, events)
			}
		}
	}
}

func (fw *FileWatcher) incrementStats(events int64, errors int64) {
	fw.statsMu.Lock()
	defer fw.statsMu.Unlock()

	fw.eventsProcessed += events
	fw.errorCount += errors
	fw.lastEventTime = time.Now()
}

// GetStats returns current watch mode statistics
func (fw *FileWatcher) GetStats() WatchStats {
	fw.statsMu.RLock()
	defer fw.statsMu.RUnlock()

	return WatchStats{
		EventsProcessed: fw.eventsProcessed,
		ErrorCount:      fw.errorCount,
		LastEventTime:   fw.lastEventTime,
		IsActive:        fw.ctx.Err() == nil,
	}
}

// WatchStats contains statistics about file watching operations
type WatchStats struct {
	EventsProcessed int64
	ErrorCount      int64
	LastEventTime   time.Time
	IsActive        bool
}
