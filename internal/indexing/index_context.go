// Package indexing owns the in-memory index: parsed files, their semantic
// chunks, build progress and the lazily loaded embedding model.
package indexing

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/standardbeagle/semidx/internal/config"
	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/embedding"
	"github.com/standardbeagle/semidx/internal/errors"
	"github.com/standardbeagle/semidx/internal/metrics"
	"github.com/standardbeagle/semidx/internal/parser"
	"github.com/standardbeagle/semidx/internal/types"
)

const opInvalidateFile = "invalidate_file"

// fileEntry is one tracked path. file is nil when reading or parsing failed;
// such entries count towards progress but are not listed or queried.
type fileEntry struct {
	file     *parser.ParsedFile
	chunks   []types.SemanticChunk
	size     int64
	embedded bool
	// settled is set once embedding was attempted or is not needed.
	settled bool
	err     error
}

func (e *fileEntry) close() {
	if e != nil {
		e.file.Close()
	}
}

// IndexContext is the shared index. All access to files and chunks goes
// through WithRead or WithWrite. sync.RWMutex blocks new readers once a
// writer is waiting, so a stream of queries cannot starve Refresh.
//
// Progress is derived from the tracked entries: a stored entry is parsed, a
// settled entry is embedded, and files_total adds the paths the build has
// discovered but not reached yet. A refresh racing the build therefore can
// never count a file twice or stand in for an unbuilt one.
type IndexContext struct {
	filter  *PathFilter
	loader  embedding.Loader
	metrics *metrics.Metrics

	mu         sync.RWMutex
	files      map[string]*fileEntry
	pending    map[string]struct{}
	settled    int
	totalKnown bool
	model      embedding.Embedder
	modelErr   error // sticky only for embedding.ErrDisabled
}

type Option func(*IndexContext)

// WithMetrics publishes progress and refreshes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ic *IndexContext) { ic.metrics = m }
}

// NewIndexContext creates an empty index for cfg.Project.Root. loader is
// called the first time an embedding is needed.
func NewIndexContext(cfg *config.Config, loader embedding.Loader, opts ...Option) *IndexContext {
	ic := &IndexContext{
		filter:  NewPathFilter(cfg),
		loader:  loader,
		files:   make(map[string]*fileEntry),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(ic)
	}
	return ic
}

func (ic *IndexContext) RootPath() string { return ic.filter.Root() }

// Filter exposes the path rules used for discovery and refresh.
func (ic *IndexContext) Filter() *PathFilter { return ic.filter }

// IsComplete reports whether every announced file has been parsed and
// embedded (successfully or not).
func (ic *IndexContext) IsComplete() bool {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.completeLocked()
}

func (ic *IndexContext) completeLocked() bool {
	total, parsed, embedded := ic.progressLocked()
	return ic.totalKnown && parsed >= total && embedded >= total
}

func (ic *IndexContext) progressLocked() (total, parsed, embedded int64) {
	parsed = int64(len(ic.files))
	return parsed + int64(len(ic.pending)), parsed, int64(ic.settled)
}

// CheckReady returns a not_ready error for op until the build completes.
func (ic *IndexContext) CheckReady(op string) error {
	if ic.IsComplete() {
		return nil
	}
	return errors.NotReady(op)
}

// WithRead runs fn under the shared lock.
func (ic *IndexContext) WithRead(fn func(v View) error) error {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return fn(View{ic: ic})
}

// WithWrite runs fn under the exclusive lock. Every change to the tracked
// files and the loaded model goes through here.
func (ic *IndexContext) WithWrite(fn func(m *Mutator) error) error {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return fn(&Mutator{View: View{ic: ic}})
}

// Status takes the read lock and snapshots progress.
func (ic *IndexContext) Status() types.IndexStatusInfo {
	var info types.IndexStatusInfo
	_ = ic.WithRead(func(v View) error {
		info = v.Status()
		return nil
	})
	return info
}

// EmbedText embeds a free-text query with the lazily loaded model. The model
// load, if needed, happens under the write lock; the embedding call itself
// runs with no lock held.
func (ic *IndexContext) EmbedText(ctx context.Context, op, text string) ([]float32, error) {
	model, err := ic.ensureModel(ctx)
	if err != nil {
		return nil, errors.Embedding(op, err)
	}
	vecs, err := model.Embed(ctx, []string{text})
	if err != nil {
		return nil, errors.Embedding(op, err)
	}
	if len(vecs) != 1 {
		return nil, errors.Embedding(op, fmt.Errorf("model returned %d vectors for 1 text", len(vecs)))
	}
	ic.metrics.RecordEmbeddings(model.ModelName(), 1)
	return vecs[0], nil
}

func (ic *IndexContext) ensureModel(ctx context.Context) (embedding.Embedder, error) {
	ic.mu.RLock()
	model := ic.model
	ic.mu.RUnlock()
	if model != nil {
		return model, nil
	}

	err := ic.WithWrite(func(m *Mutator) error {
		var err error
		model, err = m.loadModel(ctx)
		return err
	})
	return model, err
}

// parseFile reads and parses one file and extracts its chunks. It never
// touches the index.
func (ic *IndexContext) parseFile(rel string) *fileEntry {
	content, err := os.ReadFile(ic.filter.Abs(rel))
	if err != nil {
		return &fileEntry{err: errors.NewFileError("read", rel, err)}
	}
	if kind := binaryKind(content); kind != "" {
		return &fileEntry{size: int64(len(content)), err: errors.NewIndexingError("parse", rel, fmt.Errorf("binary %s content", kind))}
	}
	f, err := parser.Parse(rel, content)
	if err != nil {
		return &fileEntry{size: int64(len(content)), err: errors.NewIndexingError("parse", rel, err)}
	}
	return &fileEntry{file: f, chunks: parser.ExtractChunks(f), size: int64(len(content))}
}

// embedChunks returns a copy of chunks carrying embeddings. With embeddings
// disabled the chunks come back unchanged and no error.
func (ic *IndexContext) embedChunks(ctx context.Context, chunks []types.SemanticChunk) ([]types.SemanticChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}
	model, err := ic.ensureModel(ctx)
	if stderrors.Is(err, embedding.ErrDisabled) {
		return chunks, nil
	}
	if err != nil {
		return chunks, err
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	vecs, err := model.Embed(ctx, texts)
	if err != nil {
		return chunks, err
	}
	if len(vecs) != len(chunks) {
		return chunks, fmt.Errorf("model returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	ic.metrics.RecordEmbeddings(model.ModelName(), len(texts))

	out := make([]types.SemanticChunk, len(chunks))
	copy(out, chunks)
	for i := range out {
		out[i].Embedding = vecs[i]
	}
	return out, nil
}

// RefreshResult says what a refresh did to the index.
type RefreshResult string

const (
	RefreshUpdated RefreshResult = "updated"
	RefreshAdded   RefreshResult = "added"
	RefreshRemoved RefreshResult = "removed"
)

// Refresh re-reads, re-parses, re-chunks and re-embeds exactly one file and
// swaps the result in under the write lock. A tracked file that no longer
// exists is removed. A new indexable file is added and counted. Progress of
// other files is untouched.
//
// An embedding failure still swaps in the re-parsed chunks (without vectors)
// and is returned as an embedding error. A file that cannot be read or
// parsed is kept as a failed entry, the way the build keeps it, and is
// returned as an internal error.
func (ic *IndexContext) Refresh(ctx context.Context, path string) (RefreshResult, error) {
	rel, ok := ic.filter.Rel(path)
	if !ok {
		return "", errors.InvalidQuery(opInvalidateFile, fmt.Sprintf("%s is outside the project root %s", path, ic.RootPath()))
	}

	info, err := os.Stat(ic.filter.Abs(rel))
	if err != nil {
		if !os.IsNotExist(err) {
			return "", errors.Internal(opInvalidateFile, err)
		}
		if ic.remove(rel) {
			ic.afterRefresh(rel, RefreshRemoved)
			return RefreshRemoved, nil
		}
		return "", errors.FileNotFound(opInvalidateFile, rel, "")
	}
	if info.IsDir() || !ic.filter.Accept(rel, info.Size()) {
		return "", errors.InvalidQuery(opInvalidateFile, fmt.Sprintf("%s is not an indexable source file", rel))
	}

	entry := ic.parseFile(rel)
	var embedErr error
	if entry.err == nil {
		entry.chunks, embedErr = ic.embedChunks(ctx, entry.chunks)
		entry.embedded = embedErr == nil
	}
	entry.settled = true

	// A file that can no longer be read or parsed is replaced by a failed
	// entry so its old chunks and tree stop being served.
	var (
		old     *fileEntry
		existed bool
	)
	_ = ic.WithWrite(func(m *Mutator) error {
		old, existed = m.store(rel, entry)
		return nil
	})
	old.close()

	result := RefreshUpdated
	if !existed {
		result = RefreshAdded
	}
	if entry.err != nil {
		ic.afterRefresh(rel, "error")
		return result, errors.Internal(opInvalidateFile, entry.err)
	}
	ic.afterRefresh(rel, result)

	if embedErr != nil {
		return result, errors.Embedding(opInvalidateFile, embedErr)
	}
	return result, nil
}

// InvalidateFile is Refresh without the result detail.
func (ic *IndexContext) InvalidateFile(ctx context.Context, path string) error {
	_, err := ic.Refresh(ctx, path)
	return err
}

func (ic *IndexContext) afterRefresh(rel string, result RefreshResult) {
	debug.LogIndexing("refresh %s: %s", rel, result)
	if ic.metrics != nil {
		ic.metrics.RecordRefresh(string(result))
		ic.metrics.SetIndexStatus(ic.Status())
	}
}

// remove drops a tracked path and its progress. It reports whether the path
// was tracked.
func (ic *IndexContext) remove(rel string) bool {
	var (
		entry *fileEntry
		ok    bool
	)
	_ = ic.WithWrite(func(m *Mutator) error {
		entry, ok = m.remove(rel)
		return nil
	})
	entry.close()
	return ok
}

// Close releases every syntax tree. The index is unusable afterwards.
func (ic *IndexContext) Close() {
	_ = ic.WithWrite(func(m *Mutator) error {
		for rel := range m.ic.files {
			entry, _ := m.remove(rel)
			entry.close()
		}
		clear(m.ic.pending)
		return nil
	})
}

// Mutator is the write-side accessor handed to WithWrite. It keeps the
// tracked entries and progress consistent and must not be retained after the
// callback returns.
type Mutator struct {
	View
}

// announce records the paths a build is about to process. Paths already
// tracked, for example by an earlier refresh, are counted through their
// entries instead.
func (m *Mutator) announce(paths []string) {
	ic := m.ic
	for _, rel := range paths {
		if _, ok := ic.files[rel]; !ok {
			ic.pending[rel] = struct{}{}
		}
	}
	ic.totalKnown = true
}

// store tracks entry under rel and returns what it replaced.
func (m *Mutator) store(rel string, entry *fileEntry) (old *fileEntry, existed bool) {
	ic := m.ic
	old, existed = ic.files[rel]
	if existed && old.settled {
		ic.settled--
	}
	ic.files[rel] = entry
	if entry.settled {
		ic.settled++
	}
	delete(ic.pending, rel)
	return old, existed
}

// settle finishes the embedding phase of entry. It is a no-op when entry is
// no longer the tracked one.
func (m *Mutator) settle(rel string, entry *fileEntry, chunks []types.SemanticChunk, embedded bool) {
	ic := m.ic
	if ic.files[rel] != entry || entry.settled {
		return
	}
	entry.chunks = chunks
	entry.embedded = embedded
	entry.settled = true
	ic.settled++
}

// remove stops tracking rel, whether it was stored or only announced.
func (m *Mutator) remove(rel string) (*fileEntry, bool) {
	ic := m.ic
	delete(ic.pending, rel)
	entry, ok := ic.files[rel]
	if !ok {
		return nil, false
	}
	if entry.settled {
		ic.settled--
	}
	delete(ic.files, rel)
	return entry, true
}

func (m *Mutator) loadModel(ctx context.Context) (embedding.Embedder, error) {
	ic := m.ic
	if ic.model != nil {
		return ic.model, nil
	}
	if ic.modelErr != nil {
		return nil, ic.modelErr
	}
	if ic.loader == nil {
		ic.modelErr = embedding.ErrDisabled
		return nil, ic.modelErr
	}

	debug.LogIndexing("loading embedding model")
	model, err := ic.loader(ctx)
	if err != nil {
		if stderrors.Is(err, embedding.ErrDisabled) {
			ic.modelErr = err
		}
		return nil, err
	}
	ic.model = model
	debug.LogIndexing("embedding model %s loaded (dim %d)", model.ModelName(), model.Dimension())
	return model, nil
}

// View is the lock-scoped accessor handed to WithRead. It must not be
// retained after the callback returns.
type View struct {
	ic *IndexContext
}

func (v View) RootPath() string { return v.ic.RootPath() }

// Resolve maps a caller path to the index key of a tracked, parsed file.
func (v View) Resolve(path string) (string, bool) {
	rel, ok := v.ic.filter.Rel(path)
	if !ok {
		return "", false
	}
	e, ok := v.ic.files[rel]
	return rel, ok && e.file != nil
}

// Files lists tracked, parsed files in sorted order.
func (v View) Files() []string {
	out := make([]string, 0, len(v.ic.files))
	for rel, e := range v.ic.files {
		if e.file != nil {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

// File returns the parsed file for an index key.
func (v View) File(rel string) (*parser.ParsedFile, bool) {
	e, ok := v.ic.files[rel]
	if !ok || e.file == nil {
		return nil, false
	}
	return e.file, true
}

// Chunks returns every chunk, files in sorted order and chunks in source
// order within a file. The slice is fresh; the chunk values share their
// embedding arrays with the index and must not be modified.
func (v View) Chunks() []types.SemanticChunk {
	files := v.Files()
	n := 0
	for _, rel := range files {
		n += len(v.ic.files[rel].chunks)
	}
	out := make([]types.SemanticChunk, 0, n)
	for _, rel := range files {
		out = append(out, v.ic.files[rel].chunks...)
	}
	return out
}

// Status snapshots progress, chunk counts and per-language totals.
func (v View) Status() types.IndexStatusInfo {
	ic := v.ic
	stats := metrics.NewCodebaseStats()
	for rel, e := range ic.files {
		if e.file == nil {
			continue
		}
		stats.Add(metrics.FileSummary{Path: rel, Language: string(e.file.Language), Size: e.size, Chunks: len(e.chunks)})
	}

	total, parsed, embedded := ic.progressLocked()
	info := types.IndexStatusInfo{
		RootPath:      ic.RootPath(),
		FilesTotal:    total,
		FilesParsed:   parsed,
		FilesEmbedded: embedded,
		IsReady:       ic.completeLocked(),
		ChunkCount:    int(stats.TotalChunks),
		ModelLoaded:   ic.model != nil,
		Languages:     stats.Languages(),
	}
	if ic.model != nil {
		info.ModelName = ic.model.ModelName()
	}
	return info
}
