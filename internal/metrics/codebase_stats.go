package metrics

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/standardbeagle/semidx/internal/types"
)

// FileSummary is what the stats need to know about one indexed file.
type FileSummary struct {
	Path     string
	Language string
	Size     int64
	Chunks   int
}

// CodebaseStats aggregates the index by language.
type CodebaseStats struct {
	TotalFiles           int64
	TotalSizeBytes       int64
	TotalChunks          int64
	LanguageDistribution map[string]FileLanguageStats
}

// FileLanguageStats represents metrics for a specific language
type FileLanguageStats struct {
	FileCount      int64
	ChunkCount     int64
	TotalSizeBytes int64
	FileExtensions map[string]int64 // extension -> count
}

func NewCodebaseStats() *CodebaseStats {
	return &CodebaseStats{LanguageDistribution: make(map[string]FileLanguageStats)}
}

// Add accounts for one file.
func (cs *CodebaseStats) Add(f FileSummary) {
	cs.TotalFiles++
	cs.TotalSizeBytes += f.Size
	cs.TotalChunks += int64(f.Chunks)

	lang := f.Language
	if lang == "" {
		lang = "unknown"
	}
	stats, ok := cs.LanguageDistribution[lang]
	if !ok {
		stats.FileExtensions = make(map[string]int64)
	}
	stats.FileCount++
	stats.ChunkCount += int64(f.Chunks)
	stats.TotalSizeBytes += f.Size
	if ext := strings.ToLower(filepath.Ext(f.Path)); ext != "" {
		stats.FileExtensions[ext]++
	}
	cs.LanguageDistribution[lang] = stats
}

// Languages converts the distribution into the status payload form.
func (cs *CodebaseStats) Languages() map[string]types.LanguageStats {
	if len(cs.LanguageDistribution) == 0 {
		return nil
	}
	out := make(map[string]types.LanguageStats, len(cs.LanguageDistribution))
	for lang, s := range cs.LanguageDistribution {
		out[lang] = types.LanguageStats{
			Files:      int(s.FileCount),
			Chunks:     int(s.ChunkCount),
			TotalBytes: s.TotalSizeBytes,
		}
	}
	return out
}

// Summary renders a short human-readable breakdown, largest language first.
func (cs *CodebaseStats) Summary() string {
	langs := make([]string, 0, len(cs.LanguageDistribution))
	for lang := range cs.LanguageDistribution {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool {
		a, b := cs.LanguageDistribution[langs[i]], cs.LanguageDistribution[langs[j]]
		if a.FileCount != b.FileCount {
			return a.FileCount > b.FileCount
		}
		return langs[i] < langs[j]
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d files, %d chunks, %s", cs.TotalFiles, cs.TotalChunks, formatBytes(cs.TotalSizeBytes))
	for _, lang := range langs {
		s := cs.LanguageDistribution[lang]
		fmt.Fprintf(&sb, "\n  %-12s %6d files %7d chunks %10s", lang, s.FileCount, s.ChunkCount, formatBytes(s.TotalSizeBytes))
	}
	return sb.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
