package indexing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/semidx/internal/embedding"
)

func TestBinaryKind(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{"empty", nil, ""},
		{"go source", []byte(goSource), ""},
		{"utf8 text", []byte("// héllo wörld 日本語\nconst x = 1\n"), ""},
		{"form feed", []byte("int x;\f\nint y;\n"), ""},
		{"gzip", []byte{0x1F, 0x8B, 0x08, 0x00}, "gzip"},
		{"png", append([]byte{0x89, 'P', 'N', 'G'}, "\r\n"...), "png"},
		{"elf", append([]byte{0x7F, 'E', 'L', 'F'}, make([]byte, 60)...), "elf"},
		{"wasm", []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}, "wasm"},
		{"nul bytes", append([]byte("package x\n"), make([]byte, 20)...), "data"},
		// MPEG transport streams share the .ts extension with TypeScript.
		{"transport stream", bytes.Repeat([]byte{0x47, 0x40, 0x11, 0x10, 0x00, 0x42, 0xF0, 0x25}, 64), "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, binaryKind(tt.content))
		})
	}
}

func TestBuildSkipsBinaryContent(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pkg/math.go": goSource,
		"video.ts":    string(bytes.Repeat([]byte{0x47, 0x00, 0x11, 0x10}, 100)),
	})

	ic := newTestIndex(t, root, embedding.NewHashEmbedder(16))
	res, err := ic.Build(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 1, res.Failed)
	require.Error(t, res.Errors)
	assert.Contains(t, res.Errors.Error(), "binary data content")
	assert.True(t, ic.IsComplete(), "a skipped file still counts as processed")

	_, chunks := snapshot(t, ic)
	assert.Empty(t, chunkNames(chunks, "video.ts"))
	assert.Equal(t, []string{"Add", "Sub"}, chunkNames(chunks, "pkg/math.go"))
}
