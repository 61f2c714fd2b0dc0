package gcs

import (
	"math"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-transcription/internal/models/vo"
)

func TestSortChunksByIndexThenName(t *testing.T) {
	refs := []vo.ChunkRef{
		{Name: "s/c", Index: math.Inf(1)},
		{Name: "s/b", Index: 2},
		{Name: "s/a", Index: math.Inf(1)},
		{Name: "s/z", Index: 0},
		{Name: "s/y", Index: 2},
	}
	SortChunks(refs)

	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"s/z", "s/b", "s/y", "s/a", "s/c"}, names)
}

func TestParseChunkIndex(t *testing.T) {
	cases := map[string]float64{
		"":     math.Inf(1),
		"3":    3,
		" 10 ": 10,
		"1.5":  1.5,
		"abc":  math.Inf(1),
		"NaN":  math.Inf(1),
	}
	for raw, want := range cases {
		assert.Equal(t, want, parseChunkIndex(raw), "raw=%q", raw)
	}
}

func TestChunkFromAttrsSkipsPlaceholders(t *testing.T) {
	_, ok := chunkFromAttrs(&storage.ObjectAttrs{Name: "sessions/abc/", Generation: 1})
	assert.False(t, ok, "directory placeholder must be skipped")

	_, ok = chunkFromAttrs(&storage.ObjectAttrs{Name: "sessions/abc/0.m4a"})
	assert.False(t, ok, "object without generation must be skipped")

	ref, ok := chunkFromAttrs(&storage.ObjectAttrs{
		Name:        "sessions/abc/1.m4a",
		Generation:  42,
		ContentType: "audio/mp4",
		Size:        1024,
		Metadata:    map[string]string{ChunkIndexMetadataKey: "1"},
	})
	require.True(t, ok)
	assert.Equal(t, int64(42), ref.Generation)
	assert.Equal(t, float64(1), ref.Index)
	assert.True(t, ref.HasIndex())
}
