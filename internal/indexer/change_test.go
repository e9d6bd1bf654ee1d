package indexer

import (
	"testing"
	"time"

	"mypictures/internal/catalog"
	"mypictures/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stored := &catalog.Entry{Size: 100, Mtime: t0, Hash: "abc"}
	legacy := &catalog.Entry{Size: 100, Mtime: t0}

	cases := []struct {
		name      string
		entry     *catalog.Entry
		st        models.FileStat
		hash      string
		needsHash bool
		want      Action
	}{
		{"new file", nil, models.FileStat{Size: 1, Mtime: t0}, "abc", true, NewFile},
		{"same stat", stored, models.FileStat{Size: 100, Mtime: t0}, "", false, Unchanged},
		{"same stat other zone", stored, models.FileStat{Size: 100, Mtime: t0.In(time.FixedZone("x", 3600))}, "", false, Unchanged},
		{"touched", stored, models.FileStat{Size: 100, Mtime: t0.Add(time.Hour)}, "abc", true, MetadataOnly},
		{"content change, mtime kept", stored, models.FileStat{Size: 101, Mtime: t0}, "def", true, Reprocess},
		{"content change", stored, models.FileStat{Size: 100, Mtime: t0.Add(time.Second)}, "def", true, Reprocess},
		{"no stored hash", legacy, models.FileStat{Size: 100, Mtime: t0.Add(time.Second)}, "", true, Reprocess},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.needsHash, NeedsHash(c.entry, c.st))
			assert.Equal(t, c.want, Decide(c.entry, c.st, c.hash))
		})
	}
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "metadata-only", MetadataOnly.String())
	assert.Equal(t, "unknown", Action(42).String())
}
