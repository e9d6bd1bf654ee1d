package indexer

import (
	"mypictures/internal/catalog"
	"mypictures/internal/models"
)

// Action is what the indexer does with one candidate file.
type Action int

const (
	// Unchanged: size and mtime match the catalog. Nothing is read.
	Unchanged Action = iota
	// MetadataOnly: stat changed but content hash matches. Only the
	// size/mtime bookkeeping is rewritten.
	MetadataOnly
	// Reprocess: content changed. Extract, embed and upsert again.
	Reprocess
	// NewFile: no catalog entry yet.
	NewFile
)

func (a Action) String() string {
	switch a {
	case Unchanged:
		return "unchanged"
	case MetadataOnly:
		return "metadata-only"
	case Reprocess:
		return "reprocess"
	case NewFile:
		return "new"
	}
	return "unknown"
}

// NeedsHash reports whether the cheap signals leave the decision open.
func NeedsHash(entry *catalog.Entry, st models.FileStat) bool {
	return entry == nil || !entry.SameStat(st)
}

// Decide is the full decision table. hash may be empty when NeedsHash
// returned false.
func Decide(entry *catalog.Entry, st models.FileStat, hash string) Action {
	switch {
	case entry == nil:
		return NewFile
	case entry.SameStat(st):
		return Unchanged
	case entry.Hash != "" && entry.Hash == hash:
		return MetadataOnly
	default:
		return Reprocess
	}
}
