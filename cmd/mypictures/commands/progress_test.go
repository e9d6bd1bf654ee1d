package commands

import (
	"errors"
	"testing"

	"mypictures/internal/indexer"
	"mypictures/internal/ws"

	"github.com/stretchr/testify/assert"
)

func TestProgressMessage(t *testing.T) {
	msg := progressMessage(indexer.Event{RunID: "r", Path: "/a.jpg", Action: indexer.NewFile, Done: 1, Total: 3})
	assert.Equal(t, ws.TypeProgress, msg.Type)
	assert.Equal(t, "new", msg.Action)
	assert.Empty(t, msg.Error)

	msg = progressMessage(indexer.Event{Path: "/b.jpg", Err: errors.New("decode: bad"), Done: 2, Total: 3})
	assert.Empty(t, msg.Action)
	assert.Equal(t, "decode: bad", msg.Error)
}

func TestIndexRoots(t *testing.T) {
	dir := t.TempDir()
	indexPaths = []string{dir}
	defer func() { indexPaths = nil }()

	roots, err := indexRoots(nil)
	assert.NoError(t, err)
	assert.Len(t, roots, 1)
}
