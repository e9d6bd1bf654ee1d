package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_NewRequestCancelsPrevious(t *testing.T) {
	tr := NewTracker()

	first, doneFirst := tr.Begin(context.Background(), "s1")
	second, doneSecond := tr.Begin(context.Background(), "s1")
	other, doneOther := tr.Begin(context.Background(), "s2")

	assert.Error(t, first.Err())
	assert.True(t, Superseded(first))
	assert.NoError(t, second.Err())
	assert.NoError(t, other.Err())

	// finishing the superseded request must not drop the newer one
	doneFirst()
	assert.Equal(t, 2, tr.Len())

	doneSecond()
	doneOther()
	assert.Equal(t, 0, tr.Len())
	assert.False(t, Superseded(second))
}

func TestTracker_EmptySessionIsUntracked(t *testing.T) {
	tr := NewTracker()
	a, doneA := tr.Begin(context.Background(), "")
	b, doneB := tr.Begin(context.Background(), "")
	defer doneB()

	assert.NoError(t, a.Err())
	assert.NoError(t, b.Err())
	assert.Equal(t, 0, tr.Len())
	doneA()
	assert.Error(t, a.Err())
	assert.False(t, Superseded(a))
}
