package dataset

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemID(t *testing.T) {
	assert.Equal(t, "item-1", Item{"id": "item-1"}.ID())
	assert.Equal(t, "42", Item{"id": 42}.ID())
	assert.Empty(t, Item{"question": "q"}.ID())
}

func TestItemContentStripsReservedPolicyKey(t *testing.T) {
	item := Item{
		"id":               "item-1",
		"question":         "what is 2+2?",
		"execution_policy": map[string]any{"runs_per_item": 3},
	}

	content := item.Content()
	assert.Equal(t, "item-1", content["id"])
	assert.Equal(t, "what is 2+2?", content["question"])
	assert.NotContains(t, content, KeyExecutionPolicy)

	content["question"] = "mutated"
	assert.Equal(t, "what is 2+2?", item["question"])
}

func TestSliceSourceDrainsInOrder(t *testing.T) {
	src := NewSliceSource([]Item{
		{"id": "a"},
		{"id": "b"},
	})

	first, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID())

	second, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID())

	_, err = src.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCollect(t *testing.T) {
	items, err := Collect(NewSliceSource([]Item{{"id": "a"}, {"id": "b"}, {"id": "c"}}))
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

type brokenSource struct{}

func (brokenSource) Next() (Item, error) { return nil, errors.New("disk gone") }

func TestCollectPropagatesSourceErrors(t *testing.T) {
	_, err := Collect(brokenSource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset source failed")
}
