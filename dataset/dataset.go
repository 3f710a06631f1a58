// Package dataset defines evaluation dataset items and the source interface
// the engine consumes them through. Items are opaque field maps owned by the
// caller; the engine only requires a unique id per item.
package dataset

import (
	"fmt"
	"io"
	"sync"
)

// KeyID is the reserved field holding an item's unique identifier.
const KeyID = "id"

// KeyExecutionPolicy is the reserved field holding an item-level execution
// policy override.
const KeyExecutionPolicy = "execution_policy"

// Item is one labeled example: input fields plus optional expected output.
type Item map[string]any

// ID returns the item's unique identifier, or an empty string when the item
// has none.
func (it Item) ID() string {
	switch v := it[KeyID].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Content returns the item's fields without reserved engine keys. The
// returned map is a copy; mutating it does not affect the item.
func (it Item) Content() map[string]any {
	content := make(map[string]any, len(it))
	for k, v := range it {
		if k == KeyExecutionPolicy {
			continue
		}
		content[k] = v
	}
	return content
}

// Source yields dataset items one at a time. Next returns io.EOF once the
// source is exhausted.
type Source interface {
	Next() (Item, error)
}

// SliceSource iterates over an in-memory slice of items.
type SliceSource struct {
	mu    sync.Mutex
	items []Item
	pos   int
}

// NewSliceSource wraps items in a Source.
func NewSliceSource(items []Item) *SliceSource {
	return &SliceSource{items: items}
}

func (s *SliceSource) Next() (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

// Collect drains a source into a slice.
func Collect(src Source) ([]Item, error) {
	var items []Item
	for {
		item, err := src.Next()
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return items, fmt.Errorf("dataset source failed: %w", err)
		}
		items = append(items, item)
	}
}
