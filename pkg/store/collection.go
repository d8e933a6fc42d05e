package store

import (
	"slices"
	"sync"

	"finsync/pkg/record"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// InsertPosition controls where Upsert places records it has not seen before.
type InsertPosition int

const (
	// Prepend puts new records first, matching a newest-first listing.
	Prepend InsertPosition = iota
	// Append puts new records last.
	Append
)

// Listener is called with a copy of the collection after every change.
type Listener[T record.Identified] func(records []T)

// Collection is an ordered, id-keyed set of records held in memory.
// All operations are safe for concurrent use.
type Collection[T record.Identified] struct {
	mu        sync.RWMutex
	items     []T
	insert    InsertPosition
	listeners []Listener[T]
}

// New creates an empty collection.
func New[T record.Identified](insert InsertPosition) *Collection[T] {
	return &Collection[T]{insert: insert}
}

// List returns a copy of the records in their current order.
func (c *Collection[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

// Len returns the number of records.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the record with the given id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i := c.indexOf(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Upsert replaces the record with the same id in place or inserts it.
// Applying the same record twice leaves the collection unchanged.
func (c *Collection[T]) Upsert(rec T) {
	c.mu.Lock()
	if i := c.indexOf(rec.RecordID()); i >= 0 {
		if cmp.Equal(c.items[i], rec) {
			c.mu.Unlock()
			return
		}
		c.items[i] = rec
	} else if c.insert == Prepend {
		c.items = slices.Insert(c.items, 0, rec)
	} else {
		c.items = append(c.items, rec)
	}
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()

	notify(listeners, snapshot)
}

// Remove deletes the record with the given id.
// Returns false when no such record exists.
func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	i := c.indexOf(id)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	c.items = slices.Delete(c.items, i, i+1)
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()

	notify(listeners, snapshot)
	return true
}

// ReplaceAll swaps the whole collection for records.
// When records are structurally equal to the current contents nothing
// changes, listeners are not called and false is returned.
func (c *Collection[T]) ReplaceAll(records []T) bool {
	c.mu.Lock()
	if cmp.Equal(c.items, records, cmpopts.EquateEmpty()) {
		c.mu.Unlock()
		return false
	}
	c.items = slices.Clone(records)
	snapshot, listeners := c.snapshotLocked()
	c.mu.Unlock()

	notify(listeners, snapshot)
	return true
}

// Clear removes every record.
func (c *Collection[T]) Clear() {
	c.ReplaceAll(nil)
}

// OnChange registers a listener invoked after every change.
func (c *Collection[T]) OnChange(l Listener[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Collection[T]) indexOf(id string) int {
	return slices.IndexFunc(c.items, func(r T) bool { return r.RecordID() == id })
}

func (c *Collection[T]) snapshotLocked() ([]T, []Listener[T]) {
	if len(c.listeners) == 0 {
		return nil, nil
	}
	return slices.Clone(c.items), slices.Clone(c.listeners)
}

func notify[T record.Identified](listeners []Listener[T], snapshot []T) {
	for _, l := range listeners {
		l(snapshot)
	}
}
