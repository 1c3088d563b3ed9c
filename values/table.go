package values

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/kai-lang/memory/heap"
)

const tableSize = heap.RefSize

// Table maps symbols to values. A key that is missing from a table is looked up in its prototype, and so
// on up the prototype chain. The prototype reference is kept in the block payload; the bins live in a
// Go-side map.
type Table struct {
	prototype refs
	bins      *swiss.Map[heap.Ref, heap.Ref]
}

var _ heap.Object = &Table{}

// NewTable creates an empty table. size is a hint for the number of keys the table will hold.
func NewTable(h *heap.Heap, prototype heap.Ref, size int) (heap.Ref, *Table, error) {
	if size < 1 {
		size = 16
	}

	var table *Table
	ref, err := h.Construct(tableSize, func(ref heap.Ref, payload []byte) (heap.Object, error) {
		table = &Table{
			prototype: refs(payload[:tableSize]),
			bins:      swiss.NewMap[heap.Ref, heap.Ref](uint32(size)),
		}
		table.SetPrototype(prototype)
		return table, nil
	})
	if err != nil {
		return heap.Nil, nil, err
	}
	return ref, table, nil
}

func (t *Table) Prototype() heap.Ref { return t.prototype.get(0) }

func (t *Table) SetPrototype(prototype heap.Ref) { t.prototype.set(0, prototype) }

func (t *Table) Len() int { return t.bins.Count() }

// Find returns the value stored under key in this table only
func (t *Table) Find(key heap.Ref) (heap.Ref, bool) {
	return t.bins.Get(key)
}

// Update stores value under key and returns the value it replaced, or Nil
func (t *Table) Update(key, value heap.Ref) heap.Ref {
	previous, _ := t.bins.Get(key)
	t.bins.Put(key, value)
	return previous
}

// Remove deletes key and returns the value it held, or Nil
func (t *Table) Remove(key heap.Ref) heap.Ref {
	previous, ok := t.bins.Get(key)
	if !ok {
		return heap.Nil
	}
	t.bins.Delete(key)
	return previous
}

// Each calls visit for every key in this table until visit returns false
func (t *Table) Each(visit func(key, value heap.Ref) bool) {
	t.bins.Iter(func(key heap.Ref, value heap.Ref) bool {
		return !visit(key, value)
	})
}

// Lookup finds key in this table or the nearest prototype that has it
func (t *Table) Lookup(h *heap.Heap, key heap.Ref) (heap.Ref, bool, error) {
	seen := make(map[*Table]struct{})
	for table := t; ; {
		if value, ok := table.Find(key); ok {
			return value, true, nil
		}
		seen[table] = struct{}{}

		prototype := table.Prototype()
		if prototype.IsNil() {
			return heap.Nil, false, nil
		}

		next, err := As[*Table](h, prototype)
		if err != nil {
			return heap.Nil, false, errors.Wrap(err, "prototype")
		}
		if _, ok := seen[next]; ok {
			return heap.Nil, false, errors.Newf("prototype chain through %s is circular", prototype)
		}
		table = next
	}
}

func (t *Table) Trace(visit func(heap.Ref)) {
	visit(t.Prototype())
	t.bins.Iter(func(key heap.Ref, value heap.Ref) bool {
		visit(key)
		visit(value)
		return false
	})
}
