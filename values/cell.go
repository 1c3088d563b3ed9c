package values

import (
	"github.com/cockroachdb/errors"
	"github.com/kai-lang/memory/heap"
)

const (
	cellHead = iota
	cellTail
	cellFields
)

const cellSize = cellFields * heap.RefSize

// Cell is a pair of references. Lists are chains of cells linked through their tails.
type Cell struct {
	fields refs
}

var _ heap.Object = &Cell{}

func NewCell(h *heap.Heap, head, tail heap.Ref) (heap.Ref, *Cell, error) {
	var cell *Cell
	ref, err := h.Construct(cellSize, func(ref heap.Ref, payload []byte) (heap.Object, error) {
		cell = newCell(payload, head, tail)
		return cell, nil
	})
	if err != nil {
		return heap.Nil, nil, err
	}
	return ref, cell, nil
}

// newCellNear places the cell in the same segment as near when there is room
func newCellNear(h *heap.Heap, near heap.Ref, head, tail heap.Ref) (heap.Ref, *Cell, error) {
	var cell *Cell
	ref, err := h.ConstructNear(near, cellSize, func(ref heap.Ref, payload []byte) (heap.Object, error) {
		cell = newCell(payload, head, tail)
		return cell, nil
	})
	if err != nil {
		return heap.Nil, nil, err
	}
	return ref, cell, nil
}

func newCell(payload []byte, head, tail heap.Ref) *Cell {
	cell := &Cell{fields: refs(payload[:cellSize])}
	cell.SetHead(head)
	cell.SetTail(tail)
	return cell
}

func (c *Cell) Head() heap.Ref { return c.fields.get(cellHead) }

func (c *Cell) Tail() heap.Ref { return c.fields.get(cellTail) }

func (c *Cell) SetHead(ref heap.Ref) { c.fields.set(cellHead, ref) }

func (c *Cell) SetTail(ref heap.Ref) { c.fields.set(cellTail, ref) }

func (c *Cell) Trace(visit func(heap.Ref)) {
	c.fields.trace(cellFields, visit)
}

// Append creates a new cell holding value and links it as the tail of c
func (c *Cell) Append(h *heap.Heap, value heap.Ref) (heap.Ref, *Cell, error) {
	ref, cell, err := NewCell(h, value, heap.Nil)
	if err != nil {
		return heap.Nil, nil, err
	}

	c.SetTail(ref)
	return ref, cell, nil
}

// List builds a proper list of items and returns its first cell. An empty list is Nil. Cells after the
// first are placed near their successor.
func List(h *heap.Heap, items ...heap.Ref) (heap.Ref, error) {
	list := heap.Nil
	for index := len(items) - 1; index >= 0; index-- {
		var err error
		if list.IsNil() {
			list, _, err = NewCell(h, items[index], heap.Nil)
		} else {
			list, _, err = newCellNear(h, list, items[index], list)
		}
		if err != nil {
			return heap.Nil, err
		}
	}
	return list, nil
}

// Count returns the number of cells in the chain starting at list
func Count(h *heap.Heap, list heap.Ref) (int, error) {
	items, err := Items(h, list)
	return len(items), err
}

// Items returns the heads of every cell in the chain starting at list. The chain must end in Nil.
func Items(h *heap.Heap, list heap.Ref) ([]heap.Ref, error) {
	var items []heap.Ref
	seen := make(map[heap.Ref]struct{})
	for current := list; !current.IsNil(); {
		if _, ok := seen[current]; ok {
			return nil, errors.Newf("list starting at %s is circular", list)
		}
		seen[current] = struct{}{}

		cell, err := As[*Cell](h, current)
		if err != nil {
			return nil, err
		}
		items = append(items, cell.Head())
		current = cell.Tail()
	}
	return items, nil
}
