// Package values implements the runtime values of the language on top of the heap package. Every value
// keeps its scalar data and outgoing references in the payload of its heap block; the Go object attached
// to the block is a thin view over that payload which the collector traces.
package values

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/kai-lang/memory/heap"
)

// ErrWrongType is returned when a reference identifies a value of a different type than the one requested
var ErrWrongType = errors.New("value has the wrong type")

// As returns the value of type T attached to ref
func As[T heap.Object](h *heap.Heap, ref heap.Ref) (T, error) {
	var zero T

	object, ok := h.Object(ref)
	if !ok {
		return zero, errors.Wrapf(heap.ErrForeignReference, "%s has no value attached", ref)
	}

	value, ok := object.(T)
	if !ok {
		return zero, errors.Wrapf(ErrWrongType, "%s is %T, not %T", ref, object, zero)
	}
	return value, nil
}

// refs is a fixed run of references at the start of a payload
type refs []byte

func (r refs) get(index int) heap.Ref {
	return heap.ReadRef(r[index*heap.RefSize:])
}

func (r refs) set(index int, ref heap.Ref) {
	heap.PutRef(r[index*heap.RefSize:], ref)
}

func (r refs) trace(count int, visit func(heap.Ref)) {
	for index := 0; index < count; index++ {
		visit(r.get(index))
	}
}

func putLength(b []byte, length int) {
	binary.LittleEndian.PutUint32(b, uint32(length))
}

func readLength(b []byte) int {
	return int(binary.LittleEndian.Uint32(b))
}
