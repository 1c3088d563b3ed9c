package heap

import (
	"encoding/binary"
	"fmt"
)

// Ref identifies a block handed out by a Heap: the segment that holds it, the offset of its header within
// that segment, and the generation stamped on the block when it was allocated. A Ref whose block has been
// reclaimed (or reallocated under a new generation) is foreign to the heap from then on.
//
// The zero Ref is Nil: offset 0 of every segment is the FRONT marker, which is never handed out.
type Ref struct {
	segment    uint32
	offset     uint32
	generation uint32
}

// Nil is the reference that refers to nothing
var Nil Ref

// RefSize is the number of bytes PutRef writes and ReadRef consumes
const RefSize = 12

func newRef(segment, offset int, generation uint32) Ref {
	return Ref{segment: uint32(segment), offset: uint32(offset), generation: generation}
}

func (r Ref) IsNil() bool { return r.offset == 0 }

func (r Ref) Segment() int { return int(r.segment) }

func (r Ref) Offset() int { return int(r.offset) }

func (r Ref) Generation() uint32 { return r.generation }

func (r Ref) String() string {
	if r.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%d:%#x@%d", r.segment, r.offset, r.generation)
}

// PutRef encodes ref into the first RefSize bytes of b
func PutRef(b []byte, ref Ref) {
	_ = b[RefSize-1]
	binary.LittleEndian.PutUint32(b[0:], ref.segment)
	binary.LittleEndian.PutUint32(b[4:], ref.offset)
	binary.LittleEndian.PutUint32(b[8:], ref.generation)
}

// ReadRef decodes a Ref previously written with PutRef
func ReadRef(b []byte) Ref {
	_ = b[RefSize-1]
	return Ref{
		segment:    binary.LittleEndian.Uint32(b[0:]),
		offset:     binary.LittleEndian.Uint32(b[4:]),
		generation: binary.LittleEndian.Uint32(b[8:]),
	}
}

// Object is implemented by every value attached to a heap block. The collector calls Trace while marking
// to discover the references the object holds.
//
// Trace runs while the heap is locked: it must not call back into the Heap.
type Object interface {
	// Trace calls visit once for every reference held by the object. Nil references may be
	// passed and are ignored.
	Trace(visit func(Ref))
}

// Finalizer is implemented by objects that must release something when their block is reclaimed. Finalize
// is called at most once, either from Heap.Delete or from the sweep that reclaims the block. Like Trace, it
// runs while the heap is locked.
type Finalizer interface {
	Finalize()
}
