package values

import (
	"encoding/binary"
	"strings"

	"github.com/kai-lang/memory/heap"
)

const lengthSize = 4

// String is an immutable string stored in its block payload as a length followed by the bytes
type String struct {
	payload []byte
}

var _ heap.Object = &String{}

func NewString(h *heap.Heap, value string) (heap.Ref, *String, error) {
	var str *String
	ref, err := h.Construct(lengthSize+len(value), func(ref heap.Ref, payload []byte) (heap.Object, error) {
		putLength(payload, len(value))
		copy(payload[lengthSize:], value)
		str = &String{payload: payload[:lengthSize+len(value)]}
		return str, nil
	})
	if err != nil {
		return heap.Nil, nil, err
	}
	return ref, str, nil
}

func (s *String) Value() string {
	return string(s.payload[lengthSize : lengthSize+readLength(s.payload)])
}

func (s *String) Compare(other *String) int {
	return strings.Compare(s.Value(), other.Value())
}

func (s *String) Trace(visit func(heap.Ref)) {}

const integerSize = 8

// Integer is a mutable 64-bit signed integer
type Integer struct {
	payload []byte
}

var _ heap.Object = &Integer{}

func NewInteger(h *heap.Heap, value int64) (heap.Ref, *Integer, error) {
	var integer *Integer
	ref, err := h.Construct(integerSize, func(ref heap.Ref, payload []byte) (heap.Object, error) {
		integer = &Integer{payload: payload[:integerSize]}
		integer.Set(value)
		return integer, nil
	})
	if err != nil {
		return heap.Nil, nil, err
	}
	return ref, integer, nil
}

func (i *Integer) Value() int64 {
	return int64(binary.LittleEndian.Uint64(i.payload))
}

func (i *Integer) Set(value int64) {
	binary.LittleEndian.PutUint64(i.payload, uint64(value))
}

func (i *Integer) Compare(other *Integer) int {
	lhs, rhs := i.Value(), other.Value()
	switch {
	case lhs < rhs:
		return -1
	case lhs > rhs:
		return 1
	default:
		return 0
	}
}

func (i *Integer) Trace(visit func(heap.Ref)) {}
