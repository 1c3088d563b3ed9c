package values

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/kai-lang/memory/heap"
)

const (
	framePrevious = iota
	frameScope
	frameMessage
	frameFunction
	frameArguments
	frameFields
)

const (
	frameDepthOffset = frameFields * heap.RefSize
	frameSize        = frameDepthOffset + 4
)

// Frame is one activation record of a running program. Frames form a chain through their previous
// reference; identifiers are resolved against the scope of each frame in turn.
type Frame struct {
	payload []byte
	fields  refs
}

var _ heap.Object = &Frame{}

// NewFrame creates the outermost frame, evaluating in scope
func NewFrame(h *heap.Heap, scope heap.Ref) (heap.Ref, *Frame, error) {
	return constructFrame(h.Construct, func(frame *Frame) {
		frame.fields.set(frameScope, scope)
	})
}

// NewChildFrame creates a frame that evaluates message in scope, called from previous. It inherits the
// function and arguments of previous and is placed near it.
func NewChildFrame(h *heap.Heap, previous heap.Ref, scope heap.Ref, message heap.Ref) (heap.Ref, *Frame, error) {
	parent, err := As[*Frame](h, previous)
	if err != nil {
		return heap.Nil, nil, errors.Wrap(err, "previous frame")
	}

	construct := func(size int, build func(heap.Ref, []byte) (heap.Object, error)) (heap.Ref, error) {
		return h.ConstructNear(previous, size, build)
	}
	return constructFrame(construct, func(frame *Frame) {
		frame.fields.set(framePrevious, previous)
		frame.fields.set(frameScope, scope)
		frame.fields.set(frameMessage, message)
		frame.fields.set(frameFunction, parent.Function())
		frame.fields.set(frameArguments, parent.Arguments())
		frame.setDepth(parent.Depth() + 1)
	})
}

func constructFrame(
	construct func(size int, build func(heap.Ref, []byte) (heap.Object, error)) (heap.Ref, error),
	initialize func(frame *Frame),
) (heap.Ref, *Frame, error) {
	var frame *Frame
	ref, err := construct(frameSize, func(ref heap.Ref, payload []byte) (heap.Object, error) {
		frame = &Frame{
			payload: payload[:frameSize],
			fields:  refs(payload[:frameDepthOffset]),
		}
		initialize(frame)
		return frame, nil
	})
	if err != nil {
		return heap.Nil, nil, err
	}
	return ref, frame, nil
}

func (f *Frame) Previous() heap.Ref { return f.fields.get(framePrevious) }

func (f *Frame) Scope() heap.Ref { return f.fields.get(frameScope) }

func (f *Frame) Message() heap.Ref { return f.fields.get(frameMessage) }

func (f *Frame) Function() heap.Ref { return f.fields.get(frameFunction) }

func (f *Frame) Arguments() heap.Ref { return f.fields.get(frameArguments) }

func (f *Frame) SetFunction(function heap.Ref) { f.fields.set(frameFunction, function) }

func (f *Frame) SetArguments(arguments heap.Ref) { f.fields.set(frameArguments, arguments) }

// Depth is the number of frames between this one and the outermost frame
func (f *Frame) Depth() int {
	return int(binary.LittleEndian.Uint32(f.payload[frameDepthOffset:]))
}

func (f *Frame) setDepth(depth int) {
	binary.LittleEndian.PutUint32(f.payload[frameDepthOffset:], uint32(depth))
}

// Lookup resolves identifier against the scope of this frame, then against each previous frame
func (f *Frame) Lookup(h *heap.Heap, identifier heap.Ref) (heap.Ref, bool, error) {
	for frame := f; ; {
		if scope := frame.Scope(); !scope.IsNil() {
			table, err := As[*Table](h, scope)
			if err != nil {
				return heap.Nil, false, errors.Wrap(err, "frame scope")
			}

			value, ok, err := table.Lookup(h, identifier)
			if err != nil || ok {
				return value, ok, err
			}
		}

		previous := frame.Previous()
		if previous.IsNil() {
			return heap.Nil, false, nil
		}

		var err error
		frame, err = As[*Frame](h, previous)
		if err != nil {
			return heap.Nil, false, errors.Wrap(err, "previous frame")
		}
	}
}

// Update stores value under identifier in the scope of this frame
func (f *Frame) Update(h *heap.Heap, identifier, value heap.Ref) (heap.Ref, error) {
	table, err := As[*Table](h, f.Scope())
	if err != nil {
		return heap.Nil, errors.Wrap(err, "frame scope")
	}
	return table.Update(identifier, value), nil
}

func (f *Frame) Trace(visit func(heap.Ref)) {
	f.fields.trace(frameFields, visit)
}
