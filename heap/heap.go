// Package heap is a segmented, garbage-collected object heap. Segments are mapped from a pages.Source and
// carved into blocks by a first-fit free list; blocks hold the raw payload of an object while the Object
// attached to each block tells the collector which other blocks it references. Reachability is decided
// by a mark-and-sweep collection rooted in the blocks retained through Retain or Hold.
package heap

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/kai-lang/memory/internal/utils"
	"github.com/kai-lang/memory/memutils"
	"github.com/kai-lang/memory/memutils/metadata"
	"github.com/kai-lang/memory/memutils/pages"
	"golang.org/x/exp/slog"
)

// Heap owns a list of segments and the objects allocated into them. Unless it was created with
// HeapCreateExternallySynchronized, it is safe to use from multiple goroutines.
type Heap struct {
	mutex       utils.OptionalMutex
	logger      *slog.Logger
	source      pages.Source
	callbacks   *segmentCallbacks
	createFlags CreateFlags

	growthSegmentSize int
	segments          []*pageSegment
	roots             *RootSet

	nextGeneration uint32
	collections    int
	lastCollection CollectionStats
	destroyed      bool
}

// Allocate reserves a block with at least size bytes of zeroed payload and returns a reference to it. No object
// is attached to the block; until one is attached with Attach, the block holds no references. The new
// block is not retained, so it is reclaimed by the next collection unless it is retained or reachable
// from a retained object.
//
// Segments are searched in the order they were mapped. When none of them can satisfy the request a new
// segment is mapped; if that fails, the returned error matches ErrOutOfMemory.
func (h *Heap) Allocate(size int) (Ref, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.allocate(0, size)
}

// AllocateNear behaves like Allocate, but begins its search in the segment that holds near and wraps
// around to the earlier segments, so that objects which are used together tend to share a segment
func (h *Heap) AllocateNear(near Ref, size int) (Ref, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	owner, err := h.owner(near)
	if err != nil {
		return Nil, err
	}

	return h.allocate(owner, size)
}

// Attach associates object with the block identified by ref. A block can have only one object
// over its lifetime.
func (h *Heap) Attach(ref Ref, object Object) error {
	if object == nil {
		return errors.New("attempted to attach a nil object")
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	_, block, err := h.lookupUsable(ref)
	if err != nil {
		return err
	}

	if block.object != nil {
		return errors.Newf("an object is already attached to %s", ref)
	}
	block.object = object
	return nil
}

// Construct allocates a block with size bytes of payload and passes it to build, which returns the object
// to attach. If build fails, the block is left unattached and is reclaimed by the next collection.
//
// build runs while the heap is locked and must not call back into the Heap.
func (h *Heap) Construct(size int, build func(ref Ref, payload []byte) (Object, error)) (Ref, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ref, err := h.allocate(0, size)
	if err != nil {
		return Nil, err
	}

	return h.construct(ref, build)
}

// ConstructNear behaves like Construct, but allocates the way AllocateNear does
func (h *Heap) ConstructNear(near Ref, size int, build func(ref Ref, payload []byte) (Object, error)) (Ref, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	owner, err := h.owner(near)
	if err != nil {
		return Nil, err
	}

	ref, err := h.allocate(owner, size)
	if err != nil {
		return Nil, err
	}

	return h.construct(ref, build)
}

// owner returns the id of the segment holding near, as recorded in that segment's back sentinel
func (h *Heap) owner(near Ref) (int, error) {
	segment, _, err := h.lookup(near)
	if err != nil {
		return 0, err
	}

	owner, err := segment.metadata.SegmentOf(near.Offset())
	if err != nil {
		panic(fmt.Sprintf("unexpected error when locating the owner of a live block: %+v", err))
	}
	memutils.DebugAssert(owner == segment.id, "back sentinel does not hold the id of its segment")
	return owner, nil
}

func (h *Heap) construct(ref Ref, build func(ref Ref, payload []byte) (Object, error)) (Ref, error) {
	segment, block, err := h.lookup(ref)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when looking up a fresh allocation: %+v", err))
	}

	object, err := build(ref, segment.metadata.Payload(ref.Offset()))
	if err != nil {
		return Nil, err
	}
	if object == nil {
		return Nil, errors.Newf("construction of %s did not produce an object", ref)
	}

	block.object = object
	return ref, nil
}

// Payload returns the bytes of the block identified by ref that follow its header. The slice is at least
// as long as the size that was requested and remains valid until the block is reclaimed.
func (h *Heap) Payload(ref Ref) ([]byte, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	segment, _, err := h.lookupUsable(ref)
	if err != nil {
		return nil, err
	}

	return segment.metadata.Payload(ref.Offset()), nil
}

// Object returns the object attached to the block identified by ref, if there is one
func (h *Heap) Object(ref Ref) (Object, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	_, block, err := h.lookup(ref)
	if err != nil || block.object == nil {
		return nil, false
	}
	return block.object, true
}

// Includes returns true if ref falls within the bounds of one of this heap's segments. It does not check
// that ref identifies a live block.
func (h *Heap) Includes(ref Ref) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if ref.IsNil() || ref.Segment() >= len(h.segments) {
		return false
	}
	return h.segments[ref.Segment()].metadata.Includes(ref.Offset())
}

// Live returns true if ref identifies a block that has been allocated and not yet reclaimed
func (h *Heap) Live(ref Ref) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	_, _, err := h.lookup(ref)
	return err == nil
}

// Retain adds a root for ref. A retained block, and everything reachable from its object, survives every
// collection until it has been released as many times as it was retained.
func (h *Heap) Retain(ref Ref) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	segment, _, err := h.lookupUsable(ref)
	if err != nil {
		return err
	}

	if h.roots.Retain(ref) == 1 {
		segment.metadata.SetBlockFlags(ref.Offset(), metadata.FlagPinned)
	}
	return nil
}

// Release removes a root previously added with Retain. Releasing a reference more times than it was
// retained returns an error matching ErrNotRetained.
func (h *Heap) Release(ref Ref) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	segment, _, err := h.lookup(ref)
	if err != nil {
		return err
	}

	count, err := h.roots.Release(ref)
	if err != nil {
		return err
	}

	if count == 0 {
		segment.metadata.ClearBlockFlags(ref.Offset(), metadata.FlagPinned)
	}
	return nil
}

// ReferenceCount returns the number of outstanding retains of ref
func (h *Heap) ReferenceCount(ref Ref) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.roots.Count(ref)
}

// RootCount returns the number of distinct retained references
func (h *Heap) RootCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.roots.Len()
}

// Delete destroys the object attached to ref ahead of collection: its finalizer, if it has one, runs
// immediately and the object is detached. The block itself is flagged as deleted and stays allocated until
// a collection finds it unreachable. A retained object cannot be deleted.
func (h *Heap) Delete(ref Ref) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	segment, block, err := h.lookupUsable(ref)
	if err != nil {
		return err
	}

	if h.roots.Count(ref) > 0 {
		return errors.Newf("cannot delete %s while it is retained", ref)
	}

	if finalizer, ok := block.object.(Finalizer); ok {
		finalizer.Finalize()
	}
	block.object = nil
	segment.metadata.SetBlockFlags(ref.Offset(), metadata.FlagDeleted)
	return nil
}

// BlockCount returns the number of blocks, sentinels and free blocks included, across all segments
func (h *Heap) BlockCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var count int
	for _, segment := range h.segments {
		count += segment.metadata.BlockCount()
	}
	return count
}

// AllocationCount returns the number of blocks that are currently allocated, across all segments
func (h *Heap) AllocationCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var count int
	for _, segment := range h.segments {
		count += segment.metadata.AllocationCount()
	}
	return count
}

func (h *Heap) SegmentCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return len(h.segments)
}

// Validate checks the structure of every segment and confirms that the root set agrees with the flags
// stored in block headers
func (h *Heap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.validate()
}

func (h *Heap) validate() error {
	if h.destroyed {
		return ErrDestroyed
	}
	if len(h.segments) == 0 {
		return errors.New("heap has no segments")
	}

	for index, segment := range h.segments {
		if segment.id != index {
			return errors.Newf("segment at index %d has id %d", index, segment.id)
		}

		err := segment.Validate(h.roots)
		if err != nil {
			return err
		}
	}

	var rootErr error
	h.roots.Each(func(ref Ref, count int) bool {
		if _, _, err := h.lookup(ref); err != nil {
			rootErr = errors.Wrapf(err, "root with %d retains", count)
			return false
		}
		return true
	})
	return rootErr
}

// Destroy unmaps every segment. Any objects that remain are finalized first. If any references are still
// retained they are logged and an error is returned; the heap is left intact in that case.
// Once destroyed, the heap rejects further use with ErrDestroyed.
func (h *Heap) Destroy() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.destroyed {
		return ErrDestroyed
	}

	if h.roots.Len() > 0 {
		h.roots.Each(func(ref Ref, count int) bool {
			if segment, _, err := h.lookup(ref); err == nil {
				segment.logUnreleasedMemory(ref.Offset(), count)
			} else {
				h.logger.LogAttrs(context.Background(),
					slog.LevelError,
					"[UNRELEASED MEMORY] retained reference no longer identifies a live block",
					slog.String("ref", ref.String()),
					slog.Any("error", err))
			}
			return true
		})

		return errors.Newf("%d references were not released before the destruction of this heap", h.roots.Len())
	}

	var err error
	for _, segment := range h.segments {
		segment.live.Iter(func(offset uint32, block *liveBlock) bool {
			if finalizer, ok := block.object.(Finalizer); ok {
				finalizer.Finalize()
			}
			block.object = nil
			return false
		})

		size := segment.metadata.Size()
		destroyErr := segment.Destroy(h.source)
		if destroyErr != nil {
			err = errors.CombineErrors(err, destroyErr)
			continue
		}
		h.callbacks.Unmap(segment.id, size)
	}

	h.segments = nil
	h.destroyed = true
	return err
}

// allocate searches every segment for a fit, beginning with firstSegment and wrapping around, before
// mapping a new one
func (h *Heap) allocate(firstSegment int, size int) (Ref, error) {
	if h.destroyed {
		return Nil, ErrDestroyed
	}
	if size < 1 {
		return Nil, errors.Newf("invalid allocation size: %d", size)
	}
	if size > metadata.MaximumPayloadSize {
		return Nil, errors.Mark(errors.Newf("allocation size %d exceeds the maximum payload size", size), ErrOutOfMemory)
	}

	for i := 0; i < len(h.segments); i++ {
		index := (firstSegment + i) % len(h.segments)
		ref, success, err := h.allocateFromSegment(h.segments[index], size)
		if err != nil || success {
			return ref, err
		}
	}

	segment, err := h.grow(size)
	if err != nil {
		return Nil, err
	}

	ref, success, err := h.allocateFromSegment(segment, size)
	if err != nil {
		return Nil, err
	}
	if !success {
		panic(fmt.Sprintf("unexpected failure to allocate %d bytes from a fresh segment of %d bytes", size, segment.metadata.Size()))
	}
	return ref, nil
}

func (h *Heap) allocateFromSegment(segment *pageSegment, size int) (Ref, bool, error) {
	if !segment.metadata.MayHaveFreeBlock(size) {
		return Nil, false, nil
	}

	success, request, err := segment.metadata.CreateAllocationRequest(size)
	if err != nil || !success {
		return Nil, false, err
	}

	generation := h.takeGeneration()
	err = segment.metadata.Alloc(request, generation)
	if err != nil {
		return Nil, false, err
	}

	clear(segment.metadata.Payload(request.Offset))
	segment.live.Put(uint32(request.Offset), &liveBlock{generation: generation})
	return newRef(segment.id, request.Offset, generation), true, nil
}

func (h *Heap) takeGeneration() uint32 {
	generation := h.nextGeneration
	h.nextGeneration++
	if h.nextGeneration == 0 {
		h.nextGeneration = 1
	}
	return generation
}

// grow maps a new segment large enough to hold a payload of size bytes
func (h *Heap) grow(size int) (*pageSegment, error) {
	if int64(size) > maximumSegmentSize-segmentOverhead {
		return nil, errors.Mark(errors.Newf("allocation size %d does not fit in a segment of at most %d bytes", size, int64(maximumSegmentSize)), ErrOutOfMemory)
	}

	segmentSize := h.growthSegmentSize
	required := metadata.FreeHeaderSize + metadata.BlockSizeForPayload(size) + metadata.BoundarySize
	if required > segmentSize {
		var err error
		segmentSize, err = pages.RoundToPages(h.source, required)
		if err != nil {
			return nil, err
		}
		if int64(segmentSize) > maximumSegmentSize {
			return nil, errors.Mark(errors.Newf("a segment of %d bytes exceeds the maximum segment size %d", segmentSize, int64(maximumSegmentSize)), ErrOutOfMemory)
		}
	}

	return h.createSegment(segmentSize)
}

func (h *Heap) createSegment(size int) (*pageSegment, error) {
	memory, err := h.source.Map(size)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to map a segment of %d bytes", size), ErrOutOfMemory)
	}
	if len(memory) != size {
		_ = h.source.Unmap(memory)
		return nil, errors.Newf("page source mapped %d bytes when %d were requested", len(memory), size)
	}

	segment := &pageSegment{}
	id := len(h.segments)
	err = segment.Init(h.logger, id, memory)
	if err != nil {
		_ = h.source.Unmap(memory)
		return nil, err
	}

	h.segments = append(h.segments, segment)
	h.callbacks.Map(id, size)

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::createSegment",
		slog.Int("segment", id),
		slog.Int("size", size),
	)
	return segment, nil
}

// lookup resolves ref to its segment and live block. Anything that is not the start of a live block
// carrying the same generation is foreign.
func (h *Heap) lookup(ref Ref) (*pageSegment, *liveBlock, error) {
	if h.destroyed {
		return nil, nil, ErrDestroyed
	}
	if ref.IsNil() {
		return nil, nil, errors.Wrap(ErrForeignReference, "nil reference")
	}
	if ref.Segment() >= len(h.segments) {
		return nil, nil, errors.Wrapf(ErrForeignReference, "%s is outside of every segment", ref)
	}

	segment := h.segments[ref.Segment()]
	block, ok := segment.block(ref.Offset(), ref.Generation())
	if !ok {
		return nil, nil, errors.Wrapf(ErrForeignReference, "%s is not a live block", ref)
	}
	return segment, block, nil
}

// lookupUsable is lookup, but rejects blocks whose object was deleted
func (h *Heap) lookupUsable(ref Ref) (*pageSegment, *liveBlock, error) {
	segment, block, err := h.lookup(ref)
	if err != nil {
		return nil, nil, err
	}

	if segment.metadata.BlockFlags(ref.Offset())&metadata.FlagDeleted != 0 {
		return nil, nil, errors.Wrapf(ErrDeleted, "%s", ref)
	}
	return segment, block, nil
}
