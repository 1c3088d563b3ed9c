package heap

import (
	"context"
	"fmt"

	"github.com/kai-lang/memory/memutils"
	"github.com/kai-lang/memory/memutils/metadata"
	"golang.org/x/exp/slog"
)

// CollectionStats describes the work done by a single collection
type CollectionStats struct {
	// Roots is the number of retained blocks the mark phase started from
	Roots int
	// Marked is the number of object blocks found reachable, roots included
	Marked int
	// Reclaimed is the number of object blocks returned to the free lists
	Reclaimed int
	// Finalized is the number of finalizers run by the sweep
	Finalized int
	// Deallocations is the number of free blocks produced by the sweep; each one covers a run of
	// adjacent reclaimed blocks
	Deallocations int
	// BytesFreed is the total size of the reclaimed blocks, headers included
	BytesFreed int
	// ForeignReferences is the number of references reported by Trace that did not identify a live
	// block and were ignored
	ForeignReferences int
}

type collector struct {
	heap  *Heap
	stats CollectionStats

	stack []Object
	visit func(Ref)
}

// Collect reclaims every block that is not reachable from a retained block, and returns the number of
// free blocks the sweep produced
func (h *Heap) Collect() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.collect()
}

// TryCollect collects only if no other goroutine is using the heap. The boolean return is false if the
// collection was skipped.
func (h *Heap) TryCollect() (int, bool) {
	if !h.mutex.TryLock() {
		return 0, false
	}
	defer h.mutex.Unlock()

	return h.collect(), true
}

// LastCollection returns the statistics of the most recent collection
func (h *Heap) LastCollection() CollectionStats {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.lastCollection
}

func (h *Heap) collect() int {
	if h.destroyed {
		return 0
	}

	c := &collector{heap: h}
	c.visit = c.traverse

	c.mark()
	c.sweep()

	h.collections++
	h.lastCollection = c.stats
	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Collect",
		slog.Int("Collection", h.collections),
		slog.Int("Roots", c.stats.Roots),
		slog.Int("Marked", c.stats.Marked),
		slog.Int("Reclaimed", c.stats.Reclaimed),
		slog.Int("Deallocations", c.stats.Deallocations),
		slog.Int("BytesFreed", c.stats.BytesFreed),
	)
	if c.stats.ForeignReferences > 0 {
		h.logger.LogAttrs(context.Background(), slog.LevelWarn, "collection ignored foreign references",
			slog.Int("Count", c.stats.ForeignReferences))
	}

	memutils.DebugValidate(validatable{h})
	return c.stats.Deallocations
}

// mark traces everything reachable from the root set. Sentinels are always live and are marked directly.
func (c *collector) mark() {
	for _, segment := range c.heap.segments {
		segment.metadata.SetBlockFlags(metadata.FrontOffset, metadata.FlagMarked)
		segment.metadata.SetBlockFlags(segment.metadata.BackOffset(), metadata.FlagMarked)
	}

	c.heap.roots.Each(func(ref Ref, count int) bool {
		c.stats.Roots++
		c.traverse(ref)
		return true
	})

	for len(c.stack) > 0 {
		last := len(c.stack) - 1
		object := c.stack[last]
		c.stack[last] = nil
		c.stack = c.stack[:last]

		object.Trace(c.visit)
	}
}

// traverse marks the block that ref identifies and queues its object to be traced
func (c *collector) traverse(ref Ref) {
	if ref.IsNil() {
		return
	}

	segment, block, err := c.heap.lookup(ref)
	if err != nil {
		c.stats.ForeignReferences++
		return
	}

	md := segment.metadata
	if md.BlockFlags(ref.Offset())&metadata.FlagMarked != 0 {
		return
	}
	md.SetBlockFlags(ref.Offset(), metadata.FlagMarked)
	c.stats.Marked++

	if block.object != nil {
		c.stack = append(c.stack, block.object)
	}
}

// sweep makes one pass over the blocks of every segment in address order. Marked blocks are unmarked and
// survive. Each maximal run of adjacent unmarked blocks is destroyed and deallocated as a whole.
func (c *collector) sweep() {
	for _, segment := range c.heap.segments {
		md := segment.metadata
		start, finish := -1, -1

		for offset := metadata.FrontOffset; ; {
			flags := md.BlockFlags(offset)
			// Deallocate rewrites headers, so the successor is read first
			next := md.Next(offset)

			if !flags.IsSentinel() && flags&(metadata.FlagUsed|metadata.FlagMarked) == metadata.FlagUsed {
				c.destroy(segment, offset, flags)
				if start < 0 {
					start = offset
				}
				finish = offset
				offset = next
				continue
			}

			md.ClearBlockFlags(offset, metadata.FlagMarked)
			if start >= 0 {
				c.deallocate(segment, start, finish)
				start = -1
			}

			if offset == md.BackOffset() {
				break
			}
			offset = next
		}
	}
}

func (c *collector) destroy(segment *pageSegment, offset int, flags metadata.Flags) {
	memutils.DebugAssert(flags&metadata.FlagPinned == 0, "sweep found an unmarked pinned block")

	block, ok := segment.live.Get(uint32(offset))
	if !ok {
		panic(fmt.Sprintf("unexpected missing live entry for the block at offset %d of segment %d", offset, segment.id))
	}

	if flags&metadata.FlagDeleted == 0 {
		if finalizer, isFinalizer := block.object.(Finalizer); isFinalizer {
			finalizer.Finalize()
			c.stats.Finalized++
		}
		segment.metadata.SetBlockFlags(offset, metadata.FlagDeleted)
	}
	block.object = nil
	segment.live.Delete(uint32(offset))

	c.stats.Reclaimed++
	c.stats.BytesFreed += segment.metadata.BlockSize(offset)
}

func (c *collector) deallocate(segment *pageSegment, start, finish int) {
	err := segment.metadata.Deallocate(start, finish)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when deallocating a dead run: %+v", err))
	}
	c.stats.Deallocations++
}

// validatable adapts a Heap that is already locked for memutils.DebugValidate
type validatable struct {
	heap *Heap
}

func (v validatable) Validate() error {
	return v.heap.validate()
}
