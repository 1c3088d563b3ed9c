package metadata

import (
	"github.com/kai-lang/memory/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// SegmentMetadata manages the blocks of a single page segment. All block bookkeeping lives in-band in
// the segment memory: every offset between the FRONT marker and the BACK sentinel belongs to exactly
// one block header, and the headers form a singly linked list in address order.
//
// Offsets passed to the block accessors (BlockFlags, Next, Payload, etc.) must be the start of a
// block. The metadata does not check this outside of debug builds.
type SegmentMetadata interface {
	// Init lays out a fresh segment over data: a FRONT marker, a single free block and a BACK sentinel
	// that refers back to the segment by segmentID.
	Init(data []byte, segmentID int) error
	// Size retrieves the size in bytes of the segment memory
	Size() int
	// SegmentID returns the id written into the BACK sentinel
	SegmentID() int
	// BackOffset returns the offset of the BACK sentinel
	BackOffset() int
	// Includes returns true if offset lies between the FRONT marker and the BACK sentinel, inclusive
	Includes(offset int) bool
	// SegmentOf walks forward from the block at offset to the nearest BACK sentinel and returns the
	// segment id recorded there
	SegmentOf(offset int) (int, error)

	// Validate performs internal consistency checks over both the address-ordered list and the free
	// list. It visits every block and is therefore expensive.
	Validate() error
	// AllocationCount returns the number of USED blocks, not counting the segment sentinels
	AllocationCount() int
	// BlockCount returns the number of headers in the segment, sentinels and free blocks included
	BlockCount() int
	// FreeRegionsCount returns the number of blocks threaded into the free list
	FreeRegionsCount() int
	// SumFreeSize returns the number of bytes in free blocks, headers included
	SumFreeSize() int
	// MayHaveFreeBlock is a fast heuristic that returns false only if an allocation of payloadSize
	// bytes certainly cannot be satisfied by this segment
	MayHaveFreeBlock(payloadSize int) bool
	// IsEmpty returns true if there are no USED blocks other than the sentinels
	IsEmpty() bool

	// BlockFlags returns the flags word of the block at offset
	BlockFlags(offset int) Flags
	// SetBlockFlags sets the provided bits on the block at offset
	SetBlockFlags(offset int, flags Flags)
	// ClearBlockFlags clears the provided bits on the block at offset
	ClearBlockFlags(offset int, flags Flags)
	// Next returns the offset of the block following offset in address order, or 0 for the BACK sentinel
	Next(offset int) int
	// BlockSize returns the size of the block at offset, header included
	BlockSize(offset int) int
	// Generation returns the generation stamped onto the block at offset when it was handed out
	Generation(offset int) uint32
	// Payload returns the bytes of the block at offset that follow its header
	Payload(offset int) []byte
	// VisitAllRegions calls the callback once for each block in address order, sentinels included
	VisitAllRegions(handleBlock func(block Suballocation) error) error

	// CreateAllocationRequest finds a place for a block with payloadSize bytes of payload. It returns
	// false if there is no free block large enough.
	CreateAllocationRequest(payloadSize int) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest, splitting the free block if the remainder is large enough and
	// marking the block USED with the provided generation. It returns an error if the request is
	// no longer valid.
	Alloc(request AllocationRequest, generation uint32) error
	// Deallocate converts the address-contiguous run of USED blocks [start, end] into a single free
	// block and prepends it to the free list
	Deallocate(start, end int) error

	// AddDetailedStatistics sums this segment's statistics into stats
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this segment's statistics into stats
	AddStatistics(stats *memutils.Statistics)

	// Clear discards every block and lays the segment out as though Init had just been called
	Clear()
	// BlockJsonData populates a json object with summary information about this segment
	BlockJsonData(json *jwriter.ObjectState)
	// PrintDetailedMap populates a json object with every block and the free list of this segment
	PrintDetailedMap(json *jwriter.ObjectState)
}

// SegmentMetadataBase is a simple struct that provides a few shared utilities for SegmentMetadata
// implementations.
type SegmentMetadataBase struct {
	size      int
	segmentID int
}

// Init records the size and id of the segment
func (m *SegmentMetadataBase) Init(size int, segmentID int) {
	m.size = size
	m.segmentID = segmentID
}

// Size returns the size of the segment in bytes
func (m *SegmentMetadataBase) Size() int { return m.size }

// SegmentID returns the id of the segment
func (m *SegmentMetadataBase) SegmentID() int { return m.segmentID }

// BlockJsonData populates a json object with information about this segment
func (m *SegmentMetadataBase) BlockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("Segment").Int(m.segmentID)
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
