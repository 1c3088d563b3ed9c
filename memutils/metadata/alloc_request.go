package metadata

// AllocationRequestType is an enum that indicates how an allocation request was sourced.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestFirstFit indicates that the request was satisfied by the first free block
	// in free list order that was large enough
	AllocationRequestFirstFit AllocationRequestType = iota
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFirstFit: "FirstFit",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from SegmentMetadata.CreateAllocationRequest which indicates where
// the metadata intends to place a new block. It can be committed with SegmentMetadata.Alloc as long as the
// segment has not been modified in the meantime.
type AllocationRequest struct {
	// Offset is the offset of the free block that will become the new block
	Offset int
	// PreviousFree is the offset of the free block (or FRONT marker) whose free list link points at Offset
	PreviousFree int
	// Size is the size of the block that will be carved out, header included. The block that is
	// handed out may be larger if the remainder is too small to split.
	Size int
	// FreeBlockSize is the size of the free block at Offset when the request was created
	FreeBlockSize int
	// Type identifies the strategy that produced the request
	Type AllocationRequestType
}

// Suballocation describes one block in a segment, as reported by SegmentMetadata.VisitAllRegions
type Suballocation struct {
	Offset     int
	Size       int
	Flags      Flags
	Generation uint32
}
