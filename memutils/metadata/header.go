package metadata

import (
	"encoding/binary"
	"math"

	"github.com/kai-lang/memory/memutils"
)

// Flags is the flags word carried in every allocation header. The bits are independent.
type Flags uint32

const (
	// FlagFree is the implicit zero state of a block that is threaded into the free list
	FlagFree Flags = 0
	// FlagUsed indicates that the block has been handed out by the allocator
	FlagUsed Flags = 1 << 0
	// FlagMarked is set during the mark phase of a collection and cleared again by the sweep
	FlagMarked Flags = 1 << 2
	// FlagDeleted indicates that the block's destructor has run but its storage has not yet been
	// folded into the free list
	FlagDeleted Flags = 1 << 3
	// FlagPinned marks a collection root
	FlagPinned Flags = 1 << 4
	// FlagFront marks the header at the base of a segment
	FlagFront Flags = 1 << 5
	// FlagBack marks the boundary sentinel at the top of a segment
	FlagBack Flags = 1 << 6
)

var flagsMapping = memutils.NewFlagStringMapping[Flags]("Free")

func init() {
	flagsMapping.Register(FlagUsed, "Used")
	flagsMapping.Register(FlagMarked, "Marked")
	flagsMapping.Register(FlagDeleted, "Deleted")
	flagsMapping.Register(FlagPinned, "Pinned")
	flagsMapping.Register(FlagFront, "Front")
	flagsMapping.Register(FlagBack, "Back")
}

func (f Flags) String() string {
	return flagsMapping.FlagsToString(f)
}

// IsFree returns true if the USED bit is clear
func (f Flags) IsFree() bool {
	return f&FlagUsed == 0
}

// IsSentinel returns true for the FRONT and BACK markers of a segment
func (f Flags) IsSentinel() bool {
	return f&(FlagFront|FlagBack) != 0
}

const (
	// Alignment is the granularity of every block offset and size: the width of a pointer
	Alignment = 8

	// HeaderSize is the size of the header that prefixes every block: the offset of the next block
	// in address order, the flags word and the block's generation
	HeaderSize = 16
	// FreeHeaderSize is the size of the header of a free block, which additionally links the block
	// into the free list. It is also the smallest block that can ever exist.
	FreeHeaderSize = HeaderSize + 8
	// BoundarySize is the size of the BACK sentinel, which carries the id of its segment in place
	// of a free list link
	BoundarySize = HeaderSize + 8

	// FrontOffset is the offset of the FRONT marker. The FRONT marker holds the head of the free list.
	FrontOffset = 0

	// MinimumSplitSlop is the number of bytes, beyond a free header, that a remainder must have for a
	// block to be split when it is handed out
	MinimumSplitSlop = 32
	// MinimumFreeBlockSize is the smallest remainder that is split off into its own free block. Smaller
	// remainders are handed out along with the block.
	MinimumFreeBlockSize = FreeHeaderSize + MinimumSplitSlop
	// MinimumSegmentSize is the smallest region that can hold a FRONT marker, one minimal free block
	// and a BACK sentinel
	MinimumSegmentSize = FreeHeaderSize + MinimumFreeBlockSize + BoundarySize
)

const (
	nextFieldOffset       = 0
	flagsFieldOffset      = 8
	generationFieldOffset = 12
	linkFieldOffset       = 16
)

// MaximumPayloadSize is the largest payload whose block size can be computed without overflow
const MaximumPayloadSize = math.MaxInt - HeaderSize - Alignment

// BlockSizeForPayload returns the size of the block, header included, that the allocator carves out
// to satisfy a request for payloadSize bytes
//
// payloadSize must not exceed MaximumPayloadSize.
func BlockSizeForPayload(payloadSize int) int {
	memutils.DebugAssert(payloadSize <= MaximumPayloadSize, "payload size overflows the block size")
	size := memutils.AlignUp(payloadSize+HeaderSize, Alignment)
	if size < FreeHeaderSize {
		size = FreeHeaderSize
	}
	return size
}

// header is a view of a single block header within segment memory. All fields are little-endian.
type header struct {
	data   []byte
	offset int
}

func (h header) next() int {
	return int(binary.LittleEndian.Uint64(h.data[h.offset+nextFieldOffset:]))
}

func (h header) setNext(next int) {
	binary.LittleEndian.PutUint64(h.data[h.offset+nextFieldOffset:], uint64(next))
}

func (h header) flags() Flags {
	return Flags(binary.LittleEndian.Uint32(h.data[h.offset+flagsFieldOffset:]))
}

func (h header) setFlags(flags Flags) {
	binary.LittleEndian.PutUint32(h.data[h.offset+flagsFieldOffset:], uint32(flags))
}

func (h header) generation() uint32 {
	return binary.LittleEndian.Uint32(h.data[h.offset+generationFieldOffset:])
}

func (h header) setGeneration(generation uint32) {
	binary.LittleEndian.PutUint32(h.data[h.offset+generationFieldOffset:], generation)
}

// link is the next free block for free blocks and the FRONT marker, and the segment id for the
// BACK sentinel
func (h header) link() int {
	return int(binary.LittleEndian.Uint64(h.data[h.offset+linkFieldOffset:]))
}

func (h header) setLink(link int) {
	binary.LittleEndian.PutUint64(h.data[h.offset+linkFieldOffset:], uint64(link))
}

func (h header) write(next int, flags Flags, generation uint32) {
	h.setNext(next)
	h.setFlags(flags)
	h.setGeneration(generation)
}
