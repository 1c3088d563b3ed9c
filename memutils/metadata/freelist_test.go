package metadata_test

import (
	"math"
	"testing"

	"github.com/kai-lang/memory/memutils"
	"github.com/kai-lang/memory/memutils/metadata"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
)

const segmentSize = 4096

func newSegment(t *testing.T) *metadata.FreeListMetadata {
	md := metadata.NewFreeListMetadata()
	require.NoError(t, md.Init(make([]byte, segmentSize), 0))
	require.NoError(t, md.Validate())
	return md
}

func alloc(t *testing.T, md *metadata.FreeListMetadata, payloadSize int, generation uint32) int {
	success, req, err := md.CreateAllocationRequest(payloadSize)
	require.NoError(t, err)
	require.True(t, success)

	err = md.Alloc(req, generation)
	require.NoError(t, err)
	require.NoError(t, md.Validate())

	return req.Offset
}

func TestFreeListInit(t *testing.T) {
	md := newSegment(t)

	require.Equal(t, segmentSize, md.Size())
	require.Equal(t, segmentSize-metadata.BoundarySize, md.BackOffset())
	require.Equal(t, 3, md.BlockCount())
	require.Equal(t, 0, md.AllocationCount())
	require.Equal(t, 1, md.FreeRegionsCount())
	require.Equal(t, segmentSize-metadata.FreeHeaderSize-metadata.BoundarySize, md.SumFreeSize())
	require.True(t, md.IsEmpty())

	require.Equal(t, metadata.FlagFront|metadata.FlagUsed|metadata.FlagPinned, md.BlockFlags(metadata.FrontOffset))
	require.Equal(t, metadata.FlagBack|metadata.FlagUsed|metadata.FlagPinned, md.BlockFlags(md.BackOffset()))
	require.Equal(t, metadata.FlagFree, md.BlockFlags(metadata.FreeHeaderSize))
	require.Equal(t, 0, md.Next(md.BackOffset()))

	var stats memutils.DetailedStatistics
	stats.Clear()
	md.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			SegmentCount: 1,
			SegmentBytes: segmentSize,
			ObjectCount:  0,
			ObjectBytes:  0,
		},
		FreeRangeCount:   1,
		ObjectSizeMin:    math.MaxInt,
		ObjectSizeMax:    0,
		FreeRangeSizeMin: 4048,
		FreeRangeSizeMax: 4048,
	}, stats)
}

func TestFreeListInitTooSmall(t *testing.T) {
	md := metadata.NewFreeListMetadata()
	require.Error(t, md.Init(make([]byte, metadata.MinimumSegmentSize-1), 0))
	require.NoError(t, md.Init(make([]byte, metadata.MinimumSegmentSize), 0))
	require.NoError(t, md.Validate())
}

func TestFreeListBasicAlloc(t *testing.T) {
	md := newSegment(t)

	offset := alloc(t, md, 100, 7)
	require.Equal(t, metadata.FreeHeaderSize, offset)
	require.Equal(t, 120, md.BlockSize(offset))
	require.Len(t, md.Payload(offset), 104)
	require.Equal(t, uint32(7), md.Generation(offset))
	require.Equal(t, metadata.FlagUsed, md.BlockFlags(offset))

	require.Equal(t, 4, md.BlockCount())
	require.Equal(t, 1, md.AllocationCount())
	require.Equal(t, 1, md.FreeRegionsCount())
	require.Equal(t, 4048-120, md.SumFreeSize())

	var stats memutils.DetailedStatistics
	stats.Clear()
	md.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			SegmentCount: 1,
			SegmentBytes: segmentSize,
			ObjectCount:  1,
			ObjectBytes:  120,
		},
		FreeRangeCount:   1,
		ObjectSizeMin:    120,
		ObjectSizeMax:    120,
		FreeRangeSizeMin: 3928,
		FreeRangeSizeMax: 3928,
	}, stats)

	var simple memutils.Statistics
	md.AddStatistics(&simple)
	require.Equal(t, stats.Statistics, simple)
}

func TestFreeListPayloadAlignment(t *testing.T) {
	md := newSegment(t)

	offset := alloc(t, md, 1, 1)
	require.Equal(t, metadata.FreeHeaderSize, md.BlockSize(offset))

	offset = alloc(t, md, 9, 2)
	require.Equal(t, 32, md.BlockSize(offset))
	require.Zero(t, offset%metadata.Alignment)
}

func TestFreeListWholeBlockWhenRemainderSmall(t *testing.T) {
	md := newSegment(t)

	// Leave a remainder of exactly one byte less than the split threshold
	payload := md.SumFreeSize() - metadata.HeaderSize - (metadata.MinimumFreeBlockSize - metadata.Alignment)
	offset := alloc(t, md, payload, 1)

	require.Equal(t, 4048, md.BlockSize(offset))
	require.Equal(t, 0, md.FreeRegionsCount())
	require.Equal(t, 0, md.SumFreeSize())
	require.Equal(t, 3, md.BlockCount())

	success, _, err := md.CreateAllocationRequest(1)
	require.NoError(t, err)
	require.False(t, success)
	require.False(t, md.MayHaveFreeBlock(1))
}

func TestFreeListSplitAtThreshold(t *testing.T) {
	md := newSegment(t)

	payload := md.SumFreeSize() - metadata.HeaderSize - metadata.MinimumFreeBlockSize
	offset := alloc(t, md, payload, 1)

	require.Equal(t, 1, md.FreeRegionsCount())
	require.Equal(t, metadata.MinimumFreeBlockSize, md.SumFreeSize())
	require.Equal(t, md.BackOffset(), md.Next(md.Next(offset)))
}

func TestFreeListInvalidSize(t *testing.T) {
	md := newSegment(t)

	_, _, err := md.CreateAllocationRequest(0)
	require.Error(t, err)

	success, _, err := md.CreateAllocationRequest(segmentSize)
	require.NoError(t, err)
	require.False(t, success)
}

func TestFreeListOverflowingSize(t *testing.T) {
	md := newSegment(t)

	require.False(t, md.MayHaveFreeBlock(math.MaxInt-4))
	require.False(t, md.MayHaveFreeBlock(metadata.MaximumPayloadSize+1))

	_, _, err := md.CreateAllocationRequest(math.MaxInt - 4)
	require.Error(t, err)
	_, _, err = md.CreateAllocationRequest(metadata.MaximumPayloadSize + 1)
	require.Error(t, err)

	success, _, err := md.CreateAllocationRequest(metadata.MaximumPayloadSize)
	require.NoError(t, err)
	require.False(t, success)
	require.Equal(t, 3, md.BlockCount())

	require.Greater(t, metadata.BlockSizeForPayload(metadata.MaximumPayloadSize), metadata.MaximumPayloadSize)
}

func TestFreeListStaleRequest(t *testing.T) {
	md := newSegment(t)

	success, req, err := md.CreateAllocationRequest(64)
	require.NoError(t, err)
	require.True(t, success)

	require.NoError(t, md.Alloc(req, 1))
	require.Error(t, md.Alloc(req, 2))
	require.NoError(t, md.Validate())
}

func TestFreeListDeallocateAbsorbsTrailingFree(t *testing.T) {
	md := newSegment(t)

	offset := alloc(t, md, 100, 1)
	require.Equal(t, 4, md.BlockCount())

	require.NoError(t, md.Deallocate(offset, offset))
	require.NoError(t, md.Validate())

	require.Equal(t, 3, md.BlockCount())
	require.Equal(t, 0, md.AllocationCount())
	require.Equal(t, 1, md.FreeRegionsCount())
	require.Equal(t, 4048, md.SumFreeSize())
	require.Equal(t, 4048, md.BlockSize(offset))
}

func TestFreeListDeallocateRunCoalesces(t *testing.T) {
	md := newSegment(t)

	var offsets []int
	for i := 0; i < 5; i++ {
		offsets = append(offsets, alloc(t, md, 100, uint32(i+1)))
	}
	guard := alloc(t, md, 100, 6)
	require.Equal(t, 9, md.BlockCount())

	require.NoError(t, md.Deallocate(offsets[0], offsets[3]))
	require.NoError(t, md.Validate())

	require.Equal(t, 6, md.BlockCount())
	require.Equal(t, 2, md.AllocationCount())
	require.Equal(t, 2, md.FreeRegionsCount())
	require.Equal(t, 4*120, md.BlockSize(offsets[0]))
	require.Equal(t, offsets[4], md.Next(offsets[0]))
	require.Equal(t, metadata.FlagUsed, md.BlockFlags(guard))

	// The combined block is at the head of the free list, so a request for all of it lands there
	offset := alloc(t, md, 4*120-metadata.HeaderSize, 7)
	require.Equal(t, offsets[0], offset)
	require.Equal(t, 1, md.FreeRegionsCount())
}

func TestFreeListFirstFitIsLIFO(t *testing.T) {
	md := newSegment(t)

	a := alloc(t, md, 100, 1)
	_ = alloc(t, md, 100, 2)
	c := alloc(t, md, 100, 3)
	_ = alloc(t, md, 100, 4)

	require.NoError(t, md.Deallocate(a, a))
	require.NoError(t, md.Deallocate(c, c))
	require.NoError(t, md.Validate())
	require.Equal(t, 3, md.FreeRegionsCount())

	success, req, err := md.CreateAllocationRequest(100)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, c, req.Offset)
	require.Equal(t, metadata.FrontOffset, req.PreviousFree)
	require.NoError(t, md.Alloc(req, 5))

	success, req, err = md.CreateAllocationRequest(100)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, a, req.Offset)
}

func TestFreeListDeallocateInvalidRanges(t *testing.T) {
	md := newSegment(t)

	a := alloc(t, md, 100, 1)
	b := alloc(t, md, 100, 2)

	require.Error(t, md.Deallocate(metadata.FrontOffset, a))
	require.Error(t, md.Deallocate(b, md.BackOffset()))
	require.Error(t, md.Deallocate(b, a))
	require.Error(t, md.Deallocate(a, b+8))
	require.Error(t, md.Deallocate(a, segmentSize*2))

	free := md.Next(b)
	require.Error(t, md.Deallocate(free, free))

	require.NoError(t, md.Validate())
	require.Equal(t, 2, md.AllocationCount())
}

func TestFreeListExhaustion(t *testing.T) {
	md := newSegment(t)

	count := 0
	for {
		success, req, err := md.CreateAllocationRequest(200)
		require.NoError(t, err)
		if !success {
			break
		}
		require.NoError(t, md.Alloc(req, uint32(count)))
		count++
	}

	require.NoError(t, md.Validate())
	require.Equal(t, count, md.AllocationCount())
	require.Equal(t, 18, count)
}

func TestFreeListFlags(t *testing.T) {
	md := newSegment(t)
	offset := alloc(t, md, 32, 1)

	md.SetBlockFlags(offset, metadata.FlagMarked|metadata.FlagPinned)
	require.Equal(t, metadata.FlagUsed|metadata.FlagMarked|metadata.FlagPinned, md.BlockFlags(offset))
	require.Equal(t, "Used|Marked|Pinned", md.BlockFlags(offset).String())

	md.ClearBlockFlags(offset, metadata.FlagMarked)
	require.Equal(t, metadata.FlagUsed|metadata.FlagPinned, md.BlockFlags(offset))
	require.NoError(t, md.Validate())
}

func TestFreeListValidateDetectsCorruption(t *testing.T) {
	data := make([]byte, segmentSize)
	md := metadata.NewFreeListMetadata()
	require.NoError(t, md.Init(data, 3))

	// Flag the free block as used behind the metadata's back
	md.SetBlockFlags(metadata.FreeHeaderSize, metadata.FlagUsed)
	require.Error(t, md.Validate())

	md.Clear()
	require.NoError(t, md.Validate())
	require.Equal(t, 3, md.SegmentID())
}

func TestFreeListPrintDetailedMap(t *testing.T) {
	md := newSegment(t)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	md.PrintDetailedMap(&obj)
	obj.End()
	require.NoError(t, writer.Error())

	require.JSONEq(t, `{
		"Segment": 0,
		"TotalBytes": 4096,
		"UnusedBytes": 4048,
		"Allocations": 0,
		"UnusedRanges": 1,
		"Blocks": [
			{"Offset": 0, "Size": 24, "Flags": "Used|Pinned|Front"},
			{"Offset": 24, "Size": 4048, "Flags": "Free"},
			{"Offset": 4072, "Size": 24, "Flags": "Used|Pinned|Back"}
		],
		"FreeList": [24]
	}`, string(writer.Bytes()))
}

func TestFreeListSegmentOf(t *testing.T) {
	md := metadata.NewFreeListMetadata()
	require.NoError(t, md.Init(make([]byte, segmentSize), 5))

	offset := alloc(t, md, 100, 1)

	id, err := md.SegmentOf(offset)
	require.NoError(t, err)
	require.Equal(t, 5, id)

	id, err = md.SegmentOf(metadata.FrontOffset)
	require.NoError(t, err)
	require.Equal(t, 5, id)

	id, err = md.SegmentOf(md.BackOffset())
	require.NoError(t, err)
	require.Equal(t, 5, id)

	_, err = md.SegmentOf(segmentSize)
	require.Error(t, err)
}
