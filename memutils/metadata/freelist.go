package metadata

import (
	"github.com/kai-lang/memory/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// FreeListMetadata is a first-fit allocator over a single segment. Free blocks are threaded into a LIFO
// free list whose head lives in the FRONT marker. Blocks are split when handed out if the remainder is
// at least MinimumFreeBlockSize, and contiguous runs of dead blocks are folded back into a single free
// block by Deallocate.
type FreeListMetadata struct {
	SegmentMetadataBase

	data       []byte
	backOffset int

	blockCount      int
	allocCount      int
	blocksFreeCount int
	blocksFreeSize  int
}

var _ SegmentMetadata = &FreeListMetadata{}

func NewFreeListMetadata() *FreeListMetadata {
	return &FreeListMetadata{}
}

func (m *FreeListMetadata) header(offset int) header {
	return header{data: m.data, offset: offset}
}

func (m *FreeListMetadata) Init(data []byte, segmentID int) error {
	if len(data) < MinimumSegmentSize {
		return errors.Errorf("segment of %d bytes is smaller than the minimum segment size %d", len(data), MinimumSegmentSize)
	}
	if segmentID < 0 {
		return errors.Errorf("invalid segment id: %d", segmentID)
	}

	m.SegmentMetadataBase.Init(len(data), segmentID)
	m.data = data
	m.backOffset = memutils.AlignDown(len(data)-BoundarySize, Alignment)
	m.layout()

	return nil
}

func (m *FreeListMetadata) layout() {
	firstFree := FreeHeaderSize

	front := m.header(FrontOffset)
	front.write(firstFree, FlagFront|FlagUsed|FlagPinned, 0)
	front.setLink(firstFree)

	free := m.header(firstFree)
	free.write(m.backOffset, FlagFree, 0)
	free.setLink(0)

	back := m.header(m.backOffset)
	back.write(0, FlagBack|FlagUsed|FlagPinned, 0)
	back.setLink(m.segmentID)

	m.blockCount = 3
	m.allocCount = 0
	m.blocksFreeCount = 1
	m.blocksFreeSize = m.backOffset - firstFree
}

func (m *FreeListMetadata) Clear() {
	m.layout()
}

func (m *FreeListMetadata) BackOffset() int { return m.backOffset }

func (m *FreeListMetadata) Includes(offset int) bool {
	return offset >= FrontOffset && offset <= m.backOffset
}

func (m *FreeListMetadata) SegmentOf(offset int) (int, error) {
	if !m.Includes(offset) {
		return -1, errors.Errorf("offset %d is outside of segment %d", offset, m.segmentID)
	}

	for {
		h := m.header(offset)
		if h.flags()&FlagBack != 0 {
			return h.link(), nil
		}

		next := h.next()
		if next <= offset || next > m.backOffset {
			return -1, errors.Errorf("block at offset %d links to offset %d before reaching a back sentinel", offset, next)
		}
		offset = next
	}
}

func (m *FreeListMetadata) AllocationCount() int { return m.allocCount }

func (m *FreeListMetadata) BlockCount() int { return m.blockCount }

func (m *FreeListMetadata) FreeRegionsCount() int { return m.blocksFreeCount }

func (m *FreeListMetadata) SumFreeSize() int { return m.blocksFreeSize }

func (m *FreeListMetadata) IsEmpty() bool { return m.allocCount == 0 }

func (m *FreeListMetadata) MayHaveFreeBlock(payloadSize int) bool {
	return m.blocksFreeCount > 0 && payloadSize <= MaximumPayloadSize &&
		BlockSizeForPayload(payloadSize) <= m.blocksFreeSize
}

func (m *FreeListMetadata) BlockFlags(offset int) Flags {
	memutils.DebugAssert(m.Includes(offset), "block offset is outside of the segment")
	return m.header(offset).flags()
}

func (m *FreeListMetadata) SetBlockFlags(offset int, flags Flags) {
	memutils.DebugAssert(m.Includes(offset), "block offset is outside of the segment")
	h := m.header(offset)
	h.setFlags(h.flags() | flags)
}

func (m *FreeListMetadata) ClearBlockFlags(offset int, flags Flags) {
	memutils.DebugAssert(m.Includes(offset), "block offset is outside of the segment")
	h := m.header(offset)
	h.setFlags(h.flags() &^ flags)
}

func (m *FreeListMetadata) Next(offset int) int {
	return m.header(offset).next()
}

func (m *FreeListMetadata) BlockSize(offset int) int {
	if offset == m.backOffset {
		return m.size - m.backOffset
	}
	return m.header(offset).next() - offset
}

func (m *FreeListMetadata) Generation(offset int) uint32 {
	return m.header(offset).generation()
}

func (m *FreeListMetadata) Payload(offset int) []byte {
	end := offset + m.BlockSize(offset)
	return m.data[offset+HeaderSize : end : end]
}

func (m *FreeListMetadata) VisitAllRegions(handleBlock func(block Suballocation) error) error {
	for offset := FrontOffset; ; {
		h := m.header(offset)
		err := handleBlock(Suballocation{
			Offset:     offset,
			Size:       m.BlockSize(offset),
			Flags:      h.flags(),
			Generation: h.generation(),
		})
		if err != nil {
			return err
		}

		if offset == m.backOffset {
			return nil
		}
		offset = h.next()
	}
}

func (m *FreeListMetadata) CreateAllocationRequest(payloadSize int) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if payloadSize < 1 {
		return false, allocRequest, errors.Errorf("invalid allocation size: %d", payloadSize)
	}
	if payloadSize > MaximumPayloadSize {
		return false, allocRequest, errors.Errorf("allocation size %d exceeds the maximum payload size %d", payloadSize, MaximumPayloadSize)
	}

	memutils.DebugValidate(m)

	size := BlockSizeForPayload(payloadSize)

	// Is the segment big enough?
	if size > m.blocksFreeSize {
		return false, allocRequest, nil
	}

	previous := FrontOffset
	for current := m.header(FrontOffset).link(); current != 0; current = m.header(current).link() {
		blockSize := m.BlockSize(current)
		if blockSize >= size {
			allocRequest.Offset = current
			allocRequest.PreviousFree = previous
			allocRequest.Size = size
			allocRequest.FreeBlockSize = blockSize
			allocRequest.Type = AllocationRequestFirstFit
			return true, allocRequest, nil
		}

		previous = current
	}

	return false, allocRequest, nil
}

func (m *FreeListMetadata) Alloc(request AllocationRequest, generation uint32) error {
	if request.Type != AllocationRequestFirstFit {
		return errors.New("allocation request was received by an incompatible metadata")
	}

	if !m.Includes(request.Offset) || !m.Includes(request.PreviousFree) {
		return errors.Errorf("allocation request at offset %d is outside of the segment", request.Offset)
	}

	previous := m.header(request.PreviousFree)
	if previous.link() != request.Offset {
		return errors.Errorf("allocation request at offset %d is no longer linked from offset %d in the free list", request.Offset, request.PreviousFree)
	}

	block := m.header(request.Offset)
	if block.flags() != FlagFree {
		return errors.Errorf("allocation request at offset %d refers to a block that is not free", request.Offset)
	}

	blockSize := m.BlockSize(request.Offset)
	if blockSize < request.Size {
		return errors.Errorf("allocation request needs %d bytes but the free block at offset %d only has %d", request.Size, request.Offset, blockSize)
	}

	nextFree := block.link()
	remainder := blockSize - request.Size
	if remainder >= MinimumFreeBlockSize {
		middleOffset := request.Offset + request.Size
		middle := m.header(middleOffset)
		middle.write(block.next(), FlagFree, 0)
		middle.setLink(nextFree)

		block.setNext(middleOffset)
		// The remainder takes the block's place in the free list
		previous.setLink(middleOffset)

		m.blockCount++
		m.blocksFreeSize -= request.Size
	} else {
		previous.setLink(nextFree)

		m.blocksFreeCount--
		m.blocksFreeSize -= blockSize
	}

	block.setFlags(FlagUsed)
	block.setGeneration(generation)
	m.allocCount++

	return nil
}

func (m *FreeListMetadata) Deallocate(start, end int) error {
	if start > end || !m.Includes(start) || !m.Includes(end) {
		return errors.Errorf("deallocation range [%d, %d] does not lie within segment %d", start, end, m.segmentID)
	}

	runBlocks := 0
	for offset := start; ; {
		flags := m.header(offset).flags()
		if flags.IsFree() || flags.IsSentinel() {
			return errors.Errorf("deallocation range [%d, %d] contains the block at offset %d, which is %s", start, end, offset, flags)
		}
		runBlocks++

		if offset == end {
			break
		}

		offset = m.header(offset).next()
		if offset == 0 || offset > end {
			return errors.Errorf("deallocation range [%d, %d] does not end on a block boundary", start, end)
		}
	}

	after := m.header(end).next()

	// Fold a trailing free block into the run so the segment doesn't accumulate adjacent free blocks
	if m.header(after).flags() == FlagFree {
		m.unlinkFree(after)
		m.blocksFreeCount--
		m.blocksFreeSize -= m.BlockSize(after)
		m.blockCount--
		after = m.header(after).next()
	}

	free := m.header(start)
	free.write(after, FlagFree, 0)

	front := m.header(FrontOffset)
	free.setLink(front.link())
	front.setLink(start)

	m.blockCount -= runBlocks - 1
	m.allocCount -= runBlocks
	m.blocksFreeCount++
	m.blocksFreeSize += after - start

	return nil
}

func (m *FreeListMetadata) unlinkFree(offset int) {
	previous := m.header(FrontOffset)
	for current := previous.link(); current != 0; current = previous.link() {
		if current == offset {
			previous.setLink(m.header(current).link())
			return
		}
		previous = m.header(current)
	}

	panic("a free block was missing from the free list")
}

func (m *FreeListMetadata) Validate() error {
	if m.data == nil {
		return errors.New("segment metadata has not been initialized")
	}

	if m.SumFreeSize() > m.Size() {
		return errors.New("invalid metadata free size")
	}

	front := m.header(FrontOffset)
	if front.flags()&^FlagMarked != FlagFront|FlagUsed|FlagPinned {
		return errors.Errorf("front marker has flags %s", front.flags())
	}

	back := m.header(m.backOffset)
	if back.flags()&^FlagMarked != FlagBack|FlagUsed|FlagPinned {
		return errors.Errorf("back sentinel has flags %s", back.flags())
	}
	if back.next() != 0 {
		return errors.New("back sentinel must be the tail of its address-ordered list")
	}
	if back.link() != m.segmentID {
		return errors.Errorf("back sentinel refers to segment %d but belongs to segment %d", back.link(), m.segmentID)
	}

	// Check integrity of the address-ordered list
	blockStarts := make(map[int]struct{}, m.blockCount)
	var blockCount, allocCount, freeCount, freeSize int

	for offset := FrontOffset; offset != m.backOffset; {
		h := m.header(offset)
		next := h.next()
		if next <= offset || next > m.backOffset {
			return errors.Errorf("block at offset %d links to offset %d, which is not after it within the segment", offset, next)
		}
		if err := memutils.CheckAligned(next, Alignment, "block offset"); err != nil {
			return err
		}
		if offset != FrontOffset && next-offset < FreeHeaderSize {
			return errors.Errorf("block at offset %d is only %d bytes", offset, next-offset)
		}

		flags := h.flags()
		if offset != FrontOffset && flags.IsSentinel() {
			return errors.Errorf("block at offset %d is flagged %s but is not at a segment boundary", offset, flags)
		}

		if offset != FrontOffset {
			if flags == FlagFree {
				freeCount++
				freeSize += next - offset
			} else if flags&FlagUsed != 0 {
				allocCount++
			} else {
				return errors.Errorf("block at offset %d has flags %s without the used bit", offset, flags)
			}
		}

		blockStarts[offset] = struct{}{}
		blockCount++
		offset = next
	}
	blockCount++

	// Check integrity of the free list
	var freeListCount int
	for current := front.link(); current != 0; current = m.header(current).link() {
		if _, isBlock := blockStarts[current]; !isBlock {
			return errors.Errorf("free list entry at offset %d is not the start of a block", current)
		}
		if flags := m.header(current).flags(); flags != FlagFree {
			return errors.Errorf("block at offset %d is in the free list but has flags %s", current, flags)
		}

		freeListCount++
		if freeListCount > freeCount {
			return errors.Errorf("the free list has more entries than the %d free blocks in the segment", freeCount)
		}
	}

	if freeListCount != freeCount {
		return errors.Errorf("the number of free blocks in the address list and the number of blocks in the free list do not match! free list size: %d, address list free blocks: %d", freeListCount, freeCount)
	}

	if blockCount != m.blockCount {
		return errors.Errorf("the block count of the metadata is %d, but the address list has %d blocks", m.blockCount, blockCount)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the used blocks only added up to %d", m.allocCount, allocCount)
	}

	if freeCount != m.blocksFreeCount {
		return errors.Errorf("the free block count of the metadata is %d, but there were %d free blocks", m.blocksFreeCount, freeCount)
	}

	if freeSize != m.blocksFreeSize {
		return errors.Errorf("the free size of the metadata is %d, but the free blocks added up to %d", m.blocksFreeSize, freeSize)
	}

	return nil
}

func (m *FreeListMetadata) usedSize() int {
	return m.backOffset - FreeHeaderSize - m.blocksFreeSize
}

func (m *FreeListMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.SegmentCount++
	stats.ObjectCount += m.allocCount
	stats.SegmentBytes += m.size
	stats.ObjectBytes += m.usedSize()
}

func (m *FreeListMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.SegmentCount++
	stats.SegmentBytes += m.size

	_ = m.VisitAllRegions(func(block Suballocation) error {
		if block.Flags.IsSentinel() {
			return nil
		}

		if block.Flags.IsFree() {
			stats.AddFreeRange(block.Size)
		} else {
			stats.AddObject(block.Size)
		}
		return nil
	})
}

func (m *FreeListMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.SegmentMetadataBase.BlockJsonData(json, m.SumFreeSize(), m.AllocationCount(), m.FreeRegionsCount())
}

func (m *FreeListMetadata) PrintDetailedMap(json *jwriter.ObjectState) {
	m.BlockJsonData(json)

	blocks := json.Name("Blocks").Array()
	_ = m.VisitAllRegions(func(block Suballocation) error {
		obj := blocks.Object()
		defer obj.End()

		obj.Name("Offset").Int(block.Offset)
		obj.Name("Size").Int(block.Size)
		obj.Name("Flags").String(block.Flags.String())
		if !block.Flags.IsFree() && !block.Flags.IsSentinel() {
			obj.Name("Generation").Int(int(block.Generation))
		}
		return nil
	})
	blocks.End()

	freeList := json.Name("FreeList").Array()
	for current := m.header(FrontOffset).link(); current != 0; current = m.header(current).link() {
		freeList.Int(current)
	}
	freeList.End()
}
