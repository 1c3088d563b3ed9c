package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/kai-lang/memory/memutils/metadata"
	"github.com/kai-lang/memory/memutils/pages"
	"golang.org/x/exp/slog"
)

type liveBlock struct {
	generation uint32
	object     Object
}

// pageSegment is a single region mapped from the page source, along with the live block table that maps
// the offset of each allocated block to the object attached to it
type pageSegment struct {
	id     int
	memory []byte
	logger *slog.Logger

	metadata metadata.SegmentMetadata
	live     *swiss.Map[uint32, *liveBlock]
}

func (s *pageSegment) Init(logger *slog.Logger, id int, memory []byte) error {
	if s.memory != nil {
		panic("attempting to initialize a heap segment that is already in use")
	}

	md := metadata.NewFreeListMetadata()
	err := md.Init(memory, id)
	if err != nil {
		return err
	}

	s.id = id
	s.memory = memory
	s.logger = logger
	s.metadata = md
	s.live = swiss.NewMap[uint32, *liveBlock](64)
	return nil
}

func (s *pageSegment) Destroy(source pages.Source) error {
	if s.memory == nil {
		panic("attempting to destroy a heap segment, but it did not have any backing memory")
	}

	err := source.Unmap(s.memory)
	if err != nil {
		return errors.Wrapf(err, "failed to unmap segment %d", s.id)
	}

	s.memory = nil
	s.metadata = nil
	s.live = nil
	return nil
}

func (s *pageSegment) logUnreleasedMemory(offset int, count int) {
	s.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] retained object",
		slog.Int("segment", s.id),
		slog.Int("offset", offset),
		slog.Int("size", s.metadata.BlockSize(offset)),
		slog.Int("retains", count),
	)
}

// block returns the live block at offset if the generation matches
func (s *pageSegment) block(offset int, generation uint32) (*liveBlock, bool) {
	if offset == metadata.FrontOffset || !s.metadata.Includes(offset) {
		return nil, false
	}

	block, ok := s.live.Get(uint32(offset))
	if !ok || block.generation != generation {
		return nil, false
	}
	return block, true
}

func (s *pageSegment) Validate(roots *RootSet) error {
	if s.memory == nil {
		return errors.Newf("no valid memory for heap segment %d", s.id)
	}

	err := s.metadata.Validate()
	if err != nil {
		return errors.Wrapf(err, "segment %d", s.id)
	}

	if s.live.Count() != s.metadata.AllocationCount() {
		return errors.Newf("segment %d has %d live blocks but %d allocations", s.id, s.live.Count(), s.metadata.AllocationCount())
	}

	return s.metadata.VisitAllRegions(func(block metadata.Suballocation) error {
		if block.Flags&metadata.FlagMarked != 0 {
			return errors.Newf("block at offset %d of segment %d is still marked outside of a collection", block.Offset, s.id)
		}
		if block.Flags.IsFree() || block.Flags.IsSentinel() {
			return nil
		}

		live, ok := s.live.Get(uint32(block.Offset))
		if !ok {
			return errors.Newf("block at offset %d of segment %d is allocated but has no live entry", block.Offset, s.id)
		}
		if live.generation != block.Generation {
			return errors.Newf("block at offset %d of segment %d has generation %d, but its live entry has %d", block.Offset, s.id, block.Generation, live.generation)
		}

		deleted := block.Flags&metadata.FlagDeleted != 0
		if deleted && live.object != nil {
			return errors.Newf("deleted block at offset %d of segment %d still holds an object", block.Offset, s.id)
		}

		retains := roots.Count(newRef(s.id, block.Offset, block.Generation))
		pinned := block.Flags&metadata.FlagPinned != 0
		if pinned != (retains > 0) {
			return errors.Newf("block at offset %d of segment %d has flags %s but %d retains", block.Offset, s.id, block.Flags, retains)
		}

		return nil
	})
}
