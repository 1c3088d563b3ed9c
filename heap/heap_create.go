package heap

import (
	"io"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/kai-lang/memory/internal/utils"
	"github.com/kai-lang/memory/memutils"
	"github.com/kai-lang/memory/memutils/metadata"
	"github.com/kai-lang/memory/memutils/pages"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags uint32

const (
	// maximumSegmentSize bounds segments so that every block offset fits the 32 bits a Ref holds
	maximumSegmentSize int64 = math.MaxUint32
	// segmentOverhead is the space a segment needs beyond the payload of its only object
	segmentOverhead = metadata.FreeHeaderSize + metadata.BoundarySize + metadata.HeaderSize + metadata.Alignment
)

var heapCreateFlagsMapping = memutils.NewFlagStringMapping[CreateFlags]("0")

func (f CreateFlags) Register(str string) {
	heapCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return heapCreateFlagsMapping.FlagsToString(f)
}

const (
	// HeapCreateExternallySynchronized ensures that the heap will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time or is synchronized by some other
	// mechanism, but performance may improve because internal mutexes are not used.
	HeapCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	HeapCreateExternallySynchronized.Register("HeapCreateExternallySynchronized")
}

const (
	// defaultInitialSegmentPages is the size, in pages, of the first segment when CreateOptions does not
	// provide InitialSegmentSize
	defaultInitialSegmentPages int = 128
	// defaultGrowthSegmentPages is the size, in pages, of every later segment when CreateOptions does not
	// provide GrowthSegmentSize
	defaultGrowthSegmentPages int = 64
)

// CreateOptions contains optional settings when creating a heap
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags

	// InitialSegmentSize is the size in bytes of the segment mapped when the heap is created. It is
	// rounded up to a whole number of pages.
	InitialSegmentSize int
	// GrowthSegmentSize is the size in bytes of each segment mapped when no existing segment can satisfy
	// an allocation. It is rounded up to a whole number of pages. Allocations too large to fit in a segment
	// of this size get a segment of their own.
	GrowthSegmentSize int

	// PageSource maps the memory segments are built from. When left nil, memory is mapped from the
	// operating system.
	PageSource pages.Source

	// SegmentCallbacks is an optional set of callbacks that will be executed whenever a segment is mapped
	// or unmapped
	SegmentCallbacks *SegmentCallbackOptions
}

// New creates a new Heap and maps its initial segment
//
// logger - Receives diagnostics about segment growth, collections and leaked roots. May be nil.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	source := options.PageSource
	if source == nil {
		source = pages.SystemSource{}
	}

	initialSegmentSize, err := segmentSizeOption(source, options.InitialSegmentSize, defaultInitialSegmentPages, "InitialSegmentSize")
	if err != nil {
		return nil, err
	}

	growthSegmentSize, err := segmentSizeOption(source, options.GrowthSegmentSize, defaultGrowthSegmentPages, "GrowthSegmentSize")
	if err != nil {
		return nil, err
	}

	heap := &Heap{
		mutex:             utils.OptionalMutex{UseMutex: options.Flags&HeapCreateExternallySynchronized == 0},
		logger:            logger,
		source:            source,
		createFlags:       options.Flags,
		growthSegmentSize: growthSegmentSize,
		roots:             NewRootSet(),
		nextGeneration:    1,
	}
	heap.callbacks = &segmentCallbacks{
		Callbacks: options.SegmentCallbacks,
		Heap:      heap,
	}

	_, err = heap.createSegment(initialSegmentSize)
	if err != nil {
		return nil, err
	}

	return heap, nil
}

func segmentSizeOption(source pages.Source, size int, defaultPages int, name string) (int, error) {
	if size < 0 {
		return 0, errors.Newf("heap.CreateOptions.%s must not be negative, but was %d", name, size)
	}
	if size == 0 {
		size = defaultPages * source.PageSize()
	}

	size, err := pages.RoundToPages(source, size)
	if err != nil {
		return 0, err
	}

	if int64(size) > maximumSegmentSize {
		return 0, errors.Newf("heap.CreateOptions.%s of %d bytes exceeds the maximum segment size %d", name, size, maximumSegmentSize)
	}
	if size < metadata.MinimumSegmentSize {
		return 0, errors.Newf("heap.CreateOptions.%s of %d bytes is smaller than the minimum segment size %d", name, size, metadata.MinimumSegmentSize)
	}
	return size, nil
}
