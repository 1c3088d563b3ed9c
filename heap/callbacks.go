package heap

type MapSegmentCallback func(
	heap *Heap,
	segment int,
	size int,
	userData interface{},
)

type UnmapSegmentCallback func(
	heap *Heap,
	segment int,
	size int,
	userData interface{},
)

// SegmentCallbackOptions are called whenever the heap maps or unmaps a segment
type SegmentCallbackOptions struct {
	Map      MapSegmentCallback
	Unmap    UnmapSegmentCallback
	UserData interface{}
}

type segmentCallbacks struct {
	Callbacks *SegmentCallbackOptions
	Heap      *Heap
}

func (c *segmentCallbacks) Map(segment int, size int) {
	if c.Callbacks != nil && c.Callbacks.Map != nil {
		c.Callbacks.Map(c.Heap, segment, size, c.Callbacks.UserData)
	}
}

func (c *segmentCallbacks) Unmap(segment int, size int) {
	if c.Callbacks != nil && c.Callbacks.Unmap != nil {
		c.Callbacks.Unmap(c.Heap, segment, size, c.Callbacks.UserData)
	}
}
