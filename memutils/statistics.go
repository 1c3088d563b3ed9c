package memutils

import "math"

// Statistics is a cheap summary of the memory held by one or more segments
type Statistics struct {
	// SegmentCount is the number of page segments mapped
	SegmentCount int
	// ObjectCount is the number of blocks currently flagged USED, not counting segment sentinels
	ObjectCount int
	// SegmentBytes is the total size of all mapped segments
	SegmentBytes int
	// ObjectBytes is the total size of all USED blocks, headers included
	ObjectBytes int
}

func (s *Statistics) Clear() {
	s.SegmentCount = 0
	s.ObjectCount = 0
	s.SegmentBytes = 0
	s.ObjectBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.SegmentCount += other.SegmentCount
	s.ObjectCount += other.ObjectCount
	s.SegmentBytes += other.SegmentBytes
	s.ObjectBytes += other.ObjectBytes
}

// DetailedStatistics extends Statistics with the size distribution of objects and free ranges. It is
// more expensive to gather because every block in every segment must be visited.
type DetailedStatistics struct {
	Statistics
	FreeRangeCount   int
	ObjectSizeMin    int
	ObjectSizeMax    int
	FreeRangeSizeMin int
	FreeRangeSizeMax int
}

// Clear resets the statistics. It must be called before the first Add call, since the minimums
// start at math.MaxInt.
func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRangeCount = 0
	s.ObjectSizeMin = math.MaxInt
	s.ObjectSizeMax = 0
	s.FreeRangeSizeMin = math.MaxInt
	s.FreeRangeSizeMax = 0
}

func (s *DetailedStatistics) AddFreeRange(size int) {
	s.FreeRangeCount++

	if size < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = size
	}

	if size > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddObject(size int) {
	s.ObjectCount++
	s.ObjectBytes += size

	if size < s.ObjectSizeMin {
		s.ObjectSizeMin = size
	}

	if size > s.ObjectSizeMax {
		s.ObjectSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRangeCount += other.FreeRangeCount

	if other.FreeRangeSizeMin < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = other.FreeRangeSizeMin
	}

	if other.FreeRangeSizeMax > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = other.FreeRangeSizeMax
	}

	if other.ObjectSizeMin < s.ObjectSizeMin {
		s.ObjectSizeMin = other.ObjectSizeMin
	}

	if other.ObjectSizeMax > s.ObjectSizeMax {
		s.ObjectSizeMax = other.ObjectSizeMax
	}
}
