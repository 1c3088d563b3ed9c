package heap

import (
	"strconv"

	"github.com/kai-lang/memory/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics returns a summary of the memory held by the heap
func (h *Heap) Statistics() memutils.Statistics {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var stats memutils.Statistics
	for _, segment := range h.segments {
		segment.metadata.AddStatistics(&stats)
	}
	return stats
}

// CalculateStatistics populates stats with the size distribution of objects and free ranges across every
// segment. Every block of the heap is visited, so this is considerably more expensive than Statistics.
func (h *Heap) CalculateStatistics(stats *memutils.DetailedStatistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.calculateStatistics(stats)
}

func (h *Heap) calculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	for _, segment := range h.segments {
		segment.metadata.AddDetailedStatistics(stats)
	}
}

// BuildStatsString renders the state of the heap as a JSON document. When detailedMap is true, every
// block of every segment is listed.
func (h *Heap) BuildStatsString(detailedMap bool) string {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var stats memutils.DetailedStatistics
	h.calculateStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("General").String(h.createFlags.String())

	total := obj.Name("Total").Object()
	printStatistics(&total, &stats)
	total.End()

	obj.Name("Roots").Int(h.roots.Len())
	obj.Name("Collections").Int(h.collections)

	collection := obj.Name("LastCollection").Object()
	h.lastCollection.printParameters(&collection)
	collection.End()

	segments := obj.Name("Segments").Object()
	for _, segment := range h.segments {
		segmentObj := segments.Name(strconv.Itoa(segment.id)).Object()
		if detailedMap {
			segment.metadata.PrintDetailedMap(&segmentObj)
		} else {
			segment.metadata.BlockJsonData(&segmentObj)
		}
		segmentObj.End()
	}
	segments.End()

	obj.End()
	return string(writer.Bytes())
}

func printStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("SegmentCount").Int(stats.SegmentCount)
	json.Name("SegmentBytes").Int(stats.SegmentBytes)
	json.Name("ObjectCount").Int(stats.ObjectCount)
	json.Name("ObjectBytes").Int(stats.ObjectBytes)
	json.Name("FreeRangeCount").Int(stats.FreeRangeCount)

	if stats.ObjectCount > 0 {
		json.Name("ObjectSizeMin").Int(stats.ObjectSizeMin)
		json.Name("ObjectSizeMax").Int(stats.ObjectSizeMax)
	}
	if stats.FreeRangeCount > 0 {
		json.Name("FreeRangeSizeMin").Int(stats.FreeRangeSizeMin)
		json.Name("FreeRangeSizeMax").Int(stats.FreeRangeSizeMax)
	}
}

func (s CollectionStats) printParameters(json *jwriter.ObjectState) {
	json.Name("Roots").Int(s.Roots)
	json.Name("Marked").Int(s.Marked)
	json.Name("Reclaimed").Int(s.Reclaimed)
	json.Name("Finalized").Int(s.Finalized)
	json.Name("Deallocations").Int(s.Deallocations)
	json.Name("BytesFreed").Int(s.BytesFreed)
	json.Name("ForeignReferences").Int(s.ForeignReferences)
}
