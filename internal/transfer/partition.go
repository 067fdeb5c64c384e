package transfer

// Range is a contiguous span of byte offsets [Start, End] (inclusive)
// owned by exactly one worker while the transfer runs. The coordinator
// only reads snapshots of it for aggregation and checkpointing.
type Range struct {
	Index     int   `yaml:"index"`
	Start     int64 `yaml:"start"`
	End       int64 `yaml:"end"`
	Completed int64 `yaml:"completed"`
	Done      bool  `yaml:"done"`
}

// Length returns the byte count covered by the range. An empty range
// (End < Start) has length 0.
func (r Range) Length() int64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Partition splits totalSize bytes into contiguous, non-overlapping
// ranges, one per worker. All ranges are totalSize/workers long except
// the last, which absorbs the remainder, so the union covers exactly
// [0, totalSize-1]. A zero totalSize yields a single empty range.
// Workers is clamped to [1, totalSize] so no range is ever empty.
func Partition(totalSize int64, workers int) []Range {
	if workers < 1 {
		workers = 1
	}
	if totalSize == 0 {
		return []Range{{Index: 0, Start: 0, End: -1}}
	}
	if int64(workers) > totalSize {
		workers = int(totalSize)
	}
	chunkSize := totalSize / int64(workers)
	ranges := make([]Range, workers)
	for i := 0; i < workers; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == workers-1 {
			end = totalSize - 1
		}
		ranges[i] = Range{Index: i, Start: start, End: end}
	}
	return ranges
}
