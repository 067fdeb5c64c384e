package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionFourWorkers(t *testing.T) {
	ranges := Partition(1_000_000, 4)
	require.Len(t, ranges, 4)
	require.Equal(t, Range{Index: 0, Start: 0, End: 249_999}, ranges[0])
	require.Equal(t, Range{Index: 1, Start: 250_000, End: 499_999}, ranges[1])
	require.Equal(t, Range{Index: 2, Start: 500_000, End: 749_999}, ranges[2])
	require.Equal(t, Range{Index: 3, Start: 750_000, End: 999_999}, ranges[3])
}

func TestPartitionCoversEveryByte(t *testing.T) {
	totals := []int64{1, 2, 7, 100, 1023, 1024, 1025, 999_999, 1_000_000}
	for _, total := range totals {
		for workers := 1; workers <= 9; workers++ {
			ranges := Partition(total, workers)
			var sum int64
			prev := int64(-1)
			for _, r := range ranges {
				require.Equal(t, prev+1, r.Start, "total=%d workers=%d", total, workers)
				require.GreaterOrEqual(t, r.End, r.Start, "total=%d workers=%d", total, workers)
				sum += r.Length()
				prev = r.End
			}
			require.Equal(t, total-1, prev)
			require.Equal(t, total, sum)
		}
	}
}

func TestPartitionRemainderGoesToLast(t *testing.T) {
	ranges := Partition(10, 3)
	require.Len(t, ranges, 3)
	require.Equal(t, int64(3), ranges[0].Length())
	require.Equal(t, int64(3), ranges[1].Length())
	require.Equal(t, int64(4), ranges[2].Length())
}

func TestPartitionClampsWorkers(t *testing.T) {
	ranges := Partition(3, 10)
	require.Len(t, ranges, 3)
	for _, r := range ranges {
		require.Equal(t, int64(1), r.Length())
	}

	ranges = Partition(100, 0)
	require.Len(t, ranges, 1)
	require.Equal(t, int64(100), ranges[0].Length())
}

func TestPartitionZeroTotal(t *testing.T) {
	ranges := Partition(0, 4)
	require.Len(t, ranges, 1)
	require.Equal(t, int64(0), ranges[0].Length())
}
