package transfer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProbeFailed means size and range capability could not be
	// determined after the retry budget. Nothing was transferred.
	ErrProbeFailed = errors.New("capability probe failed")

	// ErrRangeNotHonored means the server answered a range request with
	// something other than 206 after the initial capability check had
	// succeeded. The affected worker fails hard without retries.
	ErrRangeNotHonored = errors.New("server stopped honoring range requests")

	// ErrOutputWrite marks local write failures (disk full, permission).
	// These are fatal for the whole transfer.
	ErrOutputWrite = errors.New("output write failure")

	errPaused = errors.New("worker paused")
)

// Error is the terminal failure of a transfer. It names the ranges that
// exhausted their retry budget and the last aggregate percentage so the
// caller can decide whether to resume later.
type Error struct {
	FailedRanges []int
	Percent      float64
	Err          error
}

func (e *Error) Error() string {
	if len(e.FailedRanges) == 0 {
		return fmt.Sprintf("transfer failed at %.1f%%: %v", e.Percent, e.Err)
	}
	idx := make([]string, len(e.FailedRanges))
	for i, r := range e.FailedRanges {
		idx[i] = fmt.Sprint(r)
	}
	return fmt.Sprintf("transfer failed at %.1f%%, ranges [%s] incomplete: %v", e.Percent, strings.Join(idx, ","), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
