package transfer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// runWorker drives one range to completion. Transient errors back off
// and retry from the current offset; a server that stops honoring
// ranges fails this range hard; local write errors abort the whole
// transfer.
func (c *Coordinator) runWorker(r *Range) {
	if r.Length() == 0 {
		c.markDone(r)
		return
	}
	var lastErr error
	for retry := 0; retry < c.cfg.WorkerRetries; retry++ {
		if retry > 0 {
			select {
			case <-time.After(time.Duration(retry) * 500 * time.Millisecond):
			case <-c.ctx.Done():
				return
			}
		}
		err := c.downloadRange(r)
		if err == nil {
			c.markDone(r)
			return
		}
		if errors.Is(err, errPaused) || c.ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrRangeNotHonored) {
			// The capability check passed but the server reneged. Other
			// ranges may still succeed, so only this one fails.
			c.recordFailure(r, err)
			return
		}
		if errors.Is(err, ErrOutputWrite) {
			c.recordFailure(r, err)
			c.fatal(err)
			return
		}
		lastErr = err
		log.Debug().Str("op", "transfer/worker").Msgf("Range %d attempt %d failed: %v", r.Index, retry+1, err)
	}
	c.recordFailure(r, fmt.Errorf("range %d failed after %d attempts: %v", r.Index, c.cfg.WorkerRetries, lastErr))
}

// downloadRange requests the remaining span of r and writes it into the
// shared output at the matching offset. Progress survives transient
// failures: a retry re-requests only what is still missing.
func (c *Coordinator) downloadRange(r *Range) error {
	c.mu.Lock()
	offset := r.Start + r.Completed
	c.mu.Unlock()
	if offset > r.End {
		return nil
	}
	remaining := r.End - offset + 1

	req, err := http.NewRequestWithContext(c.ctx, "GET", c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, r.End))
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error executing request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: status %d for range %d", ErrRangeNotHonored, resp.StatusCode, r.Index)
	}

	body := c.client.LimitReader(c.ctx, resp.Body)
	buf := make([]byte, c.cfg.BlockSize)
	var newBytes int64
	for {
		if c.paused.Load() {
			return errPaused
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := c.out.WriteAt(buf[:n], offset+newBytes); werr != nil {
				return fmt.Errorf("%w: %v", ErrOutputWrite, werr)
			}
			newBytes += int64(n)
			c.addProgress(r, int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("error reading response body: %v", readErr)
		}
	}
	if newBytes != remaining {
		return fmt.Errorf("range %d size mismatch: expected %d bytes, got %d", r.Index, remaining, newBytes)
	}
	return nil
}
