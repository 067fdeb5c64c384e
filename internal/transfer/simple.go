package transfer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// runSingleStream moves the whole payload over one connection. Used
// when the endpoint does not support ranges, the size is unknown, or
// the file is too small to split. There is no mid-stream resume: any
// restart begins from byte zero.
func (c *Coordinator) runSingleStream(r *Range) {
	var lastErr error
	for retry := 0; retry < c.cfg.WorkerRetries; retry++ {
		if retry > 0 {
			select {
			case <-time.After(time.Duration(retry) * 500 * time.Millisecond):
			case <-c.ctx.Done():
				return
			}
			c.resetProgress(r)
		}
		var err error
		if c.cfg.Direction == Upload {
			err = c.uploadStream(r)
		} else {
			err = c.downloadStream(r)
		}
		if err == nil {
			c.mu.Lock()
			if c.totalSize == 0 {
				c.totalSize = r.Completed
				r.End = c.totalSize - 1
			}
			r.Done = true
			c.mu.Unlock()
			return
		}
		if errors.Is(err, errPaused) || c.ctx.Err() != nil {
			// Whole-stream progress cannot be resumed, drop the credit so
			// the next generation starts clean.
			c.resetProgress(r)
			return
		}
		if errors.Is(err, ErrOutputWrite) {
			c.recordFailure(r, err)
			c.fatal(err)
			return
		}
		lastErr = err
		log.Debug().Str("op", "transfer/simple").Msgf("Stream attempt %d failed: %v", retry+1, err)
	}
	c.recordFailure(r, fmt.Errorf("stream failed after %d attempts: %v", c.cfg.WorkerRetries, lastErr))
}

func (c *Coordinator) downloadStream(r *Range) error {
	req, err := http.NewRequestWithContext(c.ctx, "GET", c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error executing request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Discard whatever a previous attempt left behind.
	if err := c.out.Truncate(0); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	body := c.client.LimitReader(c.ctx, resp.Body)
	buf := make([]byte, c.cfg.BlockSize)
	var written int64
	for {
		if c.paused.Load() {
			return errPaused
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := c.out.WriteAt(buf[:n], written); werr != nil {
				return fmt.Errorf("%w: %v", ErrOutputWrite, werr)
			}
			written += int64(n)
			c.addProgress(r, int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("error reading response body: %v", readErr)
		}
	}
	c.mu.Lock()
	total := c.totalSize
	c.mu.Unlock()
	if total > 0 && written != total {
		return fmt.Errorf("stream size mismatch: expected %d bytes, got %d", total, written)
	}
	return nil
}

func (c *Coordinator) uploadStream(r *Range) error {
	section := io.NewSectionReader(c.src, 0, c.totalSize)
	body := &uploadReader{c: c, r: r, src: c.client.LimitReader(c.ctx, section)}

	req, err := http.NewRequestWithContext(c.ctx, "POST", c.cfg.URL, body)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.ContentLength = c.totalSize
	req.Header.Set("X-File-Name", c.cfg.FileName)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, errPaused) {
			return errPaused
		}
		return fmt.Errorf("error executing request: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
