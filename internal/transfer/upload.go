package transfer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// runUploadWorker drives one source range to completion. Upload ranges
// are all-or-nothing: the server cannot be asked to keep a partially
// received body, so any failure or pause rolls the range back to zero
// before retrying or quiescing.
func (c *Coordinator) runUploadWorker(r *Range) {
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
		err := c.uploadRange(r)
		if err == nil {
			c.markDone(r)
			return
		}
		c.resetProgress(r)
		if errors.Is(err, errPaused) || c.ctx.Err() != nil {
			return
		}
		lastErr = err
		log.Debug().Str("op", "transfer/upload").Msgf("Range %d attempt %d failed: %v", r.Index, retry+1, err)
	}
	c.recordFailure(r, fmt.Errorf("range %d failed after %d attempts: %v", r.Index, c.cfg.WorkerRetries, lastErr))
}

// uploadReader counts bytes handed to the transport and surfaces the
// pause signal as a read error so the request aborts promptly.
type uploadReader struct {
	c   *Coordinator
	r   *Range
	src io.Reader
}

func (u *uploadReader) Read(p []byte) (int, error) {
	if u.c.paused.Load() {
		return 0, errPaused
	}
	n, err := u.src.Read(p)
	if n > 0 {
		u.c.addProgress(u.r, int64(n))
	}
	return n, err
}

func (c *Coordinator) uploadRange(r *Range) error {
	section := io.NewSectionReader(c.src, r.Start, r.Length())
	body := &uploadReader{c: c, r: r, src: c.client.LimitReader(c.ctx, section)}

	req, err := http.NewRequestWithContext(c.ctx, "POST", c.cfg.URL, body)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.ContentLength = r.Length()
	req.Header.Set("X-File-Name", c.cfg.FileName)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, c.totalSize))

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
