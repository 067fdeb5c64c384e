package transfer

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/telvos/ferry/internal/utils"
)

// Capability is the outcome of probing an endpoint for size and
// partial-content support.
type Capability int

const (
	SizeKnownRangeable Capability = iota
	SizeKnownNotRangeable
	SizeUnknown
)

func (c Capability) String() string {
	switch c {
	case SizeKnownRangeable:
		return "size-known-rangeable"
	case SizeKnownNotRangeable:
		return "size-known-not-rangeable"
	default:
		return "size-unknown"
	}
}

type ProbeResult struct {
	Capability Capability
	Size       int64
	FileName   string // from Content-Disposition, sanitized
}

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// ProbeEndpoint learns the total size and range-request support of link.
// A HEAD request goes first; if its size is absent or a sentinel, a
// streaming GET reads headers only and aborts the body. A real size is
// then confirmed with a one-byte range probe. Network errors wrap
// ErrProbeFailed so the coordinator can retry the whole probe.
func ProbeEndpoint(link string, client *utils.Client) (ProbeResult, error) {
	result := ProbeResult{Capability: SizeUnknown}

	req, err := http.NewRequest("HEAD", link, nil)
	if err != nil {
		return result, fmt.Errorf("error creating probe request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("%w: probe returned status %d", ErrProbeFailed, resp.StatusCode)
	}
	result.FileName = fileNameFromHeader(resp.Header.Get("Content-Disposition"))
	result.Size = resp.ContentLength

	if result.Size <= 0 {
		// HEAD size absent or a sentinel, fall back to a streaming probe
		// that reads headers only and drops the body.
		getReq, err := http.NewRequest("GET", link, nil)
		if err != nil {
			return result, fmt.Errorf("error creating probe request: %v", err)
		}
		getResp, err := client.Do(getReq)
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrProbeFailed, err)
		}
		getResp.Body.Close()
		if getResp.StatusCode >= 400 {
			return result, fmt.Errorf("%w: probe returned status %d", ErrProbeFailed, getResp.StatusCode)
		}
		if result.FileName == "" {
			result.FileName = fileNameFromHeader(getResp.Header.Get("Content-Disposition"))
		}
		result.Size = getResp.ContentLength
	}

	if result.Size <= 0 {
		result.Size = 0
		result.Capability = SizeUnknown
		log.Debug().Str("op", "transfer/probe").Msg("No trustworthy size from either probe, forcing whole-stream mode")
		return result, nil
	}

	// One-byte range probe decides rangeability.
	rangeReq, err := http.NewRequest("GET", link, nil)
	if err != nil {
		return result, fmt.Errorf("error creating probe request: %v", err)
	}
	rangeReq.Header.Set("Range", "bytes=0-0")
	rangeResp, err := client.Do(rangeReq)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	rangeResp.Body.Close()
	if rangeResp.StatusCode == http.StatusPartialContent {
		result.Capability = SizeKnownRangeable
	} else {
		result.Capability = SizeKnownNotRangeable
	}
	log.Debug().Str("op", "transfer/probe").Msgf("Probe result: %s, size %d", result.Capability, result.Size)
	return result, nil
}

func fileNameFromHeader(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return filenameRegex.ReplaceAllString(unescaped, "_")
	}
	return ""
}
