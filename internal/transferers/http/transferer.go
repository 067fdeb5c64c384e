package ferryhttp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/telvos/ferry/internal/transfer"
	"github.com/telvos/ferry/internal/utils"
)

// ErrInterrupted signals a transfer stopped by SIGINT after its
// progress record was flushed. Re-running the same job resumes it.
var ErrInterrupted = errors.New("transfer interrupted, progress saved")

// HTTPTransferer downloads a URL to a local file.
type HTTPTransferer struct{}

func (d *HTTPTransferer) ValidateJob(job *utils.TransferJob) error {
	parsed, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL %s: %v", job.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid URL %s: missing host", job.URL)
	}
	return nil
}

func (d *HTTPTransferer) BuildJob(job *utils.TransferJob) error {
	client := utils.NewClient(job.HTTPClientConfig)
	probe, err := transfer.ProbeEndpoint(job.URL, client)
	if err != nil {
		return fmt.Errorf("error probing %s: %v", job.URL, err)
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["fileSize"] = probe.Size
	job.Metadata["capability"] = probe.Capability.String()

	if job.OutputPath == "" {
		job.OutputPath = inferFileName(job.URL, probe.FileName)
	}
	if _, err := os.Stat(job.OutputPath); err == nil {
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
		log.Debug().Str("op", "transferers/http").Msgf("Output exists, renamed to %s", job.OutputPath)
	}
	if dir := filepath.Dir(job.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %v", err)
		}
	}
	return nil
}

func (d *HTTPTransferer) Transfer(job *utils.TransferJob) error {
	client := utils.NewClient(job.HTTPClientConfig)
	coord := transfer.New(transfer.Config{
		URL:          job.URL,
		Direction:    transfer.Download,
		OutputPath:   job.OutputPath,
		Connections:  job.Connections,
		ProgressFunc: job.ProgressFunc,
	}, client)
	return runWithInterrupt(coord)
}

// runWithInterrupt drives a coordinator to a terminal state. SIGINT and
// SIGTERM pause the transfer, which flushes the progress record, and
// surface ErrInterrupted instead of killing the process mid-write.
func runWithInterrupt(coord *transfer.Coordinator) error {
	if err := coord.Start(context.Background()); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	finished := make(chan struct{})
	defer close(finished)
	interrupted := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			coord.Pause()
			close(interrupted)
		case <-finished:
		}
	}()

	resCh := make(chan transfer.Result, 1)
	go func() { resCh <- coord.Wait() }()

	select {
	case <-interrupted:
		return ErrInterrupted
	case res := <-resCh:
		return res.Err
	}
}

// inferFileName picks an output name from the advertised header name,
// then the URL path, then a generic fallback.
func inferFileName(link, headerName string) string {
	if headerName != "" {
		return headerName
	}
	if parsed, err := url.Parse(link); err == nil {
		if base := filepath.Base(parsed.Path); base != "." && base != "/" && base != "" {
			if unescaped, err := url.PathUnescape(base); err == nil {
				base = unescaped
			}
			return strings.ReplaceAll(base, string(filepath.Separator), "_")
		}
	}
	return "download.bin"
}
