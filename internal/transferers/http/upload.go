package ferryhttp

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/telvos/ferry/internal/transfer"
	"github.com/telvos/ferry/internal/utils"
)

// UploadTransferer pushes a local file to an HTTP endpoint, ranged when
// the file is large enough to split.
type UploadTransferer struct{}

func (d *UploadTransferer) ValidateJob(job *utils.TransferJob) error {
	parsed, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL %s: %v", job.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme)
	}
	info, err := os.Stat(job.SourcePath)
	if err != nil {
		return fmt.Errorf("error reading source file %s: %v", job.SourcePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("source %s is a directory", job.SourcePath)
	}
	return nil
}

func (d *UploadTransferer) BuildJob(job *utils.TransferJob) error {
	info, err := os.Stat(job.SourcePath)
	if err != nil {
		return fmt.Errorf("error reading source file %s: %v", job.SourcePath, err)
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["fileSize"] = info.Size()
	if job.FileName == "" {
		job.FileName = filepath.Base(job.SourcePath)
	}
	return nil
}

func (d *UploadTransferer) Transfer(job *utils.TransferJob) error {
	client := utils.NewClient(job.HTTPClientConfig)
	coord := transfer.New(transfer.Config{
		URL:          job.URL,
		Direction:    transfer.Upload,
		SourcePath:   job.SourcePath,
		FileName:     job.FileName,
		Connections:  job.Connections,
		ProgressFunc: job.ProgressFunc,
	}, client)
	return runWithInterrupt(coord)
}
