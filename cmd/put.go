package cmd

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/telvos/ferry/internal/client"
	"github.com/telvos/ferry/internal/scheduler"
	"github.com/telvos/ferry/internal/utils"
)

var putDestination string

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put [FILE]...",
		Short: "Upload one or more local files",
		Long:  "Upload to the configured ferry server, or to an explicit HTTP(S) endpoint or s3:// destination given with --to.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := buildPutJobs(args)
			if err != nil {
				return err
			}
			if err := scheduler.Run(jobs, workers); err != nil {
				exitFailure("Encountered failed transfer(s)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&putDestination, "to", "", "Destination endpoint or s3:// URL (defaults to the ferry server)")
	return cmd
}

func buildPutJobs(args []string) ([]utils.TransferJob, error) {
	var serverClient *client.Client
	var jobs []utils.TransferJob
	for _, src := range args {
		job := utils.TransferJob{
			ID:               uuid.NewString(),
			SourcePath:       src,
			Connections:      connections,
			HTTPClientConfig: globalHTTPConfig,
			Metadata:         make(map[string]any),
		}
		switch {
		case strings.HasPrefix(putDestination, "s3://"):
			job.JobType = "s3-upload"
			job.URL = s3DestinationURL(putDestination, src, len(args) > 1)
		case strings.HasPrefix(putDestination, "http://") || strings.HasPrefix(putDestination, "https://"):
			job.JobType = "upload"
			job.URL = putDestination
		default:
			if serverClient == nil {
				if err := requireServer(); err != nil {
					return nil, err
				}
				tok, err := resolveToken()
				if err != nil {
					return nil, err
				}
				serverClient = client.New(serverURL, tok, utils.NewClient(globalHTTPConfig))
			}
			job.JobType = "upload"
			job.URL = serverClient.UploadURL()
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// s3DestinationURL treats the destination as an exact object key for a
// single file, and as a key prefix when several files go up or the
// destination ends in a slash.
func s3DestinationURL(dest, src string, multiple bool) string {
	if !multiple && !strings.HasSuffix(dest, "/") {
		return dest
	}
	return strings.TrimSuffix(dest, "/") + "/" + filepath.Base(src)
}
