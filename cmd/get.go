package cmd

import (
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/telvos/ferry/internal/client"
	"github.com/telvos/ferry/internal/scheduler"
	"github.com/telvos/ferry/internal/utils"
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [URL|s3://BUCKET/KEY|SERVER_FILE]...",
		Short: "Download one or more files",
		Long:  "Download from direct HTTP(S) URLs, s3:// object URLs, or by file name from the configured ferry server.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := buildGetJobs(args)
			if err != nil {
				return err
			}
			if err := scheduler.Run(jobs, workers); err != nil {
				exitFailure("Encountered failed transfer(s)")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred if not provided, single transfer only)")
	return cmd
}

func buildGetJobs(args []string) ([]utils.TransferJob, error) {
	var serverClient *client.Client
	var jobs []utils.TransferJob
	for _, arg := range args {
		job := utils.TransferJob{
			ID:               uuid.NewString(),
			Connections:      connections,
			HTTPClientConfig: globalHTTPConfig,
			Metadata:         make(map[string]any),
		}
		switch {
		case strings.HasPrefix(arg, "s3://"):
			job.JobType = "s3"
			job.URL = arg
		case strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://"):
			job.JobType = "http"
			job.URL = arg
		default:
			// Bare name, fetch from the configured ferry server.
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
			job.JobType = "http"
			job.URL = serverClient.DownloadURL(arg)
			job.OutputPath = arg
		}
		jobs = append(jobs, job)
	}
	if outputPath != "" && len(jobs) == 1 {
		jobs[0].OutputPath = outputPath
	}
	return jobs, nil
}
