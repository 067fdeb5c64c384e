package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/telvos/ferry/internal/scheduler"
	"github.com/telvos/ferry/internal/utils"
	"gopkg.in/yaml.v3"
)

type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link,omitempty"`
	Source     string `yaml:"src,omitempty"`
}

type BatchFile map[string][]BatchEntry

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple transfers from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading YAML file: %v", err)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				return fmt.Errorf("error parsing YAML file: %v", err)
			}
			jobs := buildJobsFromBatch(batchFile)
			if len(jobs) == 0 {
				return fmt.Errorf("no valid jobs found in the batch file")
			}
			if err := scheduler.Run(jobs, workers); err != nil {
				exitFailure("Encountered failed transfer(s)")
			}
			return nil
		},
	}
}

func buildJobsFromBatch(batchFile BatchFile) []utils.TransferJob {
	var jobs []utils.TransferJob
	for jobType, entries := range batchFile {
		normalizedType := normalizeJobType(jobType)
		if normalizedType == "" {
			fmt.Fprintf(os.Stderr, "Warning: Unknown job type '%s', skipping...\n", jobType)
			continue
		}
		for _, entry := range entries {
			job := utils.TransferJob{
				ID:               uuid.NewString(),
				JobType:          normalizedType,
				URL:              entry.Link,
				OutputPath:       entry.OutputPath,
				SourcePath:       entry.Source,
				Connections:      connections,
				HTTPClientConfig: globalHTTPConfig,
				Metadata:         make(map[string]any),
			}
			switch normalizedType {
			case "upload", "s3-upload":
				// Uploads name both the local source and the endpoint.
				if entry.Source == "" || entry.Link == "" {
					fmt.Fprintf(os.Stderr, "Warning: Upload entry in %s section needs both src and link, skipping...\n", jobType)
					continue
				}
			default:
				if entry.Link == "" {
					fmt.Fprintf(os.Stderr, "Warning: Empty link found in %s section, skipping...\n", jobType)
					continue
				}
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func normalizeJobType(jobType string) string {
	typeMap := map[string]string{
		"http":      "http",
		"https":     "http",
		"download":  "http",
		"s3":        "s3",
		"upload":    "upload",
		"put":       "upload",
		"s3-upload": "s3-upload",
		"s3upload":  "s3-upload",
		"s3-put":    "s3-upload",
	}
	normalized := ""
	for key, value := range typeMap {
		if key == jobType || key == strings.ToLower(jobType) {
			normalized = value
			break
		}
	}
	return normalized
}
