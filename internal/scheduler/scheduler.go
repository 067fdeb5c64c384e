package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/telvos/ferry/internal/output"
	ferryhttp "github.com/telvos/ferry/internal/transferers/http"
	ferrys3 "github.com/telvos/ferry/internal/transferers/s3"
	"github.com/telvos/ferry/internal/utils"
)

// transfererRegistry maps job types to their implementations.
var transfererRegistry = map[string]utils.Transferer{
	"http":      &ferryhttp.HTTPTransferer{},
	"upload":    &ferryhttp.UploadTransferer{},
	"s3":        &ferrys3.S3Transferer{},
	"s3-upload": &ferrys3.S3UploadTransferer{},
}

// Run pushes jobs through a fixed pool of workers, multiplexing their
// progress onto the terminal. An interrupted transfer drains the queue,
// still-pending jobs are skipped rather than started fresh after the
// signal. It returns an error when any job fails or is skipped.
func Run(jobs []utils.TransferJob, numWorkers int) error {
	outputMgr := output.NewManager()
	outputMgr.StartDisplay()
	defer outputMgr.StopDisplay()

	jobCh := make(chan utils.TransferJob, len(jobs))
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	var failed int
	var failedMu sync.Mutex
	var interrupted atomic.Bool
	var wg sync.WaitGroup
	if numWorkers < 1 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if interrupted.Load() {
					funcID := outputMgr.Register(jobName(&job))
					outputMgr.SetStatus(funcID, "pending")
					outputMgr.SetMessage(funcID, fmt.Sprintf("Skipped %s, queue interrupted", jobName(&job)))
					failedMu.Lock()
					failed++
					failedMu.Unlock()
					continue
				}
				if err := processJob(&job, outputMgr); err != nil {
					if errors.Is(err, ferryhttp.ErrInterrupted) {
						interrupted.Store(true)
					}
					failedMu.Lock()
					failed++
					failedMu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(jobs))
	}
	return nil
}

func jobName(job *utils.TransferJob) string {
	if job.OutputPath != "" {
		return job.OutputPath
	}
	return job.URL
}

func processJob(job *utils.TransferJob, outputMgr *output.Manager) error {
	name := jobName(job)
	funcID := outputMgr.Register(name)

	transferer, exists := transfererRegistry[job.JobType]
	if !exists {
		err := fmt.Errorf("unknown job type: %s", job.JobType)
		outputMgr.ReportError(funcID, err)
		outputMgr.SetMessage(funcID, fmt.Sprintf("Error: Unknown job type %s", job.JobType))
		return err
	}

	outputMgr.SetStatus(funcID, "pending")
	outputMgr.SetMessage(funcID, fmt.Sprintf("Validating %s job", job.JobType))
	if err := transferer.ValidateJob(job); err != nil {
		outputMgr.ReportError(funcID, fmt.Errorf("validation failed: %v", err))
		outputMgr.SetMessage(funcID, fmt.Sprintf("Validation failed for %s", name))
		return err
	}

	outputMgr.SetMessage(funcID, fmt.Sprintf("Building %s job", job.JobType))
	if err := transferer.BuildJob(job); err != nil {
		outputMgr.ReportError(funcID, fmt.Errorf("build failed: %v", err))
		outputMgr.SetMessage(funcID, fmt.Sprintf("Build failed for %s", name))
		return err
	}

	// BuildJob may have picked or renamed the output path.
	if job.OutputPath != "" {
		name = job.OutputPath
	}
	job.ProgressFunc = func(percent, speedBps float64) {
		outputMgr.SetProgress(funcID, percent, speedBps)
	}

	outputMgr.SetStatus(funcID, "running")
	outputMgr.SetMessage(funcID, fmt.Sprintf("Transferring %s", name))
	if err := transferer.Transfer(job); err != nil {
		if errors.Is(err, ferryhttp.ErrInterrupted) {
			outputMgr.SetStatus(funcID, "paused")
			outputMgr.SetMessage(funcID, fmt.Sprintf("Interrupted %s, progress saved", name))
			return err
		}
		outputMgr.ReportError(funcID, fmt.Errorf("transfer failed: %v", err))
		outputMgr.SetMessage(funcID, fmt.Sprintf("Transfer failed for %s", name))
		return err
	}

	outputMgr.Complete(funcID, fmt.Sprintf("Completed %s", name))
	return nil
}
