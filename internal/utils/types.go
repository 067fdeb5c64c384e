package utils

// Transferer is implemented once per transfer kind (http, upload, s3).
type Transferer interface {
	Transfer(job *TransferJob) error
	BuildJob(job *TransferJob) error
	ValidateJob(job *TransferJob) error
}

type TransferJob struct {
	ID               string
	JobType          string
	URL              string
	SourcePath       string // local file for uploads
	OutputPath       string
	FileName         string // remote name advertised on upload
	Connections      int
	ProgressFunc     func(percent float64, speedBps float64)
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}
