// Package ferrys3 moves objects to and from S3 using the AWS transfer
// manager, which handles its own multipart parallelism.
package ferrys3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/telvos/ferry/internal/utils"
)

func parseS3URL(rawURL string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(rawURL, "s3://")
	if trimmed == rawURL || trimmed == "" {
		return "", "", fmt.Errorf("invalid S3 URL: %s", rawURL)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return "", "", fmt.Errorf("S3 URL %s names no object key", rawURL)
	}
	return parts[0], parts[1], nil
}

func getS3Client() (*s3.Client, error) {
	profile := os.Getenv("AWS_PROFILE")
	if profile == "" {
		profile = "default"
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithSharedConfigProfile(profile), awsconfig.WithRetryMode("adaptive"))
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	s3Options := func(o *s3.Options) {
		o.DisableLogOutputChecksumValidationSkipped = true
	}
	return s3.NewFromConfig(cfg, s3Options), nil
}

// progressPump converts a raw byte counter into the (percent, speed)
// callbacks the rest of the tool expects.
type progressPump struct {
	transferred atomic.Int64
	total       int64
	fn          func(percent, speedBps float64)
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func newProgressPump(total int64, fn func(percent, speedBps float64)) *progressPump {
	p := &progressPump{total: total, fn: fn, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	go p.run()
	return p
}

func (p *progressPump) run() {
	defer close(p.doneCh)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var last int64
	lastTime := time.Now()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			current := p.transferred.Load()
			elapsed := now.Sub(lastTime).Seconds()
			var speed float64
			if elapsed > 0 {
				speed = float64(current-last) / elapsed
			}
			p.emit(current, speed)
			last = current
			lastTime = now
		case <-p.stopCh:
			p.emit(p.transferred.Load(), 0)
			return
		}
	}
}

func (p *progressPump) emit(current int64, speed float64) {
	if p.fn == nil || p.total <= 0 {
		return
	}
	p.fn(min(float64(current)/float64(p.total)*100, 100), speed)
}

func (p *progressPump) stop() {
	close(p.stopCh)
	<-p.doneCh
}

type countingWriterAt struct {
	w    io.WriterAt
	pump *progressPump
}

func (cw *countingWriterAt) WriteAt(b []byte, off int64) (int, error) {
	n, err := cw.w.WriteAt(b, off)
	if n > 0 {
		cw.pump.transferred.Add(int64(n))
	}
	return n, err
}

type countingReader struct {
	r    io.Reader
	pump *progressPump
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.pump.transferred.Add(int64(n))
	}
	return n, err
}

// S3Transferer downloads a single object named by an s3://bucket/key
// URL.
type S3Transferer struct{}

func (d *S3Transferer) ValidateJob(job *utils.TransferJob) error {
	_, _, err := parseS3URL(job.URL)
	return err
}

func (d *S3Transferer) BuildJob(job *utils.TransferJob) error {
	bucket, key, err := parseS3URL(job.URL)
	if err != nil {
		return err
	}
	client, err := getS3Client()
	if err != nil {
		return err
	}
	head, err := client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("error reading object metadata: %v", err)
	}
	if head.ContentLength == nil {
		return fmt.Errorf("object %s has no size", job.URL)
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["fileSize"] = *head.ContentLength
	if job.OutputPath == "" {
		job.OutputPath = filepath.Base(key)
	}
	if _, err := os.Stat(job.OutputPath); err == nil {
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	return nil
}

func (d *S3Transferer) Transfer(job *utils.TransferJob) error {
	bucket, key, err := parseS3URL(job.URL)
	if err != nil {
		return err
	}
	client, err := getS3Client()
	if err != nil {
		return err
	}
	size, _ := job.Metadata["fileSize"].(int64)

	if dir := filepath.Dir(job.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %v", err)
		}
	}
	file, err := os.Create(job.OutputPath)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	defer file.Close()

	pump := newProgressPump(size, job.ProgressFunc)
	defer pump.stop()

	downloader := manager.NewDownloader(client, func(dl *manager.Downloader) {
		dl.PartSize = 2 * utils.DefaultBufferSize
		dl.Concurrency = max(job.Connections, 1)
		dl.BufferProvider = manager.NewPooledBufferedWriterReadFromProvider(utils.DefaultBufferSize)
	})
	_, err = downloader.Download(context.Background(), &countingWriterAt{w: file, pump: pump}, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("error downloading S3 object: %v", err)
	}
	return nil
}

// S3UploadTransferer pushes a local file to an s3://bucket/key URL.
type S3UploadTransferer struct{}

func (d *S3UploadTransferer) ValidateJob(job *utils.TransferJob) error {
	if _, _, err := parseS3URL(job.URL); err != nil {
		return err
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

func (d *S3UploadTransferer) BuildJob(job *utils.TransferJob) error {
	info, err := os.Stat(job.SourcePath)
	if err != nil {
		return fmt.Errorf("error reading source file %s: %v", job.SourcePath, err)
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["fileSize"] = info.Size()
	return nil
}

func (d *S3UploadTransferer) Transfer(job *utils.TransferJob) error {
	bucket, key, err := parseS3URL(job.URL)
	if err != nil {
		return err
	}
	client, err := getS3Client()
	if err != nil {
		return err
	}
	size, _ := job.Metadata["fileSize"].(int64)

	file, err := os.Open(job.SourcePath)
	if err != nil {
		return fmt.Errorf("error opening source file: %v", err)
	}
	defer file.Close()

	pump := newProgressPump(size, job.ProgressFunc)
	defer pump.stop()

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 2 * utils.DefaultBufferSize
		u.Concurrency = max(job.Connections, 1)
	})
	_, err = uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   &countingReader{r: file, pump: pump},
	})
	if err != nil {
		return fmt.Errorf("error uploading S3 object: %v", err)
	}
	return nil
}
