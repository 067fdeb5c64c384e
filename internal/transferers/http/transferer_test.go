package ferryhttp

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/telvos/ferry/internal/utils"
)

func TestValidateJobScheme(t *testing.T) {
	d := &HTTPTransferer{}
	require.NoError(t, d.ValidateJob(&utils.TransferJob{URL: "https://example.com/file.bin"}))
	require.Error(t, d.ValidateJob(&utils.TransferJob{URL: "ftp://example.com/file.bin"}))
	require.Error(t, d.ValidateJob(&utils.TransferJob{URL: "https:///no-host"}))
	require.Error(t, d.ValidateJob(&utils.TransferJob{URL: "::bad::"}))
}

func TestInferFileName(t *testing.T) {
	require.Equal(t, "from-header.txt", inferFileName("https://x.example/a/b.bin", "from-header.txt"))
	require.Equal(t, "b.bin", inferFileName("https://x.example/a/b.bin", ""))
	require.Equal(t, "my file.bin", inferFileName("https://x.example/a/my%20file.bin", ""))
	require.Equal(t, "download.bin", inferFileName("https://x.example/", ""))
}

func TestBuildJobSetsMetadataAndOutput(t *testing.T) {
	data := make([]byte, 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodHead {
			return
		}
		if r.Header.Get("Range") == "bytes=0-0" {
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[:1])
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	dir := t.TempDir()
	job := &utils.TransferJob{
		URL:        srv.URL + "/archive.tar.gz",
		OutputPath: filepath.Join(dir, "archive.tar.gz"),
	}
	d := &HTTPTransferer{}
	require.NoError(t, d.BuildJob(job))
	require.Equal(t, int64(2048), job.Metadata["fileSize"])
	require.Equal(t, filepath.Join(dir, "archive.tar.gz"), job.OutputPath)
}

func TestBuildJobRenamesExistingOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		if r.Method != http.MethodHead {
			w.Write(make([]byte, 10))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	existing := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0644))

	job := &utils.TransferJob{URL: srv.URL, OutputPath: existing}
	d := &HTTPTransferer{}
	require.NoError(t, d.BuildJob(job))
	require.Equal(t, filepath.Join(dir, "file-(1).bin"), job.OutputPath)
}

func TestUploadValidateJob(t *testing.T) {
	d := &UploadTransferer{}
	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))

	require.NoError(t, d.ValidateJob(&utils.TransferJob{URL: "http://host/upload", SourcePath: src}))
	require.Error(t, d.ValidateJob(&utils.TransferJob{URL: "http://host/upload", SourcePath: filepath.Dir(src)}))
	require.Error(t, d.ValidateJob(&utils.TransferJob{URL: "http://host/upload", SourcePath: src + ".missing"}))
	require.Error(t, d.ValidateJob(&utils.TransferJob{URL: "file:///x", SourcePath: src}))
}

func TestUploadBuildJobDefaultsFileName(t *testing.T) {
	d := &UploadTransferer{}
	src := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(src, make([]byte, 123), 0644))

	job := &utils.TransferJob{URL: "http://host/upload", SourcePath: src}
	require.NoError(t, d.BuildJob(job))
	require.Equal(t, "report.pdf", job.FileName)
	require.Equal(t, int64(123), job.Metadata["fileSize"])
}
