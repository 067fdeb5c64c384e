package client

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/telvos/ferry/internal/utils"
)

func TestListFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/", r.URL.Path)
		if r.URL.Query().Get("token") != "good-token" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"files":[{"name":"a.iso","size":1048576,"url":"/download?file=a.iso"},{"name":"b.txt","size":12,"url":"/download?file=b.txt"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "good-token", utils.NewClient(utils.HTTPClientConfig{}))
	files, err := c.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, FileInfo{Name: "a.iso", Size: 1048576, URL: "/download?file=a.iso"}, files[0])
}

func TestListFilesBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad", utils.NewClient(utils.HTTPClientConfig{}))
	_, err := c.ListFiles()
	require.ErrorContains(t, err, "rejected token")
}

func TestListFilesBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", utils.NewClient(utils.HTTPClientConfig{}))
	_, err := c.ListFiles()
	require.ErrorContains(t, err, "parsing file listing")
}

func TestEndpointURLs(t *testing.T) {
	c := New("http://host:9999", "t&k", utils.NewClient(utils.HTTPClientConfig{}))
	require.Equal(t, "http://host:9999/download?token=t%26k&file=my+file.bin", c.DownloadURL("my file.bin"))
	require.Equal(t, "http://host:9999/upload?token=t%26k", c.UploadURL())
}
