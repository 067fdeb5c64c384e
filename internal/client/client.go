// Package client talks to a ferry file server: a small HTTP service
// exposing a token-authenticated file listing plus download and upload
// endpoints.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/telvos/ferry/internal/utils"
)

type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type listResponse struct {
	Files []FileInfo `json:"files"`
}

type Client struct {
	serverURL string
	token     string
	http      utils.HTTPDoer
}

// New returns a client for the server at serverURL authenticating with
// token. See utils.GenerateToken for deriving a token from credentials.
func New(serverURL, token string, doer utils.HTTPDoer) *Client {
	return &Client{serverURL: serverURL, token: token, http: doer}
}

// ListFiles fetches the files the server offers for download.
func (c *Client) ListFiles() ([]FileInfo, error) {
	req, err := http.NewRequest("GET", c.serverURL+"/?token="+url.QueryEscape(c.token), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error listing files: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("server rejected token (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %v", err)
	}
	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("error parsing file listing: %v", err)
	}
	return list.Files, nil
}

// DownloadURL builds the transfer endpoint for a named server file.
func (c *Client) DownloadURL(name string) string {
	return fmt.Sprintf("%s/download?token=%s&file=%s", c.serverURL, url.QueryEscape(c.token), url.QueryEscape(name))
}

// UploadURL builds the upload endpoint. The file name travels in the
// X-File-Name header of each POST, not in the URL.
func (c *Client) UploadURL() string {
	return fmt.Sprintf("%s/upload?token=%s", c.serverURL, url.QueryEscape(c.token))
}
