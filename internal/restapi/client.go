// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package restapi implements the two REST calls the RTU client needs
// before it can open the realtime connection: fetching a file's metadata
// (which carries the current version id the subscribe request needs)
// and downloading the seed notebook bytes from its presigned URL. It is
// adapted from the Graph API fetcher's per-call http.Client shape, with
// the bearer token supplied through an oauth2.TokenSource so both the
// bearer-token and client-credentials cases the ecosystem uses are
// available to callers.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// FileMetadata is the response shape of "get file metadata by id".
type FileMetadata struct {
	ID                    string `json:"id"`
	CurrentVersionID      string `json:"current_version_id"`
	PresignedDownloadURL  string `json:"presigned_download_url"`
}

// Client performs the REST calls the RTU client depends on.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client. ts supplies the bearer token used on every call;
// a static token can be wrapped with oauth2.StaticTokenSource.
func New(baseURL string, ts oauth2.TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		http:    oauth2.NewClient(context.Background(), ts),
	}
}

// GetFileMetadata fetches a file's metadata by id.
func (c *Client) GetFileMetadata(ctx context.Context, fileID string) (*FileMetadata, error) {
	url := fmt.Sprintf("%s/files/%s", c.baseURL, fileID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file metadata request returned HTTP %d for file %s", resp.StatusCode, fileID)
	}

	var meta FileMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode file metadata: %w", err)
	}
	return &meta, nil
}

// FetchNotebookBytes downloads the raw notebook JSON from a presigned
// URL. No bearer token is attached — presigned URLs are self-authorizing.
func (c *Client) FetchNotebookBytes(ctx context.Context, presignedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, presignedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download notebook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notebook download returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read notebook body: %w", err)
	}
	return body, nil
}

// FetchSeedNotebook composes the two calls above: metadata, then bytes.
// It returns the metadata too, since the subscribe request needs
// CurrentVersionID.
func (c *Client) FetchSeedNotebook(ctx context.Context, fileID string) (*FileMetadata, []byte, error) {
	meta, err := c.GetFileMetadata(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	body, err := c.FetchNotebookBytes(ctx, meta.PresignedDownloadURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch notebook for file %s: %w", fileID, err)
	}
	return meta, body, nil
}
