package comic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when the gateway knows no album for the query.
var ErrNotFound = errors.New("comic: album not found")

// Client is the comic search/download collaborator consulted by the
// SEARCH and DOWNLOAD decision actions.
type Client interface {
	// Search returns a rendered listing for a keyword or album id.
	Search(ctx context.Context, query string) (string, error)
	// Download fetches an album as PDF and returns the local file path.
	Download(ctx context.Context, albumID string) (string, error)
}

// GatewayClient talks to a comic gateway service over HTTP.
type GatewayClient struct {
	BaseURL     string
	DownloadDir string
	MaxResults  int

	client *http.Client
}

// NewGatewayClient creates a GatewayClient.
func NewGatewayClient(baseURL, downloadDir string, maxResults int) *GatewayClient {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &GatewayClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		DownloadDir: downloadDir,
		MaxResults:  maxResults,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

type searchResponse struct {
	Total  int `json:"total"`
	Albums []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"albums"`
}

// Search queries the gateway and renders the listing lines the decision
// engine posts back into the chat.
func (c *GatewayClient) Search(ctx context.Context, query string) (string, error) {
	u := fmt.Sprintf("%s/search?query=%s&limit=%d", c.BaseURL, url.QueryEscape(query), c.MaxResults)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("comic search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("comic search failed with status %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}

	lines := []string{fmt.Sprintf("结果总数: %d", result.Total)}
	for _, album := range result.Albums {
		lines = append(lines, fmt.Sprintf("车号%s:%s", album.ID, album.Title))
	}
	return strings.Join(lines, "\n"), nil
}

// Download fetches the album PDF and writes it under DownloadDir.
func (c *GatewayClient) Download(ctx context.Context, albumID string) (string, error) {
	u := fmt.Sprintf("%s/album/%s/pdf", c.BaseURL, url.PathEscape(albumID))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("comic download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("comic download failed with status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.DownloadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	path := filepath.Join(c.DownloadDir, fmt.Sprintf("%s.pdf", albumID))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
