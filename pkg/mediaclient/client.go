// Package mediaclient is the HTTP client for the media service: upload,
// status lookup, and the polling reconciliation loop used to observe the
// background pipeline converge.
package mediaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"media-manager/pkg/mediacatalog"
)

// Client talks to the media service API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the given API base URL (e.g. "http://localhost:8001").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type uploadResponse struct {
	Success    bool                     `json:"success"`
	Media      mediacatalog.MediaRecord `json:"media"`
	Processing bool                     `json:"processing"`
	TaskID     string                   `json:"task_id"`
	Message    string                   `json:"message"`
}

// uploadContentType derives the file part's MIME type from the filename,
// sniffing the payload when the extension is unknown. The ingest endpoint
// only accepts parts declared as image/*, so a plain octet-stream part would
// be rejected before the bytes are even looked at.
func uploadContentType(filename string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return http.DetectContentType(data)
}

// Upload sends one file to the ingest endpoint and returns the placeholder
// record. The returned record is still processing; use a Poller to observe
// the final state.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*mediacatalog.MediaRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(filename)))
	h.Set("Content-Type", uploadContentType(filename, data))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/media/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("upload response decode failed: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("upload rejected: %s", parsed.Message)
	}
	return &parsed.Media, nil
}

// Status performs a point lookup of one record's processing status.
func (c *Client) Status(ctx context.Context, mediaID string) (*mediacatalog.StatusResponse, error) {
	url := fmt.Sprintf("%s/api/media/%s/status", c.baseURL, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status lookup failed with status %d", resp.StatusCode)
	}
	var parsed mediacatalog.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("status response decode failed: %w", err)
	}
	return &parsed, nil
}
