package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// DriveConfig holds connection settings for the storage API.
type DriveConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// DriveClient uploads files into folders of a Google-Drive-compatible API.
type DriveClient struct {
	config DriveConfig
	client *http.Client
}

// NewDriveClient creates a client for the storage API at config.BaseURL.
func NewDriveClient(config DriveConfig) *DriveClient {
	return &DriveClient{
		config: config,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

type fileMetadata struct {
	Name    string   `json:"name"`
	Parents []string `json:"parents"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

// Upload pushes content as a named file into folderID using a multipart
// upload (metadata part plus media part). It returns the remote file ID.
func (c *DriveClient) Upload(ctx context.Context, name, folderID, content string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	meta, err := json.Marshal(fileMetadata{Name: name, Parents: []string{folderID}})
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return "", err
	}
	if _, err := part.Write(meta); err != nil {
		return "", err
	}

	part, err = writer.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain"},
	})
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(part, content); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	url := c.config.BaseURL + "/upload/drive/v3/files?uploadType=multipart&fields=id"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(data))
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return parsed.ID, nil
}
