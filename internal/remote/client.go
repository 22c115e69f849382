// Package remote is the HTTP client for the linkup backend REST surface.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/linkup-app/linkup/pkg/models"
)

// DefaultTimeout bounds every backend call.
const DefaultTimeout = 30 * time.Second

// Client talks to the backend API. Zero value is not usable; construct with
// New.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the backend at baseURL (e.g.
// "http://localhost:8787/api").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// NewWithHTTPClient creates a client with a caller-supplied http.Client,
// used by tests to point at httptest servers.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: baseURL, http: hc}
}

// CreateProfile registers the user profile and returns it with its
// backend-assigned identifier.
func (c *Client) CreateProfile(ctx context.Context, req models.CreateUserProfile) (models.UserProfile, error) {
	var out models.UserProfile
	err := c.postJSON(ctx, "/profile", req, &out)
	return out, err
}

// QRCode fetches the rendered identity code for a profile as a data URL.
func (c *Client) QRCode(ctx context.Context, profileID string) (string, error) {
	var out struct {
		QRCode string `json:"qr_code"`
	}
	if err := c.getJSON(ctx, "/qr-code/"+url.PathEscape(profileID), &out); err != nil {
		return "", err
	}
	return out.QRCode, nil
}

// Transcribe uploads a finalized audio blob and returns the transcript text.
func (c *Client) Transcribe(ctx context.Context, blob []byte, filename string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio_file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(blob); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Transcript, nil
}

// GenerateMessage asks the drafting service for an outreach message.
func (c *Client) GenerateMessage(ctx context.Context, dc models.DraftContext) (string, error) {
	var out struct {
		AIMessage string `json:"ai_message"`
	}
	if err := c.postJSON(ctx, "/generate-message", dc, &out); err != nil {
		return "", err
	}
	return out.AIMessage, nil
}

// CreateConnection persists a connection record and returns the stored copy.
func (c *Client) CreateConnection(ctx context.Context, rec models.ConnectionRecord) (models.ConnectionRecord, error) {
	var out models.ConnectionRecord
	err := c.postJSON(ctx, "/connection", rec, &out)
	return out, err
}

// Connections lists the stored connections for a user.
func (c *Client) Connections(ctx context.Context, userID string) ([]models.ConnectionRecord, error) {
	var out []models.ConnectionRecord
	err := c.getJSON(ctx, "/connections/"+url.PathEscape(userID), &out)
	return out, err
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote: %s %s returned %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
