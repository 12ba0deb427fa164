package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

// Endpoint names, also used as the metrics label.
const (
	EndpointData      = "data"
	EndpointImage     = "image"
	EndpointConfig    = "config"
	EndpointHeartbeat = "heartbeat"
)

var ErrUnexpectedStatus = errors.New("unexpected status code")

// PushObserver is notified after every request to the remote API.
type PushObserver interface {
	ObservePush(endpoint string, ok bool)
}

// Client talks to the remote ingest API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	observer   PushObserver
}

// NewClient returns a client for the ingest API at baseURL, for example
// "https://obs.example.com/api/ingest".
func NewClient(baseURL, apiKey string, httpClient *http.Client, observer PushObserver) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		observer:   observer,
	}
}

func (c *Client) url(endpoint string) string {
	if endpoint == EndpointHeartbeat {
		// The heartbeat lives beside the ingest API, not under it.
		return strings.ReplaceAll(c.baseURL, "/ingest", "") + "/" + endpoint
	}
	return c.baseURL + "/" + endpoint
}

// PostJSON posts v to endpoint and decodes a JSON response into out when
// out is non-nil.
func (c *Client) PostJSON(ctx context.Context, endpoint string, v, out any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", endpoint, err)
	}
	return c.post(ctx, endpoint, "application/json", body, out)
}

// PostImage uploads a JPEG as the multipart field "image".
func (c *Client) PostImage(ctx context.Context, filename string, image []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("multipart: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("multipart: %w", err)
	}
	return c.post(ctx, EndpointImage, mw.FormDataContentType(), buf.Bytes(), nil)
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body []byte, out any) (err error) {
	defer func() {
		if c.observer != nil {
			c.observer.ObservePush(endpoint, err == nil)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("post %s: %w: %d %s", endpoint, ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse %s response: %w", endpoint, err)
		}
	}
	return nil
}
