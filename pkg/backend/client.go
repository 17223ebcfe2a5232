// Package backend is the typed request/response surface of the
// host-controlled backend process. It carries the commands the realtime core
// cannot express over the feeds: raw chat sends, call availability probes,
// and base64 file transfer. Calls either succeed or return a descriptive
// error; nothing here retries on the caller's behalf.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base URL is empty")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendChatRaw forwards an already-encoded chat feed payload through the
// backend's send endpoint.
func (c *Client) SendChatRaw(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return errors.New("backend: empty chat payload")
	}
	body := struct {
		Payload string `json:"payload"`
	}{Payload: string(payload)}
	return c.postJSON(ctx, "/chat/send", body, nil)
}

// CheckCallAvailability probes whether a user can receive a call right now.
func (c *Client) CheckCallAvailability(ctx context.Context, userID int64) (bool, error) {
	var out struct {
		Available bool `json:"available"`
	}
	path := fmt.Sprintf("/calls/availability/%d", userID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

// UploadFile sends file content base64-encoded and returns the stored file id.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("backend: file name is empty")
	}
	if len(data) == 0 {
		return "", errors.New("backend: file content is empty")
	}
	body := struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}{Name: name, Content: base64.StdEncoding.EncodeToString(data)}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "/files/upload", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("backend: upload returned no file id")
	}
	return out.ID, nil
}

// DownloadFile fetches file content by id, decoding the base64 body.
func (c *Client) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("backend: file id is empty")
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := c.getJSON(ctx, "/files/"+id, &out); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(out.Content)
	if err != nil {
		return nil, errors.Wrap(err, "backend: decode file content")
	}
	return data, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "backend: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "backend: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "backend: build request")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "backend: %s %s", req.Method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "backend: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().Str("component", "backend").Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("backend call failed")
		return errors.Errorf("backend: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, snippet(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "backend: decode %s response", req.URL.Path)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
