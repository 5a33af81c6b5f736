package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/rag"
	"github.com/hyperjump/tanya/internal/service"
)

// UserHeader carries the caller's user id on every API request.
const UserHeader = "X-User-ID"

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running tanya server on behalf of one user.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL, userID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.userID != "" {
		req.Header.Set(UserHeader, c.userID)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		apiErr.Message, apiErr.Code = body.Error, body.Code
	}
	return apiErr
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// Query asks a question and waits for the full answer.
func (c *Client) Query(ctx context.Context, q models.QueryRequest) (*models.Answer, error) {
	var answer models.Answer
	if err := c.postJSON(ctx, "/api/v1/query", q, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// Stream asks a question and relays the server-sent events. The channel closes after
// the terminal event or when the connection ends.
func (c *Client) Stream(ctx context.Context, q models.QueryRequest) (<-chan rag.Event, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/query/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	events := make(chan rag.Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		_ = ReadSSE(resp.Body, func(ev rag.Event) bool {
			select {
			case events <- ev:
				return ev.Type == rag.EventToken
			case <-ctx.Done():
				return false
			}
		})
	}()
	return events, nil
}

// ReadSSE decodes "data:" payloads of r as events and passes them to fn until fn
// returns false or r ends.
func ReadSSE(r io.Reader, fn func(rag.Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var ev rag.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if !fn(ev) {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

// Upload sends files as one multipart request.
func (c *Client) Upload(ctx context.Context, paths ...string) ([]models.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range paths {
		if err := addFilePart(mw, p); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/documents", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out struct {
		Results []models.UploadResult `json:"results"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func addFilePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Documents lists the user's documents.
func (c *Client) Documents(ctx context.Context) ([]*models.Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/documents", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Documents []*models.Document `json:"documents"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// Delete removes a document and reports whether it existed.
func (c *Client) Delete(ctx context.Context, fileID string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/documents/"+url.PathEscape(fileID), nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Deleted bool `json:"deleted"`
	}
	if err := c.do(req, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

// Rebuild rebuilds the user's index and returns its size.
func (c *Client) Rebuild(ctx context.Context) (int, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/index/rebuild", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		IndexSize int `json:"index_size"`
	}
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	return out.IndexSize, nil
}

// History returns up to limit recent turns, oldest first.
func (c *Client) History(ctx context.Context, limit int) ([]*models.Turn, error) {
	path := "/api/v1/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		History []*models.Turn `json:"history"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// ClearHistory removes the user's conversation history.
func (c *Client) ClearHistory(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/history", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Status returns server counters, scoped to the user when one is set.
func (c *Client) Status(ctx context.Context) (*service.Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	var st service.Status
	if err := c.do(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
