// Package httpclient is the remote facade client (spec §4.9): a typed
// wrapper over the core's HTTP surface so a module manager or admin
// tool can talk to a distributed core much as it would to an in-process
// core.Core; it shares no Go interface with core.Core, and signatures
// differ where the wire shape does (GetRoot returns a nil root rather
// than a found flag). Structure follows the teacher's sdk/go/client
// package: a single Client holding an *http.Client plus a small
// request helper, with one method per core operation.
package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ace-core/ace/internal/model"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a remote facade over the core's HTTP surface.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Error represents a non-2xx response from the core. Kind mirrors the
// aceerr.Kind the server reported, when the body parsed as one.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("ace: %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ace: http %d: %s", e.StatusCode, e.Message)
}

// New creates a remote facade client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, result interface{}) error {
	fullURL := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}
	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &Error{StatusCode: resp.StatusCode, Kind: parsed.Kind, Message: msg}
}

// SubmitRoot posts a new or resubmitted root analysis (§4.2).
func (c *Client) SubmitRoot(ctx context.Context, root *model.RootAnalysis) (*model.RootAnalysis, error) {
	var result model.RootAnalysis
	if err := c.request(ctx, http.MethodPost, "/analysis/root", nil, root, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRoot fetches a root analysis by uuid (§4.8).
func (c *Client) GetRoot(ctx context.Context, rootUUID string) (*model.RootAnalysis, error) {
	var result model.RootAnalysis
	if err := c.request(ctx, http.MethodGet, "/analysis/root/"+url.PathEscape(rootUUID), nil, nil, &result); err != nil {
		if apiErr, ok := err.(*Error); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

// PostResult submits a completed analysis request back to the core (§4.3).
func (c *Client) PostResult(ctx context.Context, req *model.AnalysisRequest) (*model.RootAnalysis, error) {
	var result model.RootAnalysis
	if err := c.request(ctx, http.MethodPost, "/analysis/result", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LeaseNext leases the next queued request for an AMT version (§4.4).
// It returns a nil request, nil error when the queue is empty.
func (c *Client) LeaseNext(ctx context.Context, amtName, amtVersion, owner string, visibilityTimeout time.Duration) (*model.AnalysisRequest, error) {
	query := url.Values{"owner": {owner}}
	if visibilityTimeout > 0 {
		query.Set("visibility_timeout_seconds", strconv.Itoa(int(visibilityTimeout.Seconds())))
	}
	path := fmt.Sprintf("/work/%s/%s", url.PathEscape(amtName), url.PathEscape(amtVersion))

	fullURL := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + query.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp)
	}
	var req model.AnalysisRequest
	if err := json.NewDecoder(resp.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &req, nil
}

// GetModuleType fetches the currently-registered module type by name (§4.1).
func (c *Client) GetModuleType(ctx context.Context, name string) (*model.AnalysisModuleType, error) {
	var result model.AnalysisModuleType
	if err := c.request(ctx, http.MethodGet, "/module/type/"+url.PathEscape(name), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterModuleType registers or replaces an AMT (§4.1). Requires an
// admin bearer token; the caller is responsible for exchanging its
// admin password via IssueAdminToken beforehand and setting cfg.APIKey
// (or its own per-call header) to the resulting token.
func (c *Client) RegisterModuleType(ctx context.Context, amt *model.AnalysisModuleType) (*model.AnalysisModuleType, error) {
	var result model.AnalysisModuleType
	if err := c.request(ctx, http.MethodPost, "/module/type", nil, amt, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UnregisterModuleType removes an AMT registration (§4.1).
func (c *Client) UnregisterModuleType(ctx context.Context, name string) error {
	return c.request(ctx, http.MethodDelete, "/module/type/"+url.PathEscape(name), nil, nil, nil)
}

// PutBlob uploads a blob and returns its content-addressed sha256 handle (§4.8).
func (c *Client) PutBlob(ctx context.Context, data []byte) (string, error) {
	fullURL := strings.TrimRight(c.cfg.BaseURL, "/") + "/blob"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", parseError(resp)
	}
	var result struct {
		SHA256 string `json:"sha256"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.SHA256, nil
}

// GetBlob downloads a blob by its sha256 handle (§4.8).
func (c *Client) GetBlob(ctx context.Context, handle string) ([]byte, error) {
	fullURL := strings.TrimRight(c.cfg.BaseURL, "/") + "/blob/" + url.PathEscape(handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, parseError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Subscribe opens a server-sent-events connection on the given topic
// and delivers each event payload to handler until ctx is cancelled or
// the connection drops. It blocks for the lifetime of the stream; call
// it from its own goroutine.
func (c *Client) Subscribe(ctx context.Context, topic string, handler func(payload json.RawMessage)) error {
	fullURL := strings.TrimRight(c.cfg.BaseURL, "/") + "/events?" + url.Values{"topic": {topic}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	streamClient := &http.Client{} // SSE streams have no fixed deadline, unlike c.httpClient
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return parseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		handler(json.RawMessage(strings.TrimPrefix(line, "data: ")))
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

// IssueAdminToken exchanges the admin password for a short-lived admin
// bearer token accepted by the registration/unregistration endpoints.
func (c *Client) IssueAdminToken(ctx context.Context, password string) (string, error) {
	var result struct {
		Token string `json:"token"`
	}
	body := map[string]string{"password": password}
	if err := c.request(ctx, http.MethodPost, "/admin/token", nil, body, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}
