package agentfi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AgentFi daemon REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// StartRunRequest represents the payload required to start a hire run.
type StartRunRequest struct {
	TokenID    uint64 `json:"token_id"`
	Query      string `json:"query"`
	CrossAgent bool   `json:"cross_agent"`
	Price      string `json:"price,omitempty"`
	Owner      string `json:"owner,omitempty"`
}

// RunSnapshot is the daemon's view of a run.
type RunSnapshot struct {
	ID         string          `json:"id,omitempty"`
	Step       string          `json:"step"`
	Mode       string          `json:"mode,omitempty"`
	TokenID    uint64          `json:"token_id"`
	Query      string          `json:"query,omitempty"`
	CrossAgent bool            `json:"cross_agent"`
	TxHash     string          `json:"tx_hash,omitempty"`
	ChainID    string          `json:"chain_id,omitempty"`
	PaymentID  *uint64         `json:"payment_id,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	StartedAt  int64           `json:"started_at,omitempty"`
	FinishedAt int64           `json:"finished_at,omitempty"`
}

// RunRecord is a finished run as recorded in history.
type RunRecord struct {
	ID         string  `json:"id"`
	Mode       string  `json:"mode"`
	Step       string  `json:"step"`
	TokenID    uint64  `json:"token_id"`
	Query      string  `json:"query"`
	CrossAgent bool    `json:"cross_agent"`
	TxHash     string  `json:"tx_hash"`
	ChainID    string  `json:"chain_id"`
	PaymentID  *uint64 `json:"payment_id,omitempty"`
	ResultText string  `json:"result_text"`
	ErrorCode  string  `json:"error_code"`
	LastError  string  `json:"last_error"`
	StartedAt  int64   `json:"started_at"`
	FinishedAt int64   `json:"finished_at"`
}

// ModeInfo describes the currently selected application mode.
type ModeInfo struct {
	Selected bool `json:"selected"`
	Mode     *struct {
		Name           string `json:"Name"`
		ChainName      string `json:"ChainName"`
		CurrencySymbol string `json:"CurrencySymbol"`
		ExplorerURL    string `json:"ExplorerURL"`
		RequiresKYC    bool   `json:"RequiresKYC"`
	} `json:"mode,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentfi api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentfi api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentFi daemon API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// StartRun kicks off a hire run and returns the initial snapshot.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (RunSnapshot, error) {
	var snap RunSnapshot
	if err := c.post(ctx, "/api/v1/runs", req, &snap); err != nil {
		return RunSnapshot{}, err
	}
	return snap, nil
}

// CurrentRun fetches the live snapshot of the run in progress.
func (c *Client) CurrentRun(ctx context.Context) (RunSnapshot, error) {
	var snap RunSnapshot
	if err := c.get(ctx, "/api/v1/runs/current", &snap); err != nil {
		return RunSnapshot{}, err
	}
	return snap, nil
}

// ResetRun clears a finished run back to idle.
func (c *Client) ResetRun(ctx context.Context) (RunSnapshot, error) {
	var snap RunSnapshot
	if err := c.post(ctx, "/api/v1/runs/reset", struct{}{}, &snap); err != nil {
		return RunSnapshot{}, err
	}
	return snap, nil
}

// ListRuns fetches the recorded run history.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	endpoint := "/api/v1/runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var records []RunRecord
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Mode returns the currently selected application mode. Before a mode
// has been chosen the daemon answers 404 with code MODE_NOT_SELECTED,
// surfaced here as an *APIError.
func (c *Client) Mode(ctx context.Context) (ModeInfo, error) {
	var info ModeInfo
	if err := c.get(ctx, "/api/v1/mode", &info); err != nil {
		return ModeInfo{}, err
	}
	return info, nil
}

// SetMode switches the application mode ("permissionless" or "compliant").
func (c *Client) SetMode(ctx context.Context, name string) (ModeInfo, error) {
	var info ModeInfo
	payload := struct {
		Mode string `json:"mode"`
	}{Mode: name}
	if err := c.put(ctx, "/api/v1/mode", payload, &info); err != nil {
		return ModeInfo{}, err
	}
	return info, nil
}

// ClearMode resets the mode selection.
func (c *Client) ClearMode(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/mode", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) put(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
