// Package authority is the HTTP client for the central collector service: the
// agent registry that decides what happens to a repository and the store that
// receives evidence.
package authority

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/zeebo/blake3"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

const (
	apiKeyHeader      = "X-API-Key"
	collectorIDHeader = "X-Collector-ID"
	sizeHeader        = "X-Evidence-Size"
	digestHeader      = "X-Evidence-Digest"
	applicationJSON   = "application/json"
	octetStream       = "application/octet-stream"
)

// Client talks to the collector service. It implements domain.Authority.
type Client struct {
	baseURL string
	apiKey  string

	mu          sync.RWMutex
	collectorID string

	connected atomic.Bool
	// rejected is set while the service refuses our credentials, so the
	// configuration error is logged once rather than on every ping.
	rejected atomic.Bool

	http   *retryablehttp.Client
	logger *slog.Logger
}

// NewClient creates a client with the given API key and base URL. The client
// reports disconnected until the first successful Ping.
func NewClient(apiKey, baseURL string, logger *slog.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil
	// Hand the last response back instead of a bare "giving up" error so the
	// store's answer to an evidence upload is never lost.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    retryClient,
		logger:  logger,
	}
}

// UseCollectorID sets the identity sent with every request.
func (c *Client) UseCollectorID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectorID = id
}

// Connected reports the outcome of the most recent contact with the service.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Ping verifies connectivity and updates the connected flag.
func (c *Client) Ping(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, "/ping", applicationJSON, nil, nil)
	switch {
	case err != nil:
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = fmt.Errorf("credentials rejected (HTTP %d): %s", status, string(body))
		if !c.rejected.Swap(true) {
			c.logger.Error("collector service rejected the API key, check api_key", "status", status)
		}
	case status >= http.StatusInternalServerError:
		err = fmt.Errorf("ping returned %d: %s", status, string(body))
	default:
		c.rejected.Store(false)
	}
	c.connected.Store(err == nil)
	if err != nil {
		return domain.ErrAuthority{Op: "ping", Err: err}
	}
	return nil
}

// Watch pings the service every interval until ctx is done, logging
// connectivity changes.
func (c *Client) Watch(ctx context.Context, interval time.Duration) {
	c.check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *Client) check(ctx context.Context) {
	was := c.Connected()
	err := c.Ping(ctx)
	switch {
	case err != nil && was:
		c.logger.Warn("collector service unreachable", "err", err)
	case err == nil && !was:
		c.logger.Info("collector service connected", "url", c.baseURL)
	}
}

type statusData struct {
	Status  string         `json:"status"`
	AgentID domain.AgentID `json:"agent_id"`
}

// AgentStatus asks the registry for the state of the agent described by req.
func (c *Client) AgentStatus(ctx context.Context, req domain.StatusRequest) (domain.AgentStatus, domain.AgentID, error) {
	data, err := c.postJSON(ctx, "/agents/status", req)
	if err != nil {
		return "", 0, domain.ErrAuthority{Op: "agent status", Err: err}
	}

	resp, err := decodeResponse[statusData](data)
	if err != nil {
		return "", 0, domain.ErrAuthority{Op: "agent status", Err: err}
	}
	if !resp.OK || resp.Data == nil {
		return "", 0, domain.ErrAuthority{Op: "agent status", Err: fmt.Errorf("API returned ok=false: %s", resp.Error)}
	}

	status, err := domain.ParseAgentStatus(resp.Data.Status)
	if err != nil {
		return "", 0, err
	}
	return status, resp.Data.AgentID, nil
}

// SyncMetadata pushes the last known agent details.
func (c *Client) SyncMetadata(ctx context.Context, req domain.SyncRequest) error {
	if _, err := c.postJSON(ctx, "/agents/sync", req); err != nil {
		return domain.ErrAuthority{Op: "sync", Err: err}
	}
	return nil
}

// SendStats publishes a snapshot of the transfer counters.
func (c *Client) SendStats(ctx context.Context, snap domain.StatsSnapshot) error {
	if _, err := c.postJSON(ctx, "/stats", snap); err != nil {
		return domain.ErrAuthority{Op: "stats", Err: err}
	}
	return nil
}

type evidenceResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Action string `json:"action"`
}

// SendEvidence uploads one record. Transport failures and unreadable answers
// are reported as failed sends that keep the local record.
func (c *Client) SendEvidence(ctx context.Context, instance domain.Instance, record *domain.EvidenceRecord) domain.TransferResult {
	digest := blake3.Sum256(record.Payload)
	header := http.Header{}
	header.Set(sizeHeader, strconv.FormatInt(record.Size, 10))
	header.Set(digestHeader, hex.EncodeToString(digest[:]))

	path := "/evidence/" + url.PathEscape(string(instance))
	status, body, err := c.do(ctx, http.MethodPost, path, octetStream, record.Payload, header)
	if err != nil {
		return domain.TransferResult{Error: err.Error(), Action: domain.DispositionKeep}
	}

	var resp evidenceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.TransferResult{
			Error:  fmt.Sprintf("HTTP %d: unreadable response: %v", status, err),
			Action: domain.DispositionKeep,
		}
	}

	action, known := domain.ParseDisposition(resp.Action)
	if !known {
		c.logger.Warn("unknown evidence action, keeping local copy",
			"instance", instance,
			"evidence_id", record.ID,
			"action", resp.Action,
		)
	}

	res := domain.TransferResult{
		Success: resp.OK && status >= 200 && status < 300,
		Error:   resp.Error,
		Action:  action,
	}
	if !res.Success && res.Error == "" {
		res.Error = fmt.Sprintf("HTTP %d", status)
	}
	return res
}

type apiResponse[T any] struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  *T     `json:"data"`
}

func decodeResponse[T any](body []byte) (apiResponse[T], error) {
	var resp apiResponse[T]
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp, nil
}

// --- internal ---

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	status, data, err := c.do(ctx, http.MethodPost, path, applicationJSON, body, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.logger.Error("API error",
			"method", http.MethodPost,
			"path", path,
			"status", status,
			"body", string(data),
		)
		return nil, fmt.Errorf("API POST %s returned %d: %s", path, status, string(data))
	}
	return data, nil
}

// do performs a request. Only transport failures are returned as errors and
// they mark the client disconnected; HTTP error statuses are left to callers.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, header http.Header) (int, []byte, error) {
	var payload any
	if body != nil {
		payload = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(apiKeyHeader, c.apiKey)

	c.mu.RLock()
	collectorID := c.collectorID
	c.mu.RUnlock()
	if collectorID != "" {
		req.Header.Set(collectorIDHeader, collectorID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.connected.Store(false)
		return 0, nil, fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

var _ domain.Authority = (*Client)(nil)
