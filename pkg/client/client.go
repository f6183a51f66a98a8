// Package client is a typed Go client for the vaultd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/api"
	"github.com/Mindburn-Labs/vault/pkg/budget"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/governance"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status  int
	Title   string
	Detail  string
	Code    string
	TraceID string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("vaultd %d: %s (%s)", e.Status, e.Detail, e.Code)
	}
	return fmt.Sprintf("vaultd %d: %s", e.Status, e.Detail)
}

// Is matches the engine error named by Code, so callers can test
// errors.Is(err, contracts.ErrLimitExceeded) across the wire.
func (e *APIError) Is(target error) bool {
	sentinel := api.ErrorForCode(e.Code)
	return sentinel != nil && errors.Is(sentinel, target)
}

// Client calls one vaultd instance.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var p api.ProblemDetail
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return &APIError{Status: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
		}
		return &APIError{Status: resp.StatusCode, Title: p.Title, Detail: p.Detail, Code: p.Code, TraceID: p.TraceID}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type idResponse struct {
	ID uint64 `json:"id"`
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Propose calls POST /v1/proposals and returns the new id.
func (c *Client) Propose(ctx context.Context, req governance.ProposeRequest) (uint64, error) {
	var out idResponse
	err := c.do(ctx, http.MethodPost, "/v1/proposals", req, &out)
	return out.ID, err
}

// Proposal calls GET /v1/proposals/{id}.
func (c *Client) Proposal(ctx context.Context, id uint64) (*contracts.Proposal, error) {
	var out contracts.Proposal
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/proposals/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) proposalAction(ctx context.Context, id uint64, action string) (*contracts.Proposal, error) {
	var out contracts.Proposal
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/proposals/%d/%s", id, action), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve records the caller's approval and returns the updated proposal.
func (c *Client) Approve(ctx context.Context, id uint64) (*contracts.Proposal, error) {
	return c.proposalAction(ctx, id, "approve")
}

// Abstain records the caller's abstention.
func (c *Client) Abstain(ctx context.Context, id uint64) (*contracts.Proposal, error) {
	return c.proposalAction(ctx, id, "abstain")
}

// Execute transfers the funds of an approved proposal.
func (c *Client) Execute(ctx context.Context, id uint64) (*contracts.Proposal, error) {
	return c.proposalAction(ctx, id, "execute")
}

// Reject closes a proposal.
func (c *Client) Reject(ctx context.Context, id uint64) (*contracts.Proposal, error) {
	return c.proposalAction(ctx, id, "reject")
}

// Expire closes an overdue proposal.
func (c *Client) Expire(ctx context.Context, id uint64) (*contracts.Proposal, error) {
	return c.proposalAction(ctx, id, "expire")
}

// Queue calls GET /v1/queue. A nil tier returns every pending id, most urgent first.
func (c *Client) Queue(ctx context.Context, tier *contracts.Priority) ([]uint64, error) {
	path := "/v1/queue"
	if tier != nil {
		path += "?priority=" + url.QueryEscape(tier.String())
	}
	var out struct {
		IDs []uint64 `json:"ids"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.IDs, err
}

// Reputation calls GET /v1/reputation/{addr}.
func (c *Client) Reputation(ctx context.Context, addr string) (*contracts.Reputation, error) {
	var out contracts.Reputation
	if err := c.do(ctx, http.MethodGet, "/v1/reputation/"+url.PathEscape(addr), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NotificationPrefs calls GET /v1/notifications/{addr}.
func (c *Client) NotificationPrefs(ctx context.Context, addr string) (*contracts.NotificationPrefs, error) {
	var out contracts.NotificationPrefs
	if err := c.do(ctx, http.MethodGet, "/v1/notifications/"+url.PathEscape(addr), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetNotificationPrefs stores the caller's own preferences.
func (c *Client) SetNotificationPrefs(ctx context.Context, prefs contracts.NotificationPrefs) error {
	return c.do(ctx, http.MethodPut, "/v1/notifications", prefs, nil)
}

// Config calls GET /v1/config.
func (c *Client) Config(ctx context.Context) (*contracts.Config, error) {
	var out contracts.Config
	if err := c.do(ctx, http.MethodGet, "/v1/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview reports whether amount would pass the spending caps now.
func (c *Client) Preview(ctx context.Context, amount int64) (*budget.Decision, error) {
	var out budget.Decision
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/preview?amount=%d", amount), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRecurring calls POST /v1/recurring and returns the new id.
func (c *Client) CreateRecurring(ctx context.Context, req governance.RecurringRequest) (uint64, error) {
	var out idResponse
	err := c.do(ctx, http.MethodPost, "/v1/recurring", req, &out)
	return out.ID, err
}

// Recurring calls GET /v1/recurring/{id}.
func (c *Client) Recurring(ctx context.Context, id uint64) (*contracts.RecurringPayment, error) {
	var out contracts.RecurringPayment
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/recurring/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteRecurring pays one due cycle.
func (c *Client) ExecuteRecurring(ctx context.Context, id uint64) (*contracts.RecurringPayment, error) {
	var out contracts.RecurringPayment
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/recurring/%d/execute", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopRecurring deactivates a payment.
func (c *Client) StopRecurring(ctx context.Context, id uint64) (*contracts.RecurringPayment, error) {
	var out contracts.RecurringPayment
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/recurring/%d/stop", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProposeCrossChain calls POST /v1/crosschain.
func (c *Client) ProposeCrossChain(ctx context.Context, req governance.CrossChainRequest) (uint64, error) {
	var out idResponse
	err := c.do(ctx, http.MethodPost, "/v1/crosschain", req, &out)
	return out.ID, err
}

// CrossChainProposal calls GET /v1/crosschain/{id}.
func (c *Client) CrossChainProposal(ctx context.Context, id uint64) (*contracts.CrossChainProposal, error) {
	var out contracts.CrossChainProposal
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/crosschain/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveCrossChain records the caller's approval.
func (c *Client) ApproveCrossChain(ctx context.Context, id uint64) (*contracts.CrossChainProposal, error) {
	var out contracts.CrossChainProposal
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/crosschain/%d/approve", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteCrossChain submits the bridge transfer and returns the tracked asset id.
func (c *Client) ExecuteCrossChain(ctx context.Context, id uint64, bridgeTxHash string) (uint64, error) {
	var out struct {
		AssetID uint64 `json:"asset_id"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/crosschain/%d/execute", id), map[string]string{"bridge_tx_hash": bridgeTxHash}, &out)
	return out.AssetID, err
}

// Asset calls GET /v1/assets/{id}.
func (c *Client) Asset(ctx context.Context, id uint64) (*contracts.CrossChainAsset, error) {
	var out contracts.CrossChainAsset
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/assets/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordConfirmations reports the observed confirmation depth of an asset.
func (c *Client) RecordConfirmations(ctx context.Context, assetID uint64, confirmations uint32) (*contracts.CrossChainAsset, error) {
	var out contracts.CrossChainAsset
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/assets/%d/confirmations", assetID), map[string]uint32{"confirmations": confirmations}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
