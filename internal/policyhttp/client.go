// Package policyhttp implements the policy backend protocol over JSON HTTP.
package policyhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tallyhr/accesscore/internal/access"
	apperrors "github.com/tallyhr/accesscore/pkg/errors"
)

// DefaultTimeout bounds a single policy call.
const DefaultTimeout = 5 * time.Second

// Client calls a remote policy service. Evaluate maps to POST /v1/evaluate
// and EvaluateBatch to POST /v1/evaluate-batch. Transport failures, timeouts
// and 5xx responses come back wrapped as transient so the evaluator can apply
// its fallback policy; 4xx responses are application errors.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option customises the Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets a bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New constructs a Client for the policy service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("policyhttp: invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL: parsed.String(),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type contextPayload struct {
	UserID             string   `json:"user_id"`
	Role               string   `json:"role"`
	DepartmentID       string   `json:"department_id,omitempty"`
	ManagedDepartments []string `json:"managed_departments,omitempty"`
	ResourceType       string   `json:"resource_type,omitempty"`
	ResourceID         string   `json:"resource_id,omitempty"`
}

type evaluateRequest struct {
	Permission string         `json:"permission"`
	Context    contextPayload `json:"context"`
}

type evaluateResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type batchRequest struct {
	Permissions []string       `json:"permissions"`
	Context     contextPayload `json:"context"`
}

type batchResponse struct {
	Results map[string]evaluateResponse `json:"results"`
}

// Evaluate asks the policy service for a single decision.
func (c *Client) Evaluate(ctx context.Context, permission access.Permission, pc access.PermissionContext) (access.Decision, error) {
	req := evaluateRequest{
		Permission: string(permission),
		Context:    encodeContext(pc),
	}

	var resp evaluateResponse
	if err := c.post(ctx, "/v1/evaluate", req, &resp); err != nil {
		return access.Decision{}, err
	}
	return access.Decision{Allowed: resp.Allowed, Reason: resp.Reason}, nil
}

// EvaluateBatch asks the policy service for several decisions in one call.
func (c *Client) EvaluateBatch(ctx context.Context, permissions []access.Permission, pc access.PermissionContext) (map[access.Permission]access.Decision, error) {
	req := batchRequest{
		Permissions: make([]string, 0, len(permissions)),
		Context:     encodeContext(pc),
	}
	for _, permission := range permissions {
		req.Permissions = append(req.Permissions, string(permission))
	}

	var resp batchResponse
	if err := c.post(ctx, "/v1/evaluate-batch", req, &resp); err != nil {
		return nil, err
	}

	decisions := make(map[access.Permission]access.Decision, len(resp.Results))
	for name, result := range resp.Results {
		decisions[access.Permission(name)] = access.Decision{Allowed: result.Allowed, Reason: result.Reason}
	}
	return decisions, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("policyhttp: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("policyhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return access.Transient(fmt.Errorf("policyhttp: %s: %w", path, err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return access.Transient(fmt.Errorf("policyhttp: read response: %w", err))
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return access.Transient(fmt.Errorf("policyhttp: %s: status %d", path, resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.ErrForbidden
	case resp.StatusCode != http.StatusOK:
		return apperrors.New(fmt.Sprintf("POLICY_STATUS_%d", resp.StatusCode),
			fmt.Sprintf("policy service returned status %d", resp.StatusCode), resp.StatusCode)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("policyhttp: decode response: %w", err)
	}
	return nil
}

func encodeContext(pc access.PermissionContext) contextPayload {
	payload := contextPayload{
		UserID:             pc.UserID,
		Role:               pc.Role,
		DepartmentID:       pc.DepartmentID,
		ManagedDepartments: pc.ManagedDepartments,
	}
	if pc.Resource != nil {
		payload.ResourceType = string(pc.Resource.Type)
		payload.ResourceID = pc.Resource.ID
	}
	return payload
}

// IsTimeout reports whether the error looks like a network timeout. Kept for
// callers that distinguish slow backends from hard failures.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
