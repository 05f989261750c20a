package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors matched by APIError.Is.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("ledger unavailable")
)

// APIError is a non-2xx response from the caseledger API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("caseledger API error %d: %s", e.StatusCode, e.Message)
}

// Is lets callers match an APIError with errors.Is against the sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// Client talks to the caseledger HTTP API.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a session token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed certificate.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// New creates a Client for the API served at base.
//
//	c, err := client.New("http://localhost:8080", client.WithBearerToken(tok))
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ── Cases ────────────────────────────────────────────────────────────────

// CreateCase opens a case with the caller as lawyer.
func (c *Client) CreateCase(ctx context.Context, clientID, title string) (*Case, error) {
	var out Case
	err := c.call(ctx, http.MethodPost, "/api/v1/cases", map[string]any{"client_id": clientID, "title": title}, &out)
	return &out, err
}

// ListCases returns the cases the caller is a party to.
func (c *Client) ListCases(ctx context.Context) ([]*Case, error) {
	var out struct {
		Cases []*Case `json:"cases"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/cases", nil, &out)
	return out.Cases, err
}

// GetCase fetches one case.
func (c *Client) GetCase(ctx context.Context, caseID string) (*Case, error) {
	var out Case
	err := c.call(ctx, http.MethodGet, casePath(caseID), nil, &out)
	return &out, err
}

// Summary fetches the log totals of a case.
func (c *Client) Summary(ctx context.Context, caseID string) (*Summary, error) {
	var out Summary
	err := c.call(ctx, http.MethodGet, casePath(caseID)+"/summary", nil, &out)
	return &out, err
}

// SetStatus moves a case to status. label is required for "other".
func (c *Client) SetStatus(ctx context.Context, caseID, status, label, reason string) (*StatusChange, error) {
	var out StatusChange
	body := map[string]any{"status": status, "label": label, "reason": reason}
	err := c.call(ctx, http.MethodPost, casePath(caseID)+"/status", body, &out)
	return &out, err
}

// StatusHistory returns the status changes of a case, oldest first.
func (c *Client) StatusHistory(ctx context.Context, caseID string) ([]*StatusChange, error) {
	var out struct {
		Changes []*StatusChange `json:"changes"`
	}
	err := c.call(ctx, http.MethodGet, casePath(caseID)+"/status-history", nil, &out)
	return out.Changes, err
}

// Reconcile adopts a ledger entry the case store lost after a failed commit.
func (c *Client) Reconcile(ctx context.Context, caseID string) (*Reconciliation, error) {
	var out Reconciliation
	err := c.call(ctx, http.MethodPost, casePath(caseID)+"/reconcile", nil, &out)
	return &out, err
}

// ── Logs ─────────────────────────────────────────────────────────────────

// AddLog records a new progress log.
func (c *Client) AddLog(ctx context.Context, caseID, description string, timeSpent int) (*ProgressLog, error) {
	var out ProgressLog
	body := map[string]any{"description": description, "time_spent": timeSpent}
	err := c.call(ctx, http.MethodPost, casePath(caseID)+"/logs", body, &out)
	return &out, err
}

// EditLog records a new version of logID and returns it.
func (c *Client) EditLog(ctx context.Context, caseID, logID, description string, timeSpent int) (*ProgressLog, error) {
	var out ProgressLog
	body := map[string]any{"description": description, "time_spent": timeSpent}
	err := c.call(ctx, http.MethodPut, casePath(caseID)+"/logs/"+url.PathEscape(logID), body, &out)
	return &out, err
}

// ListLogs returns the current logs of a case, or every version when all is set.
func (c *Client) ListLogs(ctx context.Context, caseID string, all bool) ([]*ProgressLog, error) {
	path := casePath(caseID) + "/logs"
	if all {
		path += "?all=true"
	}
	var out struct {
		Logs []*ProgressLog `json:"logs"`
	}
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out.Logs, err
}

// LogHistory returns the lineage logID belongs to.
func (c *Client) LogHistory(ctx context.Context, caseID, logID string) (*LogHistory, error) {
	var out LogHistory
	err := c.call(ctx, http.MethodGet, casePath(caseID)+"/logs/"+url.PathEscape(logID)+"/history", nil, &out)
	return &out, err
}

// ── Audit ────────────────────────────────────────────────────────────────

// GrantAccess gives auditorID read access to a case for ttlHours.
func (c *Client) GrantAccess(ctx context.Context, caseID, auditorID string, ttlHours int) (*AuditGrant, error) {
	var out AuditGrant
	body := map[string]any{"auditor_id": auditorID, "ttl_hours": ttlHours}
	err := c.call(ctx, http.MethodPost, casePath(caseID)+"/grants", body, &out)
	return &out, err
}

// ListGrants returns every grant issued on a case.
func (c *Client) ListGrants(ctx context.Context, caseID string) ([]*AuditGrant, error) {
	var out struct {
		Grants []*AuditGrant `json:"grants"`
	}
	err := c.call(ctx, http.MethodGet, casePath(caseID)+"/grants", nil, &out)
	return out.Grants, err
}

// VerifyLog checks one log row against the case ledger.
func (c *Client) VerifyLog(ctx context.Context, caseID, logID string) (*LogVerification, error) {
	var out LogVerification
	path := "/api/v1/audit/cases/" + url.PathEscape(caseID) + "/logs/" + url.PathEscape(logID) + "/verify"
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return &out, err
}

// VerifyCase checks every log of a case and the ledger itself.
func (c *Client) VerifyCase(ctx context.Context, caseID string) (*CaseVerification, error) {
	var out CaseVerification
	err := c.call(ctx, http.MethodGet, "/api/v1/audit/cases/"+url.PathEscape(caseID)+"/verify", nil, &out)
	return &out, err
}

// ArchiveReport verifies a case server-side and stores the report. It
// returns the report location.
func (c *Client) ArchiveReport(ctx context.Context, caseID string) (string, error) {
	var out struct {
		Location string `json:"location"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/audit/cases/"+url.PathEscape(caseID)+"/reports", nil, &out)
	return out.Location, err
}

// Health calls /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil, nil)
}

// ── transport ────────────────────────────────────────────────────────────

func casePath(caseID string) string {
	return "/api/v1/cases/" + url.PathEscape(caseID)
}

// call sends reqBody as JSON and decodes a 2xx response into respBody.
// Either may be nil.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return nil, apiErr
	}
	return body, nil
}
