package ledger

import (
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

	"github.com/jmerrifield20/caseledger/internal/canonical"
	"go.uber.org/zap"
)

// RemoteLedger talks to a ledger service over HTTP. Transport failures,
// timeouts and 5xx responses are reported as ErrUnavailable.
type RemoteLedger struct {
	base       string
	httpClient *http.Client
	token      string
	logger     *zap.Logger
}

// RemoteOption configures a RemoteLedger.
type RemoteOption func(*RemoteLedger)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) RemoteOption {
	return func(r *RemoteLedger) { r.httpClient = hc }
}

// WithAPIToken attaches a bearer token to every request.
func WithAPIToken(token string) RemoteOption {
	return func(r *RemoteLedger) { r.token = token }
}

// NewRemoteLedger creates a RemoteLedger for the ledger service at baseURL,
// e.g. "http://ledgerd:8090".
func NewRemoteLedger(baseURL string, logger *zap.Logger, opts ...RemoteOption) *RemoteLedger {
	r := &RemoteLedger{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open implements Ledger.
func (r *RemoteLedger) Open(ctx context.Context, caseID string, lawyer, client canonical.Digest) (string, error) {
	var resp OpenResponse
	err := r.do(ctx, http.MethodPost, "/api/v1/ledgers", OpenRequest{
		CaseID:       caseID,
		LawyerDigest: lawyer,
		ClientDigest: client,
	}, &resp)
	return resp.LedgerID, err
}

// Append implements Ledger.
func (r *RemoteLedger) Append(ctx context.Context, ledgerID string, hash canonical.Digest) (int, error) {
	var resp AppendResponse
	err := r.do(ctx, http.MethodPost, ledgerPath(ledgerID, "entries"), AppendRequest{Hash: hash}, &resp)
	return resp.Index, err
}

// AppendVersion implements Ledger.
func (r *RemoteLedger) AppendVersion(ctx context.Context, ledgerID string, parent int, hash canonical.Digest) (int, error) {
	var resp AppendResponse
	err := r.do(ctx, http.MethodPost, ledgerPath(ledgerID, "entries"), AppendRequest{
		Hash:        hash,
		ParentIndex: intPtr(parent),
	}, &resp)
	return resp.Index, err
}

// Entry implements Ledger.
func (r *RemoteLedger) Entry(ctx context.Context, ledgerID string, index int) (*Entry, error) {
	var e Entry
	if err := r.do(ctx, http.MethodGet, ledgerPath(ledgerID, "entries", strconv.Itoa(index)), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Len implements Ledger.
func (r *RemoteLedger) Len(ctx context.Context, ledgerID string) (int, error) {
	info, err := r.Info(ctx, ledgerID)
	if err != nil {
		return 0, err
	}
	return info.Entries, nil
}

// PostStatus implements Ledger.
func (r *RemoteLedger) PostStatus(ctx context.Context, ledgerID, status string, digest canonical.Digest) error {
	return r.do(ctx, http.MethodPost, ledgerPath(ledgerID, "status"), StatusRequest{
		Status: status,
		Digest: digest,
	}, nil)
}

// Finalize implements Ledger.
func (r *RemoteLedger) Finalize(ctx context.Context, ledgerID string, aggregate canonical.Digest) error {
	return r.do(ctx, http.MethodPost, ledgerPath(ledgerID, "finalize"), FinalizeRequest{Hash: aggregate}, nil)
}

// Info implements Ledger.
func (r *RemoteLedger) Info(ctx context.Context, ledgerID string) (*Info, error) {
	var info Info
	if err := r.do(ctx, http.MethodGet, ledgerPath(ledgerID), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Verify implements Ledger.
func (r *RemoteLedger) Verify(ctx context.Context, ledgerID string) error {
	var resp struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := r.do(ctx, http.MethodGet, ledgerPath(ledgerID, "verify"), nil, &resp); err != nil {
		return err
	}
	if !resp.Valid {
		return fmt.Errorf("ledger %s integrity check failed: %s", ledgerID, resp.Error)
	}
	return nil
}

func ledgerPath(ledgerID string, parts ...string) string {
	p := "/api/v1/ledgers/" + url.PathEscape(ledgerID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (r *RemoteLedger) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("ledger request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w: %w", method, path, ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, ErrUnavailable)
	}
	if resp.StatusCode >= 300 {
		var e ErrorResponse
		_ = json.Unmarshal(respBytes, &e)
		if sentinel := errorForCode(e.Code); sentinel != nil {
			return fmt.Errorf("%s %s: %s: %w", method, path, e.Error, sentinel)
		}
		return fmt.Errorf("%s %s: ledger service returned %d: %s", method, path, resp.StatusCode, string(respBytes))
	}

	if respBody != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, respBody); err != nil {
			return fmt.Errorf("%s %s: decode response: %w: %w", method, path, ErrUnavailable, err)
		}
	}
	return nil
}
