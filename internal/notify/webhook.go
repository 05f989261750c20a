package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body.
const SignatureHeader = "X-Caseledger-Signature"

// WebhookMessage is the JSON body posted by WebhookSender.
type WebhookMessage struct {
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookSender posts messages as signed JSON to a single endpoint, for
// firms that route notifications through their own systems.
type WebhookSender struct {
	url        string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
}

// NewWebhookSender creates a WebhookSender. Delivery is attempted up to
// three times, waiting 1s and then 5s between attempts.
func NewWebhookSender(url, secret string) (*WebhookSender, error) {
	if url == "" {
		return nil, errors.New("webhook URL not configured")
	}
	return &WebhookSender{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{time.Second, 5 * time.Second},
	}, nil
}

// Send posts the message, retrying on transport errors and 5xx responses.
func (w *WebhookSender) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(WebhookMessage{To: to, Subject: subject, Body: body, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal webhook message: %w", err)
	}
	signature := SignPayload(payload, w.secret)

	var lastErr error
	for attempt := 0; attempt <= len(w.delays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.delays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		retry, err := w.post(ctx, payload, signature)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return fmt.Errorf("deliver webhook for %s: %w", to, lastErr)
}

func (w *WebhookSender) post(ctx context.Context, payload []byte, signature string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("HTTP %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}

// SignPayload computes the signature header value for body.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
