package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ResendSender delivers messages through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a ResendSender. from is the sender address, for
// example "Caseledger <audit@example.com>".
func NewResendSender(apiKey, from string) (*ResendSender, error) {
	if apiKey == "" {
		return nil, errors.New("resend API key not configured")
	}
	return &ResendSender{client: resend.NewClient(apiKey), from: from}, nil
}

// Send delivers a plain-text message.
func (r *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}
	if _, err := r.client.Emails.Send(params); err != nil {
		return fmt.Errorf("send via resend to %s: %w", to, err)
	}
	return nil
}
