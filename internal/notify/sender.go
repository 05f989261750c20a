// Package notify delivers caseledger notifications to parties and auditors.
package notify

import "context"

// Sender delivers a plain-text message to one address.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
