package notify_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/caseledger/internal/casework/model"
	"github.com/jmerrifield20/caseledger/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSender struct {
	to, subject, body string
	calls             int
	err               error
}

func (s *captureSender) Send(_ context.Context, to, subject, body string) error {
	s.calls++
	s.to, s.subject, s.body = to, subject, body
	return s.err
}

func testGrant() (*model.Case, *model.AuditGrant) {
	c := &model.Case{ID: "C-7-12-01", Title: "Estate", LawyerID: "7", ClientID: "12"}
	g := &model.AuditGrant{
		CaseID:    c.ID,
		AuditorID: "aud_1",
		GrantedBy: "12",
		ExpiresAt: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	return c, g
}

func TestDispatcher_NotifyGrant(t *testing.T) {
	sender := &captureSender{}
	d := notify.NewDispatcher(sender, "{party}@audit.example.com", zap.NewNop())
	c, g := testGrant()

	require.NoError(t, d.NotifyGrant(context.Background(), c, g))
	assert.Equal(t, "aud_1@audit.example.com", sender.to)
	assert.Contains(t, sender.subject, "C-7-12-01")
	assert.True(t, strings.Contains(sender.body, "Estate"))
	assert.Contains(t, sender.body, "Sun, 02 Mar 2025 09:00:00 UTC")
}

func TestDispatcher_NoTemplateSkips(t *testing.T) {
	sender := &captureSender{}
	d := notify.NewDispatcher(sender, "", zap.NewNop())
	c, g := testGrant()

	require.NoError(t, d.NotifyGrant(context.Background(), c, g))
	assert.Zero(t, sender.calls)
}

func TestDispatcher_SenderError(t *testing.T) {
	sender := &captureSender{err: errors.New("relay refused")}
	d := notify.NewDispatcher(sender, "{party}@x.test", zap.NewNop())
	c, g := testGrant()

	err := d.NotifyGrant(context.Background(), c, g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aud_1")
}

func TestNoopSender(t *testing.T) {
	assert.NoError(t, notify.NewNoopSender(zap.NewNop()).Send(context.Background(), "a@b", "s", "b"))
}

func TestResendSender_RequiresKey(t *testing.T) {
	_, err := notify.NewResendSender("", "from@x.test")
	assert.Error(t, err)
}
