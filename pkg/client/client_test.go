package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/caseledger/internal/casework/handler"
	"github.com/jmerrifield20/caseledger/internal/casework/repository"
	"github.com/jmerrifield20/caseledger/internal/casework/service"
	"github.com/jmerrifield20/caseledger/internal/identity"
	"github.com/jmerrifield20/caseledger/internal/ledger"
	"github.com/jmerrifield20/caseledger/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// apiServer runs the real API over an in-memory store and ledger.
func apiServer(t *testing.T) (*httptest.Server, *identity.SessionIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions, err := identity.NewSessionIssuer([]byte(strings.Repeat("s", 32)), "caseledger-test", 0)
	require.NoError(t, err)
	svc := service.NewCoordinator(repository.NewMemoryStore(), ledger.NewMemoryLedger(), zap.NewNop())

	require.NoError(t, handler.RegisterValidators())
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api := r.Group("/api/v1", identity.RequireSession(sessions))
	handler.NewCaseHandler(svc, zap.NewNop()).Register(api)
	handler.NewLogHandler(svc, zap.NewNop()).Register(api)
	handler.NewAuditHandler(svc, zap.NewNop()).Register(api)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, sessions
}

func clientFor(t *testing.T, srv *httptest.Server, sessions *identity.SessionIssuer, id string, role identity.Role) *client.Client {
	t.Helper()
	tok, err := sessions.Issue(identity.Principal{ID: id, Role: role})
	require.NoError(t, err)
	return client.MustNew(srv.URL, client.WithBearerToken(tok))
}

func TestClient_EndToEnd(t *testing.T) {
	srv, sessions := apiServer(t)
	ctx := context.Background()
	lawyer := clientFor(t, srv, sessions, "7", identity.RoleLawyer)
	cl := clientFor(t, srv, sessions, "12", identity.RoleClient)
	auditor := clientFor(t, srv, sessions, "aud_1", identity.RoleAuditor)

	require.NoError(t, lawyer.Health(ctx))

	cs, err := lawyer.CreateCase(ctx, "12", "Estate planning")
	require.NoError(t, err)
	assert.Equal(t, "C-7-12-01", cs.ID)
	assert.Equal(t, "pending", cs.Status)

	_, err = cl.SetStatus(ctx, cs.ID, "active", "", "engaged")
	require.NoError(t, err)

	entry, err := lawyer.AddLog(ctx, cs.ID, "Drafted will", 90)
	require.NoError(t, err)
	assert.Equal(t, "L-C-7-12-01-01", entry.ID)
	assert.Len(t, entry.Hash, 64)

	edited, err := lawyer.EditLog(ctx, cs.ID, entry.ID, "Drafted and reviewed will", 120)
	require.NoError(t, err)
	assert.Equal(t, 2, edited.Version)
	require.NotNil(t, edited.ParentIndex)
	assert.Equal(t, 0, *edited.ParentIndex)

	logs, err := cl.ListLogs(ctx, cs.ID, false)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	all, err := cl.ListLogs(ctx, cs.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	hist, err := cl.LogHistory(ctx, cs.ID, edited.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, hist.OriginID)
	assert.Equal(t, edited.ID, hist.HeadID)
	require.Len(t, hist.Snapshots, 1)
	assert.Equal(t, "Drafted will", hist.Snapshots[0].OldDescription)

	sum, err := cl.Summary(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalLogs)
	assert.Equal(t, 120, sum.TotalTimeSpent)

	_, err = auditor.VerifyCase(ctx, cs.ID)
	assert.True(t, errors.Is(err, client.ErrForbidden), "got %v", err)

	grant, err := cl.GrantAccess(ctx, cs.ID, "aud_1", 48)
	require.NoError(t, err)
	assert.Equal(t, "12", grant.GrantedBy)

	grants, err := lawyer.ListGrants(ctx, cs.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	report, err := auditor.VerifyCase(ctx, cs.ID)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.Equal(t, 2, report.Logs)
	require.Len(t, report.Groups, 1)
	assert.Len(t, report.Groups[0].Edits, 1)

	lv, err := auditor.VerifyLog(ctx, cs.ID, entry.ID)
	require.NoError(t, err)
	assert.True(t, lv.Verified)
	assert.True(t, lv.Superseded)

	rec, err := lawyer.Reconcile(ctx, cs.ID)
	require.NoError(t, err)
	assert.Nil(t, rec.Adopted)
	assert.Equal(t, 2, rec.LedgerLen)
	assert.Equal(t, 2, rec.StoredRows)
	_, err = cl.Reconcile(ctx, cs.ID)
	assert.True(t, errors.Is(err, client.ErrForbidden), "got %v", err)

	_, err = lawyer.SetStatus(ctx, cs.ID, "closed", "", "matter concluded")
	require.NoError(t, err)
	closed, err := lawyer.GetCase(ctx, cs.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, closed.FinalHash)
	assert.NotNil(t, closed.ClosedAt)

	history, err := cl.StatusHistory(ctx, cs.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	cases, err := cl.ListCases(ctx)
	require.NoError(t, err)
	assert.Len(t, cases, 1)
}

func TestClient_Errors(t *testing.T) {
	srv, sessions := apiServer(t)
	ctx := context.Background()
	lawyer := clientFor(t, srv, sessions, "7", identity.RoleLawyer)

	_, err := lawyer.GetCase(ctx, "C-7-12-05")
	assert.True(t, errors.Is(err, client.ErrNotFound), "got %v", err)

	_, err = lawyer.EditLog(ctx, "C-7-12-01", "L-C-7-12-01-01", "x", 1)
	require.Error(t, err)

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)

	anon := client.MustNew(srv.URL)
	_, err = anon.ListCases(ctx)
	assert.True(t, errors.Is(err, client.ErrUnauthenticated), "got %v", err)
}

func TestAPIError_Is(t *testing.T) {
	err := error(&client.APIError{StatusCode: http.StatusServiceUnavailable, Message: "ledger unavailable"})
	assert.True(t, errors.Is(err, client.ErrUnavailable))
	assert.False(t, errors.Is(err, client.ErrConflict))
	assert.Contains(t, err.Error(), "503")
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := client.New("not a url")
	assert.Error(t, err)
}

func TestProfile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	empty, err := client.LoadProfile(path)
	require.NoError(t, err)
	assert.Empty(t, empty.ServerURL)

	require.NoError(t, client.SaveProfile(path, &client.Profile{ServerURL: "http://localhost:8080", Token: "tok"}))
	got, err := client.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", got.ServerURL)
	assert.Equal(t, "tok", got.Token)
}
