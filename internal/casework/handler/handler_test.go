package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/caseledger/internal/canonical"
	"github.com/jmerrifield20/caseledger/internal/casework/handler"
	"github.com/jmerrifield20/caseledger/internal/casework/repository"
	"github.com/jmerrifield20/caseledger/internal/casework/service"
	"github.com/jmerrifield20/caseledger/internal/identity"
	"github.com/jmerrifield20/caseledger/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router   *gin.Engine
	sessions *identity.SessionIssuer
	ledger   *ledger.MemoryLedger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions, err := identity.NewSessionIssuer([]byte(strings.Repeat("k", 32)), "caseledger-test", 0)
	require.NoError(t, err)

	mem := ledger.NewMemoryLedger()
	svc := service.NewCoordinator(repository.NewMemoryStore(), mem, zap.NewNop())
	svc.SetMetrics(handler.PrometheusRecorder{})

	require.NoError(t, handler.RegisterValidators())
	r := gin.New()
	r.Use(handler.RequestLogger(zap.NewNop()), handler.PrometheusMiddleware())
	r.GET("/metrics", handler.MetricsHandler())
	api := r.Group("/api/v1", identity.RequireSession(sessions))
	handler.NewCaseHandler(svc, zap.NewNop()).Register(api)
	handler.NewLogHandler(svc, zap.NewNop()).Register(api)
	handler.NewAuditHandler(svc, zap.NewNop()).Register(api)

	return &testServer{router: r, sessions: sessions, ledger: mem}
}

func (s *testServer) token(t *testing.T, id string, role identity.Role) string {
	t.Helper()
	tok, err := s.sessions.Issue(identity.Principal{ID: id, Role: role})
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// activeCase creates C-7-12-01 and has the client accept it.
func activeCase(t *testing.T, s *testServer) (lawyerTok, clientTok string) {
	t.Helper()
	lawyerTok = s.token(t, "7", identity.RoleLawyer)
	clientTok = s.token(t, "12", identity.RoleClient)

	w := s.do(t, http.MethodPost, "/api/v1/cases", lawyerTok, map[string]any{"client_id": "12", "title": "Estate <b>plan</b>"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	require.Equal(t, "C-7-12-01", created["id"])
	assert.Equal(t, "Estate plan", created["title"])

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/status", clientTok, map[string]any{"status": "active"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return lawyerTok, clientTok
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/cases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cases", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateCase_Validation(t *testing.T) {
	s := newTestServer(t)
	lawyerTok := s.token(t, "7", identity.RoleLawyer)

	w := s.do(t, http.MethodPost, "/api/v1/cases", s.token(t, "12", identity.RoleClient), map[string]any{"client_id": "13"})
	assert.Equal(t, http.StatusForbidden, w.Code, "clients cannot open cases")

	w = s.do(t, http.MethodPost, "/api/v1/cases", lawyerTok, map[string]any{"client_id": "bad-id"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cases", lawyerTok, map[string]any{"client_id": "7"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "lawyer and client must differ")
}

func TestCaseLifecycle(t *testing.T) {
	s := newTestServer(t)
	lawyerTok := s.token(t, "7", identity.RoleLawyer)

	w := s.do(t, http.MethodPost, "/api/v1/cases", lawyerTok, map[string]any{"client_id": "12", "title": "Lease"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/logs", lawyerTok, map[string]any{"description": "x", "time_spent": 5})
	assert.Equal(t, http.StatusConflict, w.Code, "pending cases take no logs")

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/status", lawyerTok, map[string]any{"status": "active"})
	assert.Equal(t, http.StatusForbidden, w.Code, "only the client accepts")

	clientTok := s.token(t, "12", identity.RoleClient)
	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/status", clientTok, map[string]any{"status": "active"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/status", lawyerTok, map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/status", lawyerTok, map[string]any{"status": "other"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "other needs a label")

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/status", lawyerTok,
		map[string]any{"status": "other", "label": "Waiting on court", "reason": "hearing moved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-01/status-history", clientTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/api/v1/cases", clientTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-01", s.token(t, "99", identity.RoleClient), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-09", lawyerTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cases/not-a-case", lawyerTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogsAndEdits(t *testing.T) {
	s := newTestServer(t)
	lawyerTok, clientTok := activeCase(t, s)

	w := s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/logs", lawyerTok,
		map[string]any{"description": "Drafted <b>motion</b>", "time_spent": 30})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, "L-C-7-12-01-01", first["id"])
	assert.Equal(t, "Drafted motion", first["description"])

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/logs", lawyerTok, map[string]any{"description": "no time"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/logs", clientTok, map[string]any{"description": "x", "time_spent": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/cases/C-7-12-01/logs/L-C-7-12-01-01", lawyerTok,
		map[string]any{"description": "Drafted and filed motion", "time_spent": 45})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	edit := decode(t, w)
	assert.Equal(t, "L-C-7-12-01-02", edit["id"])
	assert.EqualValues(t, 2, edit["version"])
	assert.EqualValues(t, 0, edit["parent_index"])

	w = s.do(t, http.MethodPut, "/api/v1/cases/C-7-12-01/logs/L-C-7-12-01-01", lawyerTok,
		map[string]any{"description": "again", "time_spent": 1})
	assert.Equal(t, http.StatusConflict, w.Code, "superseded versions cannot be edited")

	w = s.do(t, http.MethodPut, "/api/v1/cases/C-7-12-01/logs/L-C-7-12-02-01", lawyerTok,
		map[string]any{"description": "x", "time_spent": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-01/logs", clientTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-01/logs?all=true", clientTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-01/logs/L-C-7-12-01-02/history", clientTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode(t, w)
	assert.Equal(t, "L-C-7-12-01-01", hist["origin_id"])
	assert.Len(t, hist["versions"], 2)

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-01/summary", clientTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode(t, w)
	assert.EqualValues(t, 1, sum["total_logs"])
	assert.EqualValues(t, 45, sum["total_time_spent"])
}

func TestReconcile(t *testing.T) {
	s := newTestServer(t)
	lawyerTok, clientTok := activeCase(t, s)

	w := s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/reconcile", clientTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/reconcile", lawyerTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, decode(t, w)["adopted"])

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-01", lawyerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ledgerID, _ := decode(t, w)["ledger_id"].(string)
	require.NotEmpty(t, ledgerID)
	_, err := s.ledger.Append(context.Background(), ledgerID, canonical.Sum([]byte("lost commit")))
	require.NoError(t, err)

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/logs", lawyerTok, map[string]any{"description": "Call", "time_spent": 10})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/reconcile", lawyerTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	adopted, ok := decode(t, w)["adopted"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "L-C-7-12-01-01", adopted["id"])
	assert.Equal(t, true, adopted["orphan"])

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/logs", lawyerTok, map[string]any{"description": "Call", "time_spent": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "L-C-7-12-01-02", decode(t, w)["id"])
}

func TestAuditorAccess(t *testing.T) {
	s := newTestServer(t)
	lawyerTok, clientTok := activeCase(t, s)
	auditorTok := s.token(t, "aud_1", identity.RoleAuditor)

	w := s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/logs", lawyerTok, map[string]any{"description": "Call", "time_spent": 10})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/audit/cases/C-7-12-01/verify", auditorTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/grants", auditorTok, map[string]any{"auditor_id": "aud_1", "ttl_hours": 24})
	assert.Equal(t, http.StatusForbidden, w.Code, "auditors cannot grant")

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/grants", clientTok, map[string]any{"auditor_id": "aud_1", "ttl_hours": 100000})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cases/C-7-12-01/grants", clientTok, map[string]any{"auditor_id": "aud_1", "ttl_hours": 24})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/audit/cases/C-7-12-01/verify", auditorTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode(t, w)
	assert.Equal(t, true, report["verified"])
	assert.EqualValues(t, 1, report["logs"])

	w = s.do(t, http.MethodGet, "/api/v1/audit/cases/C-7-12-01/logs/L-C-7-12-01-01/verify", auditorTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["verified"])

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-01/grants", auditorTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "grant lists are for parties only")

	w = s.do(t, http.MethodGet, "/api/v1/cases/C-7-12-01/grants", lawyerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = s.do(t, http.MethodPost, "/api/v1/audit/cases/C-7-12-01/reports", auditorTok, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "no archive configured")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/cases", "", nil)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "caseledger_requests_total")
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 2))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
