package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestIssuer(t *testing.T) *SessionIssuer {
	t.Helper()
	s, err := NewSessionIssuer(testSecret, "https://caseledger.test", time.Hour)
	require.NoError(t, err)
	return s
}

func TestNewSessionIssuer_ShortSecret(t *testing.T) {
	_, err := NewSessionIssuer([]byte("short"), "iss", time.Hour)
	assert.Error(t, err)
}

func TestSession_RoundTrip(t *testing.T) {
	s := newTestIssuer(t)

	token, err := s.Issue(Principal{ID: "law_7", Role: RoleLawyer})
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{ID: "law_7", Role: RoleLawyer}, claims.Principal())
	assert.Equal(t, "https://caseledger.test", claims.Issuer)
}

func TestSession_IssueRejectsBadPrincipal(t *testing.T) {
	s := newTestIssuer(t)

	_, err := s.Issue(Principal{ID: "has-dash", Role: RoleClient})
	assert.Error(t, err)
	_, err = s.Issue(Principal{ID: "ok", Role: "admin"})
	assert.Error(t, err)
}

func TestSession_VerifyFailures(t *testing.T) {
	s := newTestIssuer(t)
	token, err := s.Issue(Principal{ID: "cli_1", Role: RoleClient})
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		_, err := s.Verify(token[:len(token)-2] + "xx")
		assert.Error(t, err)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewSessionIssuer([]byte("fedcba9876543210fedcba9876543210"), "https://caseledger.test", time.Hour)
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.Error(t, err)
	})

	t.Run("other issuer", func(t *testing.T) {
		other, err := NewSessionIssuer(testSecret, "https://elsewhere.test", time.Hour)
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		later := newTestIssuer(t)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Verify(token)
		assert.Error(t, err)
	})
}

func TestRequireSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestIssuer(t)

	r := gin.New()
	r.GET("/me", RequireSession(s), func(c *gin.Context) {
		p, _ := PrincipalFromCtx(c)
		c.JSON(http.StatusOK, p)
	})
	r.GET("/lawyers", RequireSession(s), RequireRole(RoleLawyer), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	clientToken, err := s.Issue(Principal{ID: "cli_1", Role: RoleClient})
	require.NoError(t, err)

	do := func(path, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "Bearer nope").Code)

	w := do("/me", "Bearer "+clientToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"cli_1"`)

	assert.Equal(t, http.StatusForbidden, do("/lawyers", "Bearer "+clientToken).Code)
}
