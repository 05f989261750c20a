package archive_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/jmerrifield20/caseledger/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArchive_Put(t *testing.T) {
	a := archive.NewLocalArchive(t.TempDir())
	ctx := context.Background()

	loc, err := a.Put(ctx, "reports/C-7-12-01/r1.json", []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))

	_, err = a.Put(ctx, "reports/C-7-12-01/r1.json", []byte(`{}`), "application/json")
	assert.Error(t, err, "reports are never overwritten")
}

func TestLocalArchive_RejectsEscapingKeys(t *testing.T) {
	a := archive.NewLocalArchive(t.TempDir())
	for _, key := range []string{"", "/etc/passwd", "../x.json", "reports/../../x.json"} {
		_, err := a.Put(context.Background(), key, []byte("x"), "text/plain")
		assert.Error(t, err, key)
	}
}

func TestS3Archive_Put(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body []byte
		ct   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		path = r.URL.Path
		ct = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := archive.NewS3Archive(context.Background(), archive.S3Config{
		Bucket:          "audit",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Prefix:          "caseledger",
	})
	require.NoError(t, err)

	loc, err := a.Put(context.Background(), "reports/C-7-12-01/r1.json", []byte(`{"verified":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "s3://audit/caseledger/reports/C-7-12-01/r1.json", loc)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/audit/caseledger/reports/C-7-12-01/r1.json", path)
	assert.Equal(t, "application/json", ct)
	assert.Contains(t, string(body), `{"verified":true}`)
}

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	_, err := archive.NewS3Archive(context.Background(), archive.S3Config{})
	assert.Error(t, err)
}
