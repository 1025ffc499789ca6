package commands

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateUpDownVersion(t *testing.T) {
	db := filepath.Join(t.TempDir(), "nested", "tally.db")

	out, err := run(t, "migrate", "version", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 0 (clean)")

	out, err = run(t, "migrate", "up", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1 (clean)")

	out, err = run(t, "migrate", "down", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 0 (clean)")
}

func TestServeRejectsBadConfig(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := run(t, "serve", "--backend", "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestUnknownBackendFlag(t *testing.T) {
	_, err := run(t, "serve", "--backend", "postgres", "--port", "8099")
	require.Error(t, err)
}

func TestCallbackHandler(t *testing.T) {
	cases := []struct {
		name     string
		query    string
		status   int
		wantCode string
		wantErr  bool
		noResult bool
	}{
		{name: "code", query: "state=s1&code=abc", status: http.StatusOK, wantCode: "abc"},
		{name: "denied", query: "state=s1&error=access_denied", status: http.StatusBadRequest, wantErr: true},
		{name: "missing code", query: "state=s1", status: http.StatusBadRequest, wantErr: true},
		{name: "foreign state", query: "state=other&code=abc", status: http.StatusBadRequest, noResult: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results := make(chan callbackResult, 1)
			rec := httptest.NewRecorder()
			callbackHandler("s1", results).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+tc.query, nil))

			assert.Equal(t, tc.status, rec.Code)
			if tc.noResult {
				assert.Empty(t, results)
				return
			}
			res := <-results
			assert.Equal(t, tc.wantCode, res.code)
			assert.Equal(t, tc.wantErr, res.err != nil)
		})
	}
}
