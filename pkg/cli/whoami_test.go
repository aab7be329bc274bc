package cli

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWhoami(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/me", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid credential"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"principal":{"sub":"U1"},"assigned_roles":["billing"],"permissions":["invoice:read"]}`))
	}))
	defer server.Close()

	t.Run("success", func(t *testing.T) {
		buf := captureOutput(t)
		require.NoError(t, runWhoami([]string{"-server", server.URL + "/", "-token", "good"}))
		assert.Contains(t, buf.String(), `"invoice:read"`)
	})

	t.Run("gateway error", func(t *testing.T) {
		captureOutput(t)
		err := runWhoami([]string{"-server", server.URL, "-token", "bad"})
		require.Error(t, err)
		assert.Equal(t, "gateway returned 401: invalid credential", err.Error())
	})

	t.Run("missing token", func(t *testing.T) {
		t.Setenv("ACCESSGATE_TOKEN", "")
		captureOutput(t)
		err := runWhoami([]string{"-server", server.URL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token is required")
	})
}

func TestRunWhoami_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	captureOutput(t)
	err := runWhoami([]string{"-server", url, "-token", "good"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach gateway")
}
