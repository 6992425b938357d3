// ABOUTME: Tests for registry-based base URL discovery
// ABOUTME: Covers the happy path, non-200 responses, and invalid URLs

package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"api_url": "https://api.garage.example.com/v2/"}`))
	}))
	defer srv.Close()

	got, err := ResolveBaseURL(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://api.garage.example.com/v2", got)
}

func TestResolveBaseURL_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := ResolveBaseURL(context.Background(), nil, srv.URL)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestResolveBaseURL_InvalidURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"api_url": "not a url"}`))
	}))
	defer srv.Close()

	_, err := ResolveBaseURL(context.Background(), nil, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api_url")
}
