package cloudclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Health_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", srv.Client())
	require.NoError(t, c.Health(context.Background(), time.Second))
}

func TestClient_UploadBatch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"saved":2,"duplicates":0}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", srv.Client())
	result := c.UploadBatch(context.Background(), time.Second, []Event{{BadgeID: "A"}, {BadgeID: "B"}})

	require.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, result.Response.Saved)
}

func TestClient_UploadBatch_ClassifiesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad-key", srv.Client())
	result := c.UploadBatch(context.Background(), time.Second, nil)

	assert.Equal(t, OutcomePermanentAuth, result.Outcome)
}

func TestClient_UploadBatch_ClassifiesClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", srv.Client())
	result := c.UploadBatch(context.Background(), time.Second, nil)

	assert.Equal(t, OutcomePermanentClient, result.Outcome)
}

func TestClient_UploadBatch_ClassifiesTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", srv.Client())
	result := c.UploadBatch(context.Background(), time.Second, nil)

	assert.Equal(t, OutcomeTransient, result.Outcome)
}

func TestClient_UploadBatch_ClassifiesMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", srv.Client())
	result := c.UploadBatch(context.Background(), time.Second, nil)

	assert.Equal(t, OutcomeMalformed, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrMalformedResponse)
}

// TestClient_UploadBatch_ClassifiesEmptyBodyAsMalformed guards spec.md §4.C's distinction
// between "2xx with saved+duplicates fields" (Success) and a 2xx body lacking those fields,
// which must be treated as malformed rather than silently decoded as a zero-item success.
func TestClient_UploadBatch_ClassifiesEmptyBodyAsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", srv.Client())
	result := c.UploadBatch(context.Background(), time.Second, nil)

	assert.Equal(t, OutcomeMalformed, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrMalformedResponse)
}
