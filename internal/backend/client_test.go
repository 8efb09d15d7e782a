package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/partlab/partscope/internal/session"
)

func TestSubmitReturnsJobID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/analyses", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-API-Key"))

		var input session.JobInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		require.Equal(t, "https://example.com/pump.jpg", input.ArtifactURL)

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"job-77"}`))
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	jobID, err := client.Submit(context.Background(), session.JobInput{
		ArtifactURL: "https://example.com/pump.jpg",
		Hints:       map[string]string{"domain": "hydraulics"},
	})
	require.NoError(t, err)
	require.Equal(t, "job-77", jobID)
}

func TestSubmitRejectsEmptyArtifactLocally(t *testing.T) {
	t.Parallel()

	client, err := New(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), session.JobInput{})
	require.ErrorIs(t, err, session.ErrInvalidInput)
}

func TestSubmitMapsBackendRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported artifact type"}`))
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), session.JobInput{ArtifactURL: "https://example.com/a.tiff"})
	require.ErrorIs(t, err, session.ErrInvalidInput)
	require.ErrorContains(t, err, "unsupported artifact type")
}

func TestSubmitSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"pipeline overloaded"}`))
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), session.JobInput{ArtifactURL: "https://example.com/a.jpg"})
	require.ErrorContains(t, err, "backend returned 500")
}
