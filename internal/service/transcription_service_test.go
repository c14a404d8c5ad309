package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lingua_edu_backend/internal/config"
	"lingua_edu_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranscriptionTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *TranscriptionService) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc := NewTranscriptionService(&config.TranscriptionConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		TimeoutSeconds: 2,
	})
	return srv, svc
}

func TestTranscribeSuccess(t *testing.T) {
	var gotAuth, gotURL string
	_, svc := newTranscriptionTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transcribe", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req struct {
			AudioURL string `json:"audio_url"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotURL = req.AudioURL

		json.NewEncoder(w).Encode(map[string]string{"transcript": "hello world"})
	})

	transcript, err := svc.Transcribe(context.Background(), "/uploads/r.webm")
	require.NoError(t, err)
	assert.Equal(t, "hello world", transcript)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/uploads/r.webm", gotURL)
}

func TestTranscribeEmptyTranscriptIsLegal(t *testing.T) {
	_, svc := newTranscriptionTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"transcript": ""})
	})

	transcript, err := svc.Transcribe(context.Background(), "/uploads/r.webm")
	require.NoError(t, err)
	assert.Empty(t, transcript)
}

func TestTranscribeServerError(t *testing.T) {
	_, svc := newTranscriptionTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := svc.Transcribe(context.Background(), "/uploads/r.webm")
	assert.ErrorIs(t, err, util.ErrTranscriptionUnavailable)
}

func TestTranscribeConnectionRefused(t *testing.T) {
	srv, svc := newTranscriptionTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := svc.Transcribe(context.Background(), "/uploads/r.webm")
	assert.ErrorIs(t, err, util.ErrTranscriptionUnavailable)
}

func TestTranscribeMalformedBody(t *testing.T) {
	_, svc := newTranscriptionTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := svc.Transcribe(context.Background(), "/uploads/r.webm")
	assert.ErrorIs(t, err, util.ErrTranscriptionUnavailable)
}
