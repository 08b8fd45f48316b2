package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pagespin/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return New(Config{
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "gemini-test",
		Timeout: 5 * time.Second,
	})
}

func candidateResponse(text string) Response {
	return Response{
		Candidates: []Candidate{
			{Content: Content{Role: "model", Parts: []Part{{Text: text}}}},
		},
	}
}

func TestWriterComplete(t *testing.T) {
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(candidateResponse("Hi planet"))
	}))
	defer srv.Close()

	w := Writer{Client: newTestClient(srv.URL)}
	out, err := w.Complete(context.Background(), DefaultSpinPrompt, "Hello world")
	require.NoError(t, err)
	assert.Equal(t, "Hi planet", out)

	require.Len(t, gotReq.Contents, 1)
	assert.Equal(t, "user", gotReq.Contents[0].Role)
	assert.Contains(t, gotReq.Contents[0].Parts[0].Text, DefaultSpinPrompt)
	assert.Contains(t, gotReq.Contents[0].Parts[0].Text, "Hello world")
	assert.Nil(t, gotReq.SystemInstruction)
}

func TestReviewerSendsSystemInstruction(t *testing.T) {
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(candidateResponse("Hi, world!"))
	}))
	defer srv.Close()

	rc := ReviewerClient{Client: newTestClient(srv.URL)}
	out, err := rc.Complete(context.Background(), ReviewerSystemPrompt, "Hi world")
	require.NoError(t, err)
	assert.Equal(t, "Hi, world!", out)

	require.NotNil(t, gotReq.SystemInstruction)
	assert.Equal(t, ReviewerSystemPrompt, gotReq.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "Hi world", gotReq.Contents[0].Parts[0].Text)
}

func TestEmptyCandidateIsGenerationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{})
	}))
	defer srv.Close()

	w := Writer{Client: newTestClient(srv.URL)}
	_, err := w.Complete(context.Background(), DefaultSpinPrompt, "text")
	require.Error(t, err)

	var ge *types.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "writer", ge.Stage)
	assert.True(t, errors.Is(err, types.ErrEmptyCompletion))
}

func TestRetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(candidateResponse("ok"))
	}))
	defer srv.Close()

	w := Writer{Client: newTestClient(srv.URL)}
	out, err := w.Complete(context.Background(), "p", "i")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := Writer{Client: newTestClient(srv.URL)}
	_, err := w.Complete(context.Background(), "p", "i")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var ge *types.GenerationError
	assert.ErrorAs(t, err, &ge)
}

func TestMissingAPIKey(t *testing.T) {
	w := Writer{Client: New(Config{})}
	_, err := w.Complete(context.Background(), "p", "i")
	require.Error(t, err)
	var ge *types.GenerationError
	assert.ErrorAs(t, err, &ge)
}
