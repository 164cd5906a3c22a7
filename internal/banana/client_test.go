package banana_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldergen-backend/internal/apperrors"
	"eldergen-backend/internal/banana"
)

func TestGenerate_Base64Result(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]string{
			"image_base64": base64.StdEncoding.EncodeToString([]byte("png-bytes")),
		})
	}))
	defer server.Close()

	client := banana.NewClient(server.URL, "test-key", "custom-model")

	result, err := client.Generate(context.Background(), "grandma meme", "https://img/src.png", 0.6)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), result.ImageBytes)
	assert.Empty(t, result.ImageURL)

	assert.Equal(t, "custom-model", captured["model"])
	assert.Contains(t, captured["prompt"], "grandma meme")
	assert.Equal(t, "https://img/src.png", captured["init_image"])
	assert.Equal(t, 0.6, captured["strength"])
	assert.Equal(t, float64(1024), captured["width"])
	assert.NotEmpty(t, captured["negative_prompt"])
}

func TestGenerate_URLResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"image_url": "https://provider/out.png",
		})
	}))
	defer server.Close()

	client := banana.NewClient(server.URL, "test-key", "")

	result, err := client.Generate(context.Background(), "grandma meme", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://provider/out.png", result.ImageURL)
	assert.Empty(t, result.ImageBytes)
}

func TestGenerate_TextToImageOmitsInitImage(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]string{"image_url": "https://provider/out.png"})
	}))
	defer server.Close()

	client := banana.NewClient(server.URL, "test-key", "")

	_, err := client.Generate(context.Background(), "grandma meme", "", 0.6)
	require.NoError(t, err)

	_, hasInit := captured["init_image"]
	assert.False(t, hasInit)
	_, hasStrength := captured["strength"]
	assert.False(t, hasStrength)
}

// A non-2xx response is a rejection: retrying the same request will not
// help, but the classification is the caller's to act on.
func TestGenerate_RejectedOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"nsfw content detected"}`))
	}))
	defer server.Close()

	client := banana.NewClient(server.URL, "test-key", "")

	_, err := client.Generate(context.Background(), "grandma meme", "", 0)
	require.Error(t, err)

	var upstream *apperrors.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, apperrors.UpstreamRejected, upstream.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, upstream.StatusCode)
	assert.Contains(t, upstream.Body, "nsfw")
}

// A transport failure is classified as unavailable.
func TestGenerate_UnavailableOnTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := banana.NewClient(server.URL, "test-key", "")

	_, err := client.Generate(context.Background(), "grandma meme", "", 0)
	require.Error(t, err)

	var upstream *apperrors.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, apperrors.UpstreamUnavailable, upstream.Kind)
}

func TestGenerate_RejectedOnMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-json"))
	}))
	defer server.Close()

	client := banana.NewClient(server.URL, "test-key", "")

	_, err := client.Generate(context.Background(), "grandma meme", "", 0)
	require.Error(t, err)

	var upstream *apperrors.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, apperrors.UpstreamRejected, upstream.Kind)
}

func TestGenerate_RejectedOnEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := banana.NewClient(server.URL, "test-key", "")

	_, err := client.Generate(context.Background(), "grandma meme", "", 0)
	require.Error(t, err)

	var upstream *apperrors.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, apperrors.UpstreamRejected, upstream.Kind)
}
