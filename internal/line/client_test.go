package line_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldergen-backend/internal/line"
)

func sign(secret string, body []byte) string {
	sum := sha256.Sum256(append([]byte(secret), body...))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestVerifySignature(t *testing.T) {
	client := line.NewClient("token", "channel-secret")
	body := []byte(`{"events":[]}`)

	assert.True(t, client.VerifySignature(body, sign("channel-secret", body)))
	assert.False(t, client.VerifySignature(body, sign("wrong-secret", body)))
	assert.False(t, client.VerifySignature(body, ""))
	assert.False(t, client.VerifySignature([]byte("tampered"), sign("channel-secret", body)))
}

func TestVerifySignature_EmptySecretAlwaysFails(t *testing.T) {
	client := line.NewClient("token", "")
	body := []byte(`{"events":[]}`)

	assert.False(t, client.VerifySignature(body, sign("", body)))
}

func TestPush(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/push", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := line.NewClient("token", "secret").WithBaseURLs(server.URL, server.URL)

	err := client.Push(context.Background(), "U001",
		line.TextMessage("hello"),
		line.ImageMessage("https://cdn/img.png"),
	)
	require.NoError(t, err)

	assert.Equal(t, "U001", captured["to"])
	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 2)
	first := messages[0].(map[string]interface{})
	assert.Equal(t, "text", first["type"])
	assert.Equal(t, "hello", first["text"])
	second := messages[1].(map[string]interface{})
	assert.Equal(t, "image", second["type"])
	assert.Equal(t, "https://cdn/img.png", second["originalContentUrl"])
	assert.Equal(t, "https://cdn/img.png", second["previewImageUrl"])
}

func TestReply(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/reply", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := line.NewClient("token", "secret").WithBaseURLs(server.URL, server.URL)

	err := client.Reply(context.Background(), "reply-token-1", line.TextMessage("hi"))
	require.NoError(t, err)
	assert.Equal(t, "reply-token-1", captured["replyToken"])
}

func TestPush_ErrorStatusSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer server.Close()

	client := line.NewClient("token", "secret").WithBaseURLs(server.URL, server.URL)

	err := client.Push(context.Background(), "U001", line.TextMessage("hello"))
	assert.Error(t, err)
}

func TestGetProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/profile/U001", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{
			"userId":      "U001",
			"displayName": "阿嬤",
			"pictureUrl":  "https://profile/img.png",
		})
	}))
	defer server.Close()

	client := line.NewClient("token", "secret").WithBaseURLs(server.URL, server.URL)

	profile, err := client.GetProfile(context.Background(), "U001")
	require.NoError(t, err)
	assert.Equal(t, "U001", profile.UserID)
	assert.Equal(t, "阿嬤", profile.DisplayName)
}

func TestGetMessageContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/msg-1/content", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	client := line.NewClient("token", "secret").WithBaseURLs(server.URL, server.URL)

	data, err := client.GetMessageContent(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}
