package handlers_test

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldergen-backend/internal/config"
	"eldergen-backend/internal/database"
	"eldergen-backend/internal/handlers"
	"eldergen-backend/internal/line"
)

const channelSecret = "test-channel-secret"

func signBody(body string) string {
	sum := sha256.Sum256(append([]byte(channelSecret), body...))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func newWebhookRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	lineClient := line.NewClient("token", channelSecret)
	cfg := &config.Config{PointsPerImage: 10, FreeInitialPoints: 50}
	handler := handlers.NewLineWebhookHandler(lineClient, database.NewClient(db), nil, nil, cfg, quietLogger())

	router := gin.New()
	router.POST("/callback/line", handler.HandleWebhook)
	return router
}

func postWebhook(router *gin.Engine, body, signature string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", "/callback/line", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Line-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleWebhook_ValidSignatureAcknowledged(t *testing.T) {
	router := newWebhookRouter(t)
	body := `{"events":[]}`

	w := postWebhook(router, body, signBody(body))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleWebhook_InvalidSignatureRejected(t *testing.T) {
	router := newWebhookRouter(t)
	body := `{"events":[]}`

	w := postWebhook(router, body, "bogus-signature")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_MissingSignatureRejected(t *testing.T) {
	router := newWebhookRouter(t)

	w := postWebhook(router, `{"events":[]}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// The signature covers the exact raw body; any mutation invalidates it.
func TestHandleWebhook_TamperedBodyRejected(t *testing.T) {
	router := newWebhookRouter(t)
	body := `{"events":[]}`

	w := postWebhook(router, `{"events":[{}]}`, signBody(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_MalformedBodyRejected(t *testing.T) {
	router := newWebhookRouter(t)
	body := `not-json`

	w := postWebhook(router, body, signBody(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
