package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eldergen-backend/internal/apperrors"
	"eldergen-backend/internal/config"
	"eldergen-backend/internal/database"
	"eldergen-backend/internal/line"
	"eldergen-backend/internal/models"
	"eldergen-backend/internal/queue"
	"eldergen-backend/internal/supabase"
)

const originalCategory = "original"

// LineWebhookHandler is the chat front door: text commands, photo
// uploads that become generation jobs, and follow events.
type LineWebhookHandler struct {
	lineClient *line.Client
	db         *database.Client
	queue      *queue.Queue
	uploader   *supabase.Uploader
	cfg        *config.Config
	log        *logrus.Logger
}

func NewLineWebhookHandler(
	lineClient *line.Client,
	db *database.Client,
	q *queue.Queue,
	uploader *supabase.Uploader,
	cfg *config.Config,
	log *logrus.Logger,
) *LineWebhookHandler {
	return &LineWebhookHandler{
		lineClient: lineClient,
		db:         db,
		queue:      q,
		uploader:   uploader,
		cfg:        cfg,
		log:        log,
	}
}

type lineWebhookPayload struct {
	Events []lineEvent `json:"events"`
}

type lineEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// HandleWebhook verifies the signature and processes events in the
// background, acknowledging LINE immediately.
func (h *LineWebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read request body"})
		return
	}

	if !h.lineClient.VerifySignature(body, c.GetHeader("X-Line-Signature")) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid signature"})
		return
	}

	var payload lineWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to parse events"})
		return
	}

	go h.handleEvents(payload.Events)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *LineWebhookHandler) handleEvents(events []lineEvent) {
	// Detached from the request; events outlive the webhook response.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, event := range events {
		switch event.Type {
		case "follow":
			h.handleFollow(ctx, event)
		case "message":
			switch event.Message.Type {
			case "text":
				h.handleTextMessage(ctx, event)
			case "image":
				h.handleImageMessage(ctx, event)
			}
		}
	}
}

func (h *LineWebhookHandler) handleFollow(ctx context.Context, event lineEvent) {
	user := h.upsertUser(ctx, event.Source.UserID)
	if user == nil {
		return
	}

	name := user.DisplayName.String
	if name == "" {
		name = "您"
	}
	h.reply(ctx, event.ReplyToken, line.TextMessage(fmt.Sprintf(
		"👋 歡迎 %s！\n\n送您 %d 點免費點數\n現在就可以生成長輩圖了！",
		name, h.cfg.FreeInitialPoints,
	)))
}

func (h *LineWebhookHandler) handleTextMessage(ctx context.Context, event lineEvent) {
	user := h.upsertUser(ctx, event.Source.UserID)
	if user == nil {
		return
	}

	text := strings.TrimSpace(event.Message.Text)
	switch {
	case text == "/points" || text == "點數":
		h.reply(ctx, event.ReplyToken, line.TextMessage(fmt.Sprintf("💰 您的點數: %d", user.Points)))

	case text == "/topup" || text == "儲值":
		topupURL := fmt.Sprintf("%s/topup?user_id=%d", h.cfg.NewebPayClientBackURL, user.ID)
		h.reply(ctx, event.ReplyToken, line.TextMessage("💳 點擊下方連結儲值\n"+topupURL))

	case strings.HasPrefix(text, "/generate") || strings.HasPrefix(text, "生成"):
		h.reply(ctx, event.ReplyToken, line.TextMessage("請上傳一張照片，我會根據您的提示生成長輩圖"))

	default:
		h.reply(ctx, event.ReplyToken, line.TextMessage(
			"👋 歡迎來到長輩圖販賣機！\n\n"+
				"指令列表:\n"+
				"📸 /generate - 生成長輩圖\n"+
				"💰 /points - 查詢點數\n"+
				"💳 /topup - 儲值點數",
		))
	}
}

// handleImageMessage turns an uploaded photo into a generation job:
// balance check, original upload, debit+insert in one transaction,
// dispatch.
func (h *LineWebhookHandler) handleImageMessage(ctx context.Context, event lineEvent) {
	user := h.upsertUser(ctx, event.Source.UserID)
	if user == nil {
		return
	}

	cost := h.cfg.PointsPerImage
	if user.Points < cost {
		h.reply(ctx, event.ReplyToken, line.TextMessage(fmt.Sprintf(
			"❌ 點數不足！\n需要 %d 點，您目前有 %d 點\n請使用 /topup 儲值",
			cost, user.Points,
		)))
		return
	}

	imageData, err := h.lineClient.GetMessageContent(ctx, event.Message.ID)
	if err != nil {
		h.log.WithError(err).Warn("failed to download message content")
		h.reply(ctx, event.ReplyToken, line.TextMessage("❌ 圖片下載失敗，請稍後再試"))
		return
	}

	path, url, err := h.uploader.Upload(ctx, imageData, user.ID, originalCategory)
	if err != nil {
		h.log.WithError(err).Warn("failed to upload original image")
		h.reply(ctx, event.ReplyToken, line.TextMessage("❌ 圖片上傳失敗，請稍後再試"))
		return
	}

	jobID := uuid.New().String()
	job, err := h.db.CreateJobWithDebit(jobID, user.ID, "", url, path, cost)
	if errors.Is(err, apperrors.ErrInsufficientPoints) {
		// Balance changed between the check and the debit.
		h.reply(ctx, event.ReplyToken, line.TextMessage("❌ 點數不足，請使用 /topup 儲值"))
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to create job")
		h.reply(ctx, event.ReplyToken, line.TextMessage("❌ 系統忙碌中，請稍後再試"))
		return
	}

	task := queue.Task{
		JobID:       job.JobID,
		UserID:      user.ID,
		OriginalURL: url,
		Attempt:     1,
	}
	if err := h.queue.Enqueue(ctx, task); err != nil {
		h.log.WithError(err).WithField("job_id", job.JobID).Error("failed to enqueue job")
		h.reply(ctx, event.ReplyToken, line.TextMessage("❌ 系統忙碌中，請稍後再試"))
		return
	}

	h.reply(ctx, event.ReplyToken, line.TextMessage(fmt.Sprintf(
		"✅ 圖片已上傳！\n消耗 %d 點，剩餘 %d 點\n預計 30 秒內完成，請稍候...",
		cost, user.Points-cost,
	)))
}

func (h *LineWebhookHandler) upsertUser(ctx context.Context, lineUserID string) *models.User {
	var displayName, pictureURL string
	if profile, err := h.lineClient.GetProfile(ctx, lineUserID); err == nil {
		displayName = profile.DisplayName
		pictureURL = profile.PictureURL
	}

	user, err := h.db.GetOrCreateUser(lineUserID, displayName, pictureURL, h.cfg.FreeInitialPoints)
	if err != nil {
		h.log.WithError(err).WithField("line_user_id", lineUserID).Error("failed to upsert user")
		return nil
	}
	return user
}

func (h *LineWebhookHandler) reply(ctx context.Context, replyToken string, messages ...line.Message) {
	if err := h.lineClient.Reply(ctx, replyToken, messages...); err != nil {
		h.log.WithError(err).Warn("reply failed")
	}
}
