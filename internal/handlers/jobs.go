package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eldergen-backend/internal/apperrors"
	"eldergen-backend/internal/config"
	"eldergen-backend/internal/database"
	"eldergen-backend/internal/middleware"
	"eldergen-backend/internal/models"
	"eldergen-backend/internal/queue"
)

type JobsHandler struct {
	db    *database.Client
	queue *queue.Queue
	cfg   *config.Config
	log   *logrus.Logger
}

func NewJobsHandler(db *database.Client, q *queue.Queue, cfg *config.Config, log *logrus.Logger) *JobsHandler {
	return &JobsHandler{db: db, queue: q, cfg: cfg, log: log}
}

type createJobRequest struct {
	Prompt      string `json:"prompt"`
	OriginalURL string `json:"original_url"`
}

// CreateJob debits the caller and enqueues a generation job. The debit
// and the QUEUED row commit together, before dispatch.
func (h *JobsHandler) CreateJob(c *gin.Context) {
	lineUserID := c.GetString(middleware.LineUserIDKey)

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	user, err := h.db.GetUserByLineID(lineUserID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load user"})
		return
	}

	jobID := uuid.New().String()
	job, err := h.db.CreateJobWithDebit(jobID, user.ID, req.Prompt, req.OriginalURL, "", h.cfg.PointsPerImage)
	if errors.Is(err, apperrors.ErrInsufficientPoints) {
		c.JSON(http.StatusPaymentRequired, models.ErrorResponse{
			Error:   "insufficient points",
			Message: "top up before generating more images",
		})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("failed to create job")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to create job"})
		return
	}

	task := queue.Task{
		JobID:       job.JobID,
		UserID:      user.ID,
		Prompt:      req.Prompt,
		OriginalURL: req.OriginalURL,
		Attempt:     1,
	}
	if err := h.queue.Enqueue(c.Request.Context(), task); err != nil {
		// The debit is committed; the job row stays QUEUED and can be
		// re-dispatched operationally. Surface the failure.
		h.log.WithError(err).WithField("job_id", job.JobID).Error("failed to enqueue job")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusAccepted, models.CreateJobResponse{
		JobID:           job.JobID,
		Status:          job.Status,
		PointsDeducted:  job.CostPoints,
		RemainingPoints: user.Points - job.CostPoints,
	})
}

func (h *JobsHandler) GetJob(c *gin.Context) {
	job, err := h.db.GetJob(c.Param("job_id"))
	if errors.Is(err, apperrors.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load job"})
		return
	}

	c.JSON(http.StatusOK, models.NewJobResponse(job))
}

func (h *JobsHandler) ListUserJobs(c *gin.Context) {
	user, err := h.db.GetUserByLineID(c.Param("line_user_id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load user"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	jobs, err := h.db.ListUserJobs(user.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list jobs"})
		return
	}

	resp := models.JobListResponse{Jobs: make([]models.JobResponse, 0, len(jobs))}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, models.NewJobResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, resp)
}
