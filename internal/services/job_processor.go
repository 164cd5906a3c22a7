package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"eldergen-backend/internal/apperrors"
	"eldergen-backend/internal/banana"
	"eldergen-backend/internal/database"
	"eldergen-backend/internal/line"
	"eldergen-backend/internal/models"
	"eldergen-backend/internal/queue"
)

const (
	// maxAttempts bounds automatic retry; the third failure is terminal.
	maxAttempts = 3

	// retryDelayUnit scales linearly with the attempt number: 60s after
	// the first failure, 120s after the second.
	retryDelayUnit = time.Minute

	resultCategory  = "result"
	defaultStrength = 0.6
)

// defaultPrompt is appended to whatever the user typed.
const defaultPrompt = "elderly person meme, funny expression, " +
	"exaggerated facial features, humorous, social media meme style"

// Transformer is the AI collaborator.
type Transformer interface {
	Generate(ctx context.Context, prompt, sourceImageURL string, strength float64) (*banana.Result, error)
}

// Uploader is the storage collaborator.
type Uploader interface {
	Upload(ctx context.Context, data []byte, userID int64, category string) (path, url string, err error)
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}

// Scheduler re-delivers a task after a delay.
type Scheduler interface {
	EnqueueIn(ctx context.Context, task queue.Task, delay time.Duration) error
}

// JobProcessor drives one image job from pickup to a terminal state:
// PROCESSING, transform, upload, COMPLETED; or on failure a delayed
// requeue until the retry ceiling, then FAILED with a refund. Points
// were debited when the job was created, so the only ledger mutation
// here is the refund, and it happens exactly once.
type JobProcessor struct {
	db          *database.Client
	transformer Transformer
	uploader    Uploader
	scheduler   Scheduler
	notifier    Notifier
	log         *logrus.Logger
}

func NewJobProcessor(
	db *database.Client,
	transformer Transformer,
	uploader Uploader,
	scheduler Scheduler,
	notifier Notifier,
	log *logrus.Logger,
) *JobProcessor {
	return &JobProcessor{
		db:          db,
		transformer: transformer,
		uploader:    uploader,
		scheduler:   scheduler,
		notifier:    notifier,
		log:         log,
	}
}

// Process handles one delivery of a task. The queue is at-least-once,
// so a task can arrive again after its job reached a terminal state;
// those deliveries are dropped.
func (p *JobProcessor) Process(ctx context.Context, task queue.Task) error {
	log := p.log.WithField("job_id", task.JobID)

	job, err := p.db.GetJob(task.JobID)
	if errors.Is(err, apperrors.ErrJobNotFound) {
		log.Error("task references missing job")
		return err
	}
	if err != nil {
		return err
	}

	if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
		log.WithField("status", job.Status).Info("dropping redelivered terminal job")
		return nil
	}

	if err := p.db.MarkJobProcessing(job.JobID); err != nil {
		return err
	}

	resultPath, resultURL, err := p.render(ctx, job)
	if err != nil {
		return p.handleFailure(ctx, job, task, err)
	}

	if err := p.db.MarkJobCompleted(job.JobID, resultURL, resultPath); err != nil {
		return err
	}

	log.WithField("result_url", resultURL).Info("job completed")

	p.notify(ctx, job.UserID,
		line.TextMessage("✅ 您的長輩圖生成完成！"),
		line.ImageMessage(resultURL),
	)
	return nil
}

// render runs the external pipeline: AI transform, fetch when the
// provider handed back a URL instead of bytes, then the storage upload.
func (p *JobProcessor) render(ctx context.Context, job *models.ImageJob) (path, url string, err error) {
	prompt := defaultPrompt
	if job.PromptUsed.Valid && job.PromptUsed.String != "" {
		prompt = job.PromptUsed.String + " " + defaultPrompt
	}

	result, err := p.transformer.Generate(ctx, prompt, job.OriginalURL.String, defaultStrength)
	if err != nil {
		return "", "", err
	}

	data := result.ImageBytes
	if len(data) == 0 && result.ImageURL != "" {
		data, err = p.uploader.Fetch(ctx, result.ImageURL)
		if err != nil {
			return "", "", err
		}
	}
	if len(data) == 0 {
		return "", "", fmt.Errorf("transform returned neither image bytes nor a url")
	}

	return p.uploader.Upload(ctx, data, job.UserID, resultCategory)
}

// handleFailure decides refund-vs-retry. Attempts below the ceiling
// requeue with linear backoff and touch neither the ledger nor the
// user. The final failure refunds, marks FAILED and notifies, each
// exactly once.
func (p *JobProcessor) handleFailure(ctx context.Context, job *models.ImageJob, task queue.Task, cause error) error {
	log := p.log.WithField("job_id", job.JobID).WithError(cause)

	attempt := job.RetryCount + 1
	if attempt < maxAttempts {
		if err := p.db.RequeueJob(job.JobID, cause.Error()); err != nil {
			return err
		}

		retry := task
		retry.Attempt = attempt + 1
		delay := time.Duration(attempt) * retryDelayUnit
		if err := p.scheduler.EnqueueIn(ctx, retry, delay); err != nil {
			// The job row is QUEUED with its retry count bumped; surface
			// the scheduling error so the current delivery is retried.
			return fmt.Errorf("failed to schedule retry: %w", err)
		}

		log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("job attempt failed, retry scheduled")
		return nil
	}

	refunded, err := p.db.MarkJobFailedWithRefund(job.JobID, cause.Error())
	if err != nil {
		return err
	}

	log.WithField("attempt", attempt).Error("job failed permanently")

	if refunded {
		p.notify(ctx, job.UserID,
			line.TextMessage(fmt.Sprintf("❌ 圖片生成失敗，點數已退還。\n錯誤: %s", cause.Error())),
		)
	}
	return nil
}

func (p *JobProcessor) notify(ctx context.Context, userID int64, messages ...line.Message) {
	user, err := p.db.GetUserByID(userID)
	if err != nil {
		p.log.WithError(err).WithField("user_id", userID).Warn("cannot look up user for notification")
		return
	}
	if err := p.notifier.Push(ctx, user.LineUserID, messages...); err != nil {
		p.log.WithError(err).WithField("user_id", userID).Warn("notification failed")
	}
}
