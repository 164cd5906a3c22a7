package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"eldergen-backend/internal/apperrors"
	"eldergen-backend/internal/models"
)

// Client owns every read and write against Postgres, including the
// points ledger. Ledger mutations always run in the same transaction as
// the order or job state change that triggered them, so a crash cannot
// split a debit from its job row or a credit from its PAID transition.
type Client struct {
	db *sql.DB
}

func Open(connectionString string) (*Client, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClient wraps an existing connection. Tests use this with sqlmock.
func NewClient(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

const userColumns = `id, line_user_id, display_name, picture_url, points, is_vip, total_images_generated, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.LineUserID, &u.DisplayName, &u.PictureURL,
		&u.Points, &u.IsVIP, &u.TotalImagesGenerated, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetUserByID(userID int64) (*models.User, error) {
	user, err := scanUser(c.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (c *Client) GetUserByLineID(lineUserID string) (*models.User, error) {
	user, err := scanUser(c.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE line_user_id = $1`, lineUserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetOrCreateUser upserts a user keyed by LINE user id. New users are
// seeded with initialPoints; existing users get their profile refreshed.
func (c *Client) GetOrCreateUser(lineUserID, displayName, pictureURL string, initialPoints int) (*models.User, error) {
	user, err := scanUser(c.db.QueryRow(`
		INSERT INTO users (line_user_id, display_name, picture_url, points)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		ON CONFLICT (line_user_id) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
			picture_url = COALESCE(NULLIF(EXCLUDED.picture_url, ''), users.picture_url),
			updated_at = NOW()
		RETURNING `+userColumns,
		lineUserID, displayName, pictureURL, initialPoints))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

const orderColumns = `id, order_no, user_id, amount, points_added, status, neweb_trade_no, neweb_payment_type, pay_time, created_at, updated_at`

func scanOrder(row *sql.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.OrderNo, &o.UserID, &o.Amount, &o.PointsAdded, &o.Status,
		&o.NewebTradeNo, &o.NewebPaymentType, &o.PayTime, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) CreateOrder(userID int64, orderNo string, amount, pointsAdded int) (*models.Order, error) {
	order, err := scanOrder(c.db.QueryRow(`
		INSERT INTO orders (order_no, user_id, amount, points_added, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		RETURNING `+orderColumns,
		orderNo, userID, amount, pointsAdded))
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return order, nil
}

func (c *Client) GetOrderByNo(orderNo string) (*models.Order, error) {
	order, err := scanOrder(c.db.QueryRow(
		`SELECT `+orderColumns+` FROM orders WHERE order_no = $1`, orderNo))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// MarkOrderPaid transitions a PENDING order to PAID and credits the
// owning user's points in the same transaction. The status guard on the
// UPDATE makes the credit happen at most once no matter how many times
// the gateway redelivers the success notice. Returns true when this
// call performed the transition.
func (c *Client) MarkOrderPaid(orderNo, tradeNo, paymentType string, payTime time.Time) (bool, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	var pointsAdded int
	err = tx.QueryRow(`
		UPDATE orders
		SET status = 'PAID', neweb_trade_no = $2, neweb_payment_type = $3, pay_time = $4, updated_at = NOW()
		WHERE order_no = $1 AND status = 'PENDING'
		RETURNING user_id, points_added
	`, orderNo, tradeNo, paymentType, payTime).Scan(&userID, &pointsAdded)
	if errors.Is(err, sql.ErrNoRows) {
		// Already terminal. Duplicate delivery is expected and harmless.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE users SET points = points + $1, updated_at = NOW() WHERE id = $2
	`, pointsAdded, userID); err != nil {
		return false, fmt.Errorf("failed to credit points: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit order payment: %w", err)
	}
	return true, nil
}

// MarkOrderFailed transitions a PENDING order to FAILED. No points ever
// moved for a PENDING order, so there is nothing to correct.
func (c *Client) MarkOrderFailed(orderNo string) error {
	_, err := c.db.Exec(`
		UPDATE orders SET status = 'FAILED', updated_at = NOW()
		WHERE order_no = $1 AND status = 'PENDING'
	`, orderNo)
	if err != nil {
		return fmt.Errorf("failed to mark order failed: %w", err)
	}
	return nil
}

const jobColumns = `job_id, user_id, prompt_used, original_url, original_image_path, result_url, result_image_path, status, error_message, cost_points, retry_count, created_at, completed_at`

func scanJob(row *sql.Row) (*models.ImageJob, error) {
	var j models.ImageJob
	err := row.Scan(
		&j.JobID, &j.UserID, &j.PromptUsed, &j.OriginalURL, &j.OriginalImagePath,
		&j.ResultURL, &j.ResultImagePath, &j.Status, &j.ErrorMessage,
		&j.CostPoints, &j.RetryCount, &j.CreatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJobWithDebit debits costPoints from the user and inserts the
// QUEUED job row in one transaction. The balance guard on the UPDATE
// rejects overdrafts without a read-then-write race.
func (c *Client) CreateJobWithDebit(jobID string, userID int64, prompt, originalURL, originalPath string, costPoints int) (*models.ImageJob, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE users SET points = points - $1, updated_at = NOW()
		WHERE id = $2 AND points >= $1
	`, costPoints, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to debit points: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read debit result: %w", err)
	}
	if affected == 0 {
		return nil, apperrors.ErrInsufficientPoints
	}

	job, err := scanJob(tx.QueryRow(`
		INSERT INTO image_jobs (job_id, user_id, prompt_used, original_url, original_image_path, status, cost_points)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), 'QUEUED', $6)
		RETURNING `+jobColumns,
		jobID, userID, prompt, originalURL, originalPath, costPoints))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job creation: %w", err)
	}
	return job, nil
}

func (c *Client) GetJob(jobID string) (*models.ImageJob, error) {
	job, err := scanJob(c.db.QueryRow(
		`SELECT `+jobColumns+` FROM image_jobs WHERE job_id = $1`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (c *Client) MarkJobProcessing(jobID string) error {
	_, err := c.db.Exec(`
		UPDATE image_jobs SET status = 'PROCESSING' WHERE job_id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	return nil
}

// RequeueJob records a failed attempt that will be retried: back to
// QUEUED with the error kept for diagnosis. The ledger is untouched.
func (c *Client) RequeueJob(jobID, errorMsg string) error {
	_, err := c.db.Exec(`
		UPDATE image_jobs
		SET status = 'QUEUED', retry_count = retry_count + 1, error_message = $2
		WHERE job_id = $1
	`, jobID, errorMsg)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

// MarkJobCompleted stores the result reference, transitions to
// COMPLETED and bumps the user's lifetime image count in one
// transaction.
func (c *Client) MarkJobCompleted(jobID, resultURL, resultPath string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRow(`
		UPDATE image_jobs
		SET status = 'COMPLETED', result_url = $2, result_image_path = $3, error_message = NULL, completed_at = NOW()
		WHERE job_id = $1 AND status = 'PROCESSING'
		RETURNING user_id
	`, jobID, resultURL, resultPath).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		// Already terminal; at-least-once delivery can replay a task.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE users SET total_images_generated = total_images_generated + 1, updated_at = NOW() WHERE id = $1
	`, userID); err != nil {
		return fmt.Errorf("failed to update image count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job completion: %w", err)
	}
	return nil
}

// MarkJobFailedWithRefund transitions to FAILED and refunds cost_points
// to the owning user in the same transaction. The status guard ensures
// the refund fires exactly once per job. Returns true when this call
// performed the transition.
func (c *Client) MarkJobFailedWithRefund(jobID, errorMsg string) (bool, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	var costPoints int
	err = tx.QueryRow(`
		UPDATE image_jobs
		SET status = 'FAILED', error_message = $2, completed_at = NOW()
		WHERE job_id = $1 AND status IN ('QUEUED', 'PROCESSING')
		RETURNING user_id, cost_points
	`, jobID, errorMsg).Scan(&userID, &costPoints)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE users SET points = points + $1, updated_at = NOW() WHERE id = $2
	`, costPoints, userID); err != nil {
		return false, fmt.Errorf("failed to refund points: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit job failure: %w", err)
	}
	return true, nil
}

func (c *Client) ListUserJobs(userID int64, limit, offset int) ([]models.ImageJob, error) {
	rows, err := c.db.Query(`
		SELECT `+jobColumns+`
		FROM image_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ImageJob
	for rows.Next() {
		var j models.ImageJob
		err := rows.Scan(
			&j.JobID, &j.UserID, &j.PromptUsed, &j.OriginalURL, &j.OriginalImagePath,
			&j.ResultURL, &j.ResultImagePath, &j.Status, &j.ErrorMessage,
			&j.CostPoints, &j.RetryCount, &j.CreatedAt, &j.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}
