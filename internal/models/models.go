package models

import (
	"database/sql"
	"time"
)

// Order statuses. PAID, FAILED and EXPIRED are terminal.
const (
	OrderStatusPending = "PENDING"
	OrderStatusPaid    = "PAID"
	OrderStatusFailed  = "FAILED"
	OrderStatusExpired = "EXPIRED"
)

// Image job statuses. COMPLETED and FAILED are terminal.
const (
	JobStatusQueued     = "QUEUED"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

type User struct {
	ID                   int64
	LineUserID           string
	DisplayName          sql.NullString
	PictureURL           sql.NullString
	Points               int
	IsVIP                bool
	TotalImagesGenerated int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Order struct {
	ID                int64
	OrderNo           string
	UserID            int64
	Amount            int
	PointsAdded       int
	Status            string
	NewebTradeNo      sql.NullString
	NewebPaymentType  sql.NullString
	PayTime           sql.NullTime
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ImageJob struct {
	JobID             string
	UserID            int64
	PromptUsed        sql.NullString
	OriginalURL       sql.NullString
	OriginalImagePath sql.NullString
	ResultURL         sql.NullString
	ResultImagePath   sql.NullString
	Status            string
	ErrorMessage      sql.NullString
	CostPoints        int
	RetryCount        int
	CreatedAt         time.Time
	CompletedAt       sql.NullTime
}
