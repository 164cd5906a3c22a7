package models

import "time"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type UserResponse struct {
	ID                   int64  `json:"id"`
	LineUserID           string `json:"line_user_id"`
	DisplayName          string `json:"display_name,omitempty"`
	PictureURL           string `json:"picture_url,omitempty"`
	Points               int    `json:"points"`
	IsVIP                bool   `json:"is_vip"`
	TotalImagesGenerated int    `json:"total_images_generated"`
}

type JobResponse struct {
	JobID        string     `json:"job_id"`
	Status       string     `json:"status"`
	OriginalURL  string     `json:"original_url,omitempty"`
	ResultURL    string     `json:"result_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CostPoints   int        `json:"cost_points"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type CreateJobResponse struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	PointsDeducted  int    `json:"points_deducted"`
	RemainingPoints int    `json:"remaining_points"`
}

// TopUpResponse carries the NewebPay MPG form fields the front-end
// posts to the gateway.
type TopUpResponse struct {
	OrderNo    string `json:"order_no"`
	MerchantID string `json:"merchant_id"`
	TradeInfo  string `json:"trade_info"`
	TradeSha   string `json:"trade_sha"`
	Version    string `json:"version"`
}

func NewUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:                   u.ID,
		LineUserID:           u.LineUserID,
		DisplayName:          u.DisplayName.String,
		PictureURL:           u.PictureURL.String,
		Points:               u.Points,
		IsVIP:                u.IsVIP,
		TotalImagesGenerated: u.TotalImagesGenerated,
	}
}

func NewJobResponse(j *ImageJob) JobResponse {
	resp := JobResponse{
		JobID:        j.JobID,
		Status:       j.Status,
		OriginalURL:  j.OriginalURL.String,
		ResultURL:    j.ResultURL.String,
		ErrorMessage: j.ErrorMessage.String,
		CostPoints:   j.CostPoints,
		RetryCount:   j.RetryCount,
		CreatedAt:    j.CreatedAt,
	}
	if j.CompletedAt.Valid {
		t := j.CompletedAt.Time
		resp.CompletedAt = &t
	}
	return resp
}
