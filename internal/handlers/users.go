package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"eldergen-backend/internal/config"
	"eldergen-backend/internal/database"
	"eldergen-backend/internal/models"
)

type UsersHandler struct {
	db  *database.Client
	cfg *config.Config
}

func NewUsersHandler(db *database.Client, cfg *config.Config) *UsersHandler {
	return &UsersHandler{db: db, cfg: cfg}
}

type createUserRequest struct {
	LineUserID  string `json:"line_user_id" binding:"required"`
	DisplayName string `json:"display_name"`
	PictureURL  string `json:"picture_url"`
}

// CreateOrGetUser upserts a user. New users receive the free initial
// points.
func (h *UsersHandler) CreateOrGetUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	user, err := h.db.GetOrCreateUser(req.LineUserID, req.DisplayName, req.PictureURL, h.cfg.FreeInitialPoints)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to upsert user"})
		return
	}

	c.JSON(http.StatusOK, models.NewUserResponse(user))
}

func (h *UsersHandler) GetUser(c *gin.Context) {
	user, err := h.db.GetUserByLineID(c.Param("line_user_id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load user"})
		return
	}

	c.JSON(http.StatusOK, models.NewUserResponse(user))
}
