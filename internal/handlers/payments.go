package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eldergen-backend/internal/apperrors"
	"eldergen-backend/internal/database"
	"eldergen-backend/internal/middleware"
	"eldergen-backend/internal/models"
	"eldergen-backend/internal/newebpay"
	"eldergen-backend/internal/services"
)

type PaymentsHandler struct {
	db     *database.Client
	pay    *newebpay.Client
	orders *services.OrderProcessor
	log    *logrus.Logger
}

func NewPaymentsHandler(db *database.Client, pay *newebpay.Client, orders *services.OrderProcessor, log *logrus.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		db:     db,
		pay:    pay,
		orders: orders,
		log:    log,
	}
}

type topUpRequest struct {
	Amount int    `json:"amount" binding:"required,gt=0"`
	Points int    `json:"points" binding:"required,gt=0"`
	Email  string `json:"email"`
}

// TopUp creates a PENDING order and returns the encrypted MPG form
// fields for the front-end to post to the gateway.
func (h *PaymentsHandler) TopUp(c *gin.Context) {
	lineUserID := c.GetString(middleware.LineUserIDKey)

	var req topUpRequest
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

	orderNo := newebpay.GenerateOrderNo(user.ID)
	order, err := h.db.CreateOrder(user.ID, orderNo, req.Amount, req.Points)
	if err != nil {
		h.log.WithError(err).Error("failed to create order")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to create order"})
		return
	}

	itemDesc := fmt.Sprintf("ElderGen %d 點儲值", req.Points)
	payment, err := h.pay.CreatePaymentData(order.OrderNo, order.Amount, itemDesc, req.Email)
	if err != nil {
		h.log.WithError(err).WithField("order_no", order.OrderNo).Error("failed to build payment data")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to build payment data"})
		return
	}

	c.JSON(http.StatusOK, models.TopUpResponse{
		OrderNo:    order.OrderNo,
		MerchantID: payment.MerchantID,
		TradeInfo:  payment.TradeInfo,
		TradeSha:   payment.TradeSha,
		Version:    payment.Version,
	})
}

// Notify is the gateway's webhook. Validation failures are rejected at
// the boundary without detail; anything past validation is acknowledged
// with "OK" so the gateway stops redelivering.
func (h *PaymentsHandler) Notify(c *gin.Context) {
	tradeInfo := c.PostForm("TradeInfo")
	tradeSha := c.PostForm("TradeSha")

	if tradeInfo == "" || tradeSha == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "missing trade data"})
		return
	}

	err := h.orders.HandleNotice(c.Request.Context(), tradeInfo, tradeSha)
	switch {
	case err == nil:
		c.String(http.StatusOK, "OK")
	case errors.Is(err, apperrors.ErrChecksumMismatch), errors.Is(err, apperrors.ErrDecryptionFailed):
		h.log.WithError(err).Warn("rejected payment notice")
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid notice"})
	default:
		h.log.WithError(err).Error("failed to process payment notice")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "processing failed"})
	}
}
