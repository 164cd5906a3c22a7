package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"eldergen-backend/internal/apperrors"
	"eldergen-backend/internal/database"
	"eldergen-backend/internal/line"
	"eldergen-backend/internal/models"
	"eldergen-backend/internal/newebpay"
)

// Notifier delivers messages to an end user. Implementations are best
// effort; the state machines log and swallow delivery failures.
type Notifier interface {
	Push(ctx context.Context, to string, messages ...line.Message) error
}

// NoticeStatusSuccess is the gateway's status value for a completed
// payment.
const NoticeStatusSuccess = "SUCCESS"

// OrderProcessor drives the order state machine off inbound payment
// notifications. Crediting is idempotent: however many times the
// gateway redelivers a success notice, points are added exactly once.
type OrderProcessor struct {
	db       *database.Client
	pay      *newebpay.Client
	notifier Notifier
	log      *logrus.Logger
}

func NewOrderProcessor(db *database.Client, pay *newebpay.Client, notifier Notifier, log *logrus.Logger) *OrderProcessor {
	return &OrderProcessor{
		db:       db,
		pay:      pay,
		notifier: notifier,
		log:      log,
	}
}

// HandleNotice verifies, decrypts and applies one payment notification.
// The checksum is verified against the raw ciphertext before any
// decrypted field is trusted. A nil return means the gateway should be
// acknowledged; unknown orders are logged and acknowledged so the
// gateway stops redelivering.
func (p *OrderProcessor) HandleNotice(ctx context.Context, tradeInfo, tradeSha string) error {
	if !p.pay.VerifyChecksum(tradeInfo, tradeSha) {
		return apperrors.ErrChecksumMismatch
	}

	notice, err := p.pay.DecryptNotice(tradeInfo)
	if err != nil {
		return err
	}

	log := p.log.WithField("order_no", notice.MerchantOrderNo)

	order, err := p.db.GetOrderByNo(notice.MerchantOrderNo)
	if errors.Is(err, apperrors.ErrUnknownOrder) {
		log.Warn("payment notice for unknown order")
		return nil
	}
	if err != nil {
		return err
	}

	if order.Status == models.OrderStatusPaid {
		log.Info("order already paid, ignoring duplicate notice")
		return nil
	}

	if notice.Status != NoticeStatusSuccess {
		// The gateway may deliver a definitive failure separately; a
		// non-success notice leaves the order PENDING.
		log.WithField("status", notice.Status).Info("non-success payment notice, order left pending")
		return nil
	}

	credited, err := p.db.MarkOrderPaid(order.OrderNo, notice.TradeNo, notice.PaymentType, time.Now())
	if err != nil {
		return err
	}
	if !credited {
		// Lost the race against a concurrent delivery of the same notice.
		return nil
	}

	log.WithFields(logrus.Fields{
		"user_id":      order.UserID,
		"points_added": order.PointsAdded,
	}).Info("order paid, points credited")

	p.notifyTopUp(ctx, order)
	return nil
}

func (p *OrderProcessor) notifyTopUp(ctx context.Context, order *models.Order) {
	user, err := p.db.GetUserByID(order.UserID)
	if err != nil {
		p.log.WithError(err).WithField("user_id", order.UserID).Warn("cannot look up user for top-up notification")
		return
	}

	msg := line.TextMessage(fmt.Sprintf("💰 儲值成功！獲得 %d 點", order.PointsAdded))
	if err := p.notifier.Push(ctx, user.LineUserID, msg); err != nil {
		p.log.WithError(err).WithField("user_id", order.UserID).Warn("top-up notification failed")
	}
}
