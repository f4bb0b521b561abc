package payment

import (
	"context"
	"encoding/json"
	"time"

	"loyalty-service/internal/model"
	"loyalty-service/internal/repo"
	"loyalty-service/internal/service/commission"
	"loyalty-service/internal/service/referral"
	appErr "loyalty-service/pkg/errors"
	"loyalty-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// How long a processed-event marker lives in redis. The marker is a fast
// path only; correctness rests on the commission unique index and the
// activation guard.
const processedEventTTL = 24 * time.Hour

// Service is the webhook entry point: it mirrors gateway payment status
// into asaas_payments and drives conversion, point awards and commission
// settlement inside one transaction.
type Service struct {
	db        *gorm.DB
	rdb       *redis.Client
	referrals *referral.Service
	engine    *commission.Engine
}

// Event is the decoded Asaas notification body.
type Event struct {
	Event   string       `json:"event"`
	Payment EventPayment `json:"payment"`
}

type EventPayment struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Value             float64 `json:"value"`
	NetValue          float64 `json:"netValue"`
	InstallmentNumber int     `json:"installmentNumber"`
	ClientPaymentDate string  `json:"clientPaymentDate"`
	Date              string  `json:"date"`
	DueDate           string  `json:"dueDate"`
}

type ProcessResult struct {
	Processed  bool
	Commission *model.Commission
	Converted  bool
}

func NewService(db *gorm.DB, rdb *redis.Client, referrals *referral.Service, engine *commission.Engine) *Service {
	return &Service{db: db, rdb: rdb, referrals: referrals, engine: engine}
}

// RegisterPayment stores a charge created through the gateway client so
// later webhooks have a local record to act on.
func (s *Service) RegisterPayment(ctx context.Context, p model.Payment) (*model.Payment, error) {
	if p.ID == "" {
		return nil, appErr.ErrMissingPaymentID
	}
	if p.Status == "" {
		p.Status = model.PaymentStatusPending
	}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ProcessEvent handles one webhook delivery. Unknown payment ids are
// acknowledged without side effects: the gateway retries aggressively and
// not every charge in the account belongs to this system.
func (s *Service) ProcessEvent(ctx context.Context, event Event) (*ProcessResult, error) {
	if event.Payment.ID == "" {
		return nil, appErr.ErrMissingPaymentID
	}

	if s.alreadyProcessed(ctx, event) {
		return &ProcessResult{}, nil
	}

	result := &ProcessResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment model.Payment
		err := repo.LockForUpdate(tx).
			Where("id = ?", event.Payment.ID).
			Limit(1).
			Find(&payment).Error
		if err != nil {
			return err
		}
		if payment.ID == "" {
			logger.Log.Info("webhook for unknown payment acknowledged",
				zap.String("paymentID", event.Payment.ID),
				zap.String("event", event.Event))
			return nil
		}

		paymentDate := parseEventDate(event.Payment.ClientPaymentDate, event.Payment.Date)

		payment.Status = event.Payment.Status
		if event.Payment.Value > 0 {
			payment.Value = event.Payment.Value
		}
		if event.Payment.NetValue > 0 {
			payment.NetValue = event.Payment.NetValue
		}
		if paymentDate != nil {
			payment.PaymentDate = paymentDate
		}
		// A confirmed payment always gets a date on record: classification
		// counts confirmed history by payment_date, and a NULL there would
		// hide this payment from every later settlement.
		if isConfirmedStatus(event.Payment.Status) && payment.PaymentDate == nil {
			now := time.Now()
			payment.PaymentDate = &now
		}
		payment.RawPayload = marshalEvent(event)
		payment.UpdatedAt = time.Now()
		if err := tx.Save(&payment).Error; err != nil {
			return err
		}

		if !isConfirmedStatus(event.Payment.Status) {
			result.Processed = true
			return nil
		}

		effectiveDate := time.Now()
		if payment.PaymentDate != nil {
			effectiveDate = *payment.PaymentDate
		}

		var user model.User
		if err := repo.LockForUpdate(tx).
			First(&user, payment.UserID).Error; err != nil {
			return err
		}

		// Activation and conversion run once, on the first confirming
		// webhook; the status guard keeps redeliveries from repeating
		// them.
		if user.Status != model.UserStatusActive {
			user.Status = model.UserStatusActive
			user.UpdatedAt = time.Now()
			if err := tx.Save(&user).Error; err != nil {
				return err
			}

			conversion, err := s.referrals.ConvertTx(tx, user.ID, effectiveDate)
			if err != nil {
				return err
			}
			result.Converted = conversion != nil
		}

		// Settlement runs on every confirmed payment so recurring
		// commissions accrue; the engine is idempotent per payment id.
		if user.ReferredByID != nil {
			commissionRow, err := s.engine.SettleTx(tx, commission.SettleParams{
				ReferrerID:   *user.ReferredByID,
				ReferredID:   user.ID,
				PaymentValue: payment.Value,
				PaymentDate:  effectiveDate,
				PaymentID:    payment.ID,
			})
			if err != nil {
				return err
			}
			result.Commission = commissionRow
		}

		result.Processed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.markProcessed(ctx, event)
	return result, nil
}

func isConfirmedStatus(status string) bool {
	return status == model.PaymentStatusConfirmed || status == model.PaymentStatusReceived
}

func (s *Service) alreadyProcessed(ctx context.Context, event Event) bool {
	if s.rdb == nil {
		return false
	}
	n, err := s.rdb.Exists(ctx, processedEventKey(event)).Result()
	if err != nil {
		// Redis being down never blocks webhook processing.
		return false
	}
	return n > 0
}

func (s *Service) markProcessed(ctx context.Context, event Event) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, processedEventKey(event), 1, processedEventTTL).Err(); err != nil {
		logger.Log.Warn("failed to mark webhook processed",
			zap.String("paymentID", event.Payment.ID),
			zap.Error(err))
	}
}

func processedEventKey(event Event) string {
	return "webhook:" + event.Event + ":" + event.Payment.ID + ":" + event.Payment.Status
}

func parseEventDate(values ...string) *time.Time {
	layouts := []string{time.RFC3339, "2006-01-02"}
	for _, value := range values {
		if value == "" {
			continue
		}
		for _, layout := range layouts {
			if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
				return &ts
			}
		}
	}
	return nil
}

func marshalEvent(event Event) datatypes.JSON {
	raw, err := json.Marshal(event)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
