package commission

import (
	"context"
	"math"
	"time"

	"loyalty-service/internal/model"
	appErr "loyalty-service/pkg/errors"
	"loyalty-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine turns a confirmed payment event into at most one commission row.
type Engine struct {
	db      *gorm.DB
	configs *ConfigService
}

type SettleParams struct {
	ReferrerID   int64
	ReferredID   int64
	PaymentValue float64
	PaymentDate  time.Time
	PaymentID    string
}

func NewEngine(db *gorm.DB, configs *ConfigService) *Engine {
	return &Engine{db: db, configs: configs}
}

// Settle runs the settlement in its own transaction. A nil commission with a
// nil error means "nothing owed": already settled, no applicable config, or
// the recurring cap was reached.
func (e *Engine) Settle(ctx context.Context, params SettleParams) (*model.Commission, error) {
	var commission *model.Commission
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		commission, err = e.SettleTx(tx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return commission, nil
}

// SettleTx settles inside the caller's transaction. The read-then-insert
// guard is backed by the unique index on commissions.payment_id, so a lost
// race surfaces as a duplicate-key insert and is folded into the benign
// already-settled outcome.
func (e *Engine) SettleTx(tx *gorm.DB, params SettleParams) (*model.Commission, error) {
	var existing model.Commission
	err := tx.Where("payment_id = ?", params.PaymentID).Limit(1).Find(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.ID != 0 {
		return nil, nil
	}

	var userCount int64
	if err := tx.Model(&model.User{}).
		Where("id IN ?", []int64{params.ReferrerID, params.ReferredID}).
		Count(&userCount).Error; err != nil {
		return nil, err
	}
	want := int64(2)
	if params.ReferrerID == params.ReferredID {
		want = 1
	}
	if userCount != want {
		return nil, appErr.ErrInvalidReference
	}

	cfg, err := e.configs.ResolveTx(tx, params.ReferrerID, params.PaymentDate)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}

	// Classification is recomputed from payment history on every call so
	// out-of-order webhook deliveries converge on the same answer.
	priorConfirmed, err := countConfirmedBefore(tx, params.ReferredID, params.PaymentDate)
	if err != nil {
		return nil, err
	}

	commissionType := model.CommissionTypeRecurring
	if priorConfirmed == 0 {
		commissionType = model.CommissionTypeFirst
	}

	if commissionType == model.CommissionTypeRecurring && cfg.RecurringLimit != nil {
		if priorConfirmed >= int64(*cfg.RecurringLimit) {
			return nil, nil
		}
	}

	var value float64
	switch commissionType {
	case model.CommissionTypeFirst:
		value = commissionValue(cfg.FirstPaymentType, cfg.FirstPaymentValue, params.PaymentValue)
	default:
		value = commissionValue(cfg.RecurringPaymentType, cfg.RecurringPaymentValue, params.PaymentValue)
	}

	commission := model.Commission{
		ReferrerID: params.ReferrerID,
		ReferredID: params.ReferredID,
		PaymentID:  params.PaymentID,
		ConfigID:   cfg.ID,
		Value:      value,
		Type:       commissionType,
		Status:     model.CommissionStatusPending,
	}
	if err := tx.Create(&commission).Error; err != nil {
		if err == gorm.ErrDuplicatedKey {
			return nil, nil
		}
		return nil, err
	}

	logger.Log.Info("commission settled",
		zap.String("paymentID", params.PaymentID),
		zap.Int64("referrerID", params.ReferrerID),
		zap.String("type", string(commissionType)),
		zap.Float64("value", value))

	return &commission, nil
}

type CommissionListResult struct {
	Items []model.Commission
	Total int64
}

func (e *Engine) ListByReferrer(ctx context.Context, referrerID int64, limit, offset int) (*CommissionListResult, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := e.db.WithContext(ctx).
		Model(&model.Commission{}).
		Where("referrer_id = ?", referrerID).
		Count(&total).Error; err != nil {
		return nil, err
	}

	result := &CommissionListResult{
		Items: make([]model.Commission, 0),
		Total: total,
	}
	if total == 0 {
		return result, nil
	}

	if err := e.db.WithContext(ctx).
		Model(&model.Commission{}).
		Where("referrer_id = ?", referrerID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&result.Items).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func countConfirmedBefore(tx *gorm.DB, userID int64, before time.Time) (int64, error) {
	var count int64
	err := tx.Model(&model.Payment{}).
		Where("user_id = ? AND status IN ? AND payment_date < ?",
			userID,
			[]string{model.PaymentStatusConfirmed, model.PaymentStatusReceived},
			before).
		Count(&count).Error
	return count, err
}

func commissionValue(valueType model.PaymentValueType, configValue, paymentValue float64) float64 {
	if valueType == model.PaymentValuePercentage {
		return RoundToCents(paymentValue * configValue / 100)
	}
	return configValue
}

// RoundToCents normalizes a monetary amount to two decimals. Every value
// written to a money column goes through this.
func RoundToCents(v float64) float64 {
	return math.Round(v*100) / 100
}
