package payout

import (
	"context"
	"fmt"
	"time"

	"loyalty-service/internal/model"
	"loyalty-service/internal/repo"
	"loyalty-service/internal/service/commission"
	appErr "loyalty-service/pkg/errors"
	"loyalty-service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Service aggregates a referrer's pending commissions into payout requests
// and reverses the linkage on rejection.
type Service struct {
	db      *gorm.DB
	configs *commission.ConfigService
}

type ListResult struct {
	Items []model.PayoutRequest
	Total int64
}

func NewService(db *gorm.DB, configs *commission.ConfigService) *Service {
	return &Service{db: db, configs: configs}
}

// Request claims every commission that is pending and unlinked at stamp
// time. The request amount is summed from the stamped rows afterwards, never
// from a pre-read, so the snapshot always equals the linked set exactly.
func (s *Service) Request(ctx context.Context, userID int64) (*model.PayoutRequest, error) {
	var request *model.PayoutRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.First(&user, userID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return appErr.ErrUserNotFound
			}
			return err
		}
		if len(user.PayoutInfo) == 0 || string(user.PayoutInfo) == "null" {
			return appErr.ErrMissingPayoutInfo
		}

		req := model.PayoutRequest{
			Reference:    uuid.NewString(),
			UserID:       userID,
			PayoutMethod: user.PayoutInfo,
			Status:       model.PayoutStatusPending,
		}
		if err := tx.Create(&req).Error; err != nil {
			return err
		}

		stamp := tx.Model(&model.Commission{}).
			Where("referrer_id = ? AND status = ? AND payout_request_id IS NULL",
				userID, model.CommissionStatusPending).
			Update("payout_request_id", req.ID)
		if stamp.Error != nil {
			return stamp.Error
		}
		if stamp.RowsAffected == 0 {
			return appErr.ErrNoPendingCommissions
		}

		var sum *float64
		if err := tx.Model(&model.Commission{}).
			Select("SUM(value)").
			Where("payout_request_id = ?", req.ID).
			Scan(&sum).Error; err != nil {
			return err
		}
		if sum == nil {
			return appErr.ErrNoPendingCommissions
		}
		// The float sum accumulates sub-cent noise (20.00 + 4.99 comes
		// back as 24.990000000000002); the stored amount is exact cents.
		total := commission.RoundToCents(*sum)

		cfg, err := s.configs.ResolveTx(tx, userID, time.Now())
		if err != nil {
			return err
		}
		if cfg != nil && total < cfg.MinPayoutAmount {
			return fmt.Errorf("%w: pending %.2f, minimum %.2f",
				appErr.ErrBelowMinimumPayout, total, cfg.MinPayoutAmount)
		}

		req.RequestAmount = total
		if err := tx.Model(&model.PayoutRequest{}).
			Where("id = ?", req.ID).
			Update("request_amount", req.RequestAmount).Error; err != nil {
			return err
		}

		request = &req
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("payout requested",
		zap.Int64("userID", userID),
		zap.Int64("requestID", request.ID),
		zap.Float64("amount", request.RequestAmount))

	return request, nil
}

// Approve marks the request approved and flips its linked commissions to
// paid.
func (s *Service) Approve(ctx context.Context, requestID int64) (*model.PayoutRequest, error) {
	return s.process(ctx, requestID, model.PayoutStatusApproved)
}

// Reject marks the request rejected and unlinks its commissions; they stay
// pending and re-enter the next request.
func (s *Service) Reject(ctx context.Context, requestID int64) (*model.PayoutRequest, error) {
	return s.process(ctx, requestID, model.PayoutStatusRejected)
}

func (s *Service) process(ctx context.Context, requestID int64, target model.PayoutStatus) (*model.PayoutRequest, error) {
	var request *model.PayoutRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req model.PayoutRequest
		if err := repo.LockForUpdate(tx).
			First(&req, requestID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return appErr.ErrPayoutRequestNotFound
			}
			return err
		}
		if req.Status != model.PayoutStatusPending {
			return appErr.ErrPayoutAlreadyProcessed
		}

		now := time.Now()
		req.Status = target
		req.ProcessedAt = &now
		if err := tx.Save(&req).Error; err != nil {
			return err
		}

		linked := tx.Model(&model.Commission{}).Where("payout_request_id = ?", req.ID)
		switch target {
		case model.PayoutStatusApproved:
			if err := linked.Update("status", model.CommissionStatusPaid).Error; err != nil {
				return err
			}
		case model.PayoutStatusRejected:
			if err := linked.Update("payout_request_id", nil).Error; err != nil {
				return err
			}
		}

		request = &req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) List(ctx context.Context, userID int64, limit, offset int) (*ListResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.WithContext(ctx).
		Model(&model.PayoutRequest{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, err
	}

	result := &ListResult{
		Items: make([]model.PayoutRequest, 0),
		Total: total,
	}
	if total == 0 {
		return result, nil
	}

	if err := s.db.WithContext(ctx).
		Model(&model.PayoutRequest{}).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&result.Items).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// AdminList pages across all requests, newest first, optionally filtered by
// status.
func (s *Service) AdminList(ctx context.Context, status model.PayoutStatus, limit, offset int) (*ListResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	applyFilter := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&model.PayoutRequest{})
		if status != "" {
			db = db.Where("status = ?", status)
		}
		return db
	}

	var total int64
	if err := applyFilter(s.db.WithContext(ctx)).Count(&total).Error; err != nil {
		return nil, err
	}

	result := &ListResult{
		Items: make([]model.PayoutRequest, 0),
		Total: total,
	}
	if total == 0 {
		return result, nil
	}

	if err := applyFilter(s.db.WithContext(ctx)).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&result.Items).Error; err != nil {
		return nil, err
	}
	return result, nil
}
