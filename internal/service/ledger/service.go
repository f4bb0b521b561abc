package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loyalty-service/internal/model"
	appErr "loyalty-service/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// Renewal pushes a renewable entry 12 months past "now", so repeated
	// renewals before the next natural expiry only re-extend.
	renewalPeriodMonths = 12

	// Deductions never expire; the schema keeps expires_at non-null, so a
	// far-future horizon stands in for "never".
	redemptionExpiryYears = 100
)

type Service struct {
	db *gorm.DB
}

type AwardParams struct {
	UserID    int64
	Points    int
	Kind      model.LedgerKind
	Metadata  map[string]interface{}
	ExpiresAt time.Time
	Renewable bool
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Award(ctx context.Context, params AwardParams) (*model.LedgerEntry, error) {
	return s.AwardTx(s.db.WithContext(ctx), params)
}

// AwardTx appends an entry using the caller's transaction.
func (s *Service) AwardTx(tx *gorm.DB, params AwardParams) (*model.LedgerEntry, error) {
	if params.Points == 0 {
		return nil, appErr.ErrInvalidPointsAmount
	}

	entry := model.LedgerEntry{
		UserID:    params.UserID,
		Points:    params.Points,
		Kind:      params.Kind,
		Metadata:  mustJSON(params.Metadata),
		EarnedAt:  time.Now(),
		ExpiresAt: params.ExpiresAt,
		Renewable: params.Renewable,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Balance sums the live entries for a user. Due entries are flipped to
// expired first so that the balance and any listing read agree on the same
// predicate; both steps run in one transaction.
func (s *Service) Balance(ctx context.Context, userID int64) (int, error) {
	var balance int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.BalanceTx(tx, userID)
		return err
	})
	return balance, err
}

func (s *Service) BalanceTx(tx *gorm.DB, userID int64) (int, error) {
	if err := markExpired(tx, userID); err != nil {
		return 0, err
	}

	var balance *int
	err := tx.Model(&model.LedgerEntry{}).
		Select("SUM(points)").
		Where("user_id = ? AND expired = ? AND redeemed = ?", userID, false, false).
		Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return *balance, nil
}

func markExpired(tx *gorm.DB, userID int64) error {
	return tx.Model(&model.LedgerEntry{}).
		Where("user_id = ? AND expired = ? AND redeemed = ? AND expires_at <= ?",
			userID, false, false, time.Now()).
		Update("expired", true).Error
}

// RenewAll re-extends every live renewable entry to now + 12 months and
// reports how many rows were touched. Due entries are flipped to expired
// first, under the same predicate the balance read uses; a lapsed entry can
// never be brought back by renewing it.
func (s *Service) RenewAll(ctx context.Context, userID int64) (int64, error) {
	var renewed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := markExpired(tx, userID); err != nil {
			return err
		}

		newExpiry := time.Now().AddDate(0, renewalPeriodMonths, 0)
		result := tx.Model(&model.LedgerEntry{}).
			Where("user_id = ? AND renewable = ? AND expired = ? AND redeemed = ?",
				userID, true, false, false).
			Update("expires_at", newExpiry)
		if result.Error != nil {
			return result.Error
		}
		renewed = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return renewed, nil
}

func (s *Service) ListExpiringWithin(ctx context.Context, userID int64, days int) ([]model.LedgerEntry, error) {
	now := time.Now()
	until := now.AddDate(0, 0, days)

	var entries []model.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expired = ? AND redeemed = ? AND expires_at > ? AND expires_at <= ?",
			userID, false, false, now, until).
		Order("expires_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Redeem writes a negative redemption entry after checking the live balance
// inside the same transaction. Redemption rows carry the permanent-expiry
// sentinel so they never drop out of the balance sum.
func (s *Service) Redeem(ctx context.Context, userID int64, points int, metadata map[string]interface{}) (*model.LedgerEntry, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: redemption must deduct a positive amount", appErr.ErrInvalidPointsAmount)
	}

	var entry *model.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.BalanceTx(tx, userID)
		if err != nil {
			return err
		}
		if balance < points {
			return fmt.Errorf("%w: balance %d, requested %d", appErr.ErrInsufficientPoints, balance, points)
		}

		entry, err = s.AwardTx(tx, AwardParams{
			UserID:    userID,
			Points:    -points,
			Kind:      model.LedgerKindRedemption,
			Metadata:  metadata,
			ExpiresAt: time.Now().AddDate(redemptionExpiryYears, 0, 0),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func mustJSON(v map[string]interface{}) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
