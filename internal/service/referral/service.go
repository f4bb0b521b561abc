package referral

import (
	"context"
	"time"

	"loyalty-service/internal/model"
	"loyalty-service/internal/repo"
	"loyalty-service/internal/service/ledger"
	"loyalty-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultReferredBonusPoints = 100
	awardExpiryMonths          = 12
)

type Service struct {
	db                  *gorm.DB
	ledger              *ledger.Service
	referredBonusPoints int
}

type ConversionResult struct {
	Referral      *model.Referral
	Referrer      *model.User
	PointsAwarded int
	LevelChanged  bool
}

func NewService(db *gorm.DB, ledgerSvc *ledger.Service, referredBonusPoints int) *Service {
	if referredBonusPoints <= 0 {
		referredBonusPoints = defaultReferredBonusPoints
	}
	return &Service{db: db, ledger: ledgerSvc, referredBonusPoints: referredBonusPoints}
}

// Convert runs the conversion in its own transaction. The webhook
// orchestrator calls ConvertTx instead so the whole payment sequence shares
// one transaction.
func (s *Service) Convert(ctx context.Context, referredID int64, at time.Time) (*ConversionResult, error) {
	var result *ConversionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.ConvertTx(tx, referredID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConvertTx transitions the referred user's pending referral to converted,
// bumps the referrer's lifetime counter, recomputes the level from that
// counter and awards points to both sides. A nil result with nil error means
// there was nothing pending to convert.
func (s *Service) ConvertTx(tx *gorm.DB, referredID int64, at time.Time) (*ConversionResult, error) {
	var ref model.Referral
	err := repo.LockForUpdate(tx).
		Where("referred_id = ? AND status = ?", referredID, model.ReferralStatusPending).
		First(&ref).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	var referrer model.User
	if err := repo.LockForUpdate(tx).
		First(&referrer, ref.ReferrerID).Error; err != nil {
		return nil, err
	}

	previousLevel := referrer.Level
	referrer.TotalReferrals++
	// Level is always a pure function of the counter, never carried forward.
	referrer.Level = LevelForReferrals(referrer.TotalReferrals)
	referrer.UpdatedAt = at

	if err := tx.Save(&referrer).Error; err != nil {
		return nil, err
	}

	points := PointsPerReferral(referrer.Level)
	expiresAt := at.AddDate(0, awardExpiryMonths, 0)

	if _, err := s.ledger.AwardTx(tx, ledger.AwardParams{
		UserID:    referrer.ID,
		Points:    points,
		Kind:      model.LedgerKindReferral,
		Metadata:  map[string]interface{}{"referralId": ref.ID, "referredId": referredID},
		ExpiresAt: expiresAt,
		Renewable: true,
	}); err != nil {
		return nil, err
	}

	if _, err := s.ledger.AwardTx(tx, ledger.AwardParams{
		UserID:    referredID,
		Points:    s.referredBonusPoints,
		Kind:      model.LedgerKindBonus,
		Metadata:  map[string]interface{}{"referralId": ref.ID},
		ExpiresAt: expiresAt,
		Renewable: true,
	}); err != nil {
		return nil, err
	}

	now := at
	ref.Status = model.ReferralStatusConverted
	ref.ConversionDate = &now
	ref.PointsAwarded = points
	if err := tx.Save(&ref).Error; err != nil {
		return nil, err
	}

	if referrer.Level != previousLevel {
		logger.Log.Info("referrer promoted",
			zap.Int64("referrerID", referrer.ID),
			zap.String("from", string(previousLevel)),
			zap.String("to", string(referrer.Level)))
	}

	return &ConversionResult{
		Referral:      &ref,
		Referrer:      &referrer,
		PointsAwarded: points,
		LevelChanged:  referrer.Level != previousLevel,
	}, nil
}
