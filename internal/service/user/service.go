package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"loyalty-service/internal/model"
	appErr "loyalty-service/pkg/errors"
	"loyalty-service/pkg/logger"
	"loyalty-service/pkg/utils/random"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	referralCodeLength   = 8
	referralCodeAttempts = 5

	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	db *gorm.DB
}

type RegisterParams struct {
	Name         string
	Email        string
	Type         model.UserType
	ReferralCode string // optional code of the referrer
}

type ListFilter struct {
	Page         int
	Size         int
	Status       string
	EmailKeyword string
	Level        string
}

type ListResult struct {
	Items []model.User
	Total int64
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Register creates a user and, when a referral code is supplied, binds the
// referrer once and opens the pending referral. The referred-by link is
// immutable after this point.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*model.User, error) {
	name := strings.TrimSpace(params.Name)
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", appErr.ErrInvalidUserStatus)
	}

	userType := params.Type
	if userType == "" {
		userType = model.UserTypeClient
	}

	var created *model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var referrer *model.User
		if code := strings.ToUpper(strings.TrimSpace(params.ReferralCode)); code != "" {
			var found model.User
			err := tx.Where("referral_code = ?", code).Limit(1).Find(&found).Error
			if err != nil {
				return err
			}
			if found.ID == 0 {
				return appErr.ErrReferralCodeNotFound
			}
			referrer = &found
		}

		code, err := s.uniqueReferralCode(tx)
		if err != nil {
			return err
		}

		user := model.User{
			Name:         name,
			Email:        email,
			Type:         userType,
			Status:       model.UserStatusInactive,
			Level:        model.LevelBronze,
			ReferralCode: code,
		}
		if referrer != nil {
			user.ReferredByID = &referrer.ID
		}
		if err := tx.Create(&user).Error; err != nil {
			if err == gorm.ErrDuplicatedKey {
				return appErr.ErrEmailAlreadyRegistered
			}
			return err
		}

		if referrer != nil {
			ref := model.Referral{
				ReferrerID: referrer.ID,
				ReferredID: user.ID,
				Status:     model.ReferralStatusPending,
			}
			if err := tx.Create(&ref).Error; err != nil {
				return err
			}
		}

		created = &user
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("user registered",
		zap.Int64("userID", created.ID),
		zap.Bool("referred", created.ReferredByID != nil))

	return created, nil
}

func (s *Service) uniqueReferralCode(tx *gorm.DB) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code := random.Code(referralCodeLength)
		var count int64
		if err := tx.Model(&model.User{}).
			Where("referral_code = ?", code).
			Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique referral code")
}

func (s *Service) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) UpdatePayoutInfo(ctx context.Context, userID int64, payoutInfo []byte) (*model.User, error) {
	result := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"payout_info": datatypes.JSON(payoutInfo),
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, appErr.ErrUserNotFound
	}
	return s.GetProfile(ctx, userID)
}

func (f *ListFilter) sanitize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Size <= 0 {
		f.Size = defaultPageSize
	}
	if f.Size > maxPageSize {
		f.Size = maxPageSize
	}
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	f.EmailKeyword = strings.TrimSpace(f.EmailKeyword)
	f.Level = strings.ToLower(strings.TrimSpace(f.Level))
}

func applyListFilters(db *gorm.DB, filter ListFilter) *gorm.DB {
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.EmailKeyword != "" {
		db = db.Where("email LIKE ?", "%"+filter.EmailKeyword+"%")
	}
	if filter.Level != "" {
		db = db.Where("level = ?", filter.Level)
	}
	return db
}

func (s *Service) AdminListUsers(ctx context.Context, filter ListFilter) (*ListResult, error) {
	filter.sanitize()

	countQuery := applyListFilters(s.db.WithContext(ctx).Model(&model.User{}), filter)
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, err
	}

	result := &ListResult{
		Items: make([]model.User, 0),
		Total: total,
	}
	if total == 0 {
		return result, nil
	}

	dataQuery := applyListFilters(s.db.WithContext(ctx).Model(&model.User{}), filter)
	if err := dataQuery.
		Order("id DESC").
		Limit(filter.Size).
		Offset((filter.Page - 1) * filter.Size).
		Find(&result.Items).Error; err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) AdminGetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.GetProfile(ctx, userID)
}

// AdminUpdateUserStatus moves a user between active/inactive/blocked. Users
// are never hard-deleted; blocking is the terminal state.
func (s *Service) AdminUpdateUserStatus(ctx context.Context, userID int64, status model.UserStatus, reason string) (*model.User, error) {
	switch status {
	case model.UserStatusActive, model.UserStatusInactive, model.UserStatusBlocked:
	default:
		return nil, appErr.ErrInvalidUserStatus
	}

	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, appErr.ErrUserNotFound
	}

	logger.Log.Info("admin updated user status",
		zap.Int64("userID", userID),
		zap.String("status", string(status)),
		zap.String("reason", strings.TrimSpace(reason)))

	return s.GetProfile(ctx, userID)
}
