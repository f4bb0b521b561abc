package commission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"loyalty-service/internal/model"
	appErr "loyalty-service/pkg/errors"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ConfigService owns the commission_configs table: admin CRUD plus the
// specificity-ordered resolution used by the engine and the payout
// reconciler.
type ConfigService struct {
	db *gorm.DB
}

type ConfigListResult struct {
	Items []model.CommissionConfig
	Total int64
}

type ConfigMutationParams struct {
	Name                  string
	FirstPaymentType      model.PaymentValueType
	FirstPaymentValue     float64
	RecurringPaymentType  model.PaymentValueType
	RecurringPaymentValue float64
	RecurringLimit        *int
	AppliesTo             model.ConfigAudience
	Active                bool
	ValidFrom             *time.Time
	ValidUntil            *time.Time
	MinPayoutAmount       float64
}

func NewConfigService(db *gorm.DB) *ConfigService {
	return &ConfigService{db: db}
}

func (s *ConfigService) List(ctx context.Context, page, size int) (*ConfigListResult, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.CommissionConfig{}).Count(&total).Error; err != nil {
		return nil, err
	}

	result := &ConfigListResult{
		Items: make([]model.CommissionConfig, 0),
		Total: total,
	}
	if total == 0 {
		return result, nil
	}

	offset := (page - 1) * size
	if err := s.db.WithContext(ctx).
		Model(&model.CommissionConfig{}).
		Order("id DESC").
		Limit(size).
		Offset(offset).
		Find(&result.Items).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ConfigService) Create(ctx context.Context, params ConfigMutationParams) (*model.CommissionConfig, error) {
	if err := validateConfigParams(params); err != nil {
		return nil, err
	}

	cfg := model.CommissionConfig{
		Name:                  strings.TrimSpace(params.Name),
		FirstPaymentType:      params.FirstPaymentType,
		FirstPaymentValue:     params.FirstPaymentValue,
		RecurringPaymentType:  params.RecurringPaymentType,
		RecurringPaymentValue: params.RecurringPaymentValue,
		RecurringLimit:        params.RecurringLimit,
		AppliesTo:             params.AppliesTo,
		Active:                params.Active,
		ValidFrom:             params.ValidFrom,
		ValidUntil:            params.ValidUntil,
		MinPayoutAmount:       params.MinPayoutAmount,
	}
	if err := s.db.WithContext(ctx).Create(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *ConfigService) Update(ctx context.Context, id int64, params ConfigMutationParams) (*model.CommissionConfig, error) {
	if err := validateConfigParams(params); err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).
		Model(&model.CommissionConfig{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"name":                    strings.TrimSpace(params.Name),
			"first_payment_type":      params.FirstPaymentType,
			"first_payment_value":     params.FirstPaymentValue,
			"recurring_payment_type":  params.RecurringPaymentType,
			"recurring_payment_value": params.RecurringPaymentValue,
			"recurring_limit":         params.RecurringLimit,
			"applies_to":              params.AppliesTo,
			"active":                  params.Active,
			"valid_from":              params.ValidFrom,
			"valid_until":             params.ValidUntil,
			"min_payout_amount":       params.MinPayoutAmount,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, appErr.ErrCommissionConfigNotFound
	}

	var cfg model.CommissionConfig
	if err := s.db.WithContext(ctx).First(&cfg, id).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *ConfigService) Delete(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&model.CommissionConfig{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return appErr.ErrCommissionConfigNotFound
	}
	return nil
}

// BindUser attaches a config to a specific referrer, making it the highest
// priority match for that user.
func (s *ConfigService) BindUser(ctx context.Context, configID, userID int64) error {
	var cfg model.CommissionConfig
	if err := s.db.WithContext(ctx).First(&cfg, configID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.ErrCommissionConfigNotFound
		}
		return err
	}

	var user model.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.ErrUserNotFound
		}
		return err
	}

	binding := model.UserCommissionConfig{UserID: userID, ConfigID: configID}
	if err := s.db.WithContext(ctx).Create(&binding).Error; err != nil {
		if err == gorm.ErrDuplicatedKey {
			return nil
		}
		return err
	}
	return nil
}

func validateConfigParams(params ConfigMutationParams) error {
	if strings.TrimSpace(params.Name) == "" {
		return fmt.Errorf("%w: name is required", appErr.ErrInvalidCommissionConfig)
	}
	if !validPaymentValueType(params.FirstPaymentType) || !validPaymentValueType(params.RecurringPaymentType) {
		return fmt.Errorf("%w: payment type must be percentage or fixed", appErr.ErrInvalidCommissionConfig)
	}
	if params.FirstPaymentValue < 0 || params.RecurringPaymentValue < 0 {
		return fmt.Errorf("%w: payment values must be >= 0", appErr.ErrInvalidCommissionConfig)
	}
	if params.RecurringLimit != nil && *params.RecurringLimit < 0 {
		return fmt.Errorf("%w: recurringLimit must be >= 0", appErr.ErrInvalidCommissionConfig)
	}
	if params.MinPayoutAmount < 0 {
		return fmt.Errorf("%w: minPayoutAmount must be >= 0", appErr.ErrInvalidCommissionConfig)
	}
	switch params.AppliesTo {
	case model.AudienceAll, model.AudiencePartner, model.AudienceAmbassador, model.AudienceCustom:
	default:
		return fmt.Errorf("%w: unknown appliesTo value", appErr.ErrInvalidCommissionConfig)
	}
	return nil
}

func validPaymentValueType(t model.PaymentValueType) bool {
	return t == model.PaymentValuePercentage || t == model.PaymentValueFixed
}

// Resolve picks the single applicable config for a referrer on a date:
// user-specific binding first, then configs for the referrer's own user
// type, then the universal tier. Ties within a tier go to the most recently
// created config. Resolution never mutates state, so callers may use it
// speculatively (e.g. previewing minPayoutAmount).
func (s *ConfigService) Resolve(ctx context.Context, referrerID int64, at time.Time) (*model.CommissionConfig, error) {
	return s.ResolveTx(s.db.WithContext(ctx), referrerID, at)
}

type resolveStrategy func(tx *gorm.DB, referrer *model.User, at time.Time) (*model.CommissionConfig, error)

func (s *ConfigService) ResolveTx(tx *gorm.DB, referrerID int64, at time.Time) (*model.CommissionConfig, error) {
	var referrer model.User
	if err := tx.First(&referrer, referrerID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}

	strategies := []resolveStrategy{
		resolveUserSpecific,
		resolveTypeSpecific,
		resolveUniversal,
	}
	for _, strategy := range strategies {
		cfg, err := strategy(tx, &referrer, at)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			return cfg, nil
		}
	}
	return nil, nil
}

func resolveUserSpecific(tx *gorm.DB, referrer *model.User, at time.Time) (*model.CommissionConfig, error) {
	var cfg model.CommissionConfig
	// Find instead of First: no match is a normal outcome, not an error.
	err := applyDateWindow(
		tx.Model(&model.CommissionConfig{}).
			Joins("JOIN user_commission_config ucc ON ucc.config_id = commission_configs.id").
			Where("ucc.user_id = ?", referrer.ID).
			Where("commission_configs.active = ?", true),
		at).
		Order("commission_configs.created_at DESC").
		Limit(1).
		Find(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == 0 {
		return nil, nil
	}
	return &cfg, nil
}

func resolveTypeSpecific(tx *gorm.DB, referrer *model.User, at time.Time) (*model.CommissionConfig, error) {
	return resolveGeneral(tx, model.ConfigAudience(referrer.Type), at)
}

func resolveUniversal(tx *gorm.DB, _ *model.User, at time.Time) (*model.CommissionConfig, error) {
	return resolveGeneral(tx, model.AudienceAll, at)
}

func resolveGeneral(tx *gorm.DB, audience model.ConfigAudience, at time.Time) (*model.CommissionConfig, error) {
	var cfg model.CommissionConfig
	err := applyDateWindow(
		tx.Model(&model.CommissionConfig{}).
			Where("applies_to = ? AND active = ?", audience, true),
		at).
		Order("created_at DESC").
		Limit(1).
		Find(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == 0 {
		return nil, nil
	}
	return &cfg, nil
}

func applyDateWindow(db *gorm.DB, at time.Time) *gorm.DB {
	return db.
		Where("(valid_from IS NULL OR valid_from <= ?)", at).
		Where("(valid_until IS NULL OR valid_until >= ?)", at)
}
