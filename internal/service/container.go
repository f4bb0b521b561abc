package service

import (
	"loyalty-service/internal/config"
	"loyalty-service/internal/service/commission"
	"loyalty-service/internal/service/ledger"
	"loyalty-service/internal/service/payment"
	"loyalty-service/internal/service/payout"
	"loyalty-service/internal/service/referral"
	"loyalty-service/internal/service/user"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Ledger           *ledger.Service
	Referral         *referral.Service
	CommissionConfig *commission.ConfigService
	Engine           *commission.Engine
	Payout           *payout.Service
	Payment          *payment.Service
	User             *user.Service
}

func NewContainer(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Container {
	ledgerSvc := ledger.NewService(db)
	referralSvc := referral.NewService(db, ledgerSvc, cfg.Loyalty.ReferredBonusPoints)
	configSvc := commission.NewConfigService(db)
	engine := commission.NewEngine(db, configSvc)

	return &Container{
		Ledger:           ledgerSvc,
		Referral:         referralSvc,
		CommissionConfig: configSvc,
		Engine:           engine,
		Payout:           payout.NewService(db, configSvc),
		Payment:          payment.NewService(db, rdb, referralSvc, engine),
		User:             user.NewService(db),
	}
}
