package repo

import (
	"log"

	"loyalty-service/internal/config"
	"loyalty-service/internal/model"
	"loyalty-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB() {
	dsn := config.GlobalConfig.Database.DSN
	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		logger.Log.Fatal("Failed to connect to database",
			zap.Error(err),
		)
	}

	models := []interface{}{
		&model.User{},
		&model.Referral{},
		&model.LedgerEntry{},
		&model.CommissionConfig{},
		&model.UserCommissionConfig{},
		&model.Commission{},
		&model.Payment{},
		&model.PayoutRequest{},
	}

	err = DB.AutoMigrate(models...)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
}
