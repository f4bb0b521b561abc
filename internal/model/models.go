package model

import (
	"time"

	"gorm.io/datatypes"
)

// Status/type fields are closed sets; typed strings keep the gorm mapping
// simple while making the valid values explicit.

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusBlocked  UserStatus = "blocked"
)

type UserLevel string

const (
	LevelBronze  UserLevel = "bronze"
	LevelSilver  UserLevel = "silver"
	LevelGold    UserLevel = "gold"
	LevelDiamond UserLevel = "diamond"
)

type UserType string

const (
	UserTypeClient     UserType = "client"
	UserTypePartner    UserType = "partner"
	UserTypeAmbassador UserType = "ambassador"
)

type LedgerKind string

const (
	LedgerKindPurchase   LedgerKind = "purchase"
	LedgerKindReferral   LedgerKind = "referral"
	LedgerKindBonus      LedgerKind = "bonus"
	LedgerKindRedemption LedgerKind = "redemption"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusConverted ReferralStatus = "converted"
)

type CommissionType string

const (
	CommissionTypeFirst     CommissionType = "first"
	CommissionTypeRecurring CommissionType = "recurring"
)

type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "pending"
	CommissionStatusPaid    CommissionStatus = "paid"
)

type PaymentValueType string

const (
	PaymentValuePercentage PaymentValueType = "percentage"
	PaymentValueFixed      PaymentValueType = "fixed"
)

type ConfigAudience string

const (
	AudienceAll        ConfigAudience = "all"
	AudiencePartner    ConfigAudience = "partner"
	AudienceAmbassador ConfigAudience = "ambassador"
	AudienceCustom     ConfigAudience = "custom"
)

type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusApproved PayoutStatus = "approved"
	PayoutStatusRejected PayoutStatus = "rejected"
)

// 2.1 Users & referrals

type User struct {
	ID             int64      `gorm:"primaryKey;autoIncrement"`
	Name           string     `gorm:"size:128;not null"`
	Email          string     `gorm:"size:255;unique;not null"`
	Type           UserType   `gorm:"size:16;default:client;not null"`
	Status         UserStatus `gorm:"size:16;default:inactive;not null"`
	Level          UserLevel  `gorm:"size:16;default:bronze;not null"`
	TotalReferrals int        `gorm:"default:0;not null"`
	ReferralCode   string     `gorm:"size:16;unique"`
	ReferredByID   *int64     `gorm:"index"` // set once at registration, never rewritten
	PayoutInfo     datatypes.JSON
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Referral struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	ReferrerID     int64          `gorm:"index;not null"`
	ReferredID     int64          `gorm:"uniqueIndex;not null"`
	Status         ReferralStatus `gorm:"size:16;default:pending;not null"`
	ConversionDate *time.Time
	PointsAwarded  int
	CreatedAt      time.Time
}

// 2.2 Points ledger

// LedgerEntry rows are append-only; only the expiry flags change after insert.
type LedgerEntry struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	UserID    int64      `gorm:"index;not null"`
	Points    int        `gorm:"not null"` // negative = deduction
	Kind      LedgerKind `gorm:"size:16;not null"`
	Metadata  datatypes.JSON
	EarnedAt  time.Time  `gorm:"not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	Renewable bool       `gorm:"default:false;not null"`
	Expired   bool       `gorm:"default:false;not null"`
	Redeemed  bool       `gorm:"default:false;not null"`
	CreatedAt time.Time
}

func (LedgerEntry) TableName() string { return "points_ledger" }

// 2.3 Commission policies

type CommissionConfig struct {
	ID                    int64            `gorm:"primaryKey;autoIncrement"`
	Name                  string           `gorm:"size:128;not null"`
	FirstPaymentType      PaymentValueType `gorm:"size:16;not null"`
	FirstPaymentValue     float64          `gorm:"type:numeric(12,2);not null"`
	RecurringPaymentType  PaymentValueType `gorm:"size:16;not null"`
	RecurringPaymentValue float64          `gorm:"type:numeric(12,2);not null"`
	RecurringLimit        *int
	AppliesTo             ConfigAudience `gorm:"size:16;default:all;not null"`
	Active                bool           `gorm:"default:true;not null"`
	ValidFrom             *time.Time
	ValidUntil            *time.Time
	MinPayoutAmount       float64 `gorm:"type:numeric(12,2);default:0;not null"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (CommissionConfig) TableName() string { return "commission_configs" }

// UserCommissionConfig binds a config to a specific referrer (resolver tier 1).
type UserCommissionConfig struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	UserID    int64 `gorm:"index:idx_user_commission_config,unique;not null"`
	ConfigID  int64 `gorm:"index:idx_user_commission_config,unique;not null"`
	CreatedAt time.Time
}

func (UserCommissionConfig) TableName() string { return "user_commission_config" }

// Commission is one row per settled payment; the unique payment id is the
// idempotency guard under concurrent webhook deliveries.
type Commission struct {
	ID              int64            `gorm:"primaryKey;autoIncrement"`
	ReferrerID      int64            `gorm:"index;not null"`
	ReferredID      int64            `gorm:"index;not null"`
	PaymentID       string           `gorm:"size:64;uniqueIndex;not null"`
	ConfigID        int64            `gorm:"not null"`
	Value           float64          `gorm:"type:numeric(12,2);not null"`
	Type            CommissionType   `gorm:"size:16;not null"`
	Status          CommissionStatus `gorm:"size:16;default:pending;not null"`
	PayoutRequestID *int64           `gorm:"index"`
	CreatedAt       time.Time
}

// 2.4 Gateway payments (local mirror of Asaas charges)

type Payment struct {
	ID                string  `gorm:"primaryKey;size:64"`
	UserID            int64   `gorm:"index;not null"`
	Status            string  `gorm:"size:32;not null"`
	Value             float64 `gorm:"type:numeric(12,2)"`
	NetValue          float64 `gorm:"type:numeric(12,2)"`
	InstallmentNumber int
	PaymentDate       *time.Time
	DueDate           *time.Time
	RawPayload        datatypes.JSON
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (Payment) TableName() string { return "asaas_payments" }

// Gateway statuses that count as a confirmed payment.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusReceived  = "RECEIVED"
	PaymentStatusOverdue   = "OVERDUE"
	PaymentStatusRefunded  = "REFUNDED"
)

// 2.5 Payouts

type PayoutRequest struct {
	ID            int64          `gorm:"primaryKey;autoIncrement"`
	Reference     string         `gorm:"size:36;uniqueIndex;not null"`
	UserID        int64          `gorm:"index;not null"`
	RequestAmount float64        `gorm:"type:numeric(12,2);not null"`
	PayoutMethod  datatypes.JSON // snapshot of User.PayoutInfo at request time
	Status        PayoutStatus   `gorm:"size:16;default:pending;not null"`
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

func (PayoutRequest) TableName() string { return "payout_requests" }
