package payout_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"loyalty-service/internal/model"
	"loyalty-service/internal/service/commission"
	"loyalty-service/internal/service/payout"
	appErr "loyalty-service/pkg/errors"
	"loyalty-service/pkg/logger"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	svc     *payout.Service
	configs *commission.ConfigService
	user    *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger.InitLogger("release")

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.CommissionConfig{},
		&model.UserCommissionConfig{},
		&model.Commission{},
		&model.PayoutRequest{},
	); err != nil {
		t.Fatalf("failed to migrate models: %v", err)
	}

	user := model.User{
		Name:         "Referrer",
		Email:        fmt.Sprintf("referrer-%s@example.com", strings.ReplaceAll(t.Name(), "/", "_")),
		Status:       model.UserStatusActive,
		Level:        model.LevelBronze,
		ReferralCode: "PAY" + strings.ReplaceAll(t.Name(), "/", ""),
		PayoutInfo:   datatypes.JSON(`{"pixKey":"referrer@example.com"}`),
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	configs := commission.NewConfigService(db)
	return &fixture{
		db:      db,
		svc:     payout.NewService(db, configs),
		configs: configs,
		user:    &user,
	}
}

func (f *fixture) seedCommission(t *testing.T, paymentID string, value float64, status model.CommissionStatus) *model.Commission {
	t.Helper()
	c := model.Commission{
		ReferrerID: f.user.ID,
		ReferredID: f.user.ID + 1000,
		PaymentID:  paymentID,
		ConfigID:   1,
		Value:      value,
		Type:       model.CommissionTypeRecurring,
		Status:     status,
	}
	if err := f.db.Create(&c).Error; err != nil {
		t.Fatalf("failed to seed commission %s: %v", paymentID, err)
	}
	return &c
}

func TestRequestAggregatesPendingCommissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.seedCommission(t, "pay_001", 20.00, model.CommissionStatusPending)
	f.seedCommission(t, "pay_002", 4.99, model.CommissionStatusPending)
	f.seedCommission(t, "pay_003", 99.00, model.CommissionStatusPaid)

	req, err := f.svc.Request(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if req.Status != model.PayoutStatusPending {
		t.Fatalf("expected pending request, got %s", req.Status)
	}
	if req.Reference == "" {
		t.Fatalf("expected an external reference")
	}
	if req.RequestAmount != 24.99 {
		t.Fatalf("expected 24.99, got %.2f", req.RequestAmount)
	}

	// Conservation: the snapshot equals the sum of the linked rows.
	var linkedTotal *float64
	if err := f.db.Model(&model.Commission{}).
		Select("SUM(value)").
		Where("payout_request_id = ?", req.ID).
		Scan(&linkedTotal).Error; err != nil {
		t.Fatalf("failed to sum linked rows: %v", err)
	}
	if linkedTotal == nil || commission.RoundToCents(*linkedTotal) != req.RequestAmount {
		t.Fatalf("linked sum does not match request amount: %v vs %.2f", linkedTotal, req.RequestAmount)
	}

	var linkedCount int64
	if err := f.db.Model(&model.Commission{}).
		Where("payout_request_id = ?", req.ID).
		Count(&linkedCount).Error; err != nil {
		t.Fatalf("failed to count linked rows: %v", err)
	}
	if linkedCount != 2 {
		t.Fatalf("expected 2 linked commissions, got %d", linkedCount)
	}

	// Everything pending was claimed: a second request finds nothing.
	if _, err := f.svc.Request(ctx, f.user.ID); !errors.Is(err, appErr.ErrNoPendingCommissions) {
		t.Fatalf("expected ErrNoPendingCommissions, got %v", err)
	}
}

func TestRequestRequiresPayoutInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.db.Model(&model.User{}).
		Where("id = ?", f.user.ID).
		Update("payout_info", nil).Error; err != nil {
		t.Fatalf("failed to clear payout info: %v", err)
	}
	f.seedCommission(t, "pay_001", 20.00, model.CommissionStatusPending)

	if _, err := f.svc.Request(ctx, f.user.ID); !errors.Is(err, appErr.ErrMissingPayoutInfo) {
		t.Fatalf("expected ErrMissingPayoutInfo, got %v", err)
	}
}

func TestRequestUnknownUser(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Request(context.Background(), 9999); !errors.Is(err, appErr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRequestBelowMinimum(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	params := commission.ConfigMutationParams{
		Name:                  "strict plan",
		FirstPaymentType:      model.PaymentValueFixed,
		FirstPaymentValue:     20,
		RecurringPaymentType:  model.PaymentValuePercentage,
		RecurringPaymentValue: 10,
		AppliesTo:             model.AudienceAll,
		Active:                true,
		MinPayoutAmount:       50,
	}
	if _, err := f.configs.Create(ctx, params); err != nil {
		t.Fatalf("create config failed: %v", err)
	}

	f.seedCommission(t, "pay_001", 24.99, model.CommissionStatusPending)

	if _, err := f.svc.Request(ctx, f.user.ID); !errors.Is(err, appErr.ErrBelowMinimumPayout) {
		t.Fatalf("expected ErrBelowMinimumPayout, got %v", err)
	}

	// The rollback must leave the commission unclaimed for a later request.
	var c model.Commission
	if err := f.db.Where("payment_id = ?", "pay_001").First(&c).Error; err != nil {
		t.Fatalf("failed to reload commission: %v", err)
	}
	if c.PayoutRequestID != nil {
		t.Fatalf("expected the commission to stay unlinked after rollback")
	}
}

func TestApproveMarksCommissionsPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.seedCommission(t, "pay_001", 20.00, model.CommissionStatusPending)
	req, err := f.svc.Request(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	approved, err := f.svc.Approve(ctx, req.ID)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != model.PayoutStatusApproved || approved.ProcessedAt == nil {
		t.Fatalf("unexpected request state: %+v", approved)
	}

	var c model.Commission
	if err := f.db.Where("payment_id = ?", "pay_001").First(&c).Error; err != nil {
		t.Fatalf("failed to reload commission: %v", err)
	}
	if c.Status != model.CommissionStatusPaid {
		t.Fatalf("expected the linked commission to be paid, got %s", c.Status)
	}
	if c.PayoutRequestID == nil || *c.PayoutRequestID != req.ID {
		t.Fatalf("expected the commission to keep its payout link")
	}

	// Processed requests are terminal.
	if _, err := f.svc.Reject(ctx, req.ID); !errors.Is(err, appErr.ErrPayoutAlreadyProcessed) {
		t.Fatalf("expected ErrPayoutAlreadyProcessed, got %v", err)
	}
}

func TestRejectReleasesCommissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.seedCommission(t, "pay_001", 20.00, model.CommissionStatusPending)
	req, err := f.svc.Request(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	rejected, err := f.svc.Reject(ctx, req.ID)
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected.Status != model.PayoutStatusRejected {
		t.Fatalf("expected rejected status, got %s", rejected.Status)
	}

	var c model.Commission
	if err := f.db.Where("payment_id = ?", "pay_001").First(&c).Error; err != nil {
		t.Fatalf("failed to reload commission: %v", err)
	}
	if c.Status != model.CommissionStatusPending || c.PayoutRequestID != nil {
		t.Fatalf("expected the commission back in the pending pool, got %+v", c)
	}

	// Released rows re-enter the next request.
	again, err := f.svc.Request(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if again.RequestAmount != 20.00 {
		t.Fatalf("expected 20.00 on the retry, got %.2f", again.RequestAmount)
	}
}

func TestProcessUnknownRequest(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Approve(context.Background(), 9999); !errors.Is(err, appErr.ErrPayoutRequestNotFound) {
		t.Fatalf("expected ErrPayoutRequestNotFound, got %v", err)
	}
}

func TestListAndAdminList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.seedCommission(t, "pay_001", 20.00, model.CommissionStatusPending)
	req, err := f.svc.Request(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, err := f.svc.Approve(ctx, req.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	f.seedCommission(t, "pay_002", 4.99, model.CommissionStatusPending)
	if _, err := f.svc.Request(ctx, f.user.ID); err != nil {
		t.Fatalf("second request failed: %v", err)
	}

	mine, err := f.svc.List(ctx, f.user.ID, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if mine.Total != 2 || len(mine.Items) != 2 {
		t.Fatalf("expected 2 requests, got total=%d items=%d", mine.Total, len(mine.Items))
	}
	if mine.Items[0].ID < mine.Items[1].ID {
		t.Fatalf("expected newest first ordering")
	}

	pending, err := f.svc.AdminList(ctx, model.PayoutStatusPending, 10, 0)
	if err != nil {
		t.Fatalf("admin list failed: %v", err)
	}
	if pending.Total != 1 {
		t.Fatalf("expected 1 pending request, got %d", pending.Total)
	}

	all, err := f.svc.AdminList(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("admin list failed: %v", err)
	}
	if all.Total != 2 {
		t.Fatalf("expected 2 requests unfiltered, got %d", all.Total)
	}
}
