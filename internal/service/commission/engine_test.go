package commission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loyalty-service/internal/model"
	"loyalty-service/internal/service/commission"
	appErr "loyalty-service/pkg/errors"

	"gorm.io/gorm"
)

type engineFixture struct {
	db       *gorm.DB
	engine   *commission.Engine
	configs  *commission.ConfigService
	referrer *model.User
	referred *model.User
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := newDB(t)
	configs := commission.NewConfigService(db)
	return &engineFixture{
		db:       db,
		engine:   commission.NewEngine(db, configs),
		configs:  configs,
		referrer: seedUser(t, db, "referrer", model.UserTypeClient),
		referred: seedUser(t, db, "referred", model.UserTypeClient),
	}
}

// seedConfirmedPayment records an already-confirmed charge so the settlement
// under test classifies as recurring.
func (f *engineFixture) seedConfirmedPayment(t *testing.T, id string, paymentDate time.Time) {
	t.Helper()
	pd := paymentDate
	if err := f.db.Create(&model.Payment{
		ID:          id,
		UserID:      f.referred.ID,
		Status:      model.PaymentStatusConfirmed,
		Value:       49.90,
		PaymentDate: &pd,
	}).Error; err != nil {
		t.Fatalf("failed to seed payment %s: %v", id, err)
	}
}

func (f *engineFixture) settleParams(paymentID string, value float64, at time.Time) commission.SettleParams {
	return commission.SettleParams{
		ReferrerID:   f.referrer.ID,
		ReferredID:   f.referred.ID,
		PaymentValue: value,
		PaymentDate:  at,
		PaymentID:    paymentID,
	}
}

func TestSettleFirstPayment(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	cfg, err := f.configs.Create(ctx, baseParams("default plan", model.AudienceAll))
	if err != nil {
		t.Fatalf("create config failed: %v", err)
	}

	c, err := f.engine.Settle(ctx, f.settleParams("pay_001", 49.90, time.Now()))
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if c == nil {
		t.Fatalf("expected a commission")
	}
	if c.Type != model.CommissionTypeFirst {
		t.Fatalf("expected first-payment type, got %s", c.Type)
	}
	if c.Value != 20 {
		t.Fatalf("expected fixed 20.00, got %.2f", c.Value)
	}
	if c.Status != model.CommissionStatusPending || c.ConfigID != cfg.ID {
		t.Fatalf("unexpected commission: %+v", c)
	}
}

func TestSettleRecurringPercentage(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	if _, err := f.configs.Create(ctx, baseParams("default plan", model.AudienceAll)); err != nil {
		t.Fatalf("create config failed: %v", err)
	}

	now := time.Now()
	f.seedConfirmedPayment(t, "pay_prior", now.AddDate(0, -1, 0))

	c, err := f.engine.Settle(ctx, f.settleParams("pay_002", 49.90, now))
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if c == nil {
		t.Fatalf("expected a commission")
	}
	if c.Type != model.CommissionTypeRecurring {
		t.Fatalf("expected recurring type, got %s", c.Type)
	}
	// 10% of 49.90, rounded to cents.
	if c.Value != 4.99 {
		t.Fatalf("expected 4.99, got %.2f", c.Value)
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	if _, err := f.configs.Create(ctx, baseParams("default plan", model.AudienceAll)); err != nil {
		t.Fatalf("create config failed: %v", err)
	}

	params := f.settleParams("pay_003", 49.90, time.Now())
	first, err := f.engine.Settle(ctx, params)
	if err != nil {
		t.Fatalf("first settle failed: %v", err)
	}
	if first == nil {
		t.Fatalf("expected a commission on the first settle")
	}

	second, err := f.engine.Settle(ctx, params)
	if err != nil {
		t.Fatalf("second settle failed: %v", err)
	}
	if second != nil {
		t.Fatalf("expected the redelivery to settle nothing")
	}

	var count int64
	if err := f.db.Model(&model.Commission{}).
		Where("payment_id = ?", params.PaymentID).
		Count(&count).Error; err != nil {
		t.Fatalf("failed to count commissions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one commission row, got %d", count)
	}
}

func TestSettleRecurringCap(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	limit := 2
	params := baseParams("capped plan", model.AudienceAll)
	params.RecurringLimit = &limit
	if _, err := f.configs.Create(ctx, params); err != nil {
		t.Fatalf("create config failed: %v", err)
	}

	now := time.Now()
	f.seedConfirmedPayment(t, "pay_m3", now.AddDate(0, -3, 0))
	f.seedConfirmedPayment(t, "pay_m2", now.AddDate(0, -2, 0))

	// Two prior confirmed payments meet the cap: nothing owed for this one.
	c, err := f.engine.Settle(ctx, f.settleParams("pay_004", 49.90, now))
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if c != nil {
		t.Fatalf("expected no commission past the recurring cap, got %+v", c)
	}
}

func TestSettleWithoutConfig(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	c, err := f.engine.Settle(ctx, f.settleParams("pay_005", 49.90, time.Now()))
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if c != nil {
		t.Fatalf("expected no commission without an applicable config, got %+v", c)
	}
}

func TestSettleUnknownUsers(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	params := f.settleParams("pay_006", 49.90, time.Now())
	params.ReferredID = 9999
	if _, err := f.engine.Settle(ctx, params); !errors.Is(err, appErr.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestListByReferrer(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	if _, err := f.configs.Create(ctx, baseParams("default plan", model.AudienceAll)); err != nil {
		t.Fatalf("create config failed: %v", err)
	}

	now := time.Now()
	for i, id := range []string{"pay_a", "pay_b", "pay_c"} {
		if _, err := f.engine.Settle(ctx, f.settleParams(id, 49.90, now.AddDate(0, 0, i))); err != nil {
			t.Fatalf("settle %s failed: %v", id, err)
		}
		// Each settled payment must be visible as confirmed history for the
		// next classification.
		f.seedConfirmedPayment(t, id, now.AddDate(0, 0, i))
	}

	result, err := f.engine.ListByReferrer(ctx, f.referrer.ID, 2, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if result.Total != 3 {
		t.Fatalf("expected 3 commissions, got %d", result.Total)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(result.Items))
	}
	if result.Items[0].ID < result.Items[1].ID {
		t.Fatalf("expected newest first ordering")
	}
}
