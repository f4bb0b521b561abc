package user_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"loyalty-service/internal/model"
	"loyalty-service/internal/service/user"
	appErr "loyalty-service/pkg/errors"
	"loyalty-service/pkg/logger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*gorm.DB, *user.Service) {
	t.Helper()
	logger.InitLogger("release")

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Referral{}); err != nil {
		t.Fatalf("failed to migrate models: %v", err)
	}
	return db, user.NewService(db)
}

func TestRegisterWithoutReferral(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)

	created, err := svc.Register(ctx, user.RegisterParams{
		Name:  "Ana",
		Email: "Ana@Example.com",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if created.Email != "ana@example.com" {
		t.Fatalf("expected normalized email, got %s", created.Email)
	}
	if created.Status != model.UserStatusInactive || created.Level != model.LevelBronze {
		t.Fatalf("unexpected defaults: %+v", created)
	}
	if created.Type != model.UserTypeClient {
		t.Fatalf("expected default client type, got %s", created.Type)
	}
	if len(created.ReferralCode) != 8 {
		t.Fatalf("expected an 8-char referral code, got %q", created.ReferralCode)
	}
	if created.ReferredByID != nil {
		t.Fatalf("expected no referrer link")
	}

	var referrals int64
	if err := db.Model(&model.Referral{}).Count(&referrals).Error; err != nil {
		t.Fatalf("failed to count referrals: %v", err)
	}
	if referrals != 0 {
		t.Fatalf("expected no referral rows, got %d", referrals)
	}
}

func TestRegisterWithReferralCode(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)

	referrer, err := svc.Register(ctx, user.RegisterParams{Name: "Referrer", Email: "referrer@example.com"})
	if err != nil {
		t.Fatalf("register referrer failed: %v", err)
	}

	// Lowercased input must still match the stored code.
	referred, err := svc.Register(ctx, user.RegisterParams{
		Name:         "Referred",
		Email:        "referred@example.com",
		ReferralCode: strings.ToLower(referrer.ReferralCode),
	})
	if err != nil {
		t.Fatalf("register referred failed: %v", err)
	}
	if referred.ReferredByID == nil || *referred.ReferredByID != referrer.ID {
		t.Fatalf("expected the referrer link to be set")
	}

	var ref model.Referral
	if err := db.Where("referred_id = ?", referred.ID).First(&ref).Error; err != nil {
		t.Fatalf("expected a pending referral row: %v", err)
	}
	if ref.ReferrerID != referrer.ID || ref.Status != model.ReferralStatusPending {
		t.Fatalf("unexpected referral: %+v", ref)
	}
}

func TestRegisterUnknownReferralCode(t *testing.T) {
	_, svc := newService(t)

	_, err := svc.Register(context.Background(), user.RegisterParams{
		Name:         "Referred",
		Email:        "referred@example.com",
		ReferralCode: "NOPE1234",
	})
	if !errors.Is(err, appErr.ErrReferralCodeNotFound) {
		t.Fatalf("expected ErrReferralCodeNotFound, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	_, svc := newService(t)

	if _, err := svc.Register(ctx, user.RegisterParams{Name: "Ana", Email: "ana@example.com"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, err := svc.Register(ctx, user.RegisterParams{Name: "Other", Email: "ANA@example.com"})
	if !errors.Is(err, appErr.ErrEmailAlreadyRegistered) {
		t.Fatalf("expected ErrEmailAlreadyRegistered, got %v", err)
	}
}

func TestUpdatePayoutInfo(t *testing.T) {
	ctx := context.Background()
	_, svc := newService(t)

	created, err := svc.Register(ctx, user.RegisterParams{Name: "Ana", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	updated, err := svc.UpdatePayoutInfo(ctx, created.ID, []byte(`{"pixKey":"ana@example.com"}`))
	if err != nil {
		t.Fatalf("update payout info failed: %v", err)
	}
	if !strings.Contains(string(updated.PayoutInfo), "pixKey") {
		t.Fatalf("expected persisted payout info, got %s", updated.PayoutInfo)
	}

	if _, err := svc.UpdatePayoutInfo(ctx, 9999, []byte(`{}`)); !errors.Is(err, appErr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAdminUpdateUserStatus(t *testing.T) {
	ctx := context.Background()
	_, svc := newService(t)

	created, err := svc.Register(ctx, user.RegisterParams{Name: "Ana", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	blocked, err := svc.AdminUpdateUserStatus(ctx, created.ID, model.UserStatusBlocked, "chargeback abuse")
	if err != nil {
		t.Fatalf("status update failed: %v", err)
	}
	if blocked.Status != model.UserStatusBlocked {
		t.Fatalf("expected blocked, got %s", blocked.Status)
	}

	if _, err := svc.AdminUpdateUserStatus(ctx, created.ID, "frozen", ""); !errors.Is(err, appErr.ErrInvalidUserStatus) {
		t.Fatalf("expected ErrInvalidUserStatus, got %v", err)
	}
	if _, err := svc.AdminUpdateUserStatus(ctx, 9999, model.UserStatusActive, ""); !errors.Is(err, appErr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAdminListUsers(t *testing.T) {
	ctx := context.Background()
	_, svc := newService(t)

	for i := 0; i < 3; i++ {
		if _, err := svc.Register(ctx, user.RegisterParams{
			Name:  fmt.Sprintf("User %d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
		}); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	active, err := svc.Register(ctx, user.RegisterParams{Name: "Active", Email: "active@other.org"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := svc.AdminUpdateUserStatus(ctx, active.ID, model.UserStatusActive, ""); err != nil {
		t.Fatalf("status update failed: %v", err)
	}

	all, err := svc.AdminListUsers(ctx, user.ListFilter{Page: 1, Size: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if all.Total != 4 {
		t.Fatalf("expected 4 users, got %d", all.Total)
	}

	filtered, err := svc.AdminListUsers(ctx, user.ListFilter{Status: "active"})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if filtered.Total != 1 || filtered.Items[0].ID != active.ID {
		t.Fatalf("expected only the active user, got %+v", filtered)
	}

	byEmail, err := svc.AdminListUsers(ctx, user.ListFilter{EmailKeyword: "example.com"})
	if err != nil {
		t.Fatalf("email filter failed: %v", err)
	}
	if byEmail.Total != 3 {
		t.Fatalf("expected 3 example.com users, got %d", byEmail.Total)
	}
}
