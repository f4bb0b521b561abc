package errors

import "errors"

// Validation
var (
	ErrInvalidPointsAmount     = errors.New("points amount must not be zero")
	ErrInvalidUserStatus       = errors.New("invalid user status")
	ErrInvalidCommissionConfig = errors.New("invalid commission config")
	ErrMissingPaymentID        = errors.New("webhook payload missing payment id")
	ErrReferralCodeNotFound    = errors.New("referral code not found")
	ErrEmailAlreadyRegistered  = errors.New("email already registered")
)

// Not found
var (
	ErrUserNotFound             = errors.New("user not found")
	ErrCommissionConfigNotFound = errors.New("commission config not found")
	ErrPayoutRequestNotFound    = errors.New("payout request not found")
)

// Precondition / policy
var (
	ErrInvalidReference       = errors.New("referrer or referred user does not exist")
	ErrInsufficientPoints     = errors.New("insufficient points balance")
	ErrMissingPayoutInfo      = errors.New("user has no payout info configured")
	ErrNoPendingCommissions   = errors.New("no pending commissions to request")
	ErrBelowMinimumPayout     = errors.New("pending commissions below minimum payout amount")
	ErrPayoutAlreadyProcessed = errors.New("payout request already processed")
)

var (
	ErrUnauthorized = errors.New("unauthorized")
)
