package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loyalty-service/internal/middleware"
	"loyalty-service/internal/model"
	"loyalty-service/internal/service"
	commissionSvc "loyalty-service/internal/service/commission"
	paymentSvc "loyalty-service/internal/service/payment"
	usersvc "loyalty-service/internal/service/user"
	appErr "loyalty-service/pkg/errors"
	"loyalty-service/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	webhooks := r.Group("/webhooks")
	webhooks.Use(middleware.WebhookAuth())
	{
		webhooks.POST("/asaas", handler.AsaasWebhook)
	}

	v1 := r.Group("/loyalty/v1")
	{
		v1.POST("/register", handler.Register)

		authed := v1.Group("/")
		authed.Use(middleware.AuthRequired())
		{
			authed.GET("/profile", handler.GetProfile)
			authed.PUT("/profile/payout_info", handler.UpdatePayoutInfo)

			authed.GET("/points/balance", handler.PointsBalance)
			authed.GET("/points/expiring", handler.PointsExpiring)
			authed.POST("/points/renew", handler.PointsRenew)

			authed.GET("/commissions", handler.ListCommissions)

			authed.POST("/payout_requests", handler.CreatePayoutRequest)
			authed.GET("/payout_requests", handler.ListPayoutRequests)
		}
	}

	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.AdminAuthRequired())
	{
		adminGroup.GET("/commission_configs", handler.AdminListConfigs)
		adminGroup.POST("/commission_configs", handler.AdminCreateConfig)
		adminGroup.PUT("/commission_configs/:id", handler.AdminUpdateConfig)
		adminGroup.DELETE("/commission_configs/:id", handler.AdminDeleteConfig)
		adminGroup.POST("/commission_configs/:id/users", handler.AdminBindConfigUser)

		adminGroup.GET("/users", handler.AdminListUsers)
		adminGroup.GET("/users/:id", handler.AdminGetUser)
		adminGroup.PUT("/users/:id/status", handler.AdminUpdateUserStatus)
		adminGroup.POST("/users/:id/redeem", handler.AdminRedeemPoints)

		adminGroup.GET("/payout_requests", handler.AdminListPayoutRequests)
		adminGroup.PUT("/payout_requests/:id/approve", handler.AdminApprovePayout)
		adminGroup.PUT("/payout_requests/:id/reject", handler.AdminRejectPayout)
	}
}

type registerBody struct {
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Type         string `json:"type" binding:"omitempty,oneof=client partner ambassador"`
	ReferralCode string `json:"referralCode"`
}

type payoutInfoBody struct {
	PayoutInfo json.RawMessage `json:"payoutInfo" binding:"required"`
}

type redeemBody struct {
	Points int    `json:"points" binding:"required,min=1"`
	Reason string `json:"reason"`
}

type userStatusBody struct {
	Status string `json:"status" binding:"required,oneof=active inactive blocked"`
	Reason string `json:"reason"`
}

type configMutationBody struct {
	Name                  string  `json:"name" binding:"required"`
	FirstPaymentType      string  `json:"firstPaymentType" binding:"required,oneof=percentage fixed"`
	FirstPaymentValue     float64 `json:"firstPaymentValue" binding:"gte=0"`
	RecurringPaymentType  string  `json:"recurringPaymentType" binding:"required,oneof=percentage fixed"`
	RecurringPaymentValue float64 `json:"recurringPaymentValue" binding:"gte=0"`
	RecurringLimit        *int    `json:"recurringLimit" binding:"omitempty,min=0"`
	AppliesTo             string  `json:"appliesTo" binding:"required,oneof=all partner ambassador custom"`
	Active                bool    `json:"active"`
	ValidFrom             *string `json:"validFrom"`
	ValidUntil            *string `json:"validUntil"`
	MinPayoutAmount       float64 `json:"minPayoutAmount" binding:"gte=0"`
}

func (b configMutationBody) toParams() (commissionSvc.ConfigMutationParams, error) {
	validFrom, err := parseOptionalTime(b.ValidFrom)
	if err != nil {
		return commissionSvc.ConfigMutationParams{}, fmt.Errorf("invalid validFrom: %w", err)
	}
	validUntil, err := parseOptionalTime(b.ValidUntil)
	if err != nil {
		return commissionSvc.ConfigMutationParams{}, fmt.Errorf("invalid validUntil: %w", err)
	}

	return commissionSvc.ConfigMutationParams{
		Name:                  strings.TrimSpace(b.Name),
		FirstPaymentType:      model.PaymentValueType(b.FirstPaymentType),
		FirstPaymentValue:     b.FirstPaymentValue,
		RecurringPaymentType:  model.PaymentValueType(b.RecurringPaymentType),
		RecurringPaymentValue: b.RecurringPaymentValue,
		RecurringLimit:        b.RecurringLimit,
		AppliesTo:             model.ConfigAudience(b.AppliesTo),
		Active:                b.Active,
		ValidFrom:             validFrom,
		ValidUntil:            validUntil,
		MinPayoutAmount:       b.MinPayoutAmount,
	}, nil
}

type bindConfigUserBody struct {
	UserID int64 `json:"userId" binding:"required,min=1"`
}

func (h *Handler) AsaasWebhook(c *gin.Context) {
	var event paymentSvc.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		response.Error(c, http.StatusBadRequest, "cannot parse webhook payload")
		return
	}

	result, err := h.services.Payment.ProcessEvent(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, appErr.ErrMissingPaymentID) {
			response.Error(c, http.StatusBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	response.Success(c, gin.H{"processed": result.Processed})
}

func (h *Handler) Register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.services.User.Register(c.Request.Context(), usersvc.RegisterParams{
		Name:         body.Name,
		Email:        body.Email,
		Type:         model.UserType(body.Type),
		ReferralCode: body.ReferralCode,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrReferralCodeNotFound), errors.Is(err, appErr.ErrInvalidUserStatus):
			status = http.StatusBadRequest
		case errors.Is(err, appErr.ErrEmailAlreadyRegistered):
			status = http.StatusConflict
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, gin.H{
		"id":           created.ID,
		"referralCode": created.ReferralCode,
	})
}

func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := h.services.User.GetProfile(c.Request.Context(), userID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		response.Error(c, status, err.Error())
		return
	}
	response.Success(c, profile)
}

func (h *Handler) UpdatePayoutInfo(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body payoutInfoBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if !json.Valid(body.PayoutInfo) {
		response.Error(c, http.StatusBadRequest, "payoutInfo must be valid JSON")
		return
	}

	updated, err := h.services.User.UpdatePayoutInfo(c.Request.Context(), userID, body.PayoutInfo)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		response.Error(c, status, err.Error())
		return
	}
	response.Success(c, updated)
}

func (h *Handler) PointsBalance(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := h.services.Ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{"balance": balance})
}

func (h *Handler) PointsExpiring(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	days, err := parsePositiveIntQuery(c, "days", 30)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.services.Ledger.ListExpiringWithin(c.Request.Context(), userID, days)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{"entries": entries})
}

func (h *Handler) PointsRenew(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	renewed, err := h.services.Ledger.RenewAll(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{"renewed": renewed})
}

func (h *Handler) ListCommissions(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, offset, err := parseLimitOffset(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.Engine.ListByReferrer(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Paged(c, result.Items, result.Total)
}

func (h *Handler) CreatePayoutRequest(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	request, err := h.services.Payout.Request(c.Request.Context(), userID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrMissingPayoutInfo),
			errors.Is(err, appErr.ErrBelowMinimumPayout),
			errors.Is(err, appErr.ErrNoPendingCommissions):
			status = http.StatusBadRequest
		case errors.Is(err, appErr.ErrUserNotFound):
			status = http.StatusNotFound
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, request)
}

func (h *Handler) ListPayoutRequests(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, offset, err := parseLimitOffset(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.Payout.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Paged(c, result.Items, result.Total)
}

func (h *Handler) AdminListConfigs(c *gin.Context) {
	page, err := parsePositiveIntQuery(c, "page", 1)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parsePositiveIntQuery(c, "size", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.CommissionConfig.List(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.PagedAt(c, result.Items, result.Total, page, size)
}

func (h *Handler) AdminCreateConfig(c *gin.Context) {
	var body configMutationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	params, err := body.toParams()
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.services.CommissionConfig.Create(c.Request.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrInvalidCommissionConfig) {
			status = http.StatusBadRequest
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, gin.H{"id": cfg.ID})
}

func (h *Handler) AdminUpdateConfig(c *gin.Context) {
	configID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid config id")
		return
	}

	var body configMutationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	params, err := body.toParams()
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.services.CommissionConfig.Update(c.Request.Context(), configID, params)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrCommissionConfigNotFound):
			status = http.StatusNotFound
		case errors.Is(err, appErr.ErrInvalidCommissionConfig):
			status = http.StatusBadRequest
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, cfg)
}

func (h *Handler) AdminDeleteConfig(c *gin.Context) {
	configID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid config id")
		return
	}

	if err := h.services.CommissionConfig.Delete(c.Request.Context(), configID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrCommissionConfigNotFound) {
			status = http.StatusNotFound
		}
		response.Error(c, status, err.Error())
		return
	}

	response.SuccessWithMsg(c, gin.H{}, "deleted")
}

func (h *Handler) AdminBindConfigUser(c *gin.Context) {
	configID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid config id")
		return
	}

	var body bindConfigUserBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.services.CommissionConfig.BindUser(c.Request.Context(), configID, body.UserID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrCommissionConfigNotFound), errors.Is(err, appErr.ErrUserNotFound):
			status = http.StatusNotFound
		}
		response.Error(c, status, err.Error())
		return
	}

	response.SuccessWithMsg(c, gin.H{}, "bound")
}

func (h *Handler) AdminListUsers(c *gin.Context) {
	page, err := parsePositiveIntQuery(c, "page", 1)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parsePositiveIntQuery(c, "size", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.User.AdminListUsers(c.Request.Context(), usersvc.ListFilter{
		Page:         page,
		Size:         size,
		Status:       c.Query("status"),
		EmailKeyword: c.Query("email"),
		Level:        c.Query("level"),
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.PagedAt(c, result.Items, result.Total, page, size)
}

func (h *Handler) AdminGetUser(c *gin.Context) {
	userID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.services.User.AdminGetUser(c.Request.Context(), userID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, gin.H{"user": user})
}

func (h *Handler) AdminUpdateUserStatus(c *gin.Context) {
	userID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id")
		return
	}

	var body userStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.services.User.AdminUpdateUserStatus(c.Request.Context(), userID, model.UserStatus(body.Status), body.Reason)
	if err != nil {
		statusCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrUserNotFound):
			statusCode = http.StatusNotFound
		case errors.Is(err, appErr.ErrInvalidUserStatus):
			statusCode = http.StatusBadRequest
		}
		response.Error(c, statusCode, err.Error())
		return
	}

	response.Success(c, gin.H{"user": updated})
}

func (h *Handler) AdminRedeemPoints(c *gin.Context) {
	userID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id")
		return
	}

	var body redeemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	metadata := map[string]interface{}{}
	if strings.TrimSpace(body.Reason) != "" {
		metadata["reason"] = strings.TrimSpace(body.Reason)
	}

	entry, err := h.services.Ledger.Redeem(c.Request.Context(), userID, body.Points, metadata)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrInvalidPointsAmount), errors.Is(err, appErr.ErrInsufficientPoints):
			status = http.StatusBadRequest
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, entry)
}

func (h *Handler) AdminListPayoutRequests(c *gin.Context) {
	limit, offset, err := parseLimitOffset(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	if status != "" && status != "pending" && status != "approved" && status != "rejected" {
		response.Error(c, http.StatusBadRequest, "invalid status filter")
		return
	}

	result, err := h.services.Payout.AdminList(c.Request.Context(), model.PayoutStatus(status), limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.Paged(c, result.Items, result.Total)
}

func (h *Handler) AdminApprovePayout(c *gin.Context) {
	h.processPayout(c, true)
}

func (h *Handler) AdminRejectPayout(c *gin.Context) {
	h.processPayout(c, false)
}

func (h *Handler) processPayout(c *gin.Context, approve bool) {
	requestID, err := parseIDParam(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid payout request id")
		return
	}

	var request *model.PayoutRequest
	if approve {
		request, err = h.services.Payout.Approve(c.Request.Context(), requestID)
	} else {
		request, err = h.services.Payout.Reject(c.Request.Context(), requestID)
	}
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrPayoutRequestNotFound):
			status = http.StatusNotFound
		case errors.Is(err, appErr.ErrPayoutAlreadyProcessed):
			status = http.StatusConflict
		}
		response.Error(c, status, err.Error())
		return
	}

	response.Success(c, request)
}

func getUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func parseIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultVal int) (int, error) {
	val := c.Query(key)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return parsed, nil
}

func parseLimitOffset(c *gin.Context) (int, int, error) {
	limit := 20
	offset := 0

	if val := c.Query("limit"); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil || parsed <= 0 {
			return 0, 0, fmt.Errorf("invalid limit")
		}
		limit = parsed
	}
	if val := c.Query("offset"); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("invalid offset")
		}
		offset = parsed
	}
	return limit, offset, nil
}

func parseOptionalTime(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, strings.TrimSpace(*value), time.Local); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("expected RFC3339 or '2006-01-02'")
}
