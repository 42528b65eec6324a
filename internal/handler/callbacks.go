package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fundflow/internal/settlement"
)

const maxCallbackBody = 1 << 20

// CallbackProcessor is the part of settlement.CallbackProcessor the
// webhook endpoints use.
type CallbackProcessor interface {
	Handle(ctx context.Context, cb settlement.Callback) (bool, error)
}

// CallbackHandler receives provider webhooks. Providers retry on anything
// but 2xx, and every outcome is deduplicated downstream, so the endpoints
// acknowledge whatever they could read. Only a forged Stripe signature is
// refused.
type CallbackHandler struct {
	Processor           CallbackProcessor
	StripeWebhookSecret string
	Logger              *zap.Logger
}

func (h *CallbackHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/callbacks")
	g.POST("/mpesa", h.mpesa)
	g.POST("/stripe", h.stripe)
	g.POST("/generic/:provider", h.generic)
}

// @Summary M-Pesa STK push result
// @Tags callbacks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/v1/callbacks/mpesa [post]
func (h *CallbackHandler) mpesa(c *gin.Context) {
	body, ok := h.readBody(c)
	if ok {
		cb, err := settlement.ParseMpesaCallback(body)
		h.dispatch(c.Request.Context(), "mpesa", cb, err)
	}
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// @Summary Stripe webhook
// @Tags callbacks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "signature"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/v1/callbacks/stripe [post]
func (h *CallbackHandler) stripe(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	cb, err := settlement.ParseStripeEvent(body, c.GetHeader("Stripe-Signature"), h.StripeWebhookSecret)
	if errors.Is(err, settlement.ErrBadSignature) {
		h.logger().Warn("stripe webhook signature rejected", zap.Error(err))
		Error(c, http.StatusBadRequest, "invalid signature", nil)
		return
	}
	h.dispatch(c.Request.Context(), "stripe", cb, err)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// @Summary Bank or escrow partner webhook
// @Tags callbacks
// @Accept json
// @Produce json
// @Param provider path string true "bank|escrow"
// @Success 200 {object} map[string]any
// @Router /api/v1/callbacks/generic/{provider} [post]
func (h *CallbackHandler) generic(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	body, ok := h.readBody(c)
	if ok {
		cb, err := settlement.ParseGenericCallback(body)
		h.dispatch(c.Request.Context(), provider, cb, err)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *CallbackHandler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil || len(body) == 0 {
		h.logger().Warn("callback body unreadable", zap.String("path", c.FullPath()), zap.Error(err))
		return nil, false
	}
	return body, true
}

func (h *CallbackHandler) dispatch(ctx context.Context, provider string, cb settlement.Callback, parseErr error) {
	logger := h.logger().With(zap.String("provider", provider))
	switch {
	case errors.Is(parseErr, settlement.ErrIgnoredEvent):
		logger.Debug("callback ignored")
		return
	case parseErr != nil:
		logger.Warn("callback not understood", zap.Error(parseErr))
		return
	}
	if h.Processor == nil {
		logger.Error("callback processor not configured")
		return
	}
	published, err := h.Processor.Handle(ctx, cb)
	if err != nil {
		logger.Error("callback processing failed", zap.String("provider_ref", cb.ProviderRef), zap.Error(err))
		return
	}
	logger.Debug("callback handled", zap.String("provider_ref", cb.ProviderRef), zap.Bool("published", published))
}

func (h *CallbackHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
