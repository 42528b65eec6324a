package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fundflow/internal/apperr"
	"fundflow/internal/investment"
	"fundflow/internal/repository"
)

// Canceller cancels an investment and refunds what it already paid.
type Canceller interface {
	CancelAndRefund(ctx context.Context, id uuid.UUID, reason string) error
}

type InvestmentHandler struct {
	Investments *investment.Service
	// Cancels is used when set; without it a cancel only moves the investment.
	Cancels Canceller
}

func (h *InvestmentHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/investments")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/cancel", h.cancel)
}

type createInvestmentRequest struct {
	InvestorID string `json:"investorId" binding:"required,uuid"`
	CampaignID string `json:"campaignId" binding:"required,uuid"`
	Amount     string `json:"amount"`
}

// @Summary Create an investment
// @Description Validates the investor and campaign and records a PENDING investment.
// @Tags investments
// @Accept json
// @Produce json
// @Param body body createInvestmentRequest true "investment"
// @Success 200 {object} models.Investment
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/v1/investments [post]
func (h *InvestmentHandler) create(c *gin.Context) {
	var req createInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, bindError(err), nil)
		return
	}
	inv, err := h.Investments.Create(c.Request.Context(), investment.CreateInput{
		InvestorID: uuid.MustParse(req.InvestorID),
		CampaignID: uuid.MustParse(req.CampaignID),
		Amount:     decimalOrZero(req.Amount),
	})
	if err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	Ok(c, inv, nil)
}

// @Summary Get an investment
// @Tags investments
// @Produce json
// @Param id path string true "investment id"
// @Success 200 {object} models.Investment
// @Router /api/v1/investments/{id} [get]
func (h *InvestmentHandler) get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	inv, err := h.Investments.Get(c.Request.Context(), id)
	if err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	if inv == nil {
		ErrorFrom(c, apperr.ErrInvestmentNotFound, nil)
		return
	}
	Ok(c, inv, nil)
}

// @Summary List investments
// @Tags investments
// @Produce json
// @Param investor_id query string false "investor id"
// @Param campaign_id query string false "campaign id"
// @Param status query string false "status"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Router /api/v1/investments [get]
func (h *InvestmentHandler) list(c *gin.Context) {
	limit, offset := pageQuery(c, 50)
	investor, ok := uuidQueryPtr(c, "investor_id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid investor_id", nil)
		return
	}
	campaign, ok := uuidQueryPtr(c, "campaign_id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid campaign_id", nil)
		return
	}
	params := repository.ListInvestmentsParams{
		Limit:      limit,
		Offset:     offset,
		Status:     upperQueryPtr(c, "status"),
		InvestorID: investor,
		CampaignID: campaign,
		OrderBy:    parseOrder(c.Query("order_by"), map[string]string{"created_at": "created_at", "amount": "amount"}),
		Asc:        boolPtr(boolQueryDefault(c, "asc", false)),
	}
	items, total, err := h.Investments.List(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

type cancelInvestmentRequest struct {
	InvestorID string `json:"investorId" binding:"required,uuid"`
	Reason     string `json:"reason"`
}

// @Summary Cancel an investment
// @Description Allowed before completion, including during the cooling-off window. A settled payment is refunded.
// @Tags investments
// @Accept json
// @Produce json
// @Param id path string true "investment id"
// @Param body body cancelInvestmentRequest true "cancel"
// @Success 200 {object} models.Investment
// @Router /api/v1/investments/{id}/cancel [post]
func (h *InvestmentHandler) cancel(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req cancelInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, bindError(err), nil)
		return
	}
	ctx := c.Request.Context()
	inv, err := h.Investments.Get(ctx, id)
	if err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	if inv == nil {
		ErrorFrom(c, apperr.ErrInvestmentNotFound, nil)
		return
	}
	if inv.InvestorID != uuid.MustParse(req.InvestorID) {
		ErrorFrom(c, apperr.ErrNotInvestmentOwner, nil)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by investor"
	}
	cancel := h.Investments.Cancel
	if h.Cancels != nil {
		cancel = h.Cancels.CancelAndRefund
	}
	if err := cancel(ctx, id, reason); err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	if inv, err = h.Investments.Get(ctx, id); err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	Ok(c, inv, nil)
}
