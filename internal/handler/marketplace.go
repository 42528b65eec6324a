package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundflow/internal/marketplace"
	"fundflow/internal/repository"
)

type MarketplaceHandler struct {
	Marketplace *marketplace.Service
}

func (h *MarketplaceHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/listings")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/fee", h.fee)
	g.GET("/:id", h.get)
	g.POST("/:id/buy", h.buy)
	g.POST("/:id/cancel", h.cancel)
}

type createListingRequest struct {
	SellerID       string `json:"sellerId" binding:"required,uuid"`
	InvestmentID   string `json:"investmentId" binding:"required,uuid"`
	Shares         int64  `json:"shares"`
	PricePerShare  string `json:"pricePerShare" binding:"required"`
	CompanyConsent bool   `json:"companyConsent"`
}

// @Summary List shares for resale
// @Tags marketplace
// @Accept json
// @Produce json
// @Param body body createListingRequest true "listing"
// @Success 200 {object} models.MarketplaceListing
// @Failure 400 {object} map[string]any
// @Router /api/v1/listings [post]
func (h *MarketplaceHandler) create(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, bindError(err), nil)
		return
	}
	// Price checks live in the service so the ordering of listing errors holds.
	price, err := decimal.NewFromString(strings.TrimSpace(req.PricePerShare))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid pricePerShare", nil)
		return
	}
	l, err := h.Marketplace.CreateListing(c.Request.Context(), marketplace.CreateListingInput{
		SellerID:       uuid.MustParse(req.SellerID),
		InvestmentID:   uuid.MustParse(req.InvestmentID),
		Shares:         req.Shares,
		PricePerShare:  price,
		CompanyConsent: req.CompanyConsent,
	})
	if err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	Ok(c, l, nil)
}

// @Summary List marketplace listings
// @Tags marketplace
// @Produce json
// @Param status query string false "ACTIVE|SOLD|CANCELLED|EXPIRED"
// @Param seller_id query string false "seller id"
// @Param campaign_id query string false "campaign id"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Router /api/v1/listings [get]
func (h *MarketplaceHandler) list(c *gin.Context) {
	limit, offset := pageQuery(c, 50)
	seller, ok := uuidQueryPtr(c, "seller_id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid seller_id", nil)
		return
	}
	campaign, ok := uuidQueryPtr(c, "campaign_id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid campaign_id", nil)
		return
	}
	params := repository.ListListingsParams{
		Limit:      limit,
		Offset:     offset,
		Status:     upperQueryPtr(c, "status"),
		SellerID:   seller,
		CampaignID: campaign,
		OrderBy:    parseOrder(c.Query("order_by"), map[string]string{"created_at": "created_at", "price": "price_per_share", "expires_at": "expires_at"}),
		Asc:        boolPtr(boolQueryDefault(c, "asc", false)),
	}
	items, total, err := h.Marketplace.ListListings(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get a listing
// @Tags marketplace
// @Produce json
// @Param id path string true "listing id"
// @Success 200 {object} models.MarketplaceListing
// @Router /api/v1/listings/{id} [get]
func (h *MarketplaceHandler) get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	l, err := h.Marketplace.GetListing(c.Request.Context(), id)
	if err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	Ok(c, l, nil)
}

type buyListingRequest struct {
	BuyerID string `json:"buyerId" binding:"required,uuid"`
}

// @Summary Buy a listing
// @Description Settles through escrow in one transaction; concurrent buyers get LISTING_NOT_ACTIVE.
// @Tags marketplace
// @Accept json
// @Produce json
// @Param id path string true "listing id"
// @Param body body buyListingRequest true "buyer"
// @Success 200 {object} models.MarketplaceTransaction
// @Failure 409 {object} map[string]any
// @Router /api/v1/listings/{id}/buy [post]
func (h *MarketplaceHandler) buy(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req buyListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, bindError(err), nil)
		return
	}
	mtx, err := h.Marketplace.BuyListing(c.Request.Context(), id, uuid.MustParse(req.BuyerID))
	if err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	Ok(c, mtx, nil)
}

type cancelListingRequest struct {
	SellerID string `json:"sellerId" binding:"required,uuid"`
}

// @Summary Cancel a listing
// @Tags marketplace
// @Accept json
// @Produce json
// @Param id path string true "listing id"
// @Param body body cancelListingRequest true "seller"
// @Success 200 {object} models.MarketplaceListing
// @Router /api/v1/listings/{id}/cancel [post]
func (h *MarketplaceHandler) cancel(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req cancelListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, bindError(err), nil)
		return
	}
	l, err := h.Marketplace.CancelListing(c.Request.Context(), id, uuid.MustParse(req.SellerID))
	if err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	Ok(c, l, nil)
}

// @Summary Seller fee quote
// @Tags marketplace
// @Produce json
// @Param total query string true "sale total"
// @Router /api/v1/listings/fee [get]
func (h *MarketplaceHandler) fee(c *gin.Context) {
	total, err := decimal.NewFromString(strings.TrimSpace(c.Query("total")))
	if err != nil || total.IsNegative() {
		Error(c, http.StatusBadRequest, "invalid total", nil)
		return
	}
	fee := h.Marketplace.SellerFee(total)
	Ok(c, gin.H{
		"total":     total.StringFixed(2),
		"sellerFee": fee.StringFixed(2),
		"net":       total.Sub(fee).StringFixed(2),
	}, nil)
}
