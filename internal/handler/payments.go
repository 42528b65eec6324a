package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fundflow/internal/apperr"
	"fundflow/internal/payment"
	"fundflow/internal/repository"
)

type PaymentHandler struct {
	Payments *payment.Service
}

func (h *PaymentHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/payments")
	g.POST("", h.initiate)
	g.GET("", h.list)
	g.GET("/methods", h.methods)
	g.GET("/:id", h.get)
	g.POST("/refunds", h.refund)
}

type initiatePaymentRequest struct {
	TransactionID string            `json:"transactionId"`
	InvestmentID  string            `json:"investmentId"`
	PayerID       string            `json:"payerId" binding:"required,uuid"`
	Method        string            `json:"method" binding:"required"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// @Summary Initiate a payment
// @Tags payments
// @Accept json
// @Produce json
// @Param body body initiatePaymentRequest true "payment"
// @Success 200 {object} payment.InitiateOutput
// @Failure 400 {object} map[string]any
// @Router /api/v1/payments [post]
func (h *PaymentHandler) initiate(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, bindError(err), nil)
		return
	}
	in := payment.InitiateInput{
		PayerID:  uuid.MustParse(req.PayerID),
		Method:   payment.Method(strings.ToUpper(strings.TrimSpace(req.Method))),
		Metadata: map[string]string{},
	}
	for k, v := range req.Metadata {
		in.Metadata[k] = v
	}
	in.Metadata["amount"] = strings.TrimSpace(req.Amount)
	if cur := strings.TrimSpace(req.Currency); cur != "" {
		in.Metadata["currency"] = cur
	}
	if req.TransactionID != "" {
		id, err := uuid.Parse(req.TransactionID)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid transactionId", nil)
			return
		}
		in.TransactionID = id
	}
	if req.InvestmentID != "" {
		id, err := uuid.Parse(req.InvestmentID)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid investmentId", nil)
			return
		}
		in.InvestmentID = &id
	}

	out, err := h.Payments.Initiate(c.Request.Context(), in)
	if err != nil {
		if out.TransactionID == "" {
			ErrorFrom(c, err, nil)
			return
		}
		// The transaction exists and is FAILED; the caller needs its id.
		if apperr.KindOf(err) != 0 {
			ErrorFrom(c, err, out)
			return
		}
		c.JSON(http.StatusBadGateway, apiResponse{Code: http.StatusBadGateway, Message: out.Message, Data: out})
		return
	}
	Ok(c, out, nil)
}

type refundRequest struct {
	TransactionID string `json:"transactionId"`
	ProviderRef   string `json:"providerReference"`
	Method        string `json:"method"`
	Amount        string `json:"amount"`
}

// @Summary Refund a payment
// @Tags payments
// @Accept json
// @Produce json
// @Param body body refundRequest true "refund"
// @Success 200 {object} payment.RefundOutput
// @Router /api/v1/payments/refunds [post]
func (h *PaymentHandler) refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, bindError(err), nil)
		return
	}
	in := payment.RefundInput{
		ProviderRef: strings.TrimSpace(req.ProviderRef),
		Method:      payment.Method(strings.ToUpper(strings.TrimSpace(req.Method))),
		Amount:      decimalOrZero(req.Amount),
	}
	if req.TransactionID != "" {
		id, err := uuid.Parse(req.TransactionID)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid transactionId", nil)
			return
		}
		in.TransactionID = id
	}
	out, err := h.Payments.Refund(c.Request.Context(), in)
	if err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	Ok(c, out, nil)
}

// @Summary Get a payment transaction
// @Tags payments
// @Produce json
// @Param id path string true "transaction id"
// @Success 200 {object} models.Transaction
// @Router /api/v1/payments/{id} [get]
func (h *PaymentHandler) get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	tx, err := h.Payments.GetTransaction(c.Request.Context(), id)
	if err != nil {
		ErrorFrom(c, err, nil)
		return
	}
	Ok(c, tx, nil)
}

// @Summary List payment transactions
// @Tags payments
// @Produce json
// @Param status query string false "PENDING|COMPLETED|FAILED|REFUNDED"
// @Param payer_id query string false "payer id"
// @Param investment_id query string false "investment id"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Router /api/v1/payments [get]
func (h *PaymentHandler) list(c *gin.Context) {
	limit, offset := pageQuery(c, 50)
	payer, ok := uuidQueryPtr(c, "payer_id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid payer_id", nil)
		return
	}
	inv, ok := uuidQueryPtr(c, "investment_id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid investment_id", nil)
		return
	}
	params := repository.ListTransactionsParams{
		Limit:        limit,
		Offset:       offset,
		Status:       upperQueryPtr(c, "status"),
		PayerID:      payer,
		InvestmentID: inv,
		OrderBy:      parseOrder(c.Query("order_by"), map[string]string{"created_at": "created_at", "amount": "amount"}),
		Asc:          boolPtr(boolQueryDefault(c, "asc", false)),
	}
	items, total, err := h.Payments.ListTransactions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Supported payment methods
// @Tags payments
// @Produce json
// @Router /api/v1/payments/methods [get]
func (h *PaymentHandler) methods(c *gin.Context) {
	Ok(c, h.Payments.Router.Supported(), nil)
}
