package escrow

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meetmarket/escrow-engine/internal/gateway"
	"github.com/meetmarket/escrow-engine/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow", h.CreateTransaction)
	r.GET("/escrow/:id", validation.IDParamMiddleware("id"), h.GetTransaction)
	r.POST("/escrow/:id/confirm", validation.IDParamMiddleware("id"), h.ConfirmTransaction)
	r.POST("/escrow/:id/dispute", validation.IDParamMiddleware("id"), h.DisputeTransaction)
	r.POST("/escrow/:id/cancel", validation.IDParamMiddleware("id"), h.CancelTransaction)
	r.GET("/parties/:id/escrows", validation.IDParamMiddleware("id"), h.ListTransactions)
}

type createTransactionRequest struct {
	ListingID       string    `json:"listingId"`
	BuyerID         string    `json:"buyerId"`
	SellerID        string    `json:"sellerId"`
	AmountMinor     int64     `json:"amountMinorUnits"`
	Currency        string    `json:"currency"`
	MeetingLocation string    `json:"meetingLocation"`
	MeetingTime     time.Time `json:"meetingTime"`
}

type partyRequest struct {
	PartyID string `json:"partyId"`
}

type disputeRequest struct {
	PartyID string `json:"partyId"`
	Reason  string `json:"reason"`
}

// CreateTransaction handles POST /v1/escrow
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("listingId", req.ListingID),
		validation.Required("buyerId", req.BuyerID),
		validation.Required("sellerId", req.SellerID),
		validation.ValidID("listingId", req.ListingID),
		validation.ValidID("buyerId", req.BuyerID),
		validation.ValidID("sellerId", req.SellerID),
		validation.PositiveAmount("amountMinorUnits", req.AmountMinor),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tx, clientToken, err := h.service.Create(c.Request.Context(), CreateRequest{
		ListingID:       req.ListingID,
		BuyerID:         req.BuyerID,
		SellerID:        req.SellerID,
		AmountMinor:     req.AmountMinor,
		Currency:        req.Currency,
		MeetingLocation: validation.SanitizeString(req.MeetingLocation, validation.MaxReasonLength),
		MeetingTime:     req.MeetingTime,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction":        tx,
		"gatewayClientToken": clientToken,
	})
}

// GetTransaction handles GET /v1/escrow/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ConfirmTransaction handles POST /v1/escrow/:id/confirm
func (h *Handler) ConfirmTransaction(c *gin.Context) {
	var req partyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("partyId", req.PartyID),
		validation.ValidID("partyId", req.PartyID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tx, released, err := h.service.Confirm(c.Request.Context(), c.Param("id"), req.PartyID)
	if err != nil {
		var gerr *gateway.Error
		if tx != nil && errors.As(err, &gerr) {
			// The confirmation was recorded; only the funds release failed.
			// The caller can confirm again to retry the release.
			c.JSON(http.StatusBadGateway, gin.H{
				"error":         "gateway_error",
				"message":       "Confirmation recorded but funds release failed, retry to release",
				"transaction":   tx,
				"fundsReleased": false,
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction":   tx,
		"fundsReleased": released,
	})
}

// DisputeTransaction handles POST /v1/escrow/:id/dispute
func (h *Handler) DisputeTransaction(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("partyId", req.PartyID),
		validation.ValidID("partyId", req.PartyID),
		validation.Required("reason", req.Reason),
		validation.MaxLength("reason", req.Reason, validation.MaxReasonLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tx, err := h.service.Dispute(c.Request.Context(), c.Param("id"), req.PartyID,
		validation.SanitizeString(req.Reason, validation.MaxReasonLength))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// CancelTransaction handles POST /v1/escrow/:id/cancel
func (h *Handler) CancelTransaction(c *gin.Context) {
	var req partyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("partyId", req.PartyID),
		validation.ValidID("partyId", req.PartyID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tx, err := h.service.Cancel(c.Request.Context(), c.Param("id"), req.PartyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ListTransactions handles GET /v1/parties/:id/escrows
func (h *Handler) ListTransactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	txs, err := h.service.ListByParty(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if txs == nil {
		txs = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}

// writeError maps service errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	var gerr *gateway.Error
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow transaction not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Party is not the buyer or seller of this transaction",
		})
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfTransaction),
		errors.Is(err, ErrInvalidMeetingTime),
		errors.Is(err, ErrUnsupportedCurrency):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrTerminalState),
		errors.Is(err, ErrAlreadyConfirmed),
		errors.Is(err, ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	case errors.Is(err, ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "concurrent_modification",
			"message": "The transaction was modified concurrently, retry the request",
		})
	case errors.As(err, &gerr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_error",
			"message": "Payment gateway operation failed",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}
