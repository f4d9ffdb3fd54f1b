package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/offer"
	"github.com/credinvoice/credinvoice/internal/platform/httpx"
	"github.com/credinvoice/credinvoice/internal/shared"
)

func (h *Handler) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	percent, err := decimal.NewFromString(req.Percent)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "percent is not a decimal")
		return
	}
	o, err := h.engine.CreateOffer(r.Context(), offer.CreateInput{
		InvoiceID:        req.InvoiceID,
		Percent:          percent,
		EarlyPaymentDate: req.EarlyPaymentDate,
		ExpiresAt:        req.ExpiresAt,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newOfferView(o))
}

func (h *Handler) handleBulkCreateOffers(w http.ResponseWriter, r *http.Request) {
	var req bulkCreateOffersRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	percent, err := decimal.NewFromString(req.Percent)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "percent is not a decimal")
		return
	}
	results := h.engine.BulkCreateOffers(r.Context(), req.InvoiceIDs, offer.BulkTemplate{
		Percent:          percent,
		EarlyPaymentDate: req.EarlyPaymentDate,
		ExpiresAt:        req.ExpiresAt,
	}, shared.ActorFromContext(r.Context()))

	type bulkItem struct {
		InvoiceID int64  `json:"invoice_id"`
		OfferID   int64  `json:"offer_id,omitempty"`
		Error     string `json:"error,omitempty"`
	}
	items := make([]bulkItem, 0, len(results))
	for _, res := range results {
		items = append(items, bulkItem{InvoiceID: res.InvoiceID, OfferID: res.OfferID, Error: res.Err})
	}
	httpx.JSON(w, http.StatusMultiStatus, map[string]any{"results": items})
}

func (h *Handler) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid offer id")
		return
	}
	o, err := h.engine.GetOffer(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOfferView(o))
}

func (h *Handler) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid offer id")
		return
	}
	o, err := h.engine.AcceptOffer(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOfferView(o))
}

func (h *Handler) handleRejectOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid offer id")
		return
	}
	var req rejectOfferRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	o, err := h.engine.RejectOffer(r.Context(), id, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOfferView(o))
}

func (h *Handler) handleSelectFundingType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid offer id")
		return
	}
	var req selectFundingTypeRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	o, err := h.engine.SelectFundingType(r.Context(), id, offer.FundingType(req.FundingType), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOfferView(o))
}

func (h *Handler) handleAuthorizePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid offer id")
		return
	}
	var req authorizePaymentRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	d, err := h.engine.AuthorizePayment(r.Context(), id, req.BankAccountID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newDisbursementView(d))
}
