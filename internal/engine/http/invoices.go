package http

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/platform/httpx"
	"github.com/credinvoice/credinvoice/internal/shared"
)

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "total is not a decimal")
		return
	}
	inv, err := h.engine.CreateInvoice(r.Context(), invoice.CreateInput{
		Number:    req.Number,
		SellerID:  req.SellerID,
		BuyerID:   req.BuyerID,
		Currency:  req.Currency,
		Total:     total,
		Product:   invoice.ProductType(req.Product),
		IssueDate: req.IssueDate,
		DueDate:   req.DueDate,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newInvoiceView(inv))
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	buyerID, _ := strconv.ParseInt(q.Get("buyer_id"), 10, 64)
	sellerID, _ := strconv.ParseInt(q.Get("seller_id"), 10, 64)

	invoices, total, err := h.engine.ListInvoices(r.Context(), limit, offset, invoice.ListFilters{
		Status:   invoice.Status(q.Get("status")),
		BuyerID:  buyerID,
		SellerID: sellerID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	views := make([]invoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, newInvoiceView(inv))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": views, "total": total})
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	inv, err := h.engine.GetInvoice(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceView(inv))
}

func (h *Handler) handleSubmitInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	inv, err := h.engine.SubmitInvoice(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceView(inv))
}

func (h *Handler) handleCancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	inv, err := h.engine.CancelInvoice(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceView(inv))
}
