package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/funding"
	"github.com/credinvoice/credinvoice/internal/platform/httpx"
	"github.com/credinvoice/credinvoice/internal/shared"
)

func (h *Handler) handleRecordDisbursement(w http.ResponseWriter, r *http.Request) {
	var req recordDisbursementRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount is not a decimal")
		return
	}
	d, err := h.engine.RecordDisbursement(r.Context(), funding.RecordDisbursementInput{
		InvoiceID: req.InvoiceID,
		PayerType: funding.PayerType(req.PayerType),
		Amount:    amount,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newDisbursementView(d))
}

func (h *Handler) handleGetDisbursement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid disbursement id")
		return
	}
	d, err := h.engine.Funding.GetDisbursement(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newDisbursementView(d))
}

func (h *Handler) handleCompleteDisbursement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid disbursement id")
		return
	}
	var req completeDisbursementRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	d, err := h.engine.CompleteDisbursement(r.Context(), id, req.TransactionRef, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newDisbursementView(d))
}

func (h *Handler) handleFailDisbursement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid disbursement id")
		return
	}
	d, err := h.engine.FailDisbursement(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newDisbursementView(d))
}

func (h *Handler) handleScheduleRepayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid disbursement id")
		return
	}
	rp, err := h.engine.ScheduleRepayment(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newRepaymentView(rp))
}

func (h *Handler) handleGetRepayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid repayment id")
		return
	}
	rp, err := h.engine.Funding.GetRepayment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRepaymentView(rp))
}

func (h *Handler) handlePayRepayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid repayment id")
		return
	}
	rp, err := h.engine.PayRepayment(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRepaymentView(rp))
}
