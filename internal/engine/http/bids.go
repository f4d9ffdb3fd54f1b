package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/bidding"
	"github.com/credinvoice/credinvoice/internal/platform/httpx"
	"github.com/credinvoice/credinvoice/internal/shared"
)

func (h *Handler) handleOpenForBidding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	inv, err := h.engine.OpenForBidding(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceView(inv))
}

func (h *Handler) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	var req submitBidRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	rate, err := decimal.NewFromString(req.DiscountRate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "discount_rate is not a decimal")
		return
	}
	fee := decimal.Zero
	if req.ProcessingFeeRate != "" {
		if fee, err = decimal.NewFromString(req.ProcessingFeeRate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "processing_fee_rate is not a decimal")
			return
		}
	}
	b, err := h.engine.SubmitBid(r.Context(), bidding.SubmitInput{
		InvoiceID:         id,
		DiscountRate:      rate,
		ProcessingFeeRate: fee,
		ValidUntil:        req.ValidUntil,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newBidView(b))
}

// handleListBids collapses concurrent identical listings into one database
// load. Marketplace pages poll this endpoint aggressively.
func (h *Handler) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	key := fmt.Sprintf("bids:%d", id)
	res, err, _ := singleflightLoad(r.Context(), key, func(ctx context.Context) (any, error) {
		return h.engine.ListBids(ctx, id)
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bids, _ := res.([]bidding.Bid)
	views := make([]bidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, newBidView(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bids": views})
}

func (h *Handler) handleSelectBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid bid id")
		return
	}
	res, err := h.engine.SelectBid(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"bid":             newBidView(res.Bid),
		"disbursement_id": res.DisbursementID,
		"repayment_id":    res.RepaymentID,
	})
}
