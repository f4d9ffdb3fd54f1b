package http

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/credinvoice/credinvoice/internal/engine"
	"github.com/credinvoice/credinvoice/internal/platform/httpx"
	"github.com/credinvoice/credinvoice/internal/shared"
)

// Handler wires the workflow engine's REST endpoints.
type Handler struct {
	logger    *slog.Logger
	engine    *engine.Engine
	validate  *validator.Validate
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, eng *engine.Engine) *Handler {
	limiter := httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if actor := shared.ActorFromContext(r.Context()); actor.ID != 0 {
			return "actor:" + strconv.FormatInt(actor.ID, 10), nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{
		logger:    logger,
		engine:    eng,
		validate:  validator.New(),
		rateLimit: limiter,
	}
}

// MountRoutes registers engine routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.handleCreateInvoice)
			r.Get("/", h.handleListInvoices)
			r.Get("/{id}", h.handleGetInvoice)
			r.Post("/{id}/submit", h.handleSubmitInvoice)
			r.Post("/{id}/cancel", h.handleCancelInvoice)
			r.Post("/{id}/open-bidding", h.handleOpenForBidding)
			r.Get("/{id}/bids", h.handleListBids)
			r.Post("/{id}/bids", h.handleSubmitBid)
		})

		r.Route("/offers", func(r chi.Router) {
			r.Post("/", h.handleCreateOffer)
			r.Post("/bulk", h.handleBulkCreateOffers)
			r.Get("/{id}", h.handleGetOffer)
			r.Post("/{id}/accept", h.handleAcceptOffer)
			r.Post("/{id}/reject", h.handleRejectOffer)
			r.Post("/{id}/funding-type", h.handleSelectFundingType)
			r.Post("/{id}/authorize-payment", h.handleAuthorizePayment)
		})

		r.Route("/bids", func(r chi.Router) {
			r.Post("/{id}/select", h.handleSelectBid)
		})

		r.Route("/disbursements", func(r chi.Router) {
			r.Post("/", h.handleRecordDisbursement)
			r.Get("/{id}", h.handleGetDisbursement)
			r.Post("/{id}/complete", h.handleCompleteDisbursement)
			r.Post("/{id}/fail", h.handleFailDisbursement)
			r.Post("/{id}/repayment", h.handleScheduleRepayment)
		})

		r.Route("/repayments", func(r chi.Router) {
			r.Get("/{id}", h.handleGetRepayment)
			r.Post("/{id}/pay", h.handlePayRepayment)
		})
	})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}
