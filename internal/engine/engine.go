package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/credinvoice/credinvoice/internal/bidding"
	"github.com/credinvoice/credinvoice/internal/funding"
	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/offer"
	"github.com/credinvoice/credinvoice/internal/shared"
)

// Engine is the workflow façade over invoices, offers, bids and funding. It
// retries version conflicts once with fresh reads and publishes notification
// events after the underlying transaction commits.
type Engine struct {
	Invoices *invoice.Service
	Offers   *offer.Service
	Bids     *bidding.Service
	Funding  *funding.Service

	notify NotificationHandler
	logger *slog.Logger
}

// New constructs the engine. The notification handler may be nil.
func New(invoices *invoice.Service, offers *offer.Service, bids *bidding.Service, fundingSvc *funding.Service, notify NotificationHandler, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Invoices: invoices,
		Offers:   offers,
		Bids:     bids,
		Funding:  fundingSvc,
		notify:   notify,
		logger:   logger,
	}
}

// retryOnce re-runs an operation after a version conflict. The services
// re-read current rows on every attempt, so the second run sees the winner's
// state and either succeeds or fails a state guard.
func retryOnce[T any](fn func() (T, error)) (T, error) {
	v, err := fn()
	if errors.Is(err, shared.ErrConcurrentModification) {
		return fn()
	}
	return v, err
}

func (e *Engine) emit(ctx context.Context, name string, fn func(context.Context) error) {
	if e.notify == nil {
		return
	}
	if err := fn(ctx); err != nil {
		e.logger.Warn("engine: notification dropped", slog.String("event", name), slog.Any("error", err))
	}
}

// CreateInvoice registers a DRAFT invoice.
func (e *Engine) CreateInvoice(ctx context.Context, input invoice.CreateInput, actor shared.Actor) (invoice.Invoice, error) {
	return e.Invoices.Create(ctx, input, actor)
}

// SubmitInvoice moves a DRAFT invoice into the flow.
func (e *Engine) SubmitInvoice(ctx context.Context, invoiceID int64, actor shared.Actor) (invoice.Invoice, error) {
	inv, err := retryOnce(func() (invoice.Invoice, error) {
		return e.Invoices.Submit(ctx, invoiceID, actor)
	})
	if err != nil {
		return invoice.Invoice{}, err
	}
	if inv.Status == invoice.StatusOpenForBidding {
		e.emit(ctx, "bidding_opened", func(ctx context.Context) error {
			return e.notify.HandleBiddingOpened(ctx, BiddingOpenedEvent{InvoiceID: inv.ID, Total: inv.Total, DueDate: inv.DueDate})
		})
	}
	return inv, nil
}

// CancelInvoice abandons an invoice before disbursement.
func (e *Engine) CancelInvoice(ctx context.Context, invoiceID int64, actor shared.Actor) (invoice.Invoice, error) {
	inv, err := retryOnce(func() (invoice.Invoice, error) {
		return e.Invoices.Cancel(ctx, invoiceID, actor)
	})
	if err != nil {
		return invoice.Invoice{}, err
	}
	e.emit(ctx, "invoice_cancelled", func(ctx context.Context) error {
		return e.notify.HandleInvoiceCancelled(ctx, InvoiceCancelledEvent{InvoiceID: inv.ID, SellerID: inv.SellerID, BuyerID: inv.BuyerID})
	})
	return inv, nil
}

// GetInvoice returns a single invoice.
func (e *Engine) GetInvoice(ctx context.Context, invoiceID int64) (invoice.Invoice, error) {
	return e.Invoices.Get(ctx, invoiceID)
}

// ListInvoices returns invoices matching the filters plus the unpaged total.
func (e *Engine) ListInvoices(ctx context.Context, limit, offset int, filters invoice.ListFilters) ([]invoice.Invoice, int, error) {
	return e.Invoices.List(ctx, limit, offset, filters)
}

// CreateOffer proposes early payment terms to the seller.
func (e *Engine) CreateOffer(ctx context.Context, input offer.CreateInput, actor shared.Actor) (offer.DiscountOffer, error) {
	o, err := retryOnce(func() (offer.DiscountOffer, error) {
		return e.Offers.Create(ctx, input, actor)
	})
	if err != nil {
		return offer.DiscountOffer{}, err
	}
	if inv, invErr := e.Invoices.Get(ctx, o.InvoiceID); invErr == nil {
		e.emit(ctx, "offer_created", func(ctx context.Context) error {
			return e.notify.HandleOfferCreated(ctx, OfferCreatedEvent{
				OfferID:          o.ID,
				InvoiceID:        o.InvoiceID,
				SellerID:         inv.SellerID,
				Percent:          o.Percent,
				NetAmount:        o.NetAmount,
				EarlyPaymentDate: o.EarlyPaymentDate,
				ExpiresAt:        o.ExpiresAt,
			})
		})
	}
	return o, nil
}

// BulkCreateOffers applies one discount proposal to many invoices.
func (e *Engine) BulkCreateOffers(ctx context.Context, invoiceIDs []int64, tmpl offer.BulkTemplate, actor shared.Actor) []offer.BulkResult {
	return e.Offers.BulkCreate(ctx, invoiceIDs, tmpl, actor)
}

// AcceptOffer records the seller's acceptance.
func (e *Engine) AcceptOffer(ctx context.Context, offerID int64, actor shared.Actor) (offer.DiscountOffer, error) {
	o, err := retryOnce(func() (offer.DiscountOffer, error) {
		return e.Offers.Accept(ctx, offerID, actor)
	})
	if err != nil {
		return offer.DiscountOffer{}, err
	}
	if inv, invErr := e.Invoices.Get(ctx, o.InvoiceID); invErr == nil {
		e.emit(ctx, "offer_decided", func(ctx context.Context) error {
			return e.notify.HandleOfferDecided(ctx, OfferDecidedEvent{OfferID: o.ID, InvoiceID: o.InvoiceID, BuyerID: inv.BuyerID, Accepted: true})
		})
	}
	return o, nil
}

// RejectOffer records the seller's rejection with a reason.
func (e *Engine) RejectOffer(ctx context.Context, offerID int64, reason string, actor shared.Actor) (offer.DiscountOffer, error) {
	o, err := retryOnce(func() (offer.DiscountOffer, error) {
		return e.Offers.Reject(ctx, offerID, reason, actor)
	})
	if err != nil {
		return offer.DiscountOffer{}, err
	}
	if inv, invErr := e.Invoices.Get(ctx, o.InvoiceID); invErr == nil {
		e.emit(ctx, "offer_decided", func(ctx context.Context) error {
			return e.notify.HandleOfferDecided(ctx, OfferDecidedEvent{OfferID: o.ID, InvoiceID: o.InvoiceID, BuyerID: inv.BuyerID, Accepted: false, Reason: o.RejectReason})
		})
	}
	return o, nil
}

// SelectFundingType fixes how an accepted offer gets funded.
func (e *Engine) SelectFundingType(ctx context.Context, offerID int64, ft offer.FundingType, actor shared.Actor) (offer.DiscountOffer, error) {
	o, err := retryOnce(func() (offer.DiscountOffer, error) {
		return e.Offers.SelectFundingType(ctx, offerID, ft, actor)
	})
	if err != nil {
		return offer.DiscountOffer{}, err
	}
	if ft == offer.FundingFinancier {
		if inv, invErr := e.Invoices.Get(ctx, o.InvoiceID); invErr == nil {
			e.emit(ctx, "bidding_opened", func(ctx context.Context) error {
				return e.notify.HandleBiddingOpened(ctx, BiddingOpenedEvent{InvoiceID: inv.ID, Total: inv.Total, DueDate: inv.DueDate})
			})
		}
	}
	return o, nil
}

// GetOffer returns a single offer.
func (e *Engine) GetOffer(ctx context.Context, offerID int64) (offer.DiscountOffer, error) {
	return e.Offers.Get(ctx, offerID)
}

// OpenForBidding lists an accepted financier-funded invoice on the
// marketplace.
func (e *Engine) OpenForBidding(ctx context.Context, invoiceID int64, actor shared.Actor) (invoice.Invoice, error) {
	inv, err := retryOnce(func() (invoice.Invoice, error) {
		return e.Bids.OpenForBidding(ctx, invoiceID, actor)
	})
	if err != nil {
		return invoice.Invoice{}, err
	}
	e.emit(ctx, "bidding_opened", func(ctx context.Context) error {
		return e.notify.HandleBiddingOpened(ctx, BiddingOpenedEvent{InvoiceID: inv.ID, Total: inv.Total, DueDate: inv.DueDate})
	})
	return inv, nil
}

// SubmitBid places or replaces a financier's bid.
func (e *Engine) SubmitBid(ctx context.Context, input bidding.SubmitInput, actor shared.Actor) (bidding.Bid, error) {
	b, err := retryOnce(func() (bidding.Bid, error) {
		return e.Bids.Submit(ctx, input, actor)
	})
	if err != nil {
		return bidding.Bid{}, err
	}
	if inv, invErr := e.Invoices.Get(ctx, b.InvoiceID); invErr == nil {
		e.emit(ctx, "bid_submitted", func(ctx context.Context) error {
			return e.notify.HandleBidSubmitted(ctx, BidSubmittedEvent{
				BidID:        b.ID,
				InvoiceID:    b.InvoiceID,
				BuyerID:      inv.BuyerID,
				DiscountRate: b.DiscountRate,
				NetAmount:    b.NetAmount,
				ValidUntil:   b.ValidUntil,
			})
		})
	}
	return b, nil
}

// SelectBid accepts a bid, rejecting its siblings and creating the
// disbursement and repayment.
func (e *Engine) SelectBid(ctx context.Context, bidID int64, actor shared.Actor) (bidding.SelectResult, error) {
	res, err := retryOnce(func() (bidding.SelectResult, error) {
		return e.Bids.Select(ctx, bidID, actor)
	})
	if err != nil {
		return bidding.SelectResult{}, err
	}
	e.emit(ctx, "bid_selected", func(ctx context.Context) error {
		return e.notify.HandleBidSelected(ctx, BidSelectedEvent{
			BidID:          res.Bid.ID,
			InvoiceID:      res.Bid.InvoiceID,
			FinancierID:    res.Bid.FinancierID,
			NetAmount:      res.Bid.NetAmount,
			DisbursementID: res.DisbursementID,
		})
	})
	return res, nil
}

// ListBids returns the invoice's bids, best rate first.
func (e *Engine) ListBids(ctx context.Context, invoiceID int64) ([]bidding.Bid, error) {
	return e.Bids.List(ctx, invoiceID)
}

// AuthorizePayment lets the buyer pay a self-funded offer from their own
// account.
func (e *Engine) AuthorizePayment(ctx context.Context, offerID, bankAccountID int64, actor shared.Actor) (funding.Disbursement, error) {
	d, err := retryOnce(func() (funding.Disbursement, error) {
		return e.Funding.AuthorizePayment(ctx, offerID, bankAccountID, actor)
	})
	if err != nil {
		return funding.Disbursement{}, err
	}
	if inv, invErr := e.Invoices.Get(ctx, d.InvoiceID); invErr == nil {
		e.emit(ctx, "payment_authorized", func(ctx context.Context) error {
			return e.notify.HandlePaymentAuthorized(ctx, PaymentAuthorizedEvent{
				DisbursementID: d.ID,
				InvoiceID:      d.InvoiceID,
				SellerID:       inv.SellerID,
				Amount:         d.Amount,
			})
		})
	}
	return d, nil
}

// RecordDisbursement registers a disbursement against an invoice.
func (e *Engine) RecordDisbursement(ctx context.Context, input funding.RecordDisbursementInput, actor shared.Actor) (funding.Disbursement, error) {
	return retryOnce(func() (funding.Disbursement, error) {
		return e.Funding.RecordDisbursement(ctx, input, actor)
	})
}

// CompleteDisbursement confirms money reached the seller.
func (e *Engine) CompleteDisbursement(ctx context.Context, disbursementID int64, transactionRef string, actor shared.Actor) (funding.Disbursement, error) {
	d, err := retryOnce(func() (funding.Disbursement, error) {
		return e.Funding.MarkCompleted(ctx, disbursementID, transactionRef, actor)
	})
	if err != nil {
		return funding.Disbursement{}, err
	}
	if inv, invErr := e.Invoices.Get(ctx, d.InvoiceID); invErr == nil {
		e.emit(ctx, "disbursement_completed", func(ctx context.Context) error {
			return e.notify.HandleDisbursementCompleted(ctx, DisbursementCompletedEvent{
				DisbursementID: d.ID,
				InvoiceID:      d.InvoiceID,
				SellerID:       inv.SellerID,
				Amount:         d.Amount,
				TransactionRef: d.TransactionRef,
				Settled:        inv.Status == invoice.StatusSettled,
			})
		})
	}
	return d, nil
}

// FailDisbursement voids a bounced disbursement.
func (e *Engine) FailDisbursement(ctx context.Context, disbursementID int64, actor shared.Actor) (funding.Disbursement, error) {
	return retryOnce(func() (funding.Disbursement, error) {
		return e.Funding.MarkFailed(ctx, disbursementID, actor)
	})
}

// ScheduleRepayment creates the buyer's repayment obligation.
func (e *Engine) ScheduleRepayment(ctx context.Context, disbursementID int64, actor shared.Actor) (funding.Repayment, error) {
	return e.Funding.RecordRepaymentDue(ctx, disbursementID, actor)
}

// PayRepayment records the buyer reimbursing the financier.
func (e *Engine) PayRepayment(ctx context.Context, repaymentID int64, actor shared.Actor) (funding.Repayment, error) {
	rp, err := retryOnce(func() (funding.Repayment, error) {
		return e.Funding.MarkRepaymentPaid(ctx, repaymentID, actor)
	})
	if err != nil {
		return funding.Repayment{}, err
	}
	if inv, invErr := e.Invoices.Get(ctx, rp.InvoiceID); invErr == nil {
		e.emit(ctx, "repayment_paid", func(ctx context.Context) error {
			return e.notify.HandleRepaymentPaid(ctx, RepaymentPaidEvent{
				RepaymentID: rp.ID,
				InvoiceID:   rp.InvoiceID,
				Amount:      rp.Amount,
				Settled:     inv.Status == invoice.StatusSettled,
			})
		})
	}
	return rp, nil
}

// ExpireOffers runs the offer expiry sweep.
func (e *Engine) ExpireOffers(ctx context.Context, now time.Time) (int, error) {
	return e.Offers.ExpireSweep(ctx, now)
}

// ExpireBids runs the bid and bidding-window expiry sweep.
func (e *Engine) ExpireBids(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	return e.Bids.ExpireSweep(ctx, now, window)
}

// FlagOverdueRepayments runs the repayment overdue sweep.
func (e *Engine) FlagOverdueRepayments(ctx context.Context, now time.Time) (int, error) {
	return e.Funding.OverdueSweep(ctx, now)
}
