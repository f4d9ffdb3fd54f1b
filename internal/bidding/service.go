package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/funding"
	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/money"
	"github.com/credinvoice/credinvoice/internal/offer"
	"github.com/credinvoice/credinvoice/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBid(ctx context.Context, id int64) (Bid, error)
	GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error)
	GetAcceptedOfferFunding(ctx context.Context, invoiceID int64) (offer.FundingType, error)
	GetActiveBidByFinancier(ctx context.Context, invoiceID, financierID int64) (Bid, error)
	ListBids(ctx context.Context, invoiceID int64) ([]Bid, error)
	ListExpired(ctx context.Context, now time.Time) ([]Bid, error)
	ListOpenPastWindow(ctx context.Context, cutoff time.Time) ([]invoice.Invoice, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SelectResult reports what a bid selection created.
type SelectResult struct {
	Bid            Bid
	DisbursementID int64
	RepaymentID    int64
}

// Service runs the financier marketplace.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs the bidding service. Cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger}
}

// OpenForBidding moves an ACCEPTED, financier-funded invoice into the
// marketplace. The negotiated path normally lands here via funding-type
// selection; this operation is the explicit marketplace entry for callers
// driving the two steps separately.
func (s *Service) OpenForBidding(ctx context.Context, invoiceID int64, actor shared.Actor) (invoice.Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if actor.ID != inv.BuyerID {
		return invoice.Invoice{}, fmt.Errorf("bidding: only the buyer opens bidding: %w", shared.ErrInvalidActor)
	}
	if inv.Status != invoice.StatusAccepted {
		return invoice.Invoice{}, fmt.Errorf("invoice %d: open for bidding from %s: %w", inv.ID, inv.Status, shared.ErrInvalidTransition)
	}
	ft, err := s.repo.GetAcceptedOfferFunding(ctx, inv.ID)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if ft != offer.FundingFinancier {
		return invoice.Invoice{}, fmt.Errorf("invoice %d: funding type %q is not financier-funded: %w", inv.ID, ft, shared.ErrValidation)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusOpenForBidding, inv.Version)
	})
	if err != nil {
		return invoice.Invoice{}, err
	}
	inv.Status = invoice.StatusOpenForBidding
	inv.Version++
	s.cache.Bump(ctx)
	s.recordAudit(ctx, actor, "BIDDING_OPEN", inv.ID, nil)
	return inv, nil
}

// SubmitInput describes a financier bid.
type SubmitInput struct {
	InvoiceID         int64
	DiscountRate      decimal.Decimal
	ProcessingFeeRate decimal.Decimal
	ValidUntil        time.Time
}

// Submit places an ACTIVE bid. A financier holds at most one ACTIVE bid per
// invoice; resubmission withdraws the previous bid and creates a fresh one.
func (s *Service) Submit(ctx context.Context, input SubmitInput, actor shared.Actor) (Bid, error) {
	if actor.ID == 0 || actor.Role != shared.RoleFinancier {
		return Bid{}, fmt.Errorf("bidding: only financiers may bid: %w", shared.ErrInvalidActor)
	}
	inv, err := s.repo.GetInvoice(ctx, input.InvoiceID)
	if err != nil {
		return Bid{}, err
	}
	if inv.Status != invoice.StatusOpenForBidding {
		return Bid{}, fmt.Errorf("invoice %d: bids while %s: %w", inv.ID, inv.Status, shared.ErrInvalidTransition)
	}
	if err := money.ValidatePercent(input.DiscountRate); err != nil {
		return Bid{}, err
	}
	if input.ProcessingFeeRate.IsNegative() {
		return Bid{}, fmt.Errorf("bidding: processing fee rate must not be negative: %w", shared.ErrValidation)
	}
	if !input.ValidUntil.After(time.Now()) {
		return Bid{}, fmt.Errorf("bidding: validity window must end in the future: %w", shared.ErrValidation)
	}
	net := money.BidNetAmount(inv.Total, input.DiscountRate, input.ProcessingFeeRate)
	if net.LessThanOrEqual(decimal.Zero) {
		return Bid{}, fmt.Errorf("bidding: rates leave no payable amount: %w", shared.ErrValidation)
	}

	previous, err := s.repo.GetActiveBidByFinancier(ctx, inv.ID, actor.ID)
	replacing := err == nil
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Bid{}, err
	}

	b := Bid{
		InvoiceID:         inv.ID,
		FinancierID:       actor.ID,
		DiscountRate:      input.DiscountRate,
		ProcessingFeeRate: input.ProcessingFeeRate,
		NetAmount:         net,
		ValidUntil:        input.ValidUntil,
		Status:            StatusActive,
		Version:           1,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if replacing {
			if err := tx.UpdateBidStatus(ctx, previous.ID, StatusWithdrawn, previous.Version); err != nil {
				return err
			}
		}
		id, err := tx.CreateBid(ctx, b)
		if err != nil {
			return err
		}
		b.ID = id
		return nil
	})
	if err != nil {
		return Bid{}, err
	}
	s.cache.Bump(ctx)
	s.recordAudit(ctx, actor, "BID_SUBMIT", b.ID, map[string]any{
		"invoice_id": inv.ID,
		"rate":       b.DiscountRate.String(),
		"net":        b.NetAmount.StringFixed(2),
	})
	return b, nil
}

// Select accepts one bid on behalf of the buyer. The selected bid becomes
// ACCEPTED, every other ACTIVE bid becomes REJECTED, and the disbursement and
// repayment are created, all in one transaction; the invoice ends DISBURSED.
func (s *Service) Select(ctx context.Context, bidID int64, actor shared.Actor) (SelectResult, error) {
	b, err := s.repo.GetBid(ctx, bidID)
	if err != nil {
		return SelectResult{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, b.InvoiceID)
	if err != nil {
		return SelectResult{}, err
	}
	if actor.ID != inv.BuyerID {
		return SelectResult{}, fmt.Errorf("bidding: only the buyer selects a bid: %w", shared.ErrInvalidActor)
	}
	if inv.Status != invoice.StatusOpenForBidding {
		return SelectResult{}, fmt.Errorf("invoice %d: select bid while %s: %w", inv.ID, inv.Status, shared.ErrInvalidTransition)
	}
	if b.Status != StatusActive {
		return SelectResult{}, fmt.Errorf("bid %d: select from %s: %w", b.ID, b.Status, shared.ErrInvalidTransition)
	}
	if time.Now().After(b.ValidUntil) {
		return SelectResult{}, fmt.Errorf("bid %d: %w", b.ID, shared.ErrBidExpired)
	}

	result := SelectResult{Bid: b}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateBidStatus(ctx, b.ID, StatusAccepted, b.Version); err != nil {
			return err
		}
		if err := tx.RejectActiveBids(ctx, inv.ID, b.ID); err != nil {
			return err
		}
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusBidSelected, inv.Version); err != nil {
			return err
		}
		disbID, err := tx.InsertDisbursement(ctx, funding.Disbursement{
			InvoiceID: inv.ID,
			BidID:     b.ID,
			PayerType: funding.PayerFinancier,
			Amount:    b.NetAmount,
			Status:    funding.DisbursementPending,
		})
		if err != nil {
			return err
		}
		result.DisbursementID = disbID
		repayID, err := tx.InsertRepayment(ctx, funding.Repayment{
			DisbursementID: disbID,
			InvoiceID:      inv.ID,
			Amount:         inv.Total,
			DueDate:        inv.DueDate,
			Status:         funding.RepaymentPending,
		})
		if err != nil {
			return err
		}
		result.RepaymentID = repayID
		return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusDisbursed, inv.Version+1)
	})
	if err != nil {
		return SelectResult{}, err
	}
	result.Bid.Status = StatusAccepted
	result.Bid.Version++
	s.cache.Bump(ctx)
	s.recordAudit(ctx, actor, "BID_SELECT", b.ID, map[string]any{
		"invoice_id":      inv.ID,
		"disbursement_id": result.DisbursementID,
		"repayment_id":    result.RepaymentID,
		"net":             b.NetAmount.StringFixed(2),
	})
	return result, nil
}

// List returns the invoice's bids, lowest discount rate first, ties broken by
// earliest submission. Served from the cache when one is configured.
func (s *Service) List(ctx context.Context, invoiceID int64) ([]Bid, error) {
	return s.cache.FetchBids(ctx, invoiceID, func(ctx context.Context) ([]Bid, error) {
		return s.repo.ListBids(ctx, invoiceID)
	})
}

// ExpireSweep expires ACTIVE bids past their validity window. The invoice
// stays OPEN_FOR_BIDDING awaiting fresh bids unless its whole bidding window
// elapsed, in which case it moves to EXPIRED and remaining ACTIVE bids are
// rejected. Each row is its own atomic unit; version conflicts are skipped.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	lapsed, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, b := range lapsed {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateBidStatus(ctx, b.ID, StatusExpired, b.Version)
		})
		if err != nil {
			if !errors.Is(err, shared.ErrConcurrentModification) {
				s.logger.Warn("bid sweep: expire", slog.Int64("bid_id", b.ID), slog.Any("error", err))
			}
			continue
		}
		s.recordAudit(ctx, shared.Actor{Role: shared.RoleSystem}, "BID_EXPIRE", b.ID, map[string]any{
			"invoice_id": b.InvoiceID,
		})
		expired++
	}

	if window > 0 {
		stale, err := s.repo.ListOpenPastWindow(ctx, now.Add(-window))
		if err != nil {
			return expired, err
		}
		for _, inv := range stale {
			err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				if err := tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusExpired, inv.Version); err != nil {
					return err
				}
				return tx.RejectActiveBids(ctx, inv.ID, 0)
			})
			if err != nil {
				if !errors.Is(err, shared.ErrConcurrentModification) {
					s.logger.Warn("bid sweep: expire invoice", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
				}
				continue
			}
			s.recordAudit(ctx, shared.Actor{Role: shared.RoleSystem}, "BIDDING_WINDOW_CLOSE", inv.ID, nil)
			expired++
		}
	}
	if expired > 0 {
		s.cache.Bump(ctx)
	}
	return expired, nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "bid", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
