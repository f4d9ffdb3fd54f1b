package offer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/money"
	"github.com/credinvoice/credinvoice/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOffer(ctx context.Context, id int64) (DiscountOffer, error)
	GetPendingOffer(ctx context.Context, invoiceID int64) (DiscountOffer, error)
	GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error)
	ListExpired(ctx context.Context, now time.Time) ([]DiscountOffer, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the buyer-seller negotiation over discount offers.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs the offer service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// CreateInput describes a new offer.
type CreateInput struct {
	InvoiceID        int64
	Percent          decimal.Decimal
	EarlyPaymentDate time.Time
	ExpiresAt        time.Time
}

// Create validates and persists a PENDING offer, moving a DRAFT invoice to
// PENDING_ACCEPTANCE in the same transaction.
func (s *Service) Create(ctx context.Context, input CreateInput, actor shared.Actor) (DiscountOffer, error) {
	inv, err := s.repo.GetInvoice(ctx, input.InvoiceID)
	if err != nil {
		return DiscountOffer{}, err
	}
	if actor.ID != inv.BuyerID {
		return DiscountOffer{}, fmt.Errorf("offer: only the buyer may create offers: %w", shared.ErrInvalidActor)
	}
	if inv.Product == invoice.ProductGSTBacked {
		return DiscountOffer{}, fmt.Errorf("offer: GST-backed invoices go straight to bidding: %w", shared.ErrValidation)
	}
	if inv.Status != invoice.StatusDraft && inv.Status != invoice.StatusPendingAcceptance {
		return DiscountOffer{}, fmt.Errorf("offer: invoice %d in %s cannot take offers: %w", inv.ID, inv.Status, shared.ErrInvalidTransition)
	}
	if _, err := s.repo.GetPendingOffer(ctx, inv.ID); err == nil {
		return DiscountOffer{}, fmt.Errorf("offer: invoice %d already has a pending offer: %w", inv.ID, shared.ErrValidation)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return DiscountOffer{}, err
	}
	if err := money.ValidatePercent(input.Percent); err != nil {
		return DiscountOffer{}, err
	}
	now := time.Now()
	if !input.EarlyPaymentDate.After(now) {
		return DiscountOffer{}, fmt.Errorf("offer: early payment date must be in the future: %w", shared.ErrValidation)
	}
	if _, err := money.DaysEarly(inv.DueDate, input.EarlyPaymentDate); err != nil {
		return DiscountOffer{}, err
	}
	if input.ExpiresAt.IsZero() {
		input.ExpiresAt = now.Add(DefaultExpiry)
	}
	if !input.ExpiresAt.After(now) {
		return DiscountOffer{}, fmt.Errorf("offer: expiry must be in the future: %w", shared.ErrValidation)
	}

	o := DiscountOffer{
		InvoiceID:        inv.ID,
		Percent:          input.Percent,
		DiscountAmount:   money.DiscountAmount(inv.Total, input.Percent),
		NetAmount:        money.NetAmount(inv.Total, input.Percent),
		EarlyPaymentDate: input.EarlyPaymentDate,
		ExpiresAt:        input.ExpiresAt,
		Status:           StatusPending,
		Version:          1,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOffer(ctx, o)
		if err != nil {
			return err
		}
		o.ID = id
		if inv.Status == invoice.StatusDraft {
			return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusPendingAcceptance, inv.Version)
		}
		return nil
	})
	if err != nil {
		return DiscountOffer{}, err
	}
	s.recordAudit(ctx, actor, "OFFER_CREATE", o.ID, map[string]any{
		"invoice_id": inv.ID,
		"percent":    o.Percent.String(),
		"net":        o.NetAmount.StringFixed(2),
	})
	return o, nil
}

// BulkTemplate applies one discount proposal to many invoices.
type BulkTemplate struct {
	Percent          decimal.Decimal
	EarlyPaymentDate time.Time
	ExpiresAt        time.Time
}

// BulkResult reports the outcome for one invoice in a bulk creation.
type BulkResult struct {
	InvoiceID int64
	OfferID   int64
	Err       string
}

// BulkCreate creates one offer per invoice. Each invoice is its own atomic
// unit: one failure never rolls back or blocks the others.
func (s *Service) BulkCreate(ctx context.Context, invoiceIDs []int64, tmpl BulkTemplate, actor shared.Actor) []BulkResult {
	results := make([]BulkResult, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		o, err := s.Create(ctx, CreateInput{
			InvoiceID:        id,
			Percent:          tmpl.Percent,
			EarlyPaymentDate: tmpl.EarlyPaymentDate,
			ExpiresAt:        tmpl.ExpiresAt,
		}, actor)
		res := BulkResult{InvoiceID: id}
		if err != nil {
			res.Err = shared.UserSafeMessage(err)
		} else {
			res.OfferID = o.ID
		}
		results = append(results, res)
	}
	return results
}

// Accept records the seller's acceptance. Expiry is checked at point of use,
// not only by the sweep.
func (s *Service) Accept(ctx context.Context, offerID int64, actor shared.Actor) (DiscountOffer, error) {
	o, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return DiscountOffer{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, o.InvoiceID)
	if err != nil {
		return DiscountOffer{}, err
	}
	if actor.ID != inv.SellerID {
		return DiscountOffer{}, fmt.Errorf("offer: only the seller may accept: %w", shared.ErrInvalidActor)
	}
	if o.Status != StatusPending {
		return DiscountOffer{}, fmt.Errorf("offer %d: accept from %s: %w", o.ID, o.Status, shared.ErrInvalidTransition)
	}
	if time.Now().After(o.ExpiresAt) {
		return DiscountOffer{}, fmt.Errorf("offer %d: %w", o.ID, shared.ErrOfferExpired)
	}
	if err := invoice.Guard(inv, invoice.StatusAccepted); err != nil {
		return DiscountOffer{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateOfferStatus(ctx, o.ID, StatusAccepted, "", o.Version); err != nil {
			return err
		}
		return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusAccepted, inv.Version)
	})
	if err != nil {
		return DiscountOffer{}, err
	}
	o.Status = StatusAccepted
	o.Version++
	s.recordAudit(ctx, actor, "OFFER_ACCEPT", o.ID, map[string]any{"invoice_id": inv.ID})
	return o, nil
}

// Reject records the seller's rejection with a mandatory reason and moves the
// invoice to its terminal REJECTED state.
func (s *Service) Reject(ctx context.Context, offerID int64, reason string, actor shared.Actor) (DiscountOffer, error) {
	if len(strings.TrimSpace(reason)) < MinRejectReasonLen {
		return DiscountOffer{}, fmt.Errorf("offer: rejection reason must be at least %d characters: %w", MinRejectReasonLen, shared.ErrValidation)
	}
	o, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return DiscountOffer{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, o.InvoiceID)
	if err != nil {
		return DiscountOffer{}, err
	}
	if actor.ID != inv.SellerID {
		return DiscountOffer{}, fmt.Errorf("offer: only the seller may reject: %w", shared.ErrInvalidActor)
	}
	if o.Status != StatusPending {
		return DiscountOffer{}, fmt.Errorf("offer %d: reject from %s: %w", o.ID, o.Status, shared.ErrInvalidTransition)
	}
	if err := invoice.Guard(inv, invoice.StatusRejected); err != nil {
		return DiscountOffer{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateOfferStatus(ctx, o.ID, StatusRejected, reason, o.Version); err != nil {
			return err
		}
		return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusRejected, inv.Version)
	})
	if err != nil {
		return DiscountOffer{}, err
	}
	o.Status = StatusRejected
	o.RejectReason = reason
	o.Version++
	s.recordAudit(ctx, actor, "OFFER_REJECT", o.ID, map[string]any{"invoice_id": inv.ID, "reason": reason})
	return o, nil
}

// SelectFundingType fixes how an accepted offer gets funded. Choosing
// FINANCIER_FUNDED opens the invoice for bidding in the same transaction.
func (s *Service) SelectFundingType(ctx context.Context, offerID int64, ft FundingType, actor shared.Actor) (DiscountOffer, error) {
	if ft != FundingSelf && ft != FundingFinancier {
		return DiscountOffer{}, fmt.Errorf("offer: unknown funding type %q: %w", ft, shared.ErrValidation)
	}
	o, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return DiscountOffer{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, o.InvoiceID)
	if err != nil {
		return DiscountOffer{}, err
	}
	if actor.ID != inv.BuyerID {
		return DiscountOffer{}, fmt.Errorf("offer: only the buyer selects funding: %w", shared.ErrInvalidActor)
	}
	if o.Status != StatusAccepted {
		return DiscountOffer{}, fmt.Errorf("offer %d: funding selection from %s: %w", o.ID, o.Status, shared.ErrInvalidTransition)
	}
	if o.FundingType != "" {
		return DiscountOffer{}, fmt.Errorf("offer %d: funding type already %s: %w", o.ID, o.FundingType, shared.ErrInvalidTransition)
	}
	if inv.Status != invoice.StatusAccepted {
		return DiscountOffer{}, fmt.Errorf("invoice %d: funding selection from %s: %w", inv.ID, inv.Status, shared.ErrInvalidTransition)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetFundingType(ctx, o.ID, ft, o.Version); err != nil {
			return err
		}
		if ft == FundingFinancier {
			return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusOpenForBidding, inv.Version)
		}
		return nil
	})
	if err != nil {
		return DiscountOffer{}, err
	}
	o.FundingType = ft
	o.Version++
	s.recordAudit(ctx, actor, "OFFER_FUNDING_TYPE", o.ID, map[string]any{"invoice_id": inv.ID, "funding_type": string(ft)})
	return o, nil
}

// ExpireSweep expires every PENDING offer past its expiry and moves each
// owning invoice to EXPIRED. Each offer is its own atomic unit; rows already
// changed by a user action lose the version check and are skipped. Running
// the sweep twice is a no-op.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	lapsed, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, o := range lapsed {
		inv, err := s.repo.GetInvoice(ctx, o.InvoiceID)
		if err != nil {
			s.logger.Warn("offer sweep: load invoice", slog.Int64("offer_id", o.ID), slog.Any("error", err))
			continue
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateOfferStatus(ctx, o.ID, StatusExpired, "", o.Version); err != nil {
				return err
			}
			if inv.Status == invoice.StatusPendingAcceptance {
				return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusExpired, inv.Version)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, shared.ErrConcurrentModification) {
				continue
			}
			s.logger.Warn("offer sweep: expire", slog.Int64("offer_id", o.ID), slog.Any("error", err))
			continue
		}
		s.recordAudit(ctx, shared.Actor{Role: shared.RoleSystem}, "OFFER_EXPIRE", o.ID, map[string]any{
			"invoice_id": inv.ID,
		})
		expired++
	}
	return expired, nil
}

// Get returns a single offer.
func (s *Service) Get(ctx context.Context, offerID int64) (DiscountOffer, error) {
	return s.repo.GetOffer(ctx, offerID)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "discount_offer", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
