package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/offer"
	"github.com/credinvoice/credinvoice/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error)
	GetOffer(ctx context.Context, id int64) (offer.DiscountOffer, error)
	GetDisbursement(ctx context.Context, id int64) (Disbursement, error)
	GetDisbursementByInvoice(ctx context.Context, invoiceID int64) (Disbursement, error)
	GetRepayment(ctx context.Context, id int64) (Repayment, error)
	GetRepaymentByDisbursement(ctx context.Context, disbursementID int64) (Repayment, error)
	ListOverdue(ctx context.Context, now time.Time) ([]Repayment, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort deduplicates settlement confirmations by transaction
// reference.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service tracks money movement after a funding decision: disbursement to the
// seller, then repayment by the buyer when a financier fronted the cash.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	idem   IdempotencyPort
	logger *slog.Logger
}

// NewService constructs the funding service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idem: idem, logger: logger}
}

// AuthorizePayment is the buyer paying a self-funded accepted offer out of
// their own account. It creates the disbursement and moves the invoice to
// DISBURSED atomically.
func (s *Service) AuthorizePayment(ctx context.Context, offerID, bankAccountID int64, actor shared.Actor) (Disbursement, error) {
	o, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return Disbursement{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, o.InvoiceID)
	if err != nil {
		return Disbursement{}, err
	}
	if actor.ID != inv.BuyerID {
		return Disbursement{}, fmt.Errorf("funding: only the buyer authorizes payment: %w", shared.ErrInvalidActor)
	}
	if o.Status != offer.StatusAccepted {
		return Disbursement{}, fmt.Errorf("offer %d: payment on %s offer: %w", o.ID, o.Status, shared.ErrInvalidTransition)
	}
	if o.FundingType != offer.FundingSelf {
		return Disbursement{}, fmt.Errorf("offer %d: payment authorization requires self funding: %w", o.ID, shared.ErrValidation)
	}
	if bankAccountID <= 0 {
		return Disbursement{}, fmt.Errorf("funding: bank account required: %w", shared.ErrValidation)
	}
	if err := invoice.Guard(inv, invoice.StatusDisbursed); err != nil {
		return Disbursement{}, err
	}
	if _, err := s.repo.GetDisbursementByInvoice(ctx, inv.ID); err == nil {
		return Disbursement{}, fmt.Errorf("invoice %d: %w", inv.ID, shared.ErrDuplicateDisbursement)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Disbursement{}, err
	}

	d := Disbursement{
		InvoiceID:     inv.ID,
		BankAccountID: bankAccountID,
		PayerType:     PayerBuyer,
		Amount:        o.NetAmount,
		Status:        DisbursementPending,
		Version:       1,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertDisbursement(ctx, d)
		if err != nil {
			return err
		}
		d.ID = id
		return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusDisbursed, inv.Version)
	})
	if err != nil {
		return Disbursement{}, err
	}
	s.recordAudit(ctx, actor, "PAYMENT_AUTHORIZE", d.ID, map[string]any{
		"invoice_id": inv.ID,
		"offer_id":   o.ID,
		"amount":     d.Amount.StringFixed(2),
	})
	return d, nil
}

// RecordDisbursementInput describes a disbursement recorded directly, outside
// the bid selection or payment authorization paths.
type RecordDisbursementInput struct {
	InvoiceID int64
	PayerType PayerType
	Amount    decimal.Decimal
}

// RecordDisbursement registers a disbursement against an invoice. One
// non-failed disbursement is allowed per invoice.
func (s *Service) RecordDisbursement(ctx context.Context, input RecordDisbursementInput, actor shared.Actor) (Disbursement, error) {
	if input.PayerType != PayerBuyer && input.PayerType != PayerFinancier {
		return Disbursement{}, fmt.Errorf("funding: unknown payer type %q: %w", input.PayerType, shared.ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return Disbursement{}, fmt.Errorf("funding: amount must be positive: %w", shared.ErrValidation)
	}
	inv, err := s.repo.GetInvoice(ctx, input.InvoiceID)
	if err != nil {
		return Disbursement{}, err
	}
	if actor.Role != shared.RoleSystem && !inv.Party(actor.ID) {
		return Disbursement{}, fmt.Errorf("funding: actor %d is not a party to invoice %d: %w", actor.ID, inv.ID, shared.ErrInvalidActor)
	}
	if err := invoice.Guard(inv, invoice.StatusDisbursed); err != nil {
		return Disbursement{}, err
	}
	if _, err := s.repo.GetDisbursementByInvoice(ctx, inv.ID); err == nil {
		return Disbursement{}, fmt.Errorf("invoice %d: %w", inv.ID, shared.ErrDuplicateDisbursement)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Disbursement{}, err
	}

	d := Disbursement{
		InvoiceID: inv.ID,
		PayerType: input.PayerType,
		Amount:    input.Amount,
		Status:    DisbursementPending,
		Version:   1,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertDisbursement(ctx, d)
		if err != nil {
			return err
		}
		d.ID = id
		return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusDisbursed, inv.Version)
	})
	if err != nil {
		return Disbursement{}, err
	}
	s.recordAudit(ctx, actor, "DISBURSEMENT_RECORD", d.ID, map[string]any{
		"invoice_id": inv.ID,
		"payer_type": string(d.PayerType),
		"amount":     d.Amount.StringFixed(2),
	})
	return d, nil
}

// MarkCompleted confirms the money left for the seller. The transaction
// reference deduplicates retried confirmations from the payment rail. A
// self-funded invoice settles immediately; a financier-funded one settles only
// once the repayment is also paid.
func (s *Service) MarkCompleted(ctx context.Context, disbursementID int64, transactionRef string, actor shared.Actor) (Disbursement, error) {
	transactionRef = strings.TrimSpace(transactionRef)
	if transactionRef == "" {
		return Disbursement{}, fmt.Errorf("funding: transaction reference required: %w", shared.ErrValidation)
	}
	d, err := s.repo.GetDisbursement(ctx, disbursementID)
	if err != nil {
		return Disbursement{}, err
	}
	if d.Status == DisbursementCompleted {
		// A replayed confirmation still re-checks settlement: an earlier
		// decision may have raced the repayment and left the invoice behind.
		if err := s.settleIfOwed(ctx, d.InvoiceID, d.ID); err != nil {
			return Disbursement{}, err
		}
		return d, nil
	}
	if d.Status != DisbursementPending && d.Status != DisbursementDisbursed {
		return Disbursement{}, fmt.Errorf("disbursement %d: complete from %s: %w", d.ID, d.Status, shared.ErrInvalidTransition)
	}

	idemKey := "DISB:" + transactionRef
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, "funding.disbursement"); err != nil {
			return Disbursement{}, err
		}
	}

	settled := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoice(ctx, d.InvoiceID)
		if err != nil {
			return err
		}
		settle := false
		rp, err := tx.GetRepaymentByDisbursement(ctx, d.ID)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			settle = true
		case err != nil:
			return err
		case rp.Status == RepaymentPaid:
			settle = true
		}
		if err := tx.UpdateDisbursementStatus(ctx, d.ID, DisbursementCompleted, transactionRef, d.Version); err != nil {
			return err
		}
		// The invoice row is written even when the status stands, so two
		// settle decisions on the same invoice collide on its version
		// instead of slipping past each other.
		next := inv.Status
		if settle && inv.Status == invoice.StatusDisbursed {
			next = invoice.StatusSettled
		}
		settled = next == invoice.StatusSettled
		return tx.UpdateInvoiceStatus(ctx, inv.ID, next, inv.Version)
	})
	if err != nil {
		s.rollbackKey(ctx, idemKey)
		return Disbursement{}, err
	}
	d.Status = DisbursementCompleted
	d.TransactionRef = transactionRef
	d.Version++
	s.recordAudit(ctx, actor, "DISBURSEMENT_COMPLETE", d.ID, map[string]any{
		"invoice_id":      d.InvoiceID,
		"transaction_ref": transactionRef,
		"settled":         settled,
	})
	return d, nil
}

// settleIfOwed settles an invoice whose disbursement completed and whose
// repayment, if any, is paid. Replayed confirmations route through here so a
// settlement missed by a racing counterpart write gets applied.
func (s *Service) settleIfOwed(ctx context.Context, invoiceID, disbursementID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != invoice.StatusDisbursed {
			return nil
		}
		d, err := tx.GetDisbursement(ctx, disbursementID)
		if err != nil {
			return err
		}
		if d.Status != DisbursementCompleted {
			return nil
		}
		rp, err := tx.GetRepaymentByDisbursement(ctx, disbursementID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if err == nil && rp.Status != RepaymentPaid {
			return nil
		}
		return tx.UpdateInvoiceStatus(ctx, inv.ID, invoice.StatusSettled, inv.Version)
	})
}

// MarkFailed voids a disbursement that bounced, freeing the invoice slot for a
// retry.
func (s *Service) MarkFailed(ctx context.Context, disbursementID int64, actor shared.Actor) (Disbursement, error) {
	d, err := s.repo.GetDisbursement(ctx, disbursementID)
	if err != nil {
		return Disbursement{}, err
	}
	if d.Status != DisbursementPending && d.Status != DisbursementDisbursed {
		return Disbursement{}, fmt.Errorf("disbursement %d: fail from %s: %w", d.ID, d.Status, shared.ErrInvalidTransition)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateDisbursementStatus(ctx, d.ID, DisbursementFailed, "", d.Version)
	})
	if err != nil {
		return Disbursement{}, err
	}
	d.Status = DisbursementFailed
	d.Version++
	s.recordAudit(ctx, actor, "DISBURSEMENT_FAIL", d.ID, map[string]any{"invoice_id": d.InvoiceID})
	return d, nil
}

// RecordRepaymentDue schedules the buyer's face-value repayment for a
// financier-funded disbursement. Bid selection normally creates this row; the
// operation exists for disbursements recorded directly.
func (s *Service) RecordRepaymentDue(ctx context.Context, disbursementID int64, actor shared.Actor) (Repayment, error) {
	d, err := s.repo.GetDisbursement(ctx, disbursementID)
	if err != nil {
		return Repayment{}, err
	}
	if d.PayerType != PayerFinancier {
		return Repayment{}, fmt.Errorf("disbursement %d: repayment applies to financier funding only: %w", d.ID, shared.ErrValidation)
	}
	if _, err := s.repo.GetRepaymentByDisbursement(ctx, d.ID); err == nil {
		return Repayment{}, fmt.Errorf("disbursement %d: repayment already scheduled: %w", d.ID, shared.ErrValidation)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Repayment{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, d.InvoiceID)
	if err != nil {
		return Repayment{}, err
	}

	rp := Repayment{
		DisbursementID: d.ID,
		InvoiceID:      inv.ID,
		Amount:         inv.Total,
		DueDate:        inv.DueDate,
		Status:         RepaymentPending,
		Version:        1,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertRepayment(ctx, rp)
		if err != nil {
			return err
		}
		rp.ID = id
		return nil
	})
	if err != nil {
		return Repayment{}, err
	}
	s.recordAudit(ctx, actor, "REPAYMENT_SCHEDULE", rp.ID, map[string]any{
		"invoice_id": inv.ID,
		"amount":     rp.Amount.StringFixed(2),
		"due_date":   rp.DueDate.Format(time.RFC3339),
	})
	return rp, nil
}

// MarkRepaymentPaid records the buyer reimbursing the financier. When the
// disbursement already completed, the invoice settles in the same
// transaction.
func (s *Service) MarkRepaymentPaid(ctx context.Context, repaymentID int64, actor shared.Actor) (Repayment, error) {
	rp, err := s.repo.GetRepayment(ctx, repaymentID)
	if err != nil {
		return Repayment{}, err
	}
	if rp.Status == RepaymentPaid {
		if err := s.settleIfOwed(ctx, rp.InvoiceID, rp.DisbursementID); err != nil {
			return Repayment{}, err
		}
		return rp, nil
	}
	if rp.Status != RepaymentPending && rp.Status != RepaymentOverdue {
		return Repayment{}, fmt.Errorf("repayment %d: pay from %s: %w", rp.ID, rp.Status, shared.ErrInvalidTransition)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoice(ctx, rp.InvoiceID)
		if err != nil {
			return err
		}
		d, err := tx.GetDisbursement(ctx, rp.DisbursementID)
		if err != nil {
			return err
		}
		if err := tx.UpdateRepaymentStatus(ctx, rp.ID, RepaymentPaid, rp.Version); err != nil {
			return err
		}
		next := inv.Status
		if d.Status == DisbursementCompleted && inv.Status == invoice.StatusDisbursed {
			next = invoice.StatusSettled
		}
		return tx.UpdateInvoiceStatus(ctx, inv.ID, next, inv.Version)
	})
	if err != nil {
		return Repayment{}, err
	}
	rp.Status = RepaymentPaid
	rp.PaidAt = time.Now()
	rp.Version++
	s.recordAudit(ctx, actor, "REPAYMENT_PAID", rp.ID, map[string]any{
		"invoice_id": rp.InvoiceID,
		"amount":     rp.Amount.StringFixed(2),
	})
	return rp, nil
}

// OverdueSweep flags PENDING repayments past their due date. Each row is its
// own atomic unit; rows changed underneath the sweep are skipped. Running the
// sweep twice is a no-op.
func (s *Service) OverdueSweep(ctx context.Context, now time.Time) (int, error) {
	late, err := s.repo.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	flagged := 0
	for _, rp := range late {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateRepaymentStatus(ctx, rp.ID, RepaymentOverdue, rp.Version)
		})
		if err != nil {
			if errors.Is(err, shared.ErrConcurrentModification) {
				continue
			}
			s.logger.Warn("repayment sweep: flag overdue", slog.Int64("repayment_id", rp.ID), slog.Any("error", err))
			continue
		}
		s.recordAudit(ctx, shared.Actor{Role: shared.RoleSystem}, "REPAYMENT_OVERDUE", rp.ID, map[string]any{
			"invoice_id": rp.InvoiceID,
			"due_date":   rp.DueDate.Format(time.RFC3339),
		})
		flagged++
	}
	return flagged, nil
}

// GetDisbursement returns a single disbursement.
func (s *Service) GetDisbursement(ctx context.Context, id int64) (Disbursement, error) {
	return s.repo.GetDisbursement(ctx, id)
}

// GetRepayment returns a single repayment.
func (s *Service) GetRepayment(ctx context.Context, id int64) (Repayment, error) {
	return s.repo.GetRepayment(ctx, id)
}

func (s *Service) rollbackKey(ctx context.Context, key string) {
	if s.idem == nil {
		return
	}
	if err := s.idem.Delete(ctx, key); err != nil {
		s.logger.Warn("funding: release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "funding", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
