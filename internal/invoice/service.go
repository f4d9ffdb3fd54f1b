package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	HasPendingOffer(ctx context.Context, invoiceID int64) (bool, error)
	ListInvoices(ctx context.Context, limit, offset int, filters ListFilters) ([]Invoice, int, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns invoice creation and the transitions not driven by offers,
// bids or funding: submit and cancel.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the invoice service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateInput describes an invoice submission payload.
type CreateInput struct {
	Number    string
	SellerID  int64
	BuyerID   int64
	Currency  string
	Total     decimal.Decimal
	Product   ProductType
	IssueDate time.Time
	DueDate   time.Time
}

// Create persists a DRAFT invoice. The caller must be the buyer or seller
// named on the invoice.
func (s *Service) Create(ctx context.Context, input CreateInput, actor shared.Actor) (Invoice, error) {
	if input.SellerID == 0 || input.BuyerID == 0 {
		return Invoice{}, fmt.Errorf("invoice: buyer and seller required: %w", shared.ErrValidation)
	}
	if input.SellerID == input.BuyerID {
		return Invoice{}, fmt.Errorf("invoice: buyer and seller must differ: %w", shared.ErrValidation)
	}
	if input.Total.LessThanOrEqual(decimal.Zero) {
		return Invoice{}, fmt.Errorf("invoice: total must be positive: %w", shared.ErrValidation)
	}
	if !input.DueDate.After(input.IssueDate) {
		return Invoice{}, fmt.Errorf("invoice: due date must follow issue date: %w", shared.ErrValidation)
	}
	switch input.Product {
	case ProductSelfDiscounting, ProductEarlyPayment, ProductGSTBacked:
	default:
		return Invoice{}, fmt.Errorf("invoice: unknown product type %q: %w", input.Product, shared.ErrValidation)
	}
	if actor.ID != input.BuyerID && actor.ID != input.SellerID {
		return Invoice{}, fmt.Errorf("invoice: actor %d is not a party: %w", actor.ID, shared.ErrInvalidActor)
	}
	if input.Number == "" {
		input.Number = generateNumber("INV")
	}
	if input.Currency == "" {
		input.Currency = "INR"
	}

	inv := Invoice{
		Number:    input.Number,
		SellerID:  input.SellerID,
		BuyerID:   input.BuyerID,
		Currency:  input.Currency,
		Total:     input.Total.Round(2),
		Product:   input.Product,
		Status:    StatusDraft,
		IssueDate: input.IssueDate,
		DueDate:   input.DueDate,
		Version:   1,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actor, "INVOICE_CREATE", inv.ID, map[string]any{"number": inv.Number, "total": inv.Total.StringFixed(2)})
	return inv, nil
}

// Submit moves a DRAFT invoice into the flow. Negotiated products require a
// PENDING discount offer and land in PENDING_ACCEPTANCE; GST-backed invoices
// open for bidding directly.
func (s *Service) Submit(ctx context.Context, invoiceID int64, actor shared.Actor) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if !inv.Party(actor.ID) {
		return Invoice{}, fmt.Errorf("invoice: actor %d is not a party: %w", actor.ID, shared.ErrInvalidActor)
	}
	if inv.Status != StatusDraft {
		return Invoice{}, fmt.Errorf("invoice %d: submit from %s: %w", inv.ID, inv.Status, shared.ErrInvalidTransition)
	}

	target := StatusPendingAcceptance
	if inv.Product == ProductGSTBacked {
		target = StatusOpenForBidding
	} else {
		pending, err := s.repo.HasPendingOffer(ctx, inv.ID)
		if err != nil {
			return Invoice{}, err
		}
		if !pending {
			return Invoice{}, fmt.Errorf("invoice %d: submit requires a pending discount offer: %w", inv.ID, shared.ErrValidation)
		}
	}
	if err := Guard(inv, target); err != nil {
		return Invoice{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateInvoiceStatus(ctx, inv.ID, target, inv.Version)
	})
	if err != nil {
		return Invoice{}, err
	}
	inv.Status = target
	inv.Version++
	s.recordAudit(ctx, actor, "INVOICE_SUBMIT", inv.ID, map[string]any{"status": string(target)})
	return inv, nil
}

// Cancel abandons an invoice before disbursement. Any pending offer is
// cancelled and any active bids are rejected in the same transaction.
func (s *Service) Cancel(ctx context.Context, invoiceID int64, actor shared.Actor) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if !inv.Party(actor.ID) {
		return Invoice{}, fmt.Errorf("invoice: actor %d is not a party: %w", actor.ID, shared.ErrInvalidActor)
	}
	if err := Guard(inv, StatusCancelled); err != nil {
		return Invoice{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, StatusCancelled, inv.Version); err != nil {
			return err
		}
		if err := tx.CancelPendingOffer(ctx, inv.ID); err != nil {
			return err
		}
		return tx.RejectActiveBids(ctx, inv.ID)
	})
	if err != nil {
		return Invoice{}, err
	}
	from := inv.Status
	inv.Status = StatusCancelled
	inv.Version++
	s.recordAudit(ctx, actor, "INVOICE_CANCEL", inv.ID, map[string]any{"from": string(from)})
	return inv, nil
}

// Get returns a single invoice.
func (s *Service) Get(ctx context.Context, invoiceID int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, invoiceID)
}

// List returns invoices matching the filters plus the unpaged total.
func (s *Service) List(ctx context.Context, limit, offset int, filters ListFilters) ([]Invoice, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListInvoices(ctx, limit, offset, filters)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "invoice", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8]))
}
