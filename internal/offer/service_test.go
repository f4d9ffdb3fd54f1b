package offer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/shared"
)

type memoryOfferRepo struct {
	offers          map[int64]DiscountOffer
	invoices        map[int64]invoice.Invoice
	conflictOnOffer int64
	nextID          int64
}

type memoryOfferTx struct {
	repo *memoryOfferRepo
}

func newMemoryOfferRepo() *memoryOfferRepo {
	return &memoryOfferRepo{
		offers:   make(map[int64]DiscountOffer),
		invoices: make(map[int64]invoice.Invoice),
	}
}

func (r *memoryOfferRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryOfferTx{repo: r})
}

func (r *memoryOfferRepo) GetOffer(ctx context.Context, id int64) (DiscountOffer, error) {
	o, ok := r.offers[id]
	if !ok {
		return DiscountOffer{}, fmt.Errorf("offer: %w", shared.ErrNotFound)
	}
	return o, nil
}

func (r *memoryOfferRepo) GetPendingOffer(ctx context.Context, invoiceID int64) (DiscountOffer, error) {
	for _, o := range r.offers {
		if o.InvoiceID == invoiceID && o.Status == StatusPending {
			return o, nil
		}
	}
	return DiscountOffer{}, fmt.Errorf("offer: %w", shared.ErrNotFound)
}

func (r *memoryOfferRepo) GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return invoice.Invoice{}, fmt.Errorf("invoice: %w", shared.ErrNotFound)
	}
	return inv, nil
}

func (r *memoryOfferRepo) ListExpired(ctx context.Context, now time.Time) ([]DiscountOffer, error) {
	var out []DiscountOffer
	for _, o := range r.offers {
		if o.Status == StatusPending && o.ExpiresAt.Before(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (tx *memoryOfferTx) CreateOffer(ctx context.Context, o DiscountOffer) (int64, error) {
	tx.repo.nextID++
	o.ID = tx.repo.nextID
	tx.repo.offers[o.ID] = o
	return o.ID, nil
}

func (tx *memoryOfferTx) UpdateOfferStatus(ctx context.Context, id int64, to Status, reason string, version int64) error {
	if tx.repo.conflictOnOffer == id {
		return fmt.Errorf("offer %d: %w", id, shared.ErrConcurrentModification)
	}
	o, ok := tx.repo.offers[id]
	if !ok || o.Version != version {
		return fmt.Errorf("offer %d: %w", id, shared.ErrConcurrentModification)
	}
	o.Status = to
	if reason != "" {
		o.RejectReason = reason
	}
	o.Version++
	tx.repo.offers[id] = o
	return nil
}

func (tx *memoryOfferTx) SetFundingType(ctx context.Context, id int64, ft FundingType, version int64) error {
	o, ok := tx.repo.offers[id]
	if !ok || o.Version != version || o.FundingType != "" {
		return fmt.Errorf("offer %d: %w", id, shared.ErrConcurrentModification)
	}
	o.FundingType = ft
	o.Version++
	tx.repo.offers[id] = o
	return nil
}

func (tx *memoryOfferTx) UpdateInvoiceStatus(ctx context.Context, invoiceID int64, to invoice.Status, version int64) error {
	inv, ok := tx.repo.invoices[invoiceID]
	if !ok || inv.Version != version {
		return fmt.Errorf("invoice %d: %w", invoiceID, shared.ErrConcurrentModification)
	}
	inv.Status = to
	inv.Version++
	tx.repo.invoices[invoiceID] = inv
	return nil
}

type captureAudit struct {
	actions []string
}

func (c *captureAudit) Record(ctx context.Context, log shared.AuditLog) error {
	c.actions = append(c.actions, log.Action)
	return nil
}

const (
	buyerID  = int64(200)
	sellerID = int64(100)
)

var (
	buyer  = shared.Actor{ID: buyerID, Role: shared.RoleBuyer}
	seller = shared.Actor{ID: sellerID, Role: shared.RoleSeller}
)

func seedInvoice(repo *memoryOfferRepo, status invoice.Status) invoice.Invoice {
	inv := invoice.Invoice{
		ID:       1,
		SellerID: sellerID,
		BuyerID:  buyerID,
		Total:    decimal.NewFromInt(289100),
		Product:  invoice.ProductSelfDiscounting,
		Status:   status,
		DueDate:  time.Now().AddDate(0, 2, 0),
		Version:  1,
	}
	repo.invoices[inv.ID] = inv
	return inv
}

func validOfferInput(invoiceID int64) CreateInput {
	return CreateInput{
		InvoiceID:        invoiceID,
		Percent:          decimal.NewFromInt(2),
		EarlyPaymentDate: time.Now().AddDate(0, 0, 14),
		ExpiresAt:        time.Now().Add(24 * time.Hour),
	}
}

func TestCreateOffer(t *testing.T) {
	repo := newMemoryOfferRepo()
	svc := NewService(repo, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDraft)

	o, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
	require.NoError(t, err)
	require.Equal(t, StatusPending, o.Status)
	require.Equal(t, "5782.00", o.DiscountAmount.StringFixed(2))
	require.Equal(t, "283318.00", o.NetAmount.StringFixed(2))
	require.Equal(t, invoice.StatusPendingAcceptance, repo.invoices[inv.ID].Status)
}

func TestCreateOfferGuards(t *testing.T) {
	t.Run("seller cannot create", func(t *testing.T) {
		repo := newMemoryOfferRepo()
		svc := NewService(repo, nil, nil)
		inv := seedInvoice(repo, invoice.StatusDraft)
		_, err := svc.Create(context.Background(), validOfferInput(inv.ID), seller)
		require.ErrorIs(t, err, shared.ErrInvalidActor)
	})

	t.Run("gst invoices skip negotiation", func(t *testing.T) {
		repo := newMemoryOfferRepo()
		svc := NewService(repo, nil, nil)
		inv := seedInvoice(repo, invoice.StatusDraft)
		inv.Product = invoice.ProductGSTBacked
		repo.invoices[inv.ID] = inv
		_, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("percent over cap", func(t *testing.T) {
		repo := newMemoryOfferRepo()
		svc := NewService(repo, nil, nil)
		inv := seedInvoice(repo, invoice.StatusDraft)
		in := validOfferInput(inv.ID)
		in.Percent = decimal.NewFromInt(51)
		_, err := svc.Create(context.Background(), in, buyer)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("early date past due date", func(t *testing.T) {
		repo := newMemoryOfferRepo()
		svc := NewService(repo, nil, nil)
		inv := seedInvoice(repo, invoice.StatusDraft)
		in := validOfferInput(inv.ID)
		in.EarlyPaymentDate = inv.DueDate.AddDate(0, 0, 5)
		_, err := svc.Create(context.Background(), in, buyer)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("second pending offer refused", func(t *testing.T) {
		repo := newMemoryOfferRepo()
		svc := NewService(repo, nil, nil)
		inv := seedInvoice(repo, invoice.StatusDraft)
		_, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
		require.NoError(t, err)
		_, err = svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("default expiry applied", func(t *testing.T) {
		repo := newMemoryOfferRepo()
		svc := NewService(repo, nil, nil)
		inv := seedInvoice(repo, invoice.StatusDraft)
		in := validOfferInput(inv.ID)
		in.ExpiresAt = time.Time{}
		o, err := svc.Create(context.Background(), in, buyer)
		require.NoError(t, err)
		require.WithinDuration(t, time.Now().Add(DefaultExpiry), o.ExpiresAt, time.Minute)
	})
}

func TestBulkCreateIsolatesFailures(t *testing.T) {
	repo := newMemoryOfferRepo()
	svc := NewService(repo, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDraft)
	settled := invoice.Invoice{ID: 2, SellerID: sellerID, BuyerID: buyerID,
		Total: decimal.NewFromInt(1000), Status: invoice.StatusSettled,
		DueDate: time.Now().AddDate(0, 2, 0), Version: 1}
	repo.invoices[settled.ID] = settled

	results := svc.BulkCreate(context.Background(), []int64{inv.ID, settled.ID, 404}, BulkTemplate{
		Percent:          decimal.NewFromInt(2),
		EarlyPaymentDate: time.Now().AddDate(0, 0, 14),
	}, buyer)
	require.Len(t, results, 3)
	require.NotZero(t, results[0].OfferID)
	require.Empty(t, results[0].Err)
	require.NotEmpty(t, results[1].Err)
	require.NotEmpty(t, results[2].Err)
	// One failed invoice never blocks the others.
	require.Equal(t, invoice.StatusPendingAcceptance, repo.invoices[inv.ID].Status)
}

func TestAcceptOffer(t *testing.T) {
	repo := newMemoryOfferRepo()
	svc := NewService(repo, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDraft)
	o, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
	require.NoError(t, err)

	t.Run("buyer cannot accept", func(t *testing.T) {
		_, err := svc.Accept(context.Background(), o.ID, buyer)
		require.ErrorIs(t, err, shared.ErrInvalidActor)
	})

	t.Run("seller accepts", func(t *testing.T) {
		got, err := svc.Accept(context.Background(), o.ID, seller)
		require.NoError(t, err)
		require.Equal(t, StatusAccepted, got.Status)
		require.Equal(t, invoice.StatusAccepted, repo.invoices[inv.ID].Status)
	})

	t.Run("accept twice fails", func(t *testing.T) {
		_, err := svc.Accept(context.Background(), o.ID, seller)
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	})
}

func TestAcceptExpiredOfferAtPointOfUse(t *testing.T) {
	repo := newMemoryOfferRepo()
	svc := NewService(repo, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDraft)
	o, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
	require.NoError(t, err)

	// Lapse the offer without running the sweep.
	stored := repo.offers[o.ID]
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	repo.offers[o.ID] = stored

	_, err = svc.Accept(context.Background(), o.ID, seller)
	require.ErrorIs(t, err, shared.ErrOfferExpired)
}

func TestAcceptRaceLeavesSingleAcceptance(t *testing.T) {
	repo := newMemoryOfferRepo()
	svc := NewService(repo, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDraft)
	o, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
	require.NoError(t, err)

	// Two clients accept at once. The loser's version-guarded write fails
	// and nothing it touched sticks.
	repo.conflictOnOffer = o.ID
	_, err = svc.Accept(context.Background(), o.ID, seller)
	require.ErrorIs(t, err, shared.ErrConcurrentModification)
	require.Equal(t, StatusPending, repo.offers[o.ID].Status)

	repo.conflictOnOffer = 0
	won, err := svc.Accept(context.Background(), o.ID, seller)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, won.Status)

	// The loser's retry then fails the state guard, not the version guard.
	_, err = svc.Accept(context.Background(), o.ID, seller)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	accepted := 0
	for _, stored := range repo.offers {
		if stored.Status == StatusAccepted {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, invoice.StatusAccepted, repo.invoices[inv.ID].Status)
}

func TestRejectOffer(t *testing.T) {
	repo := newMemoryOfferRepo()
	svc := NewService(repo, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDraft)
	o, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
	require.NoError(t, err)

	t.Run("reason too short", func(t *testing.T) {
		_, err := svc.Reject(context.Background(), o.ID, "too short", seller)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("padded reason still too short", func(t *testing.T) {
		_, err := svc.Reject(context.Background(), o.ID, "   niner     ", seller)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("rejects with reason", func(t *testing.T) {
		got, err := svc.Reject(context.Background(), o.ID, "rate is far too aggressive", seller)
		require.NoError(t, err)
		require.Equal(t, StatusRejected, got.Status)
		require.Equal(t, invoice.StatusRejected, repo.invoices[inv.ID].Status)
	})
}

func TestSelectFundingType(t *testing.T) {
	setup := func(t *testing.T) (*memoryOfferRepo, *Service, DiscountOffer) {
		repo := newMemoryOfferRepo()
		svc := NewService(repo, nil, nil)
		inv := seedInvoice(repo, invoice.StatusDraft)
		o, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
		require.NoError(t, err)
		o, err = svc.Accept(context.Background(), o.ID, seller)
		require.NoError(t, err)
		return repo, svc, o
	}

	t.Run("self funded keeps invoice accepted", func(t *testing.T) {
		repo, svc, o := setup(t)
		got, err := svc.SelectFundingType(context.Background(), o.ID, FundingSelf, buyer)
		require.NoError(t, err)
		require.Equal(t, FundingSelf, got.FundingType)
		require.Equal(t, invoice.StatusAccepted, repo.invoices[1].Status)
	})

	t.Run("financier funded opens bidding", func(t *testing.T) {
		repo, svc, o := setup(t)
		got, err := svc.SelectFundingType(context.Background(), o.ID, FundingFinancier, buyer)
		require.NoError(t, err)
		require.Equal(t, FundingFinancier, got.FundingType)
		require.Equal(t, invoice.StatusOpenForBidding, repo.invoices[1].Status)
	})

	t.Run("funding type immutable once set", func(t *testing.T) {
		_, svc, o := setup(t)
		_, err := svc.SelectFundingType(context.Background(), o.ID, FundingSelf, buyer)
		require.NoError(t, err)
		_, err = svc.SelectFundingType(context.Background(), o.ID, FundingFinancier, buyer)
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	})

	t.Run("seller cannot choose", func(t *testing.T) {
		_, svc, o := setup(t)
		_, err := svc.SelectFundingType(context.Background(), o.ID, FundingSelf, seller)
		require.ErrorIs(t, err, shared.ErrInvalidActor)
	})
}

func TestExpireSweep(t *testing.T) {
	repo := newMemoryOfferRepo()
	audit := &captureAudit{}
	svc := NewService(repo, audit, nil)
	inv := seedInvoice(repo, invoice.StatusDraft)
	o, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
	require.NoError(t, err)

	// Not yet lapsed: nothing happens.
	n, err := svc.ExpireSweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)

	after := repo.offers[o.ID].ExpiresAt.Add(time.Minute)
	n, err = svc.ExpireSweep(context.Background(), after)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, StatusExpired, repo.offers[o.ID].Status)
	// Offer expiry is terminal for the invoice.
	require.Equal(t, invoice.StatusExpired, repo.invoices[inv.ID].Status)
	// Swept transitions leave an audit trail like user actions do.
	require.Contains(t, audit.actions, "OFFER_EXPIRE")

	// Sweep is idempotent.
	n, err = svc.ExpireSweep(context.Background(), after)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestExpireSweepSkipsConcurrentlyChangedOffer(t *testing.T) {
	repo := newMemoryOfferRepo()
	svc := NewService(repo, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDraft)
	o, err := svc.Create(context.Background(), validOfferInput(inv.ID), buyer)
	require.NoError(t, err)

	stored := repo.offers[o.ID]
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	repo.offers[o.ID] = stored

	// Simulate a user action racing the sweep: the version-guarded write
	// loses and the row is skipped without failing the sweep.
	repo.conflictOnOffer = o.ID
	n, err := svc.ExpireSweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, StatusPending, repo.offers[o.ID].Status)
}
