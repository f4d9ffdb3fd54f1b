package funding

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/offer"
	"github.com/credinvoice/credinvoice/internal/shared"
)

var (
	buyer     = shared.Actor{ID: 200, Role: shared.RoleBuyer}
	financier = shared.Actor{ID: 301, Role: shared.RoleFinancier}
	system    = shared.Actor{ID: 1, Role: shared.RoleSystem}
)

type memoryFundingRepo struct {
	invoices               map[int64]invoice.Invoice
	offers                 map[int64]offer.DiscountOffer
	disbursements          map[int64]Disbursement
	repayments             map[int64]Repayment
	conflictOnDisbursement int64
	conflictOnRepayment    int64
	nextID                 int64
}

type memoryFundingTx struct {
	repo *memoryFundingRepo
}

func newMemoryFundingRepo() *memoryFundingRepo {
	return &memoryFundingRepo{
		invoices:      make(map[int64]invoice.Invoice),
		offers:        make(map[int64]offer.DiscountOffer),
		disbursements: make(map[int64]Disbursement),
		repayments:    make(map[int64]Repayment),
	}
}

func (r *memoryFundingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryFundingTx{repo: r})
}

func (r *memoryFundingRepo) GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return invoice.Invoice{}, fmt.Errorf("invoice: %w", shared.ErrNotFound)
	}
	return inv, nil
}

func (r *memoryFundingRepo) GetOffer(ctx context.Context, id int64) (offer.DiscountOffer, error) {
	o, ok := r.offers[id]
	if !ok {
		return offer.DiscountOffer{}, fmt.Errorf("offer: %w", shared.ErrNotFound)
	}
	return o, nil
}

func (r *memoryFundingRepo) GetDisbursement(ctx context.Context, id int64) (Disbursement, error) {
	d, ok := r.disbursements[id]
	if !ok {
		return Disbursement{}, fmt.Errorf("disbursement: %w", shared.ErrNotFound)
	}
	return d, nil
}

func (r *memoryFundingRepo) GetDisbursementByInvoice(ctx context.Context, invoiceID int64) (Disbursement, error) {
	for _, d := range r.disbursements {
		if d.InvoiceID == invoiceID && d.Status != DisbursementFailed {
			return d, nil
		}
	}
	return Disbursement{}, fmt.Errorf("disbursement: %w", shared.ErrNotFound)
}

func (r *memoryFundingRepo) GetRepayment(ctx context.Context, id int64) (Repayment, error) {
	rp, ok := r.repayments[id]
	if !ok {
		return Repayment{}, fmt.Errorf("repayment: %w", shared.ErrNotFound)
	}
	return rp, nil
}

func (r *memoryFundingRepo) GetRepaymentByDisbursement(ctx context.Context, disbursementID int64) (Repayment, error) {
	for _, rp := range r.repayments {
		if rp.DisbursementID == disbursementID {
			return rp, nil
		}
	}
	return Repayment{}, fmt.Errorf("repayment: %w", shared.ErrNotFound)
}

func (r *memoryFundingRepo) ListOverdue(ctx context.Context, now time.Time) ([]Repayment, error) {
	var out []Repayment
	for _, rp := range r.repayments {
		if rp.Status == RepaymentPending && rp.DueDate.Before(now) {
			out = append(out, rp)
		}
	}
	return out, nil
}

func (tx *memoryFundingTx) GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error) {
	return tx.repo.GetInvoice(ctx, id)
}

func (tx *memoryFundingTx) GetDisbursement(ctx context.Context, id int64) (Disbursement, error) {
	return tx.repo.GetDisbursement(ctx, id)
}

func (tx *memoryFundingTx) GetRepaymentByDisbursement(ctx context.Context, disbursementID int64) (Repayment, error) {
	return tx.repo.GetRepaymentByDisbursement(ctx, disbursementID)
}

func (tx *memoryFundingTx) InsertDisbursement(ctx context.Context, d Disbursement) (int64, error) {
	for _, existing := range tx.repo.disbursements {
		if existing.InvoiceID == d.InvoiceID && existing.Status != DisbursementFailed {
			return 0, fmt.Errorf("invoice %d: %w", d.InvoiceID, shared.ErrDuplicateDisbursement)
		}
	}
	tx.repo.nextID++
	d.ID = tx.repo.nextID
	tx.repo.disbursements[d.ID] = d
	return d.ID, nil
}

func (tx *memoryFundingTx) UpdateDisbursementStatus(ctx context.Context, id int64, to DisbursementStatus, transactionRef string, version int64) error {
	if tx.repo.conflictOnDisbursement == id {
		return fmt.Errorf("disbursement %d: %w", id, shared.ErrConcurrentModification)
	}
	d, ok := tx.repo.disbursements[id]
	if !ok || d.Version != version {
		return fmt.Errorf("disbursement %d: %w", id, shared.ErrConcurrentModification)
	}
	d.Status = to
	if transactionRef != "" {
		d.TransactionRef = transactionRef
	}
	d.Version++
	tx.repo.disbursements[id] = d
	return nil
}

func (tx *memoryFundingTx) InsertRepayment(ctx context.Context, rp Repayment) (int64, error) {
	tx.repo.nextID++
	rp.ID = tx.repo.nextID
	tx.repo.repayments[rp.ID] = rp
	return rp.ID, nil
}

func (tx *memoryFundingTx) UpdateRepaymentStatus(ctx context.Context, id int64, to RepaymentStatus, version int64) error {
	if tx.repo.conflictOnRepayment == id {
		return fmt.Errorf("repayment %d: %w", id, shared.ErrConcurrentModification)
	}
	rp, ok := tx.repo.repayments[id]
	if !ok || rp.Version != version {
		return fmt.Errorf("repayment %d: %w", id, shared.ErrConcurrentModification)
	}
	rp.Status = to
	if to == RepaymentPaid {
		rp.PaidAt = time.Now()
	}
	rp.Version++
	tx.repo.repayments[id] = rp
	return nil
}

func (tx *memoryFundingTx) UpdateInvoiceStatus(ctx context.Context, invoiceID int64, to invoice.Status, version int64) error {
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

type memoryIdem struct {
	keys map[string]bool
}

func newMemoryIdem() *memoryIdem {
	return &memoryIdem{keys: make(map[string]bool)}
}

func (m *memoryIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return fmt.Errorf("key %s: %w", key, shared.ErrIdempotencyConflict)
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdem) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func seedInvoice(r *memoryFundingRepo, status invoice.Status) invoice.Invoice {
	r.nextID++
	inv := invoice.Invoice{
		ID:       r.nextID,
		SellerID: 100,
		BuyerID:  buyer.ID,
		Currency: "INR",
		Total:    decimal.NewFromInt(289100),
		Status:   status,
		DueDate:  time.Now().AddDate(0, 2, 0),
		Version:  1,
	}
	r.invoices[inv.ID] = inv
	return inv
}

func seedAcceptedOffer(r *memoryFundingRepo, invoiceID int64, ft offer.FundingType) offer.DiscountOffer {
	r.nextID++
	o := offer.DiscountOffer{
		ID:          r.nextID,
		InvoiceID:   invoiceID,
		Percent:     decimal.NewFromInt(2),
		NetAmount:   decimal.RequireFromString("283318.00"),
		Status:      offer.StatusAccepted,
		FundingType: ft,
		Version:     2,
	}
	r.offers[o.ID] = o
	return o
}

func seedDisbursement(r *memoryFundingRepo, invoiceID int64, payer PayerType, status DisbursementStatus) Disbursement {
	r.nextID++
	d := Disbursement{
		ID:        r.nextID,
		InvoiceID: invoiceID,
		PayerType: payer,
		Amount:    decimal.RequireFromString("283318.00"),
		Status:    status,
		Version:   1,
	}
	r.disbursements[d.ID] = d
	return d
}

func TestAuthorizePayment(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusAccepted)
	o := seedAcceptedOffer(repo, inv.ID, offer.FundingSelf)

	d, err := svc.AuthorizePayment(context.Background(), o.ID, 42, buyer)
	require.NoError(t, err)
	require.Equal(t, PayerBuyer, d.PayerType)
	require.Equal(t, DisbursementPending, d.Status)
	require.Equal(t, "283318.00", d.Amount.StringFixed(2))
	require.Equal(t, invoice.StatusDisbursed, repo.invoices[inv.ID].Status)
}

func TestAuthorizePaymentGuards(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusAccepted)
	o := seedAcceptedOffer(repo, inv.ID, offer.FundingSelf)

	t.Run("only the buyer", func(t *testing.T) {
		_, err := svc.AuthorizePayment(context.Background(), o.ID, 42, financier)
		require.ErrorIs(t, err, shared.ErrInvalidActor)
	})

	t.Run("bank account required", func(t *testing.T) {
		_, err := svc.AuthorizePayment(context.Background(), o.ID, 0, buyer)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("financier-funded offers pay via bidding", func(t *testing.T) {
		stored := repo.offers[o.ID]
		stored.FundingType = offer.FundingFinancier
		repo.offers[o.ID] = stored
		_, err := svc.AuthorizePayment(context.Background(), o.ID, 42, buyer)
		require.ErrorIs(t, err, shared.ErrValidation)
		stored.FundingType = offer.FundingSelf
		repo.offers[o.ID] = stored
	})

	t.Run("offer must be accepted", func(t *testing.T) {
		stored := repo.offers[o.ID]
		stored.Status = offer.StatusPending
		repo.offers[o.ID] = stored
		_, err := svc.AuthorizePayment(context.Background(), o.ID, 42, buyer)
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
		stored.Status = offer.StatusAccepted
		repo.offers[o.ID] = stored
	})

	t.Run("existing disbursement blocks a second", func(t *testing.T) {
		seedDisbursement(repo, inv.ID, PayerBuyer, DisbursementPending)
		_, err := svc.AuthorizePayment(context.Background(), o.ID, 42, buyer)
		require.ErrorIs(t, err, shared.ErrDuplicateDisbursement)
	})
}

func TestRecordDisbursement(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusAccepted)

	d, err := svc.RecordDisbursement(context.Background(), RecordDisbursementInput{
		InvoiceID: inv.ID,
		PayerType: PayerFinancier,
		Amount:    decimal.RequireFromString("283318.00"),
	}, system)
	require.NoError(t, err)
	require.Equal(t, DisbursementPending, d.Status)
	require.Equal(t, invoice.StatusDisbursed, repo.invoices[inv.ID].Status)
}

func TestRecordDisbursementValidations(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusAccepted)
	valid := RecordDisbursementInput{InvoiceID: inv.ID, PayerType: PayerBuyer, Amount: decimal.NewFromInt(1000)}

	t.Run("unknown payer type", func(t *testing.T) {
		in := valid
		in.PayerType = "ESCROW"
		_, err := svc.RecordDisbursement(context.Background(), in, buyer)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		in := valid
		in.Amount = decimal.Zero
		_, err := svc.RecordDisbursement(context.Background(), in, buyer)
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("outsiders rejected", func(t *testing.T) {
		_, err := svc.RecordDisbursement(context.Background(), valid, shared.Actor{ID: 999, Role: shared.RoleBuyer})
		require.ErrorIs(t, err, shared.ErrInvalidActor)
	})

	t.Run("invoice must allow disbursement", func(t *testing.T) {
		draft := seedInvoice(repo, invoice.StatusDraft)
		in := valid
		in.InvoiceID = draft.ID
		_, err := svc.RecordDisbursement(context.Background(), in, buyer)
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	})
}

func TestMarkCompletedSettlesSelfFunded(t *testing.T) {
	repo := newMemoryFundingRepo()
	idem := newMemoryIdem()
	svc := NewService(repo, nil, idem, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerBuyer, DisbursementPending)

	got, err := svc.MarkCompleted(context.Background(), d.ID, "UTR-001", buyer)
	require.NoError(t, err)
	require.Equal(t, DisbursementCompleted, got.Status)
	require.Equal(t, "UTR-001", got.TransactionRef)
	require.Equal(t, invoice.StatusSettled, repo.invoices[inv.ID].Status)

	// Completing a completed disbursement is a no-op, not an error.
	again, err := svc.MarkCompleted(context.Background(), d.ID, "UTR-001", buyer)
	require.NoError(t, err)
	require.Equal(t, DisbursementCompleted, again.Status)
}

func TestMarkCompletedRequiresTransactionRef(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerBuyer, DisbursementPending)

	_, err := svc.MarkCompleted(context.Background(), d.ID, "   ", buyer)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMarkCompletedWaitsForRepayment(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, newMemoryIdem(), nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerFinancier, DisbursementPending)
	rp, err := svc.RecordRepaymentDue(context.Background(), d.ID, system)
	require.NoError(t, err)

	_, err = svc.MarkCompleted(context.Background(), d.ID, "UTR-002", financier)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusDisbursed, repo.invoices[inv.ID].Status, "unpaid repayment must hold settlement")
	// The settle decision writes the invoice row even when nothing settles,
	// so a racing counterpart decision collides on the version.
	require.Equal(t, int64(2), repo.invoices[inv.ID].Version)

	paid, err := svc.MarkRepaymentPaid(context.Background(), rp.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, RepaymentPaid, paid.Status)
	require.Equal(t, invoice.StatusSettled, repo.invoices[inv.ID].Status)
}

func TestMarkCompletedDeduplicatesByTransactionRef(t *testing.T) {
	repo := newMemoryFundingRepo()
	idem := newMemoryIdem()
	svc := NewService(repo, nil, idem, nil)
	invA := seedInvoice(repo, invoice.StatusDisbursed)
	invB := seedInvoice(repo, invoice.StatusDisbursed)
	dA := seedDisbursement(repo, invA.ID, PayerBuyer, DisbursementPending)
	dB := seedDisbursement(repo, invB.ID, PayerBuyer, DisbursementPending)

	_, err := svc.MarkCompleted(context.Background(), dA.ID, "UTR-DUP", buyer)
	require.NoError(t, err)

	_, err = svc.MarkCompleted(context.Background(), dB.ID, "UTR-DUP", buyer)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, DisbursementPending, repo.disbursements[dB.ID].Status)
}

func TestMarkCompletedReleasesKeyWhenWriteLoses(t *testing.T) {
	repo := newMemoryFundingRepo()
	idem := newMemoryIdem()
	svc := NewService(repo, nil, idem, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerBuyer, DisbursementPending)

	repo.conflictOnDisbursement = d.ID
	_, err := svc.MarkCompleted(context.Background(), d.ID, "UTR-003", buyer)
	require.ErrorIs(t, err, shared.ErrConcurrentModification)

	// A lost write must not leave the reference burned.
	require.False(t, idem.keys["DISB:UTR-003"])

	repo.conflictOnDisbursement = 0
	got, err := svc.MarkCompleted(context.Background(), d.ID, "UTR-003", buyer)
	require.NoError(t, err)
	require.Equal(t, DisbursementCompleted, got.Status)
}

func seedPaidRepayment(r *memoryFundingRepo, invoiceID, disbursementID int64, amount decimal.Decimal) Repayment {
	r.nextID++
	rp := Repayment{
		ID:             r.nextID,
		DisbursementID: disbursementID,
		InvoiceID:      invoiceID,
		Amount:         amount,
		DueDate:        time.Now().AddDate(0, 2, 0),
		Status:         RepaymentPaid,
		PaidAt:         time.Now(),
		Version:        2,
	}
	r.repayments[rp.ID] = rp
	return rp
}

func TestMarkCompletedReplayHealsMissedSettlement(t *testing.T) {
	// Both money movements finished but neither writer saw the other's row,
	// leaving the invoice in DISBURSED. A replayed confirmation settles it.
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, newMemoryIdem(), nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerFinancier, DisbursementCompleted)
	seedPaidRepayment(repo, inv.ID, d.ID, inv.Total)

	got, err := svc.MarkCompleted(context.Background(), d.ID, "UTR-REPLAY", financier)
	require.NoError(t, err)
	require.Equal(t, DisbursementCompleted, got.Status)
	require.Equal(t, invoice.StatusSettled, repo.invoices[inv.ID].Status)
}

func TestMarkRepaymentPaidReplayHealsMissedSettlement(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerFinancier, DisbursementCompleted)
	rp := seedPaidRepayment(repo, inv.ID, d.ID, inv.Total)

	got, err := svc.MarkRepaymentPaid(context.Background(), rp.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, RepaymentPaid, got.Status)
	require.Equal(t, invoice.StatusSettled, repo.invoices[inv.ID].Status)
}

func TestMarkFailed(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerBuyer, DisbursementPending)

	got, err := svc.MarkFailed(context.Background(), d.ID, system)
	require.NoError(t, err)
	require.Equal(t, DisbursementFailed, got.Status)

	// A failed disbursement frees the invoice slot.
	_, err = repo.GetDisbursementByInvoice(context.Background(), inv.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.MarkFailed(context.Background(), d.ID, system)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestRecordRepaymentDue(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerFinancier, DisbursementPending)

	rp, err := svc.RecordRepaymentDue(context.Background(), d.ID, system)
	require.NoError(t, err)
	require.Equal(t, RepaymentPending, rp.Status)
	require.True(t, rp.Amount.Equal(inv.Total), "repayment is face value, not the discounted amount")
	require.Equal(t, inv.DueDate, rp.DueDate)

	_, err = svc.RecordRepaymentDue(context.Background(), d.ID, system)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordRepaymentDueRejectsSelfFunded(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerBuyer, DisbursementPending)

	_, err := svc.RecordRepaymentDue(context.Background(), d.ID, system)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMarkRepaymentPaidFromOverdue(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerFinancier, DisbursementCompleted)
	repo.nextID++
	rp := Repayment{
		ID:             repo.nextID,
		DisbursementID: d.ID,
		InvoiceID:      inv.ID,
		Amount:         inv.Total,
		DueDate:        time.Now().AddDate(0, 0, -3),
		Status:         RepaymentOverdue,
		Version:        2,
	}
	repo.repayments[rp.ID] = rp

	paid, err := svc.MarkRepaymentPaid(context.Background(), rp.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, RepaymentPaid, paid.Status)
	require.False(t, repo.repayments[rp.ID].PaidAt.IsZero())
	require.Equal(t, invoice.StatusSettled, repo.invoices[inv.ID].Status)

	// Paying again is a no-op.
	again, err := svc.MarkRepaymentPaid(context.Background(), rp.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, RepaymentPaid, again.Status)
}

func TestOverdueSweep(t *testing.T) {
	repo := newMemoryFundingRepo()
	audit := &captureAudit{}
	svc := NewService(repo, audit, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerFinancier, DisbursementCompleted)

	rp, err := svc.RecordRepaymentDue(context.Background(), d.ID, system)
	require.NoError(t, err)

	// Not yet due.
	n, err := svc.OverdueSweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)

	stored := repo.repayments[rp.ID]
	stored.DueDate = time.Now().AddDate(0, 0, -1)
	repo.repayments[rp.ID] = stored

	n, err = svc.OverdueSweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, RepaymentOverdue, repo.repayments[rp.ID].Status)
	require.Contains(t, audit.actions, "REPAYMENT_OVERDUE")

	// Running twice is a no-op.
	n, err = svc.OverdueSweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestOverdueSweepSkipsConcurrentlyPaidRepayment(t *testing.T) {
	repo := newMemoryFundingRepo()
	svc := NewService(repo, nil, nil, nil)
	inv := seedInvoice(repo, invoice.StatusDisbursed)
	d := seedDisbursement(repo, inv.ID, PayerFinancier, DisbursementCompleted)
	rp, err := svc.RecordRepaymentDue(context.Background(), d.ID, system)
	require.NoError(t, err)

	stored := repo.repayments[rp.ID]
	stored.DueDate = time.Now().AddDate(0, 0, -1)
	repo.repayments[rp.ID] = stored

	repo.conflictOnRepayment = rp.ID
	n, err := svc.OverdueSweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, RepaymentPending, repo.repayments[rp.ID].Status)
}
