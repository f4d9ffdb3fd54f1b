package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/funding"
	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/offer"
	"github.com/credinvoice/credinvoice/internal/platform/db"
	"github.com/credinvoice/credinvoice/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the marketplace.
type Repository struct {
	pool     *pgxpool.Pool
	invoices *invoice.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, invoices: invoice.NewRepository(pool)}
}

// TxRepository exposes transactional operations. Selecting a bid touches the
// bid, its siblings, the invoice, the disbursement and the repayment in one
// transaction.
type TxRepository interface {
	CreateBid(ctx context.Context, b Bid) (int64, error)
	UpdateBidStatus(ctx context.Context, id int64, to Status, version int64) error
	RejectActiveBids(ctx context.Context, invoiceID, exceptID int64) error
	UpdateInvoiceStatus(ctx context.Context, invoiceID int64, to invoice.Status, version int64) error
	InsertDisbursement(ctx context.Context, d funding.Disbursement) (int64, error)
	InsertRepayment(ctx context.Context, rp funding.Repayment) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const bidColumns = `id, invoice_id, financier_id, discount_rate::text, processing_fee_rate::text,
	net_amount::text, valid_until, status, version, created_at, updated_at`

func scanBid(row pgx.Row) (Bid, error) {
	var b Bid
	var rate, fee, net string
	if err := row.Scan(&b.ID, &b.InvoiceID, &b.FinancierID, &rate, &fee, &net,
		&b.ValidUntil, &b.Status, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, fmt.Errorf("bid: %w", shared.ErrNotFound)
		}
		return Bid{}, err
	}
	var err error
	if b.DiscountRate, err = decimal.NewFromString(rate); err != nil {
		return Bid{}, err
	}
	if b.ProcessingFeeRate, err = decimal.NewFromString(fee); err != nil {
		return Bid{}, err
	}
	if b.NetAmount, err = decimal.NewFromString(net); err != nil {
		return Bid{}, err
	}
	return b, nil
}

// GetBid fetches a bid by ID.
func (r *Repository) GetBid(ctx context.Context, id int64) (Bid, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	return scanBid(row)
}

// GetInvoice fetches the owning invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error) {
	return r.invoices.GetInvoice(ctx, id)
}

// GetAcceptedOfferFunding returns the funding type chosen on the invoice's
// accepted offer, empty when none is set.
func (r *Repository) GetAcceptedOfferFunding(ctx context.Context, invoiceID int64) (offer.FundingType, error) {
	var ft string
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(funding_type, '') FROM discount_offers WHERE invoice_id = $1 AND status = 'ACCEPTED' ORDER BY updated_at DESC LIMIT 1`,
		invoiceID).Scan(&ft)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return offer.FundingType(ft), nil
}

// GetActiveBidByFinancier returns the financier's ACTIVE bid on an invoice.
func (r *Repository) GetActiveBidByFinancier(ctx context.Context, invoiceID, financierID int64) (Bid, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE invoice_id = $1 AND financier_id = $2 AND status = 'ACTIVE'`,
		invoiceID, financierID)
	return scanBid(row)
}

// ListBids returns all bids on an invoice, lowest discount rate first, ties
// broken by earliest submission.
func (r *Repository) ListBids(ctx context.Context, invoiceID int64) ([]Bid, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE invoice_id = $1 ORDER BY discount_rate ASC, created_at ASC`,
		invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// ListExpired returns ACTIVE bids whose validity window passed before now.
func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]Bid, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE status = 'ACTIVE' AND valid_until < $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// ListOpenPastWindow returns invoices whose bidding window elapsed.
func (r *Repository) ListOpenPastWindow(ctx context.Context, cutoff time.Time) ([]invoice.Invoice, error) {
	return r.invoices.ListOpenPastWindow(ctx, cutoff)
}

func (tx *txRepo) CreateBid(ctx context.Context, b Bid) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO bids (invoice_id, financier_id, discount_rate, processing_fee_rate, net_amount, valid_until, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, 1, NOW(), NOW()) RETURNING id`,
		b.InvoiceID, b.FinancierID, b.DiscountRate.String(), b.ProcessingFeeRate.String(),
		b.NetAmount.StringFixed(2), b.ValidUntil, string(b.Status)).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateBidStatus(ctx context.Context, id int64, to Status, version int64) error {
	tag, err := tx.tx.Exec(ctx,
		`UPDATE bids SET status = $1, version = version + 1, updated_at = NOW() WHERE id = $2 AND version = $3`,
		string(to), id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bid %d: %w", id, shared.ErrConcurrentModification)
	}
	return nil
}

func (tx *txRepo) RejectActiveBids(ctx context.Context, invoiceID, exceptID int64) error {
	_, err := tx.tx.Exec(ctx,
		`UPDATE bids SET status = 'REJECTED', version = version + 1, updated_at = NOW()
		 WHERE invoice_id = $1 AND status = 'ACTIVE' AND id <> $2`,
		invoiceID, exceptID)
	return err
}

func (tx *txRepo) UpdateInvoiceStatus(ctx context.Context, invoiceID int64, to invoice.Status, version int64) error {
	tag, err := tx.tx.Exec(ctx,
		`UPDATE invoices SET status = $1, version = version + 1, updated_at = NOW(),
		        bidding_opened_at = CASE WHEN $1 = 'OPEN_FOR_BIDDING' THEN NOW() ELSE bidding_opened_at END
		 WHERE id = $2 AND version = $3`,
		string(to), invoiceID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d: %w", invoiceID, shared.ErrConcurrentModification)
	}
	return nil
}

func (tx *txRepo) InsertDisbursement(ctx context.Context, d funding.Disbursement) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO disbursements (invoice_id, bid_id, bank_account_id, payer_type, amount, status, version, created_at, updated_at)
		 VALUES ($1, NULLIF($2, 0), NULLIF($3, 0), $4, $5::numeric, $6, 1, NOW(), NOW()) RETURNING id`,
		d.InvoiceID, d.BidID, d.BankAccountID, string(d.PayerType), d.Amount.StringFixed(2), string(d.Status)).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertRepayment(ctx context.Context, rp funding.Repayment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO repayments (disbursement_id, invoice_id, amount, due_date, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3::numeric, $4, $5, 1, NOW(), NOW()) RETURNING id`,
		rp.DisbursementID, rp.InvoiceID, rp.Amount.StringFixed(2), rp.DueDate, string(rp.Status)).Scan(&id)
	return id, err
}
