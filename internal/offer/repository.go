package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/platform/db"
	"github.com/credinvoice/credinvoice/internal/shared"
)

// Repository provides PostgreSQL backed persistence for discount offers.
type Repository struct {
	pool     *pgxpool.Pool
	invoices *invoice.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, invoices: invoice.NewRepository(pool)}
}

// TxRepository exposes transactional operations. Offer writes and the invoice
// transition they imply always share one transaction.
type TxRepository interface {
	CreateOffer(ctx context.Context, o DiscountOffer) (int64, error)
	UpdateOfferStatus(ctx context.Context, id int64, to Status, reason string, version int64) error
	SetFundingType(ctx context.Context, id int64, ft FundingType, version int64) error
	UpdateInvoiceStatus(ctx context.Context, invoiceID int64, to invoice.Status, version int64) error
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

const offerColumns = `id, invoice_id, percent::text, discount_amount::text, net_amount::text,
	early_payment_date, expires_at, status, COALESCE(funding_type, ''), COALESCE(reject_reason, ''),
	version, created_at, updated_at`

func scanOffer(row pgx.Row) (DiscountOffer, error) {
	var o DiscountOffer
	var percent, discount, net string
	if err := row.Scan(&o.ID, &o.InvoiceID, &percent, &discount, &net,
		&o.EarlyPaymentDate, &o.ExpiresAt, &o.Status, &o.FundingType, &o.RejectReason,
		&o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DiscountOffer{}, fmt.Errorf("offer: %w", shared.ErrNotFound)
		}
		return DiscountOffer{}, err
	}
	var err error
	if o.Percent, err = decimal.NewFromString(percent); err != nil {
		return DiscountOffer{}, err
	}
	if o.DiscountAmount, err = decimal.NewFromString(discount); err != nil {
		return DiscountOffer{}, err
	}
	if o.NetAmount, err = decimal.NewFromString(net); err != nil {
		return DiscountOffer{}, err
	}
	return o, nil
}

// GetOffer fetches an offer by ID.
func (r *Repository) GetOffer(ctx context.Context, id int64) (DiscountOffer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM discount_offers WHERE id = $1`, id)
	return scanOffer(row)
}

// GetPendingOffer returns the invoice's PENDING offer, if any.
func (r *Repository) GetPendingOffer(ctx context.Context, invoiceID int64) (DiscountOffer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM discount_offers WHERE invoice_id = $1 AND status = 'PENDING' ORDER BY created_at DESC LIMIT 1`,
		invoiceID)
	return scanOffer(row)
}

// GetInvoice fetches the owning invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error) {
	return r.invoices.GetInvoice(ctx, id)
}

// ListExpired returns PENDING offers whose expiry passed before now.
func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]DiscountOffer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+offerColumns+` FROM discount_offers WHERE status = 'PENDING' AND expires_at < $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []DiscountOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (tx *txRepo) CreateOffer(ctx context.Context, o DiscountOffer) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO discount_offers (invoice_id, percent, discount_amount, net_amount, early_payment_date, expires_at, status, version, created_at, updated_at)
		 VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5, $6, $7, 1, NOW(), NOW()) RETURNING id`,
		o.InvoiceID, o.Percent.String(), o.DiscountAmount.StringFixed(2), o.NetAmount.StringFixed(2),
		o.EarlyPaymentDate, o.ExpiresAt, string(o.Status)).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateOfferStatus(ctx context.Context, id int64, to Status, reason string, version int64) error {
	tag, err := tx.tx.Exec(ctx,
		`UPDATE discount_offers SET status = $1, reject_reason = NULLIF($2, ''), version = version + 1, updated_at = NOW()
		 WHERE id = $3 AND version = $4`,
		string(to), reason, id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("offer %d: %w", id, shared.ErrConcurrentModification)
	}
	return nil
}

func (tx *txRepo) SetFundingType(ctx context.Context, id int64, ft FundingType, version int64) error {
	tag, err := tx.tx.Exec(ctx,
		`UPDATE discount_offers SET funding_type = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3 AND funding_type IS NULL`,
		string(ft), id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("offer %d: %w", id, shared.ErrConcurrentModification)
	}
	return nil
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
