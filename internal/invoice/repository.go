package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/platform/db"
	"github.com/credinvoice/credinvoice/internal/shared"
)

// Repository provides PostgreSQL backed persistence for invoices.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, to Status, version int64) error
	CancelPendingOffer(ctx context.Context, invoiceID int64) error
	RejectActiveBids(ctx context.Context, invoiceID int64) error
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

const invoiceColumns = `id, number, seller_id, buyer_id, currency, total::text, product, status,
	issue_date, due_date, COALESCE(bidding_opened_at, 'epoch'::timestamptz), version, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var total string
	if err := row.Scan(&inv.ID, &inv.Number, &inv.SellerID, &inv.BuyerID, &inv.Currency, &total,
		&inv.Product, &inv.Status, &inv.IssueDate, &inv.DueDate, &inv.BiddingOpenedAt,
		&inv.Version, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, fmt.Errorf("invoice: %w", shared.ErrNotFound)
		}
		return Invoice{}, err
	}
	dec, err := decimal.NewFromString(total)
	if err != nil {
		return Invoice{}, fmt.Errorf("invoice: parse total: %w", err)
	}
	inv.Total = dec
	if inv.BiddingOpenedAt.Unix() == 0 {
		inv.BiddingOpenedAt = time.Time{}
	}
	return inv, nil
}

// GetInvoice fetches an invoice by ID.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

// GetInvoiceTx fetches an invoice inside an open transaction, for callers
// whose writes depend on the row they just read.
func GetInvoiceTx(ctx context.Context, tx pgx.Tx, id int64) (Invoice, error) {
	row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

// HasPendingOffer reports whether the invoice carries a PENDING discount offer.
func (r *Repository) HasPendingOffer(ctx context.Context, invoiceID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM discount_offers WHERE invoice_id = $1 AND status = 'PENDING')`,
		invoiceID).Scan(&exists)
	return exists, err
}

// ListFilters narrows invoice listings.
type ListFilters struct {
	Status   Status
	BuyerID  int64
	SellerID int64
}

// ListInvoices returns invoices matching the filters, newest first.
func (r *Repository) ListInvoices(ctx context.Context, limit, offset int, filters ListFilters) ([]Invoice, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argNum := 1
	if filters.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, argNum)
		args = append(args, string(filters.Status))
		argNum++
	}
	if filters.BuyerID > 0 {
		where += fmt.Sprintf(` AND buyer_id = $%d`, argNum)
		args = append(args, filters.BuyerID)
		argNum++
	}
	if filters.SellerID > 0 {
		where += fmt.Sprintf(` AND seller_id = $%d`, argNum)
		args = append(args, filters.SellerID)
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// ListOpenPastWindow returns invoices stuck in OPEN_FOR_BIDDING since before
// the cutoff, used by the bid expiry sweep.
func (r *Repository) ListOpenPastWindow(ctx context.Context, cutoff time.Time) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE status = 'OPEN_FOR_BIDDING' AND bidding_opened_at < $1`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (tx *txRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO invoices (number, seller_id, buyer_id, currency, total, product, status, issue_date, due_date, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, 1, NOW(), NOW()) RETURNING id`,
		inv.Number, inv.SellerID, inv.BuyerID, inv.Currency, inv.Total.StringFixed(2),
		string(inv.Product), string(inv.Status), inv.IssueDate, inv.DueDate).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateInvoiceStatus(ctx context.Context, id int64, to Status, version int64) error {
	tag, err := tx.tx.Exec(ctx,
		`UPDATE invoices SET status = $1, version = version + 1, updated_at = NOW(),
		        bidding_opened_at = CASE WHEN $1 = 'OPEN_FOR_BIDDING' THEN NOW() ELSE bidding_opened_at END
		 WHERE id = $2 AND version = $3`,
		string(to), id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d: %w", id, shared.ErrConcurrentModification)
	}
	return nil
}

func (tx *txRepo) CancelPendingOffer(ctx context.Context, invoiceID int64) error {
	_, err := tx.tx.Exec(ctx,
		`UPDATE discount_offers SET status = 'CANCELLED', version = version + 1, updated_at = NOW()
		 WHERE invoice_id = $1 AND status = 'PENDING'`, invoiceID)
	return err
}

func (tx *txRepo) RejectActiveBids(ctx context.Context, invoiceID int64) error {
	_, err := tx.tx.Exec(ctx,
		`UPDATE bids SET status = 'REJECTED', version = version + 1, updated_at = NOW()
		 WHERE invoice_id = $1 AND status = 'ACTIVE'`, invoiceID)
	return err
}
