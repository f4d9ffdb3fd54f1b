package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/offer"
	"github.com/credinvoice/credinvoice/internal/platform/db"
	"github.com/credinvoice/credinvoice/internal/shared"
)

// Repository provides PostgreSQL backed persistence for disbursements and
// repayments.
type Repository struct {
	pool     *pgxpool.Pool
	invoices *invoice.Repository
	offers   *offer.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, invoices: invoice.NewRepository(pool), offers: offer.NewRepository(pool)}
}

// TxRepository exposes transactional operations. Settlement decisions read
// the invoice, disbursement and repayment through the transaction, never from
// rows fetched before it opened.
type TxRepository interface {
	GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error)
	GetDisbursement(ctx context.Context, id int64) (Disbursement, error)
	GetRepaymentByDisbursement(ctx context.Context, disbursementID int64) (Repayment, error)
	InsertDisbursement(ctx context.Context, d Disbursement) (int64, error)
	UpdateDisbursementStatus(ctx context.Context, id int64, to DisbursementStatus, transactionRef string, version int64) error
	InsertRepayment(ctx context.Context, rp Repayment) (int64, error)
	UpdateRepaymentStatus(ctx context.Context, id int64, to RepaymentStatus, version int64) error
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

const disbursementColumns = `id, invoice_id, COALESCE(bid_id, 0), COALESCE(bank_account_id, 0), payer_type,
	amount::text, status, COALESCE(transaction_ref, ''), version, created_at, updated_at`

func scanDisbursement(row pgx.Row) (Disbursement, error) {
	var d Disbursement
	var amount string
	if err := row.Scan(&d.ID, &d.InvoiceID, &d.BidID, &d.BankAccountID, &d.PayerType,
		&amount, &d.Status, &d.TransactionRef, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Disbursement{}, fmt.Errorf("disbursement: %w", shared.ErrNotFound)
		}
		return Disbursement{}, err
	}
	var err error
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return Disbursement{}, err
	}
	return d, nil
}

const repaymentColumns = `id, disbursement_id, invoice_id, amount::text, due_date, status,
	COALESCE(paid_at, 'epoch'::timestamptz), version, created_at, updated_at`

func scanRepayment(row pgx.Row) (Repayment, error) {
	var rp Repayment
	var amount string
	if err := row.Scan(&rp.ID, &rp.DisbursementID, &rp.InvoiceID, &amount, &rp.DueDate, &rp.Status,
		&rp.PaidAt, &rp.Version, &rp.CreatedAt, &rp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Repayment{}, fmt.Errorf("repayment: %w", shared.ErrNotFound)
		}
		return Repayment{}, err
	}
	var err error
	if rp.Amount, err = decimal.NewFromString(amount); err != nil {
		return Repayment{}, err
	}
	if rp.PaidAt.Unix() == 0 {
		rp.PaidAt = time.Time{}
	}
	return rp, nil
}

// GetInvoice fetches the owning invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error) {
	return r.invoices.GetInvoice(ctx, id)
}

// GetOffer fetches an offer, used by payment authorization.
func (r *Repository) GetOffer(ctx context.Context, id int64) (offer.DiscountOffer, error) {
	return r.offers.GetOffer(ctx, id)
}

// GetDisbursement fetches a disbursement by ID.
func (r *Repository) GetDisbursement(ctx context.Context, id int64) (Disbursement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+disbursementColumns+` FROM disbursements WHERE id = $1`, id)
	return scanDisbursement(row)
}

// GetDisbursementByInvoice returns the invoice's non-failed disbursement.
func (r *Repository) GetDisbursementByInvoice(ctx context.Context, invoiceID int64) (Disbursement, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+disbursementColumns+` FROM disbursements WHERE invoice_id = $1 AND status <> 'FAILED' LIMIT 1`,
		invoiceID)
	return scanDisbursement(row)
}

// GetRepayment fetches a repayment by ID.
func (r *Repository) GetRepayment(ctx context.Context, id int64) (Repayment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+repaymentColumns+` FROM repayments WHERE id = $1`, id)
	return scanRepayment(row)
}

// GetRepaymentByDisbursement returns the repayment tied to a disbursement.
func (r *Repository) GetRepaymentByDisbursement(ctx context.Context, disbursementID int64) (Repayment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+repaymentColumns+` FROM repayments WHERE disbursement_id = $1`, disbursementID)
	return scanRepayment(row)
}

// ListOverdue returns PENDING repayments due before now.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time) ([]Repayment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+repaymentColumns+` FROM repayments WHERE status = 'PENDING' AND due_date < $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repayments []Repayment
	for rows.Next() {
		rp, err := scanRepayment(rows)
		if err != nil {
			return nil, err
		}
		repayments = append(repayments, rp)
	}
	return repayments, rows.Err()
}

func (tx *txRepo) GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error) {
	return invoice.GetInvoiceTx(ctx, tx.tx, id)
}

func (tx *txRepo) GetDisbursement(ctx context.Context, id int64) (Disbursement, error) {
	row := tx.tx.QueryRow(ctx, `SELECT `+disbursementColumns+` FROM disbursements WHERE id = $1`, id)
	return scanDisbursement(row)
}

func (tx *txRepo) GetRepaymentByDisbursement(ctx context.Context, disbursementID int64) (Repayment, error) {
	row := tx.tx.QueryRow(ctx,
		`SELECT `+repaymentColumns+` FROM repayments WHERE disbursement_id = $1`, disbursementID)
	return scanRepayment(row)
}

func (tx *txRepo) InsertDisbursement(ctx context.Context, d Disbursement) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO disbursements (invoice_id, bid_id, bank_account_id, payer_type, amount, status, version, created_at, updated_at)
		 VALUES ($1, NULLIF($2, 0), NULLIF($3, 0), $4, $5::numeric, $6, 1, NOW(), NOW()) RETURNING id`,
		d.InvoiceID, d.BidID, d.BankAccountID, string(d.PayerType), d.Amount.StringFixed(2), string(d.Status)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("invoice %d: %w", d.InvoiceID, shared.ErrDuplicateDisbursement)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) UpdateDisbursementStatus(ctx context.Context, id int64, to DisbursementStatus, transactionRef string, version int64) error {
	tag, err := tx.tx.Exec(ctx,
		`UPDATE disbursements SET status = $1, transaction_ref = COALESCE(NULLIF($2, ''), transaction_ref),
		        version = version + 1, updated_at = NOW()
		 WHERE id = $3 AND version = $4`,
		string(to), transactionRef, id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("disbursement %d: %w", id, shared.ErrConcurrentModification)
	}
	return nil
}

func (tx *txRepo) InsertRepayment(ctx context.Context, rp Repayment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO repayments (disbursement_id, invoice_id, amount, due_date, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3::numeric, $4, $5, 1, NOW(), NOW()) RETURNING id`,
		rp.DisbursementID, rp.InvoiceID, rp.Amount.StringFixed(2), rp.DueDate, string(rp.Status)).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateRepaymentStatus(ctx context.Context, id int64, to RepaymentStatus, version int64) error {
	tag, err := tx.tx.Exec(ctx,
		`UPDATE repayments SET status = $1, paid_at = CASE WHEN $1 = 'PAID' THEN NOW() ELSE paid_at END,
		        version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		string(to), id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repayment %d: %w", id, shared.ErrConcurrentModification)
	}
	return nil
}

func (tx *txRepo) UpdateInvoiceStatus(ctx context.Context, invoiceID int64, to invoice.Status, version int64) error {
	tag, err := tx.tx.Exec(ctx,
		`UPDATE invoices SET status = $1, version = version + 1, updated_at = NOW() WHERE id = $2 AND version = $3`,
		string(to), invoiceID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d: %w", invoiceID, shared.ErrConcurrentModification)
	}
	return nil
}
