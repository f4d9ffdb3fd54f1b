package funding

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayerType identifies who moves money to the seller.
type PayerType string

const (
	PayerBuyer     PayerType = "BUYER"
	PayerFinancier PayerType = "FINANCIER"
)

// DisbursementStatus enumerates disbursement states.
type DisbursementStatus string

const (
	DisbursementPending   DisbursementStatus = "PENDING"
	DisbursementDisbursed DisbursementStatus = "DISBURSED"
	DisbursementCompleted DisbursementStatus = "COMPLETED"
	DisbursementFailed    DisbursementStatus = "FAILED"
)

// Disbursement records money moving to the seller. One non-failed
// disbursement per invoice, enforced by a partial unique index and checked
// again at the service layer.
type Disbursement struct {
	ID             int64
	InvoiceID      int64
	BidID          int64 // zero for self-funded
	BankAccountID  int64 // zero for financier-funded
	PayerType      PayerType
	Amount         decimal.Decimal
	Status         DisbursementStatus
	TransactionRef string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RepaymentStatus enumerates repayment states.
type RepaymentStatus string

const (
	RepaymentPending RepaymentStatus = "PENDING"
	RepaymentPaid    RepaymentStatus = "PAID"
	RepaymentOverdue RepaymentStatus = "OVERDUE"
)

// Repayment is the buyer's obligation to reimburse a financier the invoice
// face value on the original due date.
type Repayment struct {
	ID             int64
	DisbursementID int64
	InvoiceID      int64
	Amount         decimal.Decimal
	DueDate        time.Time
	Status         RepaymentStatus
	PaidAt         time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
