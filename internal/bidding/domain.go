package bidding

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates bid states. At most one bid per invoice may be ACCEPTED.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusWithdrawn Status = "WITHDRAWN"
	StatusExpired   Status = "EXPIRED"
)

// Bid is a financier's competing proposal to fund an invoice early. NetAmount
// is fixed at submission time so later rate edits can never change what was
// offered.
type Bid struct {
	ID                int64
	InvoiceID         int64
	FinancierID       int64
	DiscountRate      decimal.Decimal
	ProcessingFeeRate decimal.Decimal
	NetAmount         decimal.Decimal
	ValidUntil        time.Time
	Status            Status
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
