package offer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates discount offer states. Terminal statuses are immutable.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// FundingType selects who pays the seller early once an offer is accepted.
type FundingType string

const (
	FundingSelf      FundingType = "SELF_FUNDED"
	FundingFinancier FundingType = "FINANCIER_FUNDED"
)

const (
	// DefaultExpiry applies when the buyer does not set an expiry.
	DefaultExpiry = 48 * time.Hour
	// MinRejectReasonLen is the minimum length of a rejection reason.
	MinRejectReasonLen = 10
)

// DiscountOffer is the buyer's proposal to pay an invoice early at a reduced
// amount. An invoice has at most one PENDING offer at a time; historical
// offers are retained.
type DiscountOffer struct {
	ID               int64
	InvoiceID        int64
	Percent          decimal.Decimal
	DiscountAmount   decimal.Decimal
	NetAmount        decimal.Decimal
	EarlyPaymentDate time.Time
	ExpiresAt        time.Time
	Status           Status
	FundingType      FundingType
	RejectReason     string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Terminal reports whether the offer can still change.
func (s Status) Terminal() bool {
	return s != StatusPending
}
