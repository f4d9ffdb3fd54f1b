package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates invoice lifecycle states. The invoice is the aggregate
// root: offers, bids, disbursements and repayments may only move it through
// the transition table in machine.go.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusPendingAcceptance Status = "PENDING_ACCEPTANCE"
	StatusAccepted          Status = "ACCEPTED"
	StatusOpenForBidding    Status = "OPEN_FOR_BIDDING"
	StatusBidSelected       Status = "BID_SELECTED"
	StatusDisbursed         Status = "DISBURSED"
	StatusSettled           Status = "SETTLED"
	StatusRejected          Status = "REJECTED"
	StatusCancelled         Status = "CANCELLED"
	StatusExpired           Status = "EXPIRED"
)

// ProductType selects the financing route for an invoice.
type ProductType string

const (
	// ProductSelfDiscounting means the buyer pays the discounted amount
	// from its own funds.
	ProductSelfDiscounting ProductType = "SELF_FUNDED_DISCOUNTING"
	// ProductEarlyPayment means a financier funds the seller early and the
	// buyer repays face value later.
	ProductEarlyPayment ProductType = "FINANCIER_EARLY_PAYMENT"
	// ProductGSTBacked invoices skip negotiation and go straight to the
	// bidding marketplace on submission.
	ProductGSTBacked ProductType = "GST_BACKED"
)

// Invoice is the aggregate root. Version implements optimistic locking; every
// status write is conditional on the version read.
type Invoice struct {
	ID              int64
	Number          string
	SellerID        int64
	BuyerID         int64
	Currency        string
	Total           decimal.Decimal
	Product         ProductType
	Status          Status
	IssueDate       time.Time
	DueDate         time.Time
	BiddingOpenedAt time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Party reports whether the given actor ID is the buyer or seller.
func (inv Invoice) Party(actorID int64) bool {
	return actorID != 0 && (actorID == inv.BuyerID || actorID == inv.SellerID)
}
