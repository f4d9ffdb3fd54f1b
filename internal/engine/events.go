package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OfferCreatedEvent notifies the seller that a discount offer awaits review.
type OfferCreatedEvent struct {
	OfferID          int64
	InvoiceID        int64
	SellerID         int64
	Percent          decimal.Decimal
	NetAmount        decimal.Decimal
	EarlyPaymentDate time.Time
	ExpiresAt        time.Time
}

// OfferDecidedEvent reports the seller's accept or reject decision to the
// buyer.
type OfferDecidedEvent struct {
	OfferID   int64
	InvoiceID int64
	BuyerID   int64
	Accepted  bool
	Reason    string
}

// BiddingOpenedEvent announces a new marketplace listing to financiers.
type BiddingOpenedEvent struct {
	InvoiceID int64
	Total     decimal.Decimal
	DueDate   time.Time
}

// BidSubmittedEvent tells the buyer a financier bid on their listing.
type BidSubmittedEvent struct {
	BidID        int64
	InvoiceID    int64
	BuyerID      int64
	DiscountRate decimal.Decimal
	NetAmount    decimal.Decimal
	ValidUntil   time.Time
}

// BidSelectedEvent tells the winning financier their bid was selected and the
// losers that theirs were not.
type BidSelectedEvent struct {
	BidID          int64
	InvoiceID      int64
	FinancierID    int64
	NetAmount      decimal.Decimal
	DisbursementID int64
}

// PaymentAuthorizedEvent tells the seller the buyer funded their own accepted
// offer.
type PaymentAuthorizedEvent struct {
	DisbursementID int64
	InvoiceID      int64
	SellerID       int64
	Amount         decimal.Decimal
}

// DisbursementCompletedEvent confirms money reached the seller.
type DisbursementCompletedEvent struct {
	DisbursementID int64
	InvoiceID      int64
	SellerID       int64
	Amount         decimal.Decimal
	TransactionRef string
	Settled        bool
}

// RepaymentPaidEvent confirms the buyer reimbursed the financier.
type RepaymentPaidEvent struct {
	RepaymentID int64
	InvoiceID   int64
	Amount      decimal.Decimal
	Settled     bool
}

// InvoiceCancelledEvent reports an invoice leaving the flow before
// disbursement.
type InvoiceCancelledEvent struct {
	InvoiceID int64
	SellerID  int64
	BuyerID   int64
}

// NotificationHandler receives workflow events after their transaction
// commits. Delivery is best effort; the state change stands even when a
// handler fails.
type NotificationHandler interface {
	HandleOfferCreated(ctx context.Context, evt OfferCreatedEvent) error
	HandleOfferDecided(ctx context.Context, evt OfferDecidedEvent) error
	HandleBiddingOpened(ctx context.Context, evt BiddingOpenedEvent) error
	HandleBidSubmitted(ctx context.Context, evt BidSubmittedEvent) error
	HandleBidSelected(ctx context.Context, evt BidSelectedEvent) error
	HandlePaymentAuthorized(ctx context.Context, evt PaymentAuthorizedEvent) error
	HandleDisbursementCompleted(ctx context.Context, evt DisbursementCompletedEvent) error
	HandleRepaymentPaid(ctx context.Context, evt RepaymentPaidEvent) error
	HandleInvoiceCancelled(ctx context.Context, evt InvoiceCancelledEvent) error
}
