package http

import (
	"time"

	"github.com/credinvoice/credinvoice/internal/bidding"
	"github.com/credinvoice/credinvoice/internal/funding"
	"github.com/credinvoice/credinvoice/internal/invoice"
	"github.com/credinvoice/credinvoice/internal/offer"
)

type createInvoiceRequest struct {
	Number    string    `json:"number"`
	SellerID  int64     `json:"seller_id" validate:"required,gt=0"`
	BuyerID   int64     `json:"buyer_id" validate:"required,gt=0"`
	Currency  string    `json:"currency" validate:"omitempty,len=3"`
	Total     string    `json:"total" validate:"required"`
	Product   string    `json:"product" validate:"required,oneof=SELF_FUNDED_DISCOUNTING FINANCIER_EARLY_PAYMENT GST_BACKED"`
	IssueDate time.Time `json:"issue_date" validate:"required"`
	DueDate   time.Time `json:"due_date" validate:"required"`
}

type createOfferRequest struct {
	InvoiceID        int64     `json:"invoice_id" validate:"required,gt=0"`
	Percent          string    `json:"percent" validate:"required"`
	EarlyPaymentDate time.Time `json:"early_payment_date" validate:"required"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type bulkCreateOffersRequest struct {
	InvoiceIDs       []int64   `json:"invoice_ids" validate:"required,min=1,max=100,dive,gt=0"`
	Percent          string    `json:"percent" validate:"required"`
	EarlyPaymentDate time.Time `json:"early_payment_date" validate:"required"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type rejectOfferRequest struct {
	Reason string `json:"reason" validate:"required,min=10"`
}

type selectFundingTypeRequest struct {
	FundingType string `json:"funding_type" validate:"required,oneof=SELF_FUNDED FINANCIER_FUNDED"`
}

type authorizePaymentRequest struct {
	BankAccountID int64 `json:"bank_account_id" validate:"required,gt=0"`
}

type submitBidRequest struct {
	DiscountRate      string    `json:"discount_rate" validate:"required"`
	ProcessingFeeRate string    `json:"processing_fee_rate"`
	ValidUntil        time.Time `json:"valid_until" validate:"required"`
}

type recordDisbursementRequest struct {
	InvoiceID int64  `json:"invoice_id" validate:"required,gt=0"`
	PayerType string `json:"payer_type" validate:"required,oneof=BUYER FINANCIER"`
	Amount    string `json:"amount" validate:"required"`
}

type completeDisbursementRequest struct {
	TransactionRef string `json:"transaction_ref" validate:"required,min=1,max=128"`
}

type invoiceView struct {
	ID        int64     `json:"id"`
	Number    string    `json:"number"`
	SellerID  int64     `json:"seller_id"`
	BuyerID   int64     `json:"buyer_id"`
	Currency  string    `json:"currency"`
	Total     string    `json:"total"`
	Product   string    `json:"product"`
	Status    string    `json:"status"`
	IssueDate time.Time `json:"issue_date"`
	DueDate   time.Time `json:"due_date"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newInvoiceView(inv invoice.Invoice) invoiceView {
	return invoiceView{
		ID:        inv.ID,
		Number:    inv.Number,
		SellerID:  inv.SellerID,
		BuyerID:   inv.BuyerID,
		Currency:  inv.Currency,
		Total:     inv.Total.StringFixed(2),
		Product:   string(inv.Product),
		Status:    string(inv.Status),
		IssueDate: inv.IssueDate,
		DueDate:   inv.DueDate,
		CreatedAt: inv.CreatedAt,
		UpdatedAt: inv.UpdatedAt,
	}
}

type offerView struct {
	ID               int64     `json:"id"`
	InvoiceID        int64     `json:"invoice_id"`
	Percent          string    `json:"percent"`
	DiscountAmount   string    `json:"discount_amount"`
	NetAmount        string    `json:"net_amount"`
	EarlyPaymentDate time.Time `json:"early_payment_date"`
	ExpiresAt        time.Time `json:"expires_at"`
	Status           string    `json:"status"`
	FundingType      string    `json:"funding_type,omitempty"`
	RejectReason     string    `json:"reject_reason,omitempty"`
}

func newOfferView(o offer.DiscountOffer) offerView {
	return offerView{
		ID:               o.ID,
		InvoiceID:        o.InvoiceID,
		Percent:          o.Percent.String(),
		DiscountAmount:   o.DiscountAmount.StringFixed(2),
		NetAmount:        o.NetAmount.StringFixed(2),
		EarlyPaymentDate: o.EarlyPaymentDate,
		ExpiresAt:        o.ExpiresAt,
		Status:           string(o.Status),
		FundingType:      string(o.FundingType),
		RejectReason:     o.RejectReason,
	}
}

type bidView struct {
	ID                int64     `json:"id"`
	InvoiceID         int64     `json:"invoice_id"`
	FinancierID       int64     `json:"financier_id"`
	DiscountRate      string    `json:"discount_rate"`
	ProcessingFeeRate string    `json:"processing_fee_rate"`
	NetAmount         string    `json:"net_amount"`
	ValidUntil        time.Time `json:"valid_until"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

func newBidView(b bidding.Bid) bidView {
	return bidView{
		ID:                b.ID,
		InvoiceID:         b.InvoiceID,
		FinancierID:       b.FinancierID,
		DiscountRate:      b.DiscountRate.String(),
		ProcessingFeeRate: b.ProcessingFeeRate.String(),
		NetAmount:         b.NetAmount.StringFixed(2),
		ValidUntil:        b.ValidUntil,
		Status:            string(b.Status),
		CreatedAt:         b.CreatedAt,
	}
}

type disbursementView struct {
	ID             int64  `json:"id"`
	InvoiceID      int64  `json:"invoice_id"`
	BidID          int64  `json:"bid_id,omitempty"`
	BankAccountID  int64  `json:"bank_account_id,omitempty"`
	PayerType      string `json:"payer_type"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	TransactionRef string `json:"transaction_ref,omitempty"`
}

func newDisbursementView(d funding.Disbursement) disbursementView {
	return disbursementView{
		ID:             d.ID,
		InvoiceID:      d.InvoiceID,
		BidID:          d.BidID,
		BankAccountID:  d.BankAccountID,
		PayerType:      string(d.PayerType),
		Amount:         d.Amount.StringFixed(2),
		Status:         string(d.Status),
		TransactionRef: d.TransactionRef,
	}
}

type repaymentView struct {
	ID             int64      `json:"id"`
	DisbursementID int64      `json:"disbursement_id"`
	InvoiceID      int64      `json:"invoice_id"`
	Amount         string     `json:"amount"`
	DueDate        time.Time  `json:"due_date"`
	Status         string     `json:"status"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
}

func newRepaymentView(rp funding.Repayment) repaymentView {
	view := repaymentView{
		ID:             rp.ID,
		DisbursementID: rp.DisbursementID,
		InvoiceID:      rp.InvoiceID,
		Amount:         rp.Amount.StringFixed(2),
		DueDate:        rp.DueDate,
		Status:         string(rp.Status),
	}
	if !rp.PaidAt.IsZero() {
		paidAt := rp.PaidAt
		view.PaidAt = &paidAt
	}
	return view
}
