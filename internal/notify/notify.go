package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/credinvoice/credinvoice/internal/engine"
)

// EmailPayload is the queued representation of an outgoing email.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Enqueuer submits email payloads to the background queue.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload EmailPayload) error
}

// Directory resolves party IDs to email addresses.
type Directory interface {
	Email(ctx context.Context, partyID int64) (string, error)
}

// DomainDirectory derives addresses from party IDs under a fixed domain.
// Stands in until the party registry exposes contact details.
type DomainDirectory struct {
	Domain string
}

// Email implements Directory.
func (d DomainDirectory) Email(_ context.Context, partyID int64) (string, error) {
	if partyID <= 0 {
		return "", fmt.Errorf("notify: unknown party %d", partyID)
	}
	return fmt.Sprintf("party-%d@%s", partyID, d.Domain), nil
}

// Mailer turns workflow events into queued emails. It satisfies
// engine.NotificationHandler.
type Mailer struct {
	queue     Enqueuer
	directory Directory
	printer   *message.Printer
	logger    *slog.Logger
}

// NewMailer constructs the mailer.
func NewMailer(queue Enqueuer, directory Directory, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{
		queue:     queue,
		directory: directory,
		printer:   message.NewPrinter(language.English),
		logger:    logger,
	}
}

func (m *Mailer) send(ctx context.Context, partyID int64, subject, body string) error {
	to, err := m.directory.Email(ctx, partyID)
	if err != nil {
		return err
	}
	return m.queue.EnqueueSendEmail(ctx, EmailPayload{To: to, Subject: subject, Body: body})
}

// amount renders grouped digits, which read better in mail than raw decimals.
// Grouping runs on the integer part only; the value never passes through a
// float, so 18-digit amounts keep every digit.
func (m *Mailer) amount(v decimal.Decimal) string {
	fixed := v.StringFixed(2)
	return m.printer.Sprintf("%d", v.IntPart()) + fixed[len(fixed)-3:]
}

// HandleOfferCreated mails the seller about a fresh discount offer.
func (m *Mailer) HandleOfferCreated(ctx context.Context, evt engine.OfferCreatedEvent) error {
	subject := fmt.Sprintf("Early payment offer on invoice %d", evt.InvoiceID)
	body := fmt.Sprintf(
		"A buyer offered early payment of %s (%s%% discount) on invoice %d, payable by %s. The offer expires %s.",
		m.amount(evt.NetAmount), evt.Percent.String(), evt.InvoiceID,
		evt.EarlyPaymentDate.Format("02 Jan 2006"), evt.ExpiresAt.Format("02 Jan 2006 15:04"))
	return m.send(ctx, evt.SellerID, subject, body)
}

// HandleOfferDecided mails the buyer the seller's decision.
func (m *Mailer) HandleOfferDecided(ctx context.Context, evt engine.OfferDecidedEvent) error {
	if evt.Accepted {
		subject := fmt.Sprintf("Offer %d accepted", evt.OfferID)
		body := fmt.Sprintf("The seller accepted your early payment offer on invoice %d. Select a funding type to continue.", evt.InvoiceID)
		return m.send(ctx, evt.BuyerID, subject, body)
	}
	subject := fmt.Sprintf("Offer %d rejected", evt.OfferID)
	body := fmt.Sprintf("The seller rejected your offer on invoice %d: %s", evt.InvoiceID, evt.Reason)
	return m.send(ctx, evt.BuyerID, subject, body)
}

// HandleBiddingOpened is a marketplace broadcast. Financier fan-out lives with
// the marketplace feed; nothing to mail yet.
func (m *Mailer) HandleBiddingOpened(ctx context.Context, evt engine.BiddingOpenedEvent) error {
	m.logger.Info("bidding opened",
		slog.Int64("invoice_id", evt.InvoiceID),
		slog.String("total", evt.Total.StringFixed(2)))
	return nil
}

// HandleBidSubmitted mails the buyer about a new bid on their listing.
func (m *Mailer) HandleBidSubmitted(ctx context.Context, evt engine.BidSubmittedEvent) error {
	subject := fmt.Sprintf("New bid on invoice %d", evt.InvoiceID)
	body := fmt.Sprintf(
		"A financier bid %s%% (net %s) on invoice %d. The bid is valid until %s.",
		evt.DiscountRate.String(), m.amount(evt.NetAmount), evt.InvoiceID,
		evt.ValidUntil.Format("02 Jan 2006 15:04"))
	return m.send(ctx, evt.BuyerID, subject, body)
}

// HandleBidSelected mails the winning financier.
func (m *Mailer) HandleBidSelected(ctx context.Context, evt engine.BidSelectedEvent) error {
	subject := fmt.Sprintf("Bid %d selected", evt.BidID)
	body := fmt.Sprintf(
		"Your bid on invoice %d was selected. Disburse %s to the seller under disbursement %d.",
		evt.InvoiceID, m.amount(evt.NetAmount), evt.DisbursementID)
	return m.send(ctx, evt.FinancierID, subject, body)
}

// HandlePaymentAuthorized mails the seller that the buyer initiated payment.
func (m *Mailer) HandlePaymentAuthorized(ctx context.Context, evt engine.PaymentAuthorizedEvent) error {
	subject := fmt.Sprintf("Payment initiated for invoice %d", evt.InvoiceID)
	body := fmt.Sprintf(
		"The buyer authorized an early payment of %s on invoice %d. You will be notified once it clears.",
		m.amount(evt.Amount), evt.InvoiceID)
	return m.send(ctx, evt.SellerID, subject, body)
}

// HandleDisbursementCompleted mails the seller a payment confirmation.
func (m *Mailer) HandleDisbursementCompleted(ctx context.Context, evt engine.DisbursementCompletedEvent) error {
	subject := fmt.Sprintf("Payment received for invoice %d", evt.InvoiceID)
	body := fmt.Sprintf(
		"A payment of %s cleared for invoice %d (reference %s).",
		m.amount(evt.Amount), evt.InvoiceID, evt.TransactionRef)
	if evt.Settled {
		body += " The invoice is now settled."
	}
	return m.send(ctx, evt.SellerID, subject, body)
}

// HandleRepaymentPaid logs the reimbursement; the financier statement feed
// carries the detail.
func (m *Mailer) HandleRepaymentPaid(ctx context.Context, evt engine.RepaymentPaidEvent) error {
	m.logger.Info("repayment paid",
		slog.Int64("repayment_id", evt.RepaymentID),
		slog.Int64("invoice_id", evt.InvoiceID),
		slog.Bool("settled", evt.Settled))
	return nil
}

// HandleInvoiceCancelled mails both parties.
func (m *Mailer) HandleInvoiceCancelled(ctx context.Context, evt engine.InvoiceCancelledEvent) error {
	subject := fmt.Sprintf("Invoice %d cancelled", evt.InvoiceID)
	body := fmt.Sprintf("Invoice %d was withdrawn from the financing flow.", evt.InvoiceID)
	if err := m.send(ctx, evt.SellerID, subject, body); err != nil {
		return err
	}
	return m.send(ctx, evt.BuyerID, subject, body)
}
