package notify

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/credinvoice/credinvoice/internal/engine"
)

type captureQueue struct {
	sent []EmailPayload
}

func (q *captureQueue) EnqueueSendEmail(ctx context.Context, payload EmailPayload) error {
	q.sent = append(q.sent, payload)
	return nil
}

func TestDomainDirectory(t *testing.T) {
	dir := DomainDirectory{Domain: "credinvoice.local"}

	addr, err := dir.Email(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "party-100@credinvoice.local", addr)

	_, err = dir.Email(context.Background(), 0)
	require.Error(t, err)
}

func TestHandleOfferCreatedMailsSeller(t *testing.T) {
	q := &captureQueue{}
	m := NewMailer(q, DomainDirectory{Domain: "credinvoice.local"}, nil)

	err := m.HandleOfferCreated(context.Background(), engine.OfferCreatedEvent{
		OfferID:          5,
		InvoiceID:        7,
		SellerID:         100,
		Percent:          decimal.NewFromInt(2),
		NetAmount:        decimal.RequireFromString("283318.00"),
		EarlyPaymentDate: time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		ExpiresAt:        time.Date(2026, 9, 3, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, q.sent, 1)
	require.Equal(t, "party-100@credinvoice.local", q.sent[0].To)
	require.Contains(t, q.sent[0].Subject, "invoice 7")
	require.Contains(t, q.sent[0].Body, "283,318.00")
	require.Contains(t, q.sent[0].Body, "2%")
}

func TestAmountKeepsEveryDigitOnLargeValues(t *testing.T) {
	// Sixteen integer digits overflow float64 precision; grouping must not
	// change a single digit.
	m := NewMailer(&captureQueue{}, DomainDirectory{Domain: "credinvoice.local"}, nil)

	got := m.amount(decimal.RequireFromString("1234567890123456.78"))
	require.Equal(t, "1,234,567,890,123,456.78", got)

	require.Equal(t, "0.05", m.amount(decimal.RequireFromString("0.05")))
	require.Equal(t, "289,100.00", m.amount(decimal.NewFromInt(289100)))
}

func TestHandleInvoiceCancelledMailsBothParties(t *testing.T) {
	q := &captureQueue{}
	m := NewMailer(q, DomainDirectory{Domain: "credinvoice.local"}, nil)

	err := m.HandleInvoiceCancelled(context.Background(), engine.InvoiceCancelledEvent{
		InvoiceID: 7,
		SellerID:  100,
		BuyerID:   200,
	})
	require.NoError(t, err)
	require.Len(t, q.sent, 2)
	require.Equal(t, "party-100@credinvoice.local", q.sent[0].To)
	require.Equal(t, "party-200@credinvoice.local", q.sent[1].To)
}
