package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceType distinguishes receivable from payable invoices.
type InvoiceType string

const (
	// InvoiceTypeIssued is an invoice issued to a customer (receivable).
	InvoiceTypeIssued InvoiceType = "emessa"
	// InvoiceTypeReceived is an invoice received from a supplier (payable).
	InvoiceTypeReceived InvoiceType = "ricevuta"
)

// String returns the string representation of InvoiceType
func (t InvoiceType) String() string {
	return string(t)
}

// IsValid checks if the invoice type is valid
func (t InvoiceType) IsValid() bool {
	return t == InvoiceTypeIssued || t == InvoiceTypeReceived
}

// InvoiceStatus represents the lifecycle state of an invoice
type InvoiceStatus string

const (
	// InvoiceStatusDraft is an invoice not yet sent to the counterparty
	InvoiceStatusDraft InvoiceStatus = "bozza"
	// InvoiceStatusSent is an invoice awaiting payment
	InvoiceStatusSent InvoiceStatus = "inviata"
	// InvoiceStatusPaid is an invoice settled by one or more bank transactions
	InvoiceStatusPaid InvoiceStatus = "pagata"
	// InvoiceStatusCancelled is an invoice voided by the invoicing module
	InvoiceStatusCancelled InvoiceStatus = "annullata"
)

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsValid checks if the invoice status is valid
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusCancelled:
		return true
	default:
		return false
	}
}

// TransactionType represents the direction of a bank transaction
type TransactionType string

const (
	// TransactionTypeCredit is an incoming payment
	TransactionTypeCredit TransactionType = "entrata"
	// TransactionTypeDebit is an outgoing payment
	TransactionTypeDebit TransactionType = "uscita"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeCredit || t == TransactionTypeDebit
}

// Invoice is an invoice record owned by the external invoicing module.
// Monetary fields keep the upstream locale representation ("1.234,56");
// use ParseAmount before any arithmetic or comparison.
type Invoice struct {
	ID               string        `json:"id"`
	Type             InvoiceType   `json:"tipo"`
	Number           string        `json:"numero"`
	CounterpartyName string        `json:"ragioneSociale"`
	Total            string        `json:"totale"`
	Status           InvoiceStatus `json:"stato"`
	IssueDate        time.Time     `json:"dataEmissione"`
	PaymentDate      *time.Time    `json:"dataPagamento,omitempty"`
	PaidAmount       *string       `json:"totalePagato,omitempty"`
}

// IsOutstanding reports whether the invoice still awaits settlement.
func (i *Invoice) IsOutstanding() bool {
	return i.Status != InvoiceStatusPaid && i.Status != InvoiceStatusCancelled
}

// Validate performs basic validation on the Invoice
func (i *Invoice) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("invoice ID cannot be empty")
	}

	if !i.Type.IsValid() {
		return fmt.Errorf("invalid invoice type: %s", i.Type)
	}

	if !i.Status.IsValid() {
		return fmt.Errorf("invalid invoice status: %s", i.Status)
	}

	if strings.TrimSpace(i.Total) == "" {
		return fmt.Errorf("invoice total cannot be empty")
	}

	return nil
}

// MarkPaid transitions the invoice to paid state with the given payment
// evidence. The paid amount is recorded in the locale format shared with
// the upstream modules.
func (i *Invoice) MarkPaid(paymentDate time.Time, paidAmount decimal.Decimal) {
	i.Status = InvoiceStatusPaid
	date := paymentDate
	i.PaymentDate = &date
	amount := FormatAmount(paidAmount)
	i.PaidAmount = &amount
}

// ResetPayment reverts a paid invoice back to sent, clearing payment evidence.
func (i *Invoice) ResetPayment() {
	i.Status = InvoiceStatusSent
	i.PaymentDate = nil
	i.PaidAmount = nil
}

// String returns a string representation of the Invoice
func (i *Invoice) String() string {
	return fmt.Sprintf("Invoice{ID: %s, Number: %s, Type: %s, Total: %s, Status: %s}",
		i.ID, i.Number, i.Type, i.Total, i.Status)
}

// Transaction is a bank account movement owned by the external statement
// ingestion module. The reconciliation engine only transitions Reconciled,
// InvoiceID and Note.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"tipo"`
	Amount      string          `json:"importo"`
	Date        time.Time       `json:"data"`
	Description string          `json:"descrizione"`
	AccountID   string          `json:"contoId"`
	Reconciled  bool            `json:"riconciliato"`
	InvoiceID   *string         `json:"invoiceId,omitempty"`
	Note        *string         `json:"note,omitempty"`
}

// Validate performs basic validation on the Transaction
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}

	if strings.TrimSpace(t.Amount) == "" {
		return fmt.Errorf("transaction amount cannot be empty")
	}

	return nil
}

// MarkReconciled flags the transaction as settlement evidence for the given
// invoice. For cumulative matches note lists every funded invoice ID.
func (t *Transaction) MarkReconciled(invoiceID string, note string) {
	t.Reconciled = true
	id := invoiceID
	t.InvoiceID = &id
	if note != "" {
		n := note
		t.Note = &n
	}
}

// ClearReconciliation removes all settlement evidence from the transaction.
func (t *Transaction) ClearReconciliation() {
	t.Reconciled = false
	t.InvoiceID = nil
	t.Note = nil
}

// IsCredit returns true if the transaction is an incoming payment
func (t *Transaction) IsCredit() bool {
	return t.Type == TransactionTypeCredit
}

// IsDebit returns true if the transaction is an outgoing payment
func (t *Transaction) IsDebit() bool {
	return t.Type == TransactionTypeDebit
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Type: %s, Amount: %s, Account: %s, Reconciled: %t}",
		t.ID, t.Type, t.Amount, t.AccountID, t.Reconciled)
}

// MatchesInvoiceType reports whether the transaction direction can settle an
// invoice of the given type: issued invoices are settled by credits, received
// invoices by debits.
func (t *Transaction) MatchesInvoiceType(invoiceType InvoiceType) bool {
	switch invoiceType {
	case InvoiceTypeIssued:
		return t.Type == TransactionTypeCredit
	case InvoiceTypeReceived:
		return t.Type == TransactionTypeDebit
	default:
		return false
	}
}

// ParseAmount parses a monetary amount from the locale formats used across
// the ledger: the Italian form "1.234,56" and the plain form "1234.56".
// When both separators appear, the last one encountered is taken as the
// decimal separator. This is the single shared parser used by the matcher,
// verifier and repairer so tolerance arithmetic cannot diverge between passes.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// Strip currency markers and inner whitespace
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, "EUR", "")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// Italian form: dots group thousands, comma is the decimal mark
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format '%s': %w", s, err)
	}

	return d, nil
}

// ParsePositiveAmount parses an amount and rejects zero or negative values.
// Records carrying such amounts are skipped by every reconciliation pass.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}

	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", d.String())
	}

	return d, nil
}

// FormatAmount serializes a decimal back to the Italian locale format used
// by the upstream modules ("1.234,56").
func FormatAmount(d decimal.Decimal) string {
	fixed := d.StringFixed(2)

	negative := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	parts := strings.SplitN(fixed, ".", 2)
	intPart := parts[0]
	fracPart := "00"
	if len(parts) == 2 {
		fracPart = parts[1]
	}

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := strings.Join(groups, ".") + "," + fracPart
	if negative {
		out = "-" + out
	}
	return out
}

// ParseDate attempts to parse a date from the formats commonly found in
// invoice and bank statement exports.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"02/01/2006",
		"02-01-2006",
		"2006/01/02",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}
