// Package ledger provides access to the invoice and transaction records the
// reconciliation engine operates on. The records themselves are created and
// deleted by the upstream invoicing and statement-ingestion modules; this
// package only reads them and transitions their reconciliation fields.
package ledger

import (
	"context"
	"time"

	"invoice-reconciliation-service/internal/models"
)

// InvoiceUpdate carries the reconciliation-owned fields of an invoice.
// Nil pointer fields clear the stored value.
type InvoiceUpdate struct {
	ID          string
	Status      models.InvoiceStatus
	PaymentDate *time.Time
	PaidAmount  *string
}

// TransactionUpdate carries the reconciliation-owned fields of a transaction.
// Nil pointer fields clear the stored value.
type TransactionUpdate struct {
	ID         string
	Reconciled bool
	InvoiceID  *string
	Note       *string
}

// InvoiceUpdateFrom snapshots the reconciliation-owned fields of an invoice.
func InvoiceUpdateFrom(inv *models.Invoice) InvoiceUpdate {
	return InvoiceUpdate{
		ID:          inv.ID,
		Status:      inv.Status,
		PaymentDate: inv.PaymentDate,
		PaidAmount:  inv.PaidAmount,
	}
}

// TransactionUpdateFrom snapshots the reconciliation-owned fields of a transaction.
func TransactionUpdateFrom(tx *models.Transaction) TransactionUpdate {
	return TransactionUpdate{
		ID:         tx.ID,
		Reconciled: tx.Reconciled,
		InvoiceID:  tx.InvoiceID,
		Note:       tx.Note,
	}
}

// Reader lists ledger records. Each reconciliation pass loads a full snapshot
// at call start.
type Reader interface {
	// ListInvoices returns every invoice regardless of status.
	ListInvoices(ctx context.Context) ([]*models.Invoice, error)

	// ListOutstandingInvoices returns invoices that are neither paid nor cancelled.
	ListOutstandingInvoices(ctx context.Context) ([]*models.Invoice, error)

	// ListTransactions returns transactions, optionally scoped to one bank
	// account. An empty accountID returns all accounts.
	ListTransactions(ctx context.Context, accountID string) ([]*models.Transaction, error)
}

// Writer persists reconciliation state transitions.
type Writer interface {
	// UpdateInvoice persists the reconciliation-owned fields of one invoice.
	UpdateInvoice(ctx context.Context, upd InvoiceUpdate) error

	// UpdateTransaction persists the reconciliation-owned fields of one transaction.
	UpdateTransaction(ctx context.Context, upd TransactionUpdate) error

	// ApplyMatch atomically persists the invoice-side and transaction-side
	// updates of a single match, so a failure between the two writes cannot
	// leave one side updated and the other not. Cumulative matches pass
	// several invoice updates with one transaction update.
	ApplyMatch(ctx context.Context, invoices []InvoiceUpdate, tx TransactionUpdate) error
}

// Store combines read and write access plus the record loading used by the
// CSV import command.
type Store interface {
	Reader
	Writer

	// SaveInvoices inserts or replaces invoice records (import support).
	SaveInvoices(ctx context.Context, invoices []*models.Invoice) error

	// SaveTransactions inserts or replaces transaction records (import support).
	SaveTransactions(ctx context.Context, transactions []*models.Transaction) error
}
