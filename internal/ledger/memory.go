package ledger

import (
	"context"
	"fmt"
	"sync"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
)

// MemoryStore is an in-memory Store implementation with deterministic listing
// order. It backs tests and small ad hoc runs without a database file.
type MemoryStore struct {
	mu sync.Mutex

	invoices     map[string]*models.Invoice
	invoiceOrder []string

	transactions     map[string]*models.Transaction
	transactionOrder []string

	// writeErr, when set, is returned by every write. Used to exercise the
	// abort-on-storage-failure semantics of the engine.
	writeErr error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices:     make(map[string]*models.Invoice),
		transactions: make(map[string]*models.Transaction),
	}
}

// SetWriteError forces every subsequent write to fail with err. Pass nil to
// restore normal behavior.
func (s *MemoryStore) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// SaveInvoices inserts or replaces invoice records
func (s *MemoryStore) SaveInvoices(ctx context.Context, invoices []*models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range invoices {
		if inv.ID == "" {
			return errors.ValidationError(errors.CodeMissingField, "id", inv, nil)
		}
		if _, exists := s.invoices[inv.ID]; !exists {
			s.invoiceOrder = append(s.invoiceOrder, inv.ID)
		}
		copied := *inv
		s.invoices[inv.ID] = &copied
	}
	return nil
}

// SaveTransactions inserts or replaces transaction records
func (s *MemoryStore) SaveTransactions(ctx context.Context, transactions []*models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range transactions {
		if tx.ID == "" {
			return errors.ValidationError(errors.CodeMissingField, "id", tx, nil)
		}
		if _, exists := s.transactions[tx.ID]; !exists {
			s.transactionOrder = append(s.transactionOrder, tx.ID)
		}
		copied := *tx
		s.transactions[tx.ID] = &copied
	}
	return nil
}

// ListInvoices returns copies of every invoice in insertion order
func (s *MemoryStore) ListInvoices(ctx context.Context) ([]*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Invoice, 0, len(s.invoiceOrder))
	for _, id := range s.invoiceOrder {
		copied := *s.invoices[id]
		out = append(out, &copied)
	}
	return out, nil
}

// ListOutstandingInvoices returns copies of invoices that are neither paid nor cancelled
func (s *MemoryStore) ListOutstandingInvoices(ctx context.Context) ([]*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Invoice
	for _, id := range s.invoiceOrder {
		if inv := s.invoices[id]; inv.IsOutstanding() {
			copied := *inv
			out = append(out, &copied)
		}
	}
	return out, nil
}

// ListTransactions returns copies of transactions, optionally scoped by account
func (s *MemoryStore) ListTransactions(ctx context.Context, accountID string) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Transaction
	for _, id := range s.transactionOrder {
		tx := s.transactions[id]
		if accountID != "" && tx.AccountID != accountID {
			continue
		}
		copied := *tx
		out = append(out, &copied)
	}
	return out, nil
}

// UpdateInvoice persists the reconciliation-owned fields of one invoice
func (s *MemoryStore) UpdateInvoice(ctx context.Context, upd InvoiceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateInvoiceLocked(upd)
}

// UpdateTransaction persists the reconciliation-owned fields of one transaction
func (s *MemoryStore) UpdateTransaction(ctx context.Context, upd TransactionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTransactionLocked(upd)
}

// ApplyMatch applies all updates of a match or none of them
func (s *MemoryStore) ApplyMatch(ctx context.Context, invoices []InvoiceUpdate, tx TransactionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return errors.StorageError(errors.CodeStorageWrite, "apply match", s.writeErr)
	}

	// Validate everything before mutating to keep the group all-or-nothing
	for _, upd := range invoices {
		if _, ok := s.invoices[upd.ID]; !ok {
			return errors.StorageError(errors.CodeRecordNotFound, "apply match",
				fmt.Errorf("invoice %s not found", upd.ID))
		}
	}
	if _, ok := s.transactions[tx.ID]; !ok {
		return errors.StorageError(errors.CodeRecordNotFound, "apply match",
			fmt.Errorf("transaction %s not found", tx.ID))
	}

	for _, upd := range invoices {
		if err := s.updateInvoiceLocked(upd); err != nil {
			return err
		}
	}
	return s.updateTransactionLocked(tx)
}

func (s *MemoryStore) updateInvoiceLocked(upd InvoiceUpdate) error {
	if s.writeErr != nil {
		return errors.StorageError(errors.CodeStorageWrite, "update invoice", s.writeErr)
	}

	inv, ok := s.invoices[upd.ID]
	if !ok {
		return errors.StorageError(errors.CodeRecordNotFound, "update invoice",
			fmt.Errorf("invoice %s not found", upd.ID))
	}

	inv.Status = upd.Status
	inv.PaymentDate = upd.PaymentDate
	inv.PaidAmount = upd.PaidAmount
	return nil
}

func (s *MemoryStore) updateTransactionLocked(upd TransactionUpdate) error {
	if s.writeErr != nil {
		return errors.StorageError(errors.CodeStorageWrite, "update transaction", s.writeErr)
	}

	tx, ok := s.transactions[upd.ID]
	if !ok {
		return errors.StorageError(errors.CodeRecordNotFound, "update transaction",
			fmt.Errorf("transaction %s not found", upd.ID))
	}

	tx.Reconciled = upd.Reconciled
	tx.InvoiceID = upd.InvoiceID
	tx.Note = upd.Note
	return nil
}
