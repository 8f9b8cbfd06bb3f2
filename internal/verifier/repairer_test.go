package verifier

import (
	"context"
	"fmt"
	"testing"

	"invoice-reconciliation-service/internal/ledger"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
)

func seedStore(t *testing.T, transactions []*models.Transaction, invoices []*models.Invoice) *ledger.MemoryStore {
	t.Helper()

	store := ledger.NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveInvoices(ctx, invoices); err != nil {
		t.Fatalf("seed invoices: %v", err)
	}
	if err := store.SaveTransactions(ctx, transactions); err != nil {
		t.Fatalf("seed transactions: %v", err)
	}
	return store
}

func TestFixResetsInvoiceWithoutEvidence(t *testing.T) {
	orphan := paidTestInvoice("inv-orphan", "2025/042", "ACME SRL", "1.000,00")
	supported := paidTestInvoice("inv-ok", "2025/099", "ACME SRL", "100,00")
	tx := creditTransaction("tx-1", "100,00", "fattura 2025099", 10)

	transactions := []*models.Transaction{tx}
	invoices := []*models.Invoice{orphan, supported}
	store := seedStore(t, transactions, invoices)

	result, err := NewRepairer(nil, store).Fix(context.Background(), transactions, invoices)
	if err != nil {
		t.Fatalf("Fix failed: %v", err)
	}

	if result.Repaired != 1 {
		t.Fatalf("Repaired = %d, want 1", result.Repaired)
	}
	if orphan.Status != models.InvoiceStatusSent || orphan.PaymentDate != nil || orphan.PaidAmount != nil {
		t.Errorf("orphan invoice not reset: %+v", orphan)
	}
	if supported.Status != models.InvoiceStatusPaid {
		t.Errorf("supported invoice must stay paid")
	}

	stored, err := store.ListInvoices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, inv := range stored {
		if inv.ID == "inv-orphan" && inv.Status != models.InvoiceStatusSent {
			t.Errorf("reset not persisted: %+v", inv)
		}
	}
}

func TestFixIsIdempotent(t *testing.T) {
	orphan := paidTestInvoice("inv-orphan", "2025/042", "ACME SRL", "1.000,00")
	invoices := []*models.Invoice{orphan}
	store := seedStore(t, nil, invoices)

	repairer := NewRepairer(nil, store)
	ctx := context.Background()

	first, err := repairer.Fix(ctx, nil, invoices)
	if err != nil {
		t.Fatalf("first fix: %v", err)
	}
	if first.Repaired != 1 {
		t.Fatalf("first fix Repaired = %d, want 1", first.Repaired)
	}

	second, err := repairer.Fix(ctx, nil, invoices)
	if err != nil {
		t.Fatalf("second fix: %v", err)
	}
	if second.Repaired != 0 || second.TotalPaidInvoices != 0 {
		t.Errorf("second fix should be a no-op, got %+v", second)
	}
}

func TestFixResetsAmountOnlyCandidates(t *testing.T) {
	inv := paidTestInvoice("inv-1", "2025/042", "ACME SRL", "1.000,00")
	tx := creditTransaction("tx-1", "1.000,00", "Bonifico generico", 10)

	transactions := []*models.Transaction{tx}
	invoices := []*models.Invoice{inv}
	store := seedStore(t, transactions, invoices)

	result, err := NewRepairer(nil, store).Fix(context.Background(), transactions, invoices)
	if err != nil {
		t.Fatalf("Fix failed: %v", err)
	}

	if result.Repaired != 1 {
		t.Fatalf("Repaired = %d, want 1", result.Repaired)
	}
	if len(result.Issues) != 1 || result.Issues[0].Kind != IssueNoReference {
		t.Errorf("issue not carried into result: %+v", result.Issues)
	}
	// The transaction itself stays untouched.
	if tx.Reconciled || tx.InvoiceID != nil {
		t.Errorf("repair must not modify transactions: %+v", tx)
	}
}

func TestFixLeavesCumulativeSettlementsAlone(t *testing.T) {
	invA := paidTestInvoice("inv-a", "FT-A", "Rossi Costruzioni SRL", "500,00")
	invB := paidTestInvoice("inv-b", "FT-B", "Rossi Costruzioni SRL", "300,00")
	tx := creditTransaction("tx-1", "800,00", "Saldo fatture Rossi Costruzioni", 10)

	transactions := []*models.Transaction{tx}
	invoices := []*models.Invoice{invA, invB}
	store := seedStore(t, transactions, invoices)

	result, err := NewRepairer(nil, store).Fix(context.Background(), transactions, invoices)
	if err != nil {
		t.Fatalf("Fix failed: %v", err)
	}

	if result.Repaired != 0 {
		t.Fatalf("group-settled invoices must not be reset, got %d", result.Repaired)
	}
	if invA.Status != models.InvoiceStatusPaid || invB.Status != models.InvoiceStatusPaid {
		t.Error("cumulative settlement state must survive repair")
	}
}

func TestFixAbortsOnStorageError(t *testing.T) {
	orphanA := paidTestInvoice("inv-a", "2025/001", "ACME SRL", "100,00")
	orphanB := paidTestInvoice("inv-b", "2025/002", "ACME SRL", "200,00")
	invoices := []*models.Invoice{orphanA, orphanB}
	store := seedStore(t, nil, invoices)

	store.SetWriteError(errors.StorageError(errors.CodeStorageWrite, "update invoice", fmt.Errorf("disk full")))

	result, err := NewRepairer(nil, store).Fix(context.Background(), nil, invoices)
	if err == nil {
		t.Fatal("expected storage error")
	}
	if result.Repaired != 0 {
		t.Errorf("Repaired = %d, want 0", result.Repaired)
	}
}
