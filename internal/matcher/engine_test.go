package matcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"invoice-reconciliation-service/internal/ledger"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetGlobalLogger(logger.Nop())
	m.Run()
}

func testDate(day int) time.Time {
	return time.Date(2025, time.March, day, 0, 0, 0, 0, time.UTC)
}

func testInvoice(id, number, counterparty, total string) *models.Invoice {
	return &models.Invoice{
		ID:               id,
		Type:             models.InvoiceTypeIssued,
		Number:           number,
		CounterpartyName: counterparty,
		Total:            total,
		Status:           models.InvoiceStatusSent,
		IssueDate:        testDate(1),
	}
}

func testTransaction(id, amount, description string, day int) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		Type:        models.TransactionTypeCredit,
		Amount:      amount,
		Date:        testDate(day),
		Description: description,
		AccountID:   "conto-1",
	}
}

func runEngine(t *testing.T, transactions []*models.Transaction, invoices []*models.Invoice) (*RunResult, *ledger.MemoryStore) {
	t.Helper()

	store := ledger.NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveInvoices(ctx, invoices); err != nil {
		t.Fatalf("seed invoices: %v", err)
	}
	if err := store.SaveTransactions(ctx, transactions); err != nil {
		t.Fatalf("seed transactions: %v", err)
	}

	engine := NewMatchEngine(nil, store)
	result, err := engine.Run(ctx, transactions, invoices, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return result, store
}

func TestRunMatchesInvoiceByNumberReference(t *testing.T) {
	inv := testInvoice("inv-1", "2025/042", "ACME SRL", "1.000,00")
	tx := testTransaction("tx-1", "1.000,00", "Bonifico saldo fattura 2025042", 10)

	result, store := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{inv})

	if result.Reconciled != 1 {
		t.Fatalf("Reconciled = %d, want 1", result.Reconciled)
	}
	if inv.Status != models.InvoiceStatusPaid {
		t.Errorf("invoice status = %s, want %s", inv.Status, models.InvoiceStatusPaid)
	}
	if inv.PaymentDate == nil || !inv.PaymentDate.Equal(testDate(10)) {
		t.Errorf("payment date = %v, want %v", inv.PaymentDate, testDate(10))
	}
	if inv.PaidAmount == nil || *inv.PaidAmount != "1.000,00" {
		t.Errorf("paid amount = %v, want 1.000,00", inv.PaidAmount)
	}
	if !tx.Reconciled || tx.InvoiceID == nil || *tx.InvoiceID != "inv-1" {
		t.Errorf("transaction not linked to invoice: %+v", tx)
	}

	// Persisted state mirrors the in-memory records.
	stored, err := store.ListInvoices(context.Background())
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if stored[0].Status != models.InvoiceStatusPaid {
		t.Errorf("stored invoice status = %s, want %s", stored[0].Status, models.InvoiceStatusPaid)
	}
}

func TestRunRejectsPaymentBeforeIssueDate(t *testing.T) {
	inv := testInvoice("inv-1", "2025/042", "ACME SRL", "1.000,00")
	inv.IssueDate = testDate(15)
	tx := testTransaction("tx-1", "1.000,00", "Bonifico saldo fattura 2025042", 10)

	result, _ := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{inv})

	if result.Reconciled != 0 {
		t.Fatalf("Reconciled = %d, want 0", result.Reconciled)
	}
	if inv.Status != models.InvoiceStatusSent {
		t.Errorf("invoice status = %s, want %s", inv.Status, models.InvoiceStatusSent)
	}
}

func TestRunRejectsWrongDirection(t *testing.T) {
	inv := testInvoice("inv-1", "2025/042", "ACME SRL", "1.000,00")
	tx := testTransaction("tx-1", "1.000,00", "Bonifico saldo fattura 2025042", 10)
	tx.Type = models.TransactionTypeDebit

	result, _ := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{inv})

	if result.Reconciled != 0 {
		t.Fatalf("Reconciled = %d, want 0", result.Reconciled)
	}
}

func TestRunRequiresTextualReference(t *testing.T) {
	inv := testInvoice("inv-1", "2025/042", "ACME SRL", "1.000,00")
	tx := testTransaction("tx-1", "1.000,00", "Bonifico generico", 10)

	result, _ := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{inv})

	if result.Reconciled != 0 {
		t.Fatalf("amount-only candidate must not match, Reconciled = %d", result.Reconciled)
	}
}

func TestRunToleranceBoundaryInclusive(t *testing.T) {
	// Tolerance for 250,00 is max(0.02, 250*0.01) = 2.50.
	cases := []struct {
		name   string
		amount string
		want   int
	}{
		{"at boundary", "252,50", 1},
		{"past boundary", "252,51", 0},
		{"below boundary", "247,50", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := testInvoice("inv-1", "2025/042", "ACME SRL", "250,00")
			tx := testTransaction("tx-1", tc.amount, "fattura 2025042", 10)

			result, _ := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{inv})
			if result.Reconciled != tc.want {
				t.Errorf("Reconciled = %d, want %d", result.Reconciled, tc.want)
			}
		})
	}
}

func TestRunFirstCandidateWins(t *testing.T) {
	inv := testInvoice("inv-1", "2025/042", "ACME SRL", "100,00")
	exact := testTransaction("tx-exact", "100,00", "fattura 2025042", 12)
	near := testTransaction("tx-near", "100,50", "fattura 2025042", 10)

	// The nearer-in-order candidate wins even when a later one is exact.
	result, _ := runEngine(t, []*models.Transaction{near, exact}, []*models.Invoice{inv})

	if result.Reconciled != 1 {
		t.Fatalf("Reconciled = %d, want 1", result.Reconciled)
	}
	if !near.Reconciled {
		t.Errorf("first qualifying transaction should be the one matched")
	}
	if exact.Reconciled {
		t.Errorf("later exact transaction should stay unreconciled")
	}
}

func TestRunNoDoubleSpend(t *testing.T) {
	invA := testInvoice("inv-a", "2025/001", "ACME SRL", "100,00")
	invB := testInvoice("inv-b", "2025/001", "ACME SRL", "100,00")
	tx := testTransaction("tx-1", "100,00", "fattura 2025001", 10)

	result, _ := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{invA, invB})

	if result.Reconciled != 1 {
		t.Fatalf("Reconciled = %d, want 1", result.Reconciled)
	}
	if invA.Status != models.InvoiceStatusPaid {
		t.Errorf("first invoice should be paid")
	}
	if invB.Status != models.InvoiceStatusSent {
		t.Errorf("second invoice must not reuse the spent transaction")
	}
}

func TestRunCumulativeMatch(t *testing.T) {
	invA := testInvoice("inv-a", "FT-1", "Rossi Costruzioni SRL", "500,00")
	invB := testInvoice("inv-b", "FT-2", "Rossi Costruzioni SRL", "300,00")
	tx := testTransaction("tx-1", "800,00", "Saldo fatture Rossi Costruzioni", 10)

	result, _ := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{invA, invB})

	if result.Reconciled != 2 {
		t.Fatalf("Reconciled = %d, want 2", result.Reconciled)
	}
	for _, inv := range []*models.Invoice{invA, invB} {
		if inv.Status != models.InvoiceStatusPaid {
			t.Errorf("invoice %s status = %s, want %s", inv.ID, inv.Status, models.InvoiceStatusPaid)
		}
	}
	// Each invoice is paid its own amount, not a share of the transaction.
	if invA.PaidAmount == nil || *invA.PaidAmount != "500,00" {
		t.Errorf("invA paid amount = %v, want 500,00", invA.PaidAmount)
	}
	if invB.PaidAmount == nil || *invB.PaidAmount != "300,00" {
		t.Errorf("invB paid amount = %v, want 300,00", invB.PaidAmount)
	}

	if !tx.Reconciled || tx.InvoiceID == nil || *tx.InvoiceID != "inv-a" {
		t.Errorf("transaction should reference the first funded invoice: %+v", tx)
	}
	wantNote := "Pagamento cumulativo fatture: inv-a, inv-b"
	if tx.Note == nil || *tx.Note != wantNote {
		t.Errorf("note = %v, want %q", tx.Note, wantNote)
	}
}

func TestRunCumulativeNeedsAtLeastTwoInvoices(t *testing.T) {
	// Reference matches by counterparty only, phase 1 fails on amount, and
	// phase 2 must not fire for a single invoice.
	inv := testInvoice("inv-a", "FT-1", "Rossi Costruzioni SRL", "500,00")
	tx := testTransaction("tx-1", "800,00", "Saldo fatture Rossi Costruzioni", 10)

	result, _ := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{inv})

	if result.Reconciled != 0 {
		t.Fatalf("Reconciled = %d, want 0", result.Reconciled)
	}
}

func TestRunCumulativeToleranceBoundary(t *testing.T) {
	// Cumulative tolerance for 800,00 is max(0.10, 800*0.02) = 16.00.
	cases := []struct {
		name   string
		amount string
		want   int
	}{
		{"at boundary", "816,00", 2},
		{"past boundary", "816,01", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			invA := testInvoice("inv-a", "FT-1", "Rossi Costruzioni SRL", "500,00")
			invB := testInvoice("inv-b", "FT-2", "Rossi Costruzioni SRL", "300,00")
			tx := testTransaction("tx-1", tc.amount, "Saldo Rossi Costruzioni", 10)

			result, _ := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{invA, invB})
			if result.Reconciled != tc.want {
				t.Errorf("Reconciled = %d, want %d", result.Reconciled, tc.want)
			}
		})
	}
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	badInv := testInvoice("inv-bad", "2025/042", "ACME SRL", "not-a-number")
	badTx := testTransaction("tx-bad", "-50,00", "fattura 2025042", 10)
	goodInv := testInvoice("inv-good", "2025/099", "ACME SRL", "100,00")
	goodTx := testTransaction("tx-good", "100,00", "fattura 2025099", 10)

	result, _ := runEngine(t,
		[]*models.Transaction{badTx, goodTx},
		[]*models.Invoice{badInv, goodInv})

	if result.SkippedInvoices != 1 || result.SkippedTransactions != 1 {
		t.Errorf("skipped = %d/%d, want 1/1", result.SkippedInvoices, result.SkippedTransactions)
	}
	if result.Reconciled != 1 {
		t.Errorf("Reconciled = %d, want 1", result.Reconciled)
	}
	if goodInv.Status != models.InvoiceStatusPaid {
		t.Errorf("valid records should still reconcile")
	}
}

func TestRunResetClearsPreviousState(t *testing.T) {
	inv := testInvoice("inv-1", "2025/042", "ACME SRL", "100,00")
	tx := testTransaction("tx-1", "100,00", "fattura 2025042", 10)

	store := ledger.NewMemoryStore()
	ctx := context.Background()
	invoices := []*models.Invoice{inv}
	transactions := []*models.Transaction{tx}
	if err := store.SaveInvoices(ctx, invoices); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveTransactions(ctx, transactions); err != nil {
		t.Fatal(err)
	}

	engine := NewMatchEngine(nil, store)

	first, err := engine.Run(ctx, transactions, invoices, true)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Reconciled != 1 || first.ResetInvoices != 0 {
		t.Fatalf("first run = %+v", first)
	}

	// A second full run clears and re-derives the same state.
	second, err := engine.Run(ctx, transactions, invoices, true)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.ResetInvoices != 1 || second.ResetTransactions != 1 {
		t.Errorf("second run resets = %d/%d, want 1/1", second.ResetInvoices, second.ResetTransactions)
	}
	if second.Reconciled != 1 {
		t.Errorf("second run Reconciled = %d, want 1", second.Reconciled)
	}
	if inv.Status != models.InvoiceStatusPaid || !tx.Reconciled {
		t.Errorf("state should converge back to reconciled")
	}
}

func TestRunWithoutResetSkipsReconciledRecords(t *testing.T) {
	inv := testInvoice("inv-1", "2025/042", "ACME SRL", "100,00")
	tx := testTransaction("tx-1", "100,00", "fattura 2025042", 10)
	tx.MarkReconciled("other-invoice", "")

	result, _ := runEngine(t, []*models.Transaction{tx}, []*models.Invoice{inv})

	if result.Reconciled != 0 {
		t.Fatalf("reconciled transaction must not be reused, got %d", result.Reconciled)
	}
}

func TestRunAbortsOnStorageError(t *testing.T) {
	invA := testInvoice("inv-a", "2025/001", "ACME SRL", "100,00")
	invB := testInvoice("inv-b", "2025/002", "ACME SRL", "200,00")
	txA := testTransaction("tx-a", "100,00", "fattura 2025001", 10)
	txB := testTransaction("tx-b", "200,00", "fattura 2025002", 10)

	store := ledger.NewMemoryStore()
	ctx := context.Background()
	invoices := []*models.Invoice{invA, invB}
	transactions := []*models.Transaction{txA, txB}
	if err := store.SaveInvoices(ctx, invoices); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveTransactions(ctx, transactions); err != nil {
		t.Fatal(err)
	}

	store.SetWriteError(errors.StorageError(errors.CodeStorageWrite, "update invoice", fmt.Errorf("disk full")))

	engine := NewMatchEngine(nil, store)
	result, err := engine.Run(ctx, transactions, invoices, false)
	if err == nil {
		t.Fatal("expected storage error to abort the run")
	}
	if result.Reconciled != 0 {
		t.Errorf("no match should be counted after a failed write, got %d", result.Reconciled)
	}

	recErr, ok := errors.AsReconcilerError(err)
	if !ok || recErr.Category != errors.CategoryStorage {
		t.Errorf("error category = %v, want storage", err)
	}
}

func TestRunDeterministicAcrossRuns(t *testing.T) {
	build := func() ([]*models.Transaction, []*models.Invoice) {
		return []*models.Transaction{
				testTransaction("tx-1", "100,00", "fattura 2025001", 10),
				testTransaction("tx-2", "100,00", "fattura 2025001", 11),
			}, []*models.Invoice{
				testInvoice("inv-1", "2025/001", "ACME SRL", "100,00"),
			}
	}

	txs1, invs1 := build()
	first, _ := runEngine(t, txs1, invs1)

	txs2, invs2 := build()
	second, _ := runEngine(t, txs2, invs2)

	if first.Reconciled != second.Reconciled {
		t.Fatalf("runs diverged: %d vs %d", first.Reconciled, second.Reconciled)
	}
	if txs1[0].Reconciled != txs2[0].Reconciled || txs1[1].Reconciled != txs2[1].Reconciled {
		t.Errorf("same input must pick the same transaction")
	}
}
