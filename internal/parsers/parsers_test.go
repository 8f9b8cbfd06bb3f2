package parsers

import (
	"path/filepath"
	"testing"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetGlobalLogger(logger.Nop())
	m.Run()
}

func fixture(name string) string {
	return filepath.Join("testdata", name)
}

func TestParseInvoices(t *testing.T) {
	invoices, stats, err := NewInvoiceParser(nil).ParseInvoices(fixture("invoices.csv"))
	if err != nil {
		t.Fatalf("ParseInvoices failed: %v", err)
	}

	if stats.RecordsParsed != 3 || stats.HasErrors() {
		t.Fatalf("stats = %s, errors = %v", stats, stats.Errors)
	}

	first := invoices[0]
	if first.ID != "inv-001" || first.Type != models.InvoiceTypeIssued {
		t.Errorf("unexpected first invoice: %+v", first)
	}
	if first.Total != "1.234,56" {
		t.Errorf("total should keep the locale format, got %q", first.Total)
	}
	wantDate := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !first.IssueDate.Equal(wantDate) {
		t.Errorf("issue date = %v, want %v", first.IssueDate, wantDate)
	}

	paid := invoices[2]
	if paid.Status != models.InvoiceStatusPaid {
		t.Fatalf("third invoice should be paid: %+v", paid)
	}
	if paid.PaymentDate == nil || paid.PaidAmount == nil || *paid.PaidAmount != "980,10" {
		t.Errorf("payment evidence not parsed: %+v", paid)
	}
}

func TestParseInvoicesSkipsMalformedRecords(t *testing.T) {
	invoices, stats, err := NewInvoiceParser(nil).ParseInvoices(fixture("invoices_mixed.csv"))
	if err != nil {
		t.Fatalf("ParseInvoices failed: %v", err)
	}

	if stats.RecordsParsed != 2 {
		t.Errorf("RecordsParsed = %d, want 2", stats.RecordsParsed)
	}
	if stats.RecordsSkipped != 3 {
		t.Errorf("RecordsSkipped = %d, want 3", stats.RecordsSkipped)
	}
	if len(invoices) != 2 {
		t.Fatalf("invoices = %d, want 2", len(invoices))
	}
	if invoices[0].ID != "inv-001" || invoices[1].ID != "inv-002" {
		t.Errorf("wrong surviving records: %v, %v", invoices[0].ID, invoices[1].ID)
	}

	// Errors carry the offending line and field.
	foundAmount := false
	for _, perr := range stats.Errors {
		if perr.Field == "totale" && perr.Value == "not-a-number" {
			foundAmount = true
		}
	}
	if !foundAmount {
		t.Errorf("amount error not reported: %v", stats.Errors)
	}
}

func TestParseTransactions(t *testing.T) {
	transactions, stats, err := NewTransactionParser(nil).ParseTransactions(fixture("transactions.csv"))
	if err != nil {
		t.Fatalf("ParseTransactions failed: %v", err)
	}

	if stats.RecordsParsed != 3 || stats.HasErrors() {
		t.Fatalf("stats = %s, errors = %v", stats, stats.Errors)
	}

	if transactions[0].Type != models.TransactionTypeCredit || transactions[0].AccountID != "conto-1" {
		t.Errorf("unexpected first transaction: %+v", transactions[0])
	}

	reconciled := transactions[1]
	if !reconciled.Reconciled || reconciled.InvoiceID == nil || *reconciled.InvoiceID != "inv-003" {
		t.Errorf("reconciliation state not parsed: %+v", reconciled)
	}
}

func TestParseTransactionsMissingColumns(t *testing.T) {
	_, _, err := NewTransactionParser(nil).ParseTransactions(fixture("transactions_noheader.csv"))
	if err == nil {
		t.Fatal("expected missing-column error")
	}

	recErr, ok := errors.AsReconcilerError(err)
	if !ok || recErr.Code != errors.CodeMissingColumn {
		t.Errorf("error = %v, want code %s", err, errors.CodeMissingColumn)
	}
}

func TestParseInvoicesFileNotFound(t *testing.T) {
	_, _, err := NewInvoiceParser(nil).ParseInvoices(fixture("does-not-exist.csv"))
	if err == nil {
		t.Fatal("expected file error")
	}

	recErr, ok := errors.AsReconcilerError(err)
	if !ok || recErr.Category != errors.CategoryFile {
		t.Errorf("error = %v, want file category", err)
	}
}
