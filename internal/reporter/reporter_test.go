package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/reconciler"
	"invoice-reconciliation-service/internal/verifier"
)

func runReport() *reconciler.RunReport {
	return &reconciler.RunReport{
		AccountID: "conto-1",
		Result: &matcher.RunResult{
			Reconciled:        3,
			ResetInvoices:     1,
			ResetTransactions: 1,
		},
		Message: "Riconciliazione completata: 3 fatture riconciliate",
	}
}

func verifyReport() *reconciler.VerifyReport {
	return &reconciler.VerifyReport{
		Report: &verifier.Report{
			TotalPaidInvoices: 2,
			IssuesFound:       1,
			Issues: []verifier.Issue{{
				InvoiceID:      "inv-1",
				InvoiceNumber:  "2025/042",
				Kind:           verifier.IssueNoReference,
				ExpectedAmount: "1.000,00",
				FoundAmount:    "1.000,00",
				TransactionID:  "tx-9",
				Message:        "transaction tx-9 matches the amount of invoice 2025/042 but never references it",
			}},
		},
		Message: "Verifica completata: 2 fatture pagate, 1 senza evidenza di pagamento",
	}
}

func TestWriteRunReportConsole(t *testing.T) {
	gen, err := NewReportGenerator(nil)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gen.WriteRunReport(runReport(), &buf); err != nil {
		t.Fatalf("WriteRunReport failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"RECONCILIATION REPORT", "Account: conto-1", "Invoices reconciled:    3", "3 fatture riconciliate"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteRunReportJSON(t *testing.T) {
	gen, err := NewReportGenerator(&ReportConfig{Format: FormatJSON})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gen.WriteRunReport(runReport(), &buf); err != nil {
		t.Fatalf("WriteRunReport failed: %v", err)
	}

	var decoded reconciler.RunReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if decoded.Result.Reconciled != 3 || decoded.AccountID != "conto-1" {
		t.Errorf("unexpected decoded report: %+v", decoded)
	}
}

func TestWriteVerifyReportConsoleListsIssues(t *testing.T) {
	gen, err := NewReportGenerator(nil)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gen.WriteVerifyReport(verifyReport(), &buf); err != nil {
		t.Fatalf("WriteVerifyReport failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "invoice 2025/042") || !strings.Contains(out, "candidate transaction tx-9") {
		t.Errorf("issue detail missing:\n%s", out)
	}
}

func TestWriteVerifyReportCSV(t *testing.T) {
	gen, err := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: ';', CSVHeaders: true})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gen.WriteVerifyReport(verifyReport(), &buf); err != nil {
		t.Fatalf("WriteVerifyReport failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "invoice_id;invoice_number") {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "inv-1;2025/042;transaction_without_reference") {
		t.Errorf("unexpected record: %q", lines[1])
	}
}

func TestWriteFixReportConsole(t *testing.T) {
	gen, err := NewReportGenerator(nil)
	if err != nil {
		t.Fatal(err)
	}

	report := &reconciler.FixReport{
		Result: &verifier.FixResult{
			TotalPaidInvoices: 2,
			Repaired:          1,
			Issues:            verifyReport().Report.Issues,
		},
		Message: "Correzione completata: 1 fatture ripristinate",
	}

	var buf bytes.Buffer
	if err := gen.WriteFixReport(report, &buf); err != nil {
		t.Fatalf("WriteFixReport failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Invoices reset:         1") || !strings.Contains(out, "REPAIRED") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestInvalidFormatRejected(t *testing.T) {
	if _, err := NewReportGenerator(&ReportConfig{Format: "xml"}); err == nil {
		t.Fatal("expected invalid format error")
	}
}
