// Package reporter renders reconciliation, verification and repair reports
// for terminal display and programmatic consumption.
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"invoice-reconciliation-service/internal/reconciler"
	"invoice-reconciliation-service/internal/verifier"
)

// OutputFormat selects how reports are rendered
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds the rendering options
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns the console-oriented defaults
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:       FormatConsole,
		CSVDelimiter: ',',
		CSVHeaders:   true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	return nil
}

// ReportGenerator renders controller reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
	now    func() time.Time
}

// NewReportGenerator creates a report generator. A nil config uses the
// console defaults.
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
		now:    time.Now,
	}, nil
}

// WriteRunReport renders the outcome of a reconciliation run.
func (rg *ReportGenerator) WriteRunReport(report *reconciler.RunReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("run report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeRunConsole(report, writer)
	case FormatJSON:
		return rg.writeJSON(report, writer)
	case FormatCSV:
		return rg.writeRunCSV(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// WriteVerifyReport renders the outcome of a verification pass.
func (rg *ReportGenerator) WriteVerifyReport(report *reconciler.VerifyReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("verify report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeVerifyConsole(report, writer)
	case FormatJSON:
		return rg.writeJSON(report, writer)
	case FormatCSV:
		return rg.writeIssuesCSV(report.Report.Issues, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// WriteFixReport renders the outcome of a repair pass.
func (rg *ReportGenerator) WriteFixReport(report *reconciler.FixReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("fix report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeFixConsole(report, writer)
	case FormatJSON:
		return rg.writeJSON(report, writer)
	case FormatCSV:
		return rg.writeIssuesCSV(report.Result.Issues, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) writeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (rg *ReportGenerator) writeRunConsole(report *reconciler.RunReport, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n", rg.now().Format(time.RFC3339))
	if report.AccountID != "" {
		fmt.Fprintf(writer, "Account: %s\n", report.AccountID)
	}
	fmt.Fprintf(writer, "\n=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Invoices reconciled:    %d\n", report.Result.Reconciled)
	fmt.Fprintf(writer, "Invoices reset:         %d\n", report.Result.ResetInvoices)
	fmt.Fprintf(writer, "Transactions reset:     %d\n", report.Result.ResetTransactions)
	fmt.Fprintf(writer, "Invoices skipped:       %d\n", report.Result.SkippedInvoices)
	fmt.Fprintf(writer, "Transactions skipped:   %d\n", report.Result.SkippedTransactions)
	fmt.Fprintf(writer, "\n%s\n", report.Message)
	return nil
}

func (rg *ReportGenerator) writeVerifyConsole(report *reconciler.VerifyReport, writer io.Writer) error {
	fmt.Fprintf(writer, "VERIFICATION REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n", rg.now().Format(time.RFC3339))
	fmt.Fprintf(writer, "\n=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Paid invoices checked:  %d\n", report.Report.TotalPaidInvoices)
	fmt.Fprintf(writer, "Issues found:           %d\n", report.Report.IssuesFound)

	if len(report.Report.Issues) > 0 {
		fmt.Fprintf(writer, "\n=== ISSUES ===\n")
		for _, issue := range report.Report.Issues {
			fmt.Fprintf(writer, "- invoice %s (%s): %s\n", issue.InvoiceNumber, issue.InvoiceID, issue.Message)
			if issue.TransactionID != "" {
				fmt.Fprintf(writer, "    candidate transaction %s, amount %s (expected %s)\n",
					issue.TransactionID, issue.FoundAmount, issue.ExpectedAmount)
			}
		}
	}

	fmt.Fprintf(writer, "\n%s\n", report.Message)
	return nil
}

func (rg *ReportGenerator) writeFixConsole(report *reconciler.FixReport, writer io.Writer) error {
	fmt.Fprintf(writer, "REPAIR REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n", rg.now().Format(time.RFC3339))
	fmt.Fprintf(writer, "\n=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Paid invoices checked:  %d\n", report.Result.TotalPaidInvoices)
	fmt.Fprintf(writer, "Invoices reset:         %d\n", report.Result.Repaired)

	if len(report.Result.Issues) > 0 {
		fmt.Fprintf(writer, "\n=== REPAIRED ===\n")
		for _, issue := range report.Result.Issues {
			fmt.Fprintf(writer, "- invoice %s (%s): %s\n", issue.InvoiceNumber, issue.InvoiceID, issue.Message)
		}
	}

	fmt.Fprintf(writer, "\n%s\n", report.Message)
	return nil
}

func (rg *ReportGenerator) writeRunCSV(report *reconciler.RunReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		headers := []string{"account_id", "reconciled", "reset_invoices", "reset_transactions", "skipped_invoices", "skipped_transactions"}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	record := []string{
		report.AccountID,
		fmt.Sprintf("%d", report.Result.Reconciled),
		fmt.Sprintf("%d", report.Result.ResetInvoices),
		fmt.Sprintf("%d", report.Result.ResetTransactions),
		fmt.Sprintf("%d", report.Result.SkippedInvoices),
		fmt.Sprintf("%d", report.Result.SkippedTransactions),
	}
	if err := csvWriter.Write(record); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}

	return nil
}

func (rg *ReportGenerator) writeIssuesCSV(issues []verifier.Issue, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		headers := []string{"invoice_id", "invoice_number", "kind", "expected_amount", "found_amount", "transaction_id", "message"}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, issue := range issues {
		record := []string{
			issue.InvoiceID,
			issue.InvoiceNumber,
			string(issue.Kind),
			issue.ExpectedAmount,
			issue.FoundAmount,
			issue.TransactionID,
			issue.Message,
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write issue record: %w", err)
		}
	}

	return nil
}
