package verifier

import (
	"context"

	"invoice-reconciliation-service/internal/ledger"
	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"
)

// FixResult summarizes one repair pass
type FixResult struct {
	// TotalPaidInvoices counts the paid invoices inspected
	TotalPaidInvoices int `json:"total_paid_invoices"`

	// Repaired counts the invoices reset back to sent
	Repaired int `json:"repaired"`

	// Issues lists the verification findings the repair acted on
	Issues []Issue `json:"issues"`
}

// Repairer resets paid invoices whose payment evidence no longer holds. It
// reuses the verifier's findings, so a repaired ledger verifies clean and a
// second repair pass is a no-op.
type Repairer struct {
	verifier *Verifier
	writer   ledger.Writer
	logger   logger.Logger
}

// NewRepairer creates a repairer sharing the verifier's tolerances.
func NewRepairer(config *matcher.MatchingConfig, writer ledger.Writer) *Repairer {
	return &Repairer{
		verifier: NewVerifier(config),
		writer:   writer,
		logger:   logger.GetGlobalLogger().WithComponent("repairer"),
	}
}

// Fix verifies the snapshot and resets every flagged invoice back to sent,
// clearing its payment evidence. Transactions are never touched: a stale
// link is resolved by the next full reconciliation run. A storage failure
// aborts the pass; invoices already reset stay reset.
func (r *Repairer) Fix(ctx context.Context, transactions []*models.Transaction, invoices []*models.Invoice) (*FixResult, error) {
	report := r.verifier.Verify(transactions, invoices)

	result := &FixResult{
		TotalPaidInvoices: report.TotalPaidInvoices,
		Issues:            report.Issues,
	}

	byID := make(map[string]*models.Invoice, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
	}

	for _, issue := range report.Issues {
		inv, ok := byID[issue.InvoiceID]
		if !ok {
			continue
		}

		inv.ResetPayment()
		if err := r.writer.UpdateInvoice(ctx, ledger.InvoiceUpdateFrom(inv)); err != nil {
			return result, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite, "reset invoice failed")
		}
		result.Repaired++

		r.logger.WithFields(logger.Fields{
			"invoice_id": inv.ID,
			"number":     inv.Number,
			"kind":       string(issue.Kind),
		}).Info("Reset invoice without payment evidence")
	}

	return result, nil
}
