// Package verifier re-derives payment evidence for paid invoices and repairs
// the ones whose evidence no longer holds.
//
// Verification is read-only and works from the raw record fields, not from
// the stored invoice-transaction links: a paid invoice counts as supported
// when some transaction (or group settlement) would still justify the
// payment under the current matching rules.
package verifier

import (
	"fmt"

	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// IssueKind classifies why a paid invoice failed verification
type IssueKind string

const (
	// IssueNoTransaction means no transaction is compatible with the
	// payment in direction, date and amount
	IssueNoTransaction IssueKind = "no_supporting_transaction"

	// IssueNoReference means a transaction matches the amount but its
	// description never references the invoice
	IssueNoReference IssueKind = "transaction_without_reference"
)

// Issue is one paid invoice whose payment evidence could not be re-derived
type Issue struct {
	InvoiceID      string    `json:"invoice_id"`
	InvoiceNumber  string    `json:"invoice_number"`
	Kind           IssueKind `json:"kind"`
	ExpectedAmount string    `json:"expected_amount"`

	// FoundAmount and TransactionID describe the nearest amount-compatible
	// candidate, only set for IssueNoReference
	FoundAmount   string `json:"found_amount,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`

	Message string `json:"message"`
}

// Report is the outcome of one verification pass
type Report struct {
	TotalPaidInvoices int     `json:"total_paid_invoices"`
	IssuesFound       int     `json:"issues_found"`
	Issues            []Issue `json:"issues"`
}

// Clean reports whether every paid invoice has supporting evidence
func (r *Report) Clean() bool {
	return r.IssuesFound == 0
}

// Verifier checks paid invoices against the transactions that should
// support them. It never mutates any record.
type Verifier struct {
	config *matcher.MatchingConfig
	logger logger.Logger
}

// NewVerifier creates a verifier. A nil config falls back to the production
// defaults so that verification applies the same tolerances as matching.
func NewVerifier(config *matcher.MatchingConfig) *Verifier {
	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}

	return &Verifier{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("verifier"),
	}
}

type parsedTransaction struct {
	transaction *models.Transaction
	amount      decimal.Decimal
}

type paidInvoice struct {
	invoice   *models.Invoice
	amount    decimal.Decimal
	reference matcher.Reference
}

// Verify re-derives the payment evidence of every paid invoice in the
// snapshot. Records with unparseable amounts are skipped and logged.
func (v *Verifier) Verify(transactions []*models.Transaction, invoices []*models.Invoice) *Report {
	report := &Report{}

	parsedTxs := make([]parsedTransaction, 0, len(transactions))
	for _, tx := range transactions {
		amount, err := models.ParsePositiveAmount(tx.Amount)
		if err != nil {
			v.logger.WithFields(logger.Fields{
				"transaction_id": tx.ID,
				"amount":         tx.Amount,
			}).WithError(err).Warn("Skipping transaction with invalid amount")
			continue
		}
		parsedTxs = append(parsedTxs, parsedTransaction{transaction: tx, amount: amount})
	}

	var paid []paidInvoice
	for _, inv := range invoices {
		if inv.Status != models.InvoiceStatusPaid {
			continue
		}

		amount, err := models.ParsePositiveAmount(inv.Total)
		if err != nil {
			v.logger.WithFields(logger.Fields{
				"invoice_id": inv.ID,
				"total":      inv.Total,
			}).WithError(err).Warn("Skipping paid invoice with invalid total")
			continue
		}

		paid = append(paid, paidInvoice{
			invoice:   inv,
			amount:    amount,
			reference: matcher.NewReference(v.config, inv),
		})
	}

	report.TotalPaidInvoices = len(paid)

	for _, pi := range paid {
		if issue := v.verifyInvoice(pi, parsedTxs, paid); issue != nil {
			report.Issues = append(report.Issues, *issue)
		}
	}

	report.IssuesFound = len(report.Issues)

	v.logger.WithFields(logger.Fields{
		"paid_invoices": report.TotalPaidInvoices,
		"issues":        report.IssuesFound,
	}).Info("Verification completed")

	return report
}

// verifyInvoice returns nil when the payment evidence holds, or the issue
// describing why it does not.
func (v *Verifier) verifyInvoice(pi paidInvoice, transactions []parsedTransaction, paid []paidInvoice) *Issue {
	var candidate *parsedTransaction

	for i := range transactions {
		pt := &transactions[i]

		if !v.isCompatible(pi, pt) {
			continue
		}

		if pi.reference.Matches(pt.transaction.Description) {
			return nil
		}

		if candidate == nil {
			candidate = pt
		}
	}

	if v.cumulativeSupported(pi, transactions, paid) {
		return nil
	}

	if candidate != nil {
		return &Issue{
			InvoiceID:      pi.invoice.ID,
			InvoiceNumber:  pi.invoice.Number,
			Kind:           IssueNoReference,
			ExpectedAmount: pi.invoice.Total,
			FoundAmount:    candidate.transaction.Amount,
			TransactionID:  candidate.transaction.ID,
			Message: fmt.Sprintf("transaction %s matches the amount of invoice %s but never references it",
				candidate.transaction.ID, pi.invoice.Number),
		}
	}

	return &Issue{
		InvoiceID:      pi.invoice.ID,
		InvoiceNumber:  pi.invoice.Number,
		Kind:           IssueNoTransaction,
		ExpectedAmount: pi.invoice.Total,
		Message:        fmt.Sprintf("no transaction supports the payment of invoice %s", pi.invoice.Number),
	}
}

// isCompatible applies the direction, date order and amount tolerance checks
// of single-invoice matching.
func (v *Verifier) isCompatible(pi paidInvoice, pt *parsedTransaction) bool {
	if !pt.transaction.MatchesInvoiceType(pi.invoice.Type) {
		return false
	}

	if !pt.transaction.Date.IsZero() && !pi.invoice.IssueDate.IsZero() &&
		pt.transaction.Date.Before(pi.invoice.IssueDate) {
		return false
	}

	return v.config.WithinTolerance(pi.amount, pt.amount)
}

// cumulativeSupported re-derives group settlement evidence: an incoming
// payment that references the invoice and whose amount covers the sum of all
// paid issued invoices it references. Without this, every invoice settled by
// a cumulative match would be flagged as unsupported.
func (v *Verifier) cumulativeSupported(pi paidInvoice, transactions []parsedTransaction, paid []paidInvoice) bool {
	if pi.invoice.Type != models.InvoiceTypeIssued {
		return false
	}

	for i := range transactions {
		pt := &transactions[i]
		tx := pt.transaction

		if !tx.IsCredit() {
			continue
		}

		if !pi.reference.Matches(tx.Description) {
			continue
		}

		if !tx.Date.IsZero() && !pi.invoice.IssueDate.IsZero() && pi.invoice.IssueDate.After(tx.Date) {
			continue
		}

		sum := decimal.Zero
		count := 0
		for _, other := range paid {
			if other.invoice.Type != models.InvoiceTypeIssued {
				continue
			}
			if !tx.Date.IsZero() && !other.invoice.IssueDate.IsZero() && other.invoice.IssueDate.After(tx.Date) {
				continue
			}
			if !other.reference.Matches(tx.Description) {
				continue
			}
			sum = sum.Add(other.amount)
			count++
		}

		if count >= 2 && v.config.WithinCumulativeTolerance(sum, pt.amount) {
			return true
		}
	}

	return false
}
