package matcher

import (
	"context"
	"strings"

	"invoice-reconciliation-service/internal/ledger"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// MatchEngine runs the two-phase matching algorithm over a snapshot of
// invoices and transactions, persisting each match through the ledger writer.
//
// The engine is synchronous and not safe for concurrent runs against the
// same ledger: the persisted Reconciled flag narrows but does not eliminate
// the read-then-write race between two overlapping runs.
type MatchEngine struct {
	config *MatchingConfig
	writer ledger.Writer
	logger logger.Logger
}

// RunResult summarizes one reconciliation run
type RunResult struct {
	// Reconciled counts invoices transitioned to paid across both phases
	Reconciled int `json:"reconciled"`

	// ResetInvoices and ResetTransactions count records cleared by the
	// reset phase
	ResetInvoices     int `json:"reset_invoices"`
	ResetTransactions int `json:"reset_transactions"`

	// SkippedInvoices and SkippedTransactions count records excluded for
	// unparseable or non-positive amounts
	SkippedInvoices     int `json:"skipped_invoices"`
	SkippedTransactions int `json:"skipped_transactions"`
}

// NewMatchEngine creates a matching engine. A nil config falls back to the
// production defaults.
func NewMatchEngine(config *MatchingConfig, writer ledger.Writer) *MatchEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &MatchEngine{
		config: config,
		writer: writer,
		logger: logger.GetGlobalLogger().WithComponent("match_engine"),
	}
}

// parsedInvoice pairs an invoice with its amount parsed once per run
type parsedInvoice struct {
	invoice   *models.Invoice
	amount    decimal.Decimal
	reference Reference
}

// parsedTransaction pairs a transaction with its amount parsed once per run
type parsedTransaction struct {
	transaction *models.Transaction
	amount      decimal.Decimal
}

// Run executes the reconciliation over the given snapshot. With resetPrevious
// every previously paid invoice and reconciled transaction is cleared first,
// making the run repeatable from scratch.
//
// Malformed records are skipped and logged, never fatal. A storage write
// failure aborts the remaining iterations; matches already persisted stay
// persisted. The returned result reflects the work completed up to the
// failure.
func (e *MatchEngine) Run(ctx context.Context, transactions []*models.Transaction, invoices []*models.Invoice, resetPrevious bool) (*RunResult, error) {
	result := &RunResult{}

	if resetPrevious {
		if err := e.resetPrevious(ctx, transactions, invoices, result); err != nil {
			return result, err
		}
	}

	parsedTxs := e.parseTransactions(transactions, result)
	parsedInvs := e.parseInvoices(invoices, result)

	// matchedTransactionIDs prevents one transaction from settling two
	// invoices within the same run. Scoped to this invocation.
	matchedTransactionIDs := make(map[string]bool)

	if err := e.runSinglePhase(ctx, parsedTxs, parsedInvs, matchedTransactionIDs, result); err != nil {
		return result, err
	}

	if err := e.runCumulativePhase(ctx, parsedTxs, parsedInvs, matchedTransactionIDs, result); err != nil {
		return result, err
	}

	e.logger.WithFields(logger.Fields{
		"reconciled":           result.Reconciled,
		"reset_invoices":       result.ResetInvoices,
		"skipped_invoices":     result.SkippedInvoices,
		"skipped_transactions": result.SkippedTransactions,
	}).Info("Reconciliation run completed")

	return result, nil
}

// resetPrevious clears every paid invoice and reconciled transaction so the
// run starts from a fully unreconciled state.
func (e *MatchEngine) resetPrevious(ctx context.Context, transactions []*models.Transaction, invoices []*models.Invoice, result *RunResult) error {
	for _, inv := range invoices {
		if inv.Status != models.InvoiceStatusPaid {
			continue
		}

		inv.ResetPayment()
		if err := e.writer.UpdateInvoice(ctx, ledger.InvoiceUpdateFrom(inv)); err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite, "reset invoice failed")
		}
		result.ResetInvoices++
	}

	for _, tx := range transactions {
		if !tx.Reconciled {
			continue
		}

		tx.ClearReconciliation()
		if err := e.writer.UpdateTransaction(ctx, ledger.TransactionUpdateFrom(tx)); err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite, "reset transaction failed")
		}
		result.ResetTransactions++
	}

	e.logger.WithFields(logger.Fields{
		"invoices":     result.ResetInvoices,
		"transactions": result.ResetTransactions,
	}).Debug("Cleared previous reconciliation state")

	return nil
}

func (e *MatchEngine) parseTransactions(transactions []*models.Transaction, result *RunResult) []parsedTransaction {
	parsed := make([]parsedTransaction, 0, len(transactions))
	for _, tx := range transactions {
		amount, err := models.ParsePositiveAmount(tx.Amount)
		if err != nil {
			e.logger.WithFields(logger.Fields{
				"transaction_id": tx.ID,
				"amount":         tx.Amount,
			}).WithError(err).Warn("Skipping transaction with invalid amount")
			result.SkippedTransactions++
			continue
		}
		parsed = append(parsed, parsedTransaction{transaction: tx, amount: amount})
	}
	return parsed
}

func (e *MatchEngine) parseInvoices(invoices []*models.Invoice, result *RunResult) []parsedInvoice {
	parsed := make([]parsedInvoice, 0, len(invoices))
	for _, inv := range invoices {
		if !inv.IsOutstanding() {
			continue
		}

		amount, err := models.ParsePositiveAmount(inv.Total)
		if err != nil {
			e.logger.WithFields(logger.Fields{
				"invoice_id": inv.ID,
				"total":      inv.Total,
			}).WithError(err).Warn("Skipping invoice with invalid total")
			result.SkippedInvoices++
			continue
		}

		parsed = append(parsed, parsedInvoice{
			invoice:   inv,
			amount:    amount,
			reference: NewReference(e.config, inv),
		})
	}
	return parsed
}

// runSinglePhase settles each outstanding invoice with the first compatible
// transaction. Selection is first-candidate-wins in transaction iteration
// order; qualifying candidates are not ranked.
func (e *MatchEngine) runSinglePhase(ctx context.Context, transactions []parsedTransaction, invoices []parsedInvoice, matchedTransactionIDs map[string]bool, result *RunResult) error {
	for _, pi := range invoices {
		inv := pi.invoice

		// A cumulative repair earlier in the run may have paid this
		// invoice already.
		if !inv.IsOutstanding() {
			continue
		}

		for _, pt := range transactions {
			tx := pt.transaction

			if matchedTransactionIDs[tx.ID] || tx.Reconciled {
				continue
			}

			if !e.isCandidate(pi, pt) {
				continue
			}

			if !pi.reference.Matches(tx.Description) {
				continue
			}

			inv.MarkPaid(tx.Date, pi.amount)
			tx.MarkReconciled(inv.ID, "")

			err := e.writer.ApplyMatch(ctx,
				[]ledger.InvoiceUpdate{ledger.InvoiceUpdateFrom(inv)},
				ledger.TransactionUpdateFrom(tx))
			if err != nil {
				return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite, "persist match failed")
			}

			matchedTransactionIDs[tx.ID] = true
			result.Reconciled++

			e.logger.WithFields(logger.Fields{
				"invoice_id":     inv.ID,
				"transaction_id": tx.ID,
				"amount":         pi.amount.String(),
			}).Debug("Matched invoice to transaction")

			break
		}
	}

	return nil
}

// isCandidate checks direction, date order and amount tolerance. The textual
// reference is checked separately so the verifier can report amount-only
// candidates.
func (e *MatchEngine) isCandidate(pi parsedInvoice, pt parsedTransaction) bool {
	if !pt.transaction.MatchesInvoiceType(pi.invoice.Type) {
		return false
	}

	// A payment cannot predate the invoice. Only enforced when both dates
	// are present.
	if !pt.transaction.Date.IsZero() && !pi.invoice.IssueDate.IsZero() &&
		pt.transaction.Date.Before(pi.invoice.IssueDate) {
		return false
	}

	return e.config.WithinTolerance(pi.amount, pt.amount)
}

// runCumulativePhase settles groups of issued invoices with one incoming
// payment whose amount covers their sum.
func (e *MatchEngine) runCumulativePhase(ctx context.Context, transactions []parsedTransaction, invoices []parsedInvoice, matchedTransactionIDs map[string]bool, result *RunResult) error {
	for _, pt := range transactions {
		tx := pt.transaction

		if matchedTransactionIDs[tx.ID] || tx.Reconciled {
			continue
		}

		if !tx.IsCredit() {
			continue
		}

		var group []parsedInvoice
		sum := decimal.Zero

		for _, pi := range invoices {
			inv := pi.invoice

			if !inv.IsOutstanding() || inv.Type != models.InvoiceTypeIssued {
				continue
			}

			if !tx.Date.IsZero() && !inv.IssueDate.IsZero() && inv.IssueDate.After(tx.Date) {
				continue
			}

			if !pi.reference.Matches(tx.Description) {
				continue
			}

			group = append(group, pi)
			sum = sum.Add(pi.amount)
		}

		if len(group) < 2 || !e.config.WithinCumulativeTolerance(sum, pt.amount) {
			continue
		}

		invoiceIDs := make([]string, 0, len(group))
		updates := make([]ledger.InvoiceUpdate, 0, len(group))
		for _, pi := range group {
			// Each invoice records its own full amount, not a pro-rata
			// share of the funding transaction.
			pi.invoice.MarkPaid(tx.Date, pi.amount)
			invoiceIDs = append(invoiceIDs, pi.invoice.ID)
			updates = append(updates, ledger.InvoiceUpdateFrom(pi.invoice))
		}

		tx.MarkReconciled(group[0].invoice.ID, CumulativeNote(invoiceIDs))

		if err := e.writer.ApplyMatch(ctx, updates, ledger.TransactionUpdateFrom(tx)); err != nil {
			return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageWrite, "persist cumulative match failed")
		}

		matchedTransactionIDs[tx.ID] = true
		result.Reconciled += len(group)

		e.logger.WithFields(logger.Fields{
			"transaction_id": tx.ID,
			"invoice_ids":    strings.Join(invoiceIDs, ","),
			"sum":            sum.String(),
		}).Debug("Matched transaction to invoice group")
	}

	return nil
}

// CumulativeNote renders the note recorded on a transaction that settles
// several invoices at once.
func CumulativeNote(invoiceIDs []string) string {
	return "Pagamento cumulativo fatture: " + strings.Join(invoiceIDs, ", ")
}
