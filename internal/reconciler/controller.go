// Package reconciler orchestrates matching, verification and repair over a
// ledger store. It owns data loading and scoping; the algorithms live in the
// matcher and verifier packages.
package reconciler

import (
	"context"
	"fmt"

	"invoice-reconciliation-service/internal/ledger"
	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/verifier"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"
)

// Controller wires the ledger store to the matching engine, the verifier and
// the repairer.
type Controller struct {
	store    ledger.Store
	config   *matcher.MatchingConfig
	engine   *matcher.MatchEngine
	verifier *verifier.Verifier
	repairer *verifier.Repairer
	logger   logger.Logger
}

// NewController creates a controller over the given store. A nil config
// falls back to the production matching defaults.
func NewController(store ledger.Store, config *matcher.MatchingConfig) *Controller {
	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}

	return &Controller{
		store:    store,
		config:   config,
		engine:   matcher.NewMatchEngine(config, store),
		verifier: verifier.NewVerifier(config),
		repairer: verifier.NewRepairer(config, store),
		logger:   logger.GetGlobalLogger().WithComponent("controller"),
	}
}

// RunOptions controls one reconciliation run.
type RunOptions struct {
	// AccountID restricts the transaction snapshot to one bank account.
	// Empty means all accounts. Invoices are never account-scoped.
	AccountID string

	// ResetPrevious clears all previous reconciliation state before
	// matching
	ResetPrevious bool
}

// RunReport is the outcome of one reconciliation run
type RunReport struct {
	AccountID string             `json:"account_id,omitempty"`
	Result    *matcher.RunResult `json:"result"`
	Message   string             `json:"message"`
}

// VerifyReport is the outcome of one verification pass
type VerifyReport struct {
	Report  *verifier.Report `json:"report"`
	Message string           `json:"message"`
}

// FixReport is the outcome of one repair pass
type FixReport struct {
	Result  *verifier.FixResult `json:"result"`
	Message string              `json:"message"`
}

// Run loads the snapshot and executes the two-phase matching over it.
func (c *Controller) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	transactions, invoices, err := c.loadSnapshot(ctx, opts.AccountID)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logger.Fields{
		"account_id":   opts.AccountID,
		"transactions": len(transactions),
		"invoices":     len(invoices),
		"reset":        opts.ResetPrevious,
	}).Info("Starting reconciliation run")

	result, err := c.engine.Run(ctx, transactions, invoices, opts.ResetPrevious)
	if err != nil {
		return &RunReport{AccountID: opts.AccountID, Result: result}, err
	}

	return &RunReport{
		AccountID: opts.AccountID,
		Result:    result,
		Message:   fmt.Sprintf("Riconciliazione completata: %d fatture riconciliate", result.Reconciled),
	}, nil
}

// Verify re-derives the payment evidence of every paid invoice. Transactions
// are intentionally loaded across all accounts: payment evidence may live on
// any account regardless of how runs were scoped.
func (c *Controller) Verify(ctx context.Context) (*VerifyReport, error) {
	transactions, invoices, err := c.loadSnapshot(ctx, "")
	if err != nil {
		return nil, err
	}

	report := c.verifier.Verify(transactions, invoices)

	message := fmt.Sprintf("Verifica completata: %d fatture pagate, nessun problema", report.TotalPaidInvoices)
	if !report.Clean() {
		message = fmt.Sprintf("Verifica completata: %d fatture pagate, %d senza evidenza di pagamento",
			report.TotalPaidInvoices, report.IssuesFound)
	}

	return &VerifyReport{Report: report, Message: message}, nil
}

// Fix verifies and resets every paid invoice without supporting evidence.
// Running it twice yields zero repairs the second time.
func (c *Controller) Fix(ctx context.Context) (*FixReport, error) {
	transactions, invoices, err := c.loadSnapshot(ctx, "")
	if err != nil {
		return nil, err
	}

	result, err := c.repairer.Fix(ctx, transactions, invoices)
	if err != nil {
		return &FixReport{Result: result}, err
	}

	return &FixReport{
		Result:  result,
		Message: fmt.Sprintf("Correzione completata: %d fatture ripristinate", result.Repaired),
	}, nil
}

func (c *Controller) loadSnapshot(ctx context.Context, accountID string) ([]*models.Transaction, []*models.Invoice, error) {
	transactions, err := c.store.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageRead, "load transactions failed")
	}

	invoices, err := c.store.ListInvoices(ctx)
	if err != nil {
		return nil, nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageRead, "load invoices failed")
	}

	return transactions, invoices, nil
}
