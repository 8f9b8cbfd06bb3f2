package cmd

import (
	"fmt"

	"invoice-reconciliation-service/cmd/reconciler/config"
	"invoice-reconciliation-service/internal/parsers"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the import command
var (
	importInvoicesFile     string
	importTransactionsFile string
	importDelimiter        string
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import invoice and transaction CSV exports into the ledger",
	Long: `Import reads CSV exports from the management system and the bank and
stores them in the ledger database. Columns are located by header name,
so reordered or extra columns are fine. Records that fail to parse are
reported and skipped.

Examples:
  reconciler import --db ledger.db --invoices fatture.csv
  reconciler import --db ledger.db --transactions movimenti.csv --delimiter ";"
  reconciler import --db ledger.db --invoices fatture.csv --transactions movimenti.csv`,

	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importInvoicesFile, "invoices", "", "path to the invoice CSV export")
	importCmd.Flags().StringVar(&importTransactionsFile, "transactions", "", "path to the bank transaction CSV export")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "CSV delimiter (default \",\")")
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	if importInvoicesFile == "" && importTransactionsFile == "" {
		return fmt.Errorf("at least one of --invoices or --transactions is required")
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	parseConfig, err := config.CreateParseConfig(importDelimiter)
	if err != nil {
		return err
	}

	store, err := config.OpenStore(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	if importInvoicesFile != "" {
		invoices, stats, err := parsers.NewInvoiceParser(parseConfig).ParseInvoicesWithContext(ctx, importInvoicesFile)
		if err != nil {
			return err
		}

		if err := store.SaveInvoices(ctx, invoices); err != nil {
			return err
		}

		fmt.Printf("Invoices: %s\n", stats)
		printSampleErrors(stats)
	}

	if importTransactionsFile != "" {
		transactions, stats, err := parsers.NewTransactionParser(parseConfig).ParseTransactionsWithContext(ctx, importTransactionsFile)
		if err != nil {
			return err
		}

		if err := store.SaveTransactions(ctx, transactions); err != nil {
			return err
		}

		fmt.Printf("Transactions: %s\n", stats)
		printSampleErrors(stats)
	}

	return nil
}

// printSampleErrors lists up to five rejected records so a broken export is
// diagnosable without rerunning in verbose mode.
func printSampleErrors(stats *parsers.ParseStats) {
	if !stats.HasErrors() {
		return
	}

	max := 5
	if len(stats.Errors) < max {
		max = len(stats.Errors)
	}
	for _, perr := range stats.Errors[:max] {
		fmt.Printf("  - %s\n", perr)
	}
	if len(stats.Errors) > max {
		fmt.Printf("  ... and %d more\n", len(stats.Errors)-max)
	}
}
