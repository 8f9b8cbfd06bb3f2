package cmd

import (
	"io"

	"invoice-reconciliation-service/cmd/reconciler/config"
	"invoice-reconciliation-service/internal/reconciler"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the fix command
var (
	fixOutputFormat string
	fixOutputFile   string
)

// fixCmd represents the fix command
var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Reset paid invoices without supporting payment evidence",
	Long: `Fix verifies the ledger and resets every paid invoice whose payment
evidence could not be re-derived, clearing its payment date and amount.
Transactions are never modified. Running fix twice repairs nothing the
second time.

Examples:
  reconciler fix --db ledger.db
  reconciler fix --db ledger.db --output-format json`,

	RunE: runFix,
}

func init() {
	rootCmd.AddCommand(fixCmd)

	fixCmd.Flags().StringVarP(&fixOutputFormat, "output-format", "f", "console", "output format: console, json, csv")
	fixCmd.Flags().StringVarP(&fixOutputFile, "output-file", "o", "", "output file path (default: stdout)")
}

func runFix(cmd *cobra.Command, args []string) error {
	store, err := config.OpenStore(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()

	controller := reconciler.NewController(store, nil)

	report, err := controller.Fix(cmd.Context())
	if err != nil {
		return err
	}

	return writeReport(fixOutputFormat, fixOutputFile, func(gen reportWriter, w io.Writer) error {
		return gen.WriteFixReport(report, w)
	})
}
