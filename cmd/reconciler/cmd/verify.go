package cmd

import (
	"fmt"
	"io"

	"invoice-reconciliation-service/cmd/reconciler/config"
	"invoice-reconciliation-service/internal/reconciler"
	"invoice-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the verify command
var (
	verifyOutputFormat string
	verifyOutputFile   string
	verifyFailOnIssues bool
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every paid invoice has supporting payment evidence",
	Long: `Verify re-derives the payment evidence of every paid invoice from the
transactions, without modifying any record. Invoices whose evidence no
longer holds are reported; use 'reconciler fix' to reset them.

Examples:
  reconciler verify --db ledger.db
  reconciler verify --db ledger.db --output-format csv --output-file issues.csv`,

	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVarP(&verifyOutputFormat, "output-format", "f", "console", "output format: console, json, csv")
	verifyCmd.Flags().StringVarP(&verifyOutputFile, "output-file", "o", "", "output file path (default: stdout)")
	verifyCmd.Flags().BoolVar(&verifyFailOnIssues, "fail-on-issues", true, "exit with an error when issues are found")
}

func runVerify(cmd *cobra.Command, args []string) error {
	store, err := config.OpenStore(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()

	controller := reconciler.NewController(store, nil)

	report, err := controller.Verify(cmd.Context())
	if err != nil {
		return err
	}

	if err := writeReport(verifyOutputFormat, verifyOutputFile, func(gen reportWriter, w io.Writer) error {
		return gen.WriteVerifyReport(report, w)
	}); err != nil {
		return err
	}

	if verifyFailOnIssues && !report.Report.Clean() {
		return errors.ReconciliationError(
			errors.CodeVerifyFailed,
			"verify",
			fmt.Errorf("%d paid invoices without payment evidence", report.Report.IssuesFound),
		).WithSuggestion("Run 'reconciler fix' to reset the invoices without evidence")
	}

	return nil
}
