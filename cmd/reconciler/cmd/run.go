package cmd

import (
	"fmt"
	"io"
	"os"

	"invoice-reconciliation-service/cmd/reconciler/config"
	"invoice-reconciliation-service/internal/reconciler"
	"invoice-reconciliation-service/internal/reporter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the run command
var (
	runAccountID       string
	runReset           bool
	runOutputFormat    string
	runOutputFile      string
	runTolerance       float64
	runTolerancePct    float64
	runCumTolerance    float64
	runCumTolerancePct float64
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile bank transactions against outstanding invoices",
	Long: `Run executes the two-phase matching over the ledger: each outstanding
invoice is settled by the first compatible transaction, then single incoming
payments are matched against groups of issued invoices.

Examples:
  # Reconcile all accounts
  reconciler run --db ledger.db

  # Reconcile one account, clearing previous results first
  reconciler run --db ledger.db --account conto-1 --reset

  # Custom tolerances and JSON output
  reconciler run --db ledger.db --tolerance 0.05 --output-format json`,

	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runAccountID, "account", "a", "", "restrict transactions to one bank account")
	runCmd.Flags().BoolVar(&runReset, "reset", false, "clear previous reconciliation state before matching")

	runCmd.Flags().StringVarP(&runOutputFormat, "output-format", "f", "console", "output format: console, json, csv")
	runCmd.Flags().StringVarP(&runOutputFile, "output-file", "o", "", "output file path (default: stdout)")

	runCmd.Flags().Float64Var(&runTolerance, "tolerance", 0, "minimum amount tolerance in euro (default 0.02)")
	runCmd.Flags().Float64Var(&runTolerancePct, "tolerance-percent", 0, "amount tolerance as a fraction of the invoice total (default 0.01)")
	runCmd.Flags().Float64Var(&runCumTolerance, "cumulative-tolerance", 0, "minimum cumulative tolerance in euro (default 0.10)")
	runCmd.Flags().Float64Var(&runCumTolerancePct, "cumulative-tolerance-percent", 0, "cumulative tolerance as a fraction of the transaction amount (default 0.02)")

	viper.BindPFlag("account", runCmd.Flags().Lookup("account"))
	viper.BindPFlag("output-format", runCmd.Flags().Lookup("output-format"))
}

func runRun(cmd *cobra.Command, args []string) error {
	matchingConfig, err := config.CreateMatchingConfig(config.MatchingOverrides{
		MinimumTolerance:           runTolerance,
		TolerancePercent:           runTolerancePct,
		CumulativeMinimumTolerance: runCumTolerance,
		CumulativeTolerancePercent: runCumTolerancePct,
	})
	if err != nil {
		return err
	}

	store, err := config.OpenStore(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()

	controller := reconciler.NewController(store, matchingConfig)

	report, err := controller.Run(cmd.Context(), reconciler.RunOptions{
		AccountID:     runAccountID,
		ResetPrevious: runReset,
	})
	if err != nil {
		return err
	}

	return writeReport(runOutputFormat, runOutputFile, func(gen reportWriter, w io.Writer) error {
		return gen.WriteRunReport(report, w)
	})
}

// reportWriter is the subset of the report generator the commands use
type reportWriter interface {
	WriteRunReport(report *reconciler.RunReport, w io.Writer) error
	WriteVerifyReport(report *reconciler.VerifyReport, w io.Writer) error
	WriteFixReport(report *reconciler.FixReport, w io.Writer) error
}

// writeReport renders a report to the output file or stdout.
func writeReport(format, outputFile string, render func(reportWriter, io.Writer) error) error {
	reportConfig, err := config.CreateReportConfig(format)
	if err != nil {
		return err
	}

	gen, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	return render(gen, out)
}
