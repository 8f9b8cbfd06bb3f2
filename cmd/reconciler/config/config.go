// Package config builds the runtime configuration of the reconciler CLI
// from flags and environment settings.
package config

import (
	"fmt"

	"invoice-reconciliation-service/internal/ledger"
	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/parsers"
	"invoice-reconciliation-service/internal/reporter"

	"github.com/shopspring/decimal"
)

// MatchingOverrides carries the CLI tolerance overrides. Zero values keep
// the production defaults.
type MatchingOverrides struct {
	MinimumTolerance           float64
	TolerancePercent           float64
	CumulativeMinimumTolerance float64
	CumulativeTolerancePercent float64
}

// CreateMatchingConfig creates a matching configuration with the given
// overrides applied on top of the defaults.
func CreateMatchingConfig(overrides MatchingOverrides) (*matcher.MatchingConfig, error) {
	config := matcher.DefaultMatchingConfig()

	if overrides.MinimumTolerance > 0 {
		config.MinimumTolerance = decimal.NewFromFloat(overrides.MinimumTolerance)
	}
	if overrides.TolerancePercent > 0 {
		config.TolerancePercent = decimal.NewFromFloat(overrides.TolerancePercent)
	}
	if overrides.CumulativeMinimumTolerance > 0 {
		config.CumulativeMinimumTolerance = decimal.NewFromFloat(overrides.CumulativeMinimumTolerance)
	}
	if overrides.CumulativeTolerancePercent > 0 {
		config.CumulativeTolerancePercent = decimal.NewFromFloat(overrides.CumulativeTolerancePercent)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}

	return config, nil
}

// OpenStore opens the ledger database at the given path.
func OpenStore(path string) (*ledger.SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	return ledger.OpenSQLiteStore(path, nil)
}

// CreateReportConfig creates a report configuration for the given format.
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	if format != "" {
		config.Format = reporter.OutputFormat(format)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// CreateParseConfig creates the CSV dialect configuration for imports.
func CreateParseConfig(delimiter string) (*parsers.ParseConfig, error) {
	config := parsers.DefaultParseConfig()

	if delimiter != "" {
		runes := []rune(delimiter)
		if len(runes) != 1 {
			return nil, fmt.Errorf("delimiter must be a single character, got %q", delimiter)
		}
		config.Delimiter = runes[0]
	}

	return config, nil
}
