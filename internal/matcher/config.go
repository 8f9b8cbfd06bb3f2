// Package matcher implements the invoice reconciliation engine.
//
// The engine runs two passes over a snapshot of outstanding invoices and bank
// transactions:
//
//  1. Single-invoice matching: each outstanding invoice is settled by the
//     first transaction compatible in direction, date order, amount (within a
//     tolerance) and textual reference.
//  2. Cumulative matching: a single incoming payment can settle two or more
//     issued invoices whose referenced amounts sum to the transaction amount
//     within a wider tolerance.
//
// Selection is strictly first-candidate-wins in transaction iteration order;
// competing candidates are not ranked.
//
// Example usage:
//
//	engine := matcher.NewMatchEngine(matcher.DefaultMatchingConfig(), store)
//	result, err := engine.Run(ctx, transactions, invoices, true)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MatchingConfig holds the tolerance and reference-matching parameters shared
// by the engine and the verifier. Keeping one config for both passes prevents
// divergent tolerance arithmetic between matching and verification.
type MatchingConfig struct {
	// MinimumTolerance is the floor of the single-invoice amount tolerance
	MinimumTolerance decimal.Decimal `json:"minimum_tolerance"`

	// TolerancePercent scales the single-invoice tolerance with the invoice amount
	TolerancePercent decimal.Decimal `json:"tolerance_percent"`

	// CumulativeMinimumTolerance is the floor of the cumulative-match tolerance
	CumulativeMinimumTolerance decimal.Decimal `json:"cumulative_minimum_tolerance"`

	// CumulativeTolerancePercent scales the cumulative tolerance with the transaction amount
	CumulativeTolerancePercent decimal.Decimal `json:"cumulative_tolerance_percent"`

	// MinReferenceDigits is the minimum digit count for an invoice number
	// to be usable as a payment reference
	MinReferenceDigits int `json:"min_reference_digits"`

	// NamePrefixLength is how many leading characters of the counterparty
	// name are searched for in the payment description
	NamePrefixLength int `json:"name_prefix_length"`

	// MinNameLength is the minimum counterparty name length for the name
	// prefix to be usable as a payment reference
	MinNameLength int `json:"min_name_length"`
}

// DefaultMatchingConfig returns the tolerances used in production: a
// single-invoice tolerance of max(0.02, 1% of the invoice amount) and a
// cumulative tolerance of max(0.10, 2% of the transaction amount).
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		MinimumTolerance:           decimal.NewFromFloat(0.02),
		TolerancePercent:           decimal.NewFromFloat(0.01),
		CumulativeMinimumTolerance: decimal.NewFromFloat(0.10),
		CumulativeTolerancePercent: decimal.NewFromFloat(0.02),
		MinReferenceDigits:         3,
		NamePrefixLength:           10,
		MinNameLength:              5,
	}
}

// Validate checks if the matching configuration is valid
func (c *MatchingConfig) Validate() error {
	if c.MinimumTolerance.IsNegative() {
		return fmt.Errorf("minimum tolerance cannot be negative: %s", c.MinimumTolerance)
	}

	if c.TolerancePercent.IsNegative() || c.TolerancePercent.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("tolerance percent must be between 0 and 1: %s", c.TolerancePercent)
	}

	if c.CumulativeMinimumTolerance.IsNegative() {
		return fmt.Errorf("cumulative minimum tolerance cannot be negative: %s", c.CumulativeMinimumTolerance)
	}

	if c.CumulativeTolerancePercent.IsNegative() || c.CumulativeTolerancePercent.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("cumulative tolerance percent must be between 0 and 1: %s", c.CumulativeTolerancePercent)
	}

	if c.MinReferenceDigits <= 0 {
		return fmt.Errorf("min reference digits must be positive: %d", c.MinReferenceDigits)
	}

	if c.NamePrefixLength <= 0 {
		return fmt.Errorf("name prefix length must be positive: %d", c.NamePrefixLength)
	}

	if c.MinNameLength <= 0 {
		return fmt.Errorf("min name length must be positive: %d", c.MinNameLength)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (c *MatchingConfig) Clone() *MatchingConfig {
	if c == nil {
		return nil
	}

	copied := *c
	return &copied
}

// ToleranceFor returns the maximum allowed difference between an invoice
// amount and a settling transaction amount.
func (c *MatchingConfig) ToleranceFor(invoiceAmount decimal.Decimal) decimal.Decimal {
	scaled := invoiceAmount.Abs().Mul(c.TolerancePercent)
	if scaled.LessThan(c.MinimumTolerance) {
		return c.MinimumTolerance
	}
	return scaled
}

// CumulativeToleranceFor returns the maximum allowed difference between a
// transaction amount and the summed amounts of the invoices it settles.
func (c *MatchingConfig) CumulativeToleranceFor(transactionAmount decimal.Decimal) decimal.Decimal {
	scaled := transactionAmount.Abs().Mul(c.CumulativeTolerancePercent)
	if scaled.LessThan(c.CumulativeMinimumTolerance) {
		return c.CumulativeMinimumTolerance
	}
	return scaled
}

// WithinTolerance reports whether two amounts differ by at most the
// single-invoice tolerance of the first. The boundary is inclusive.
func (c *MatchingConfig) WithinTolerance(invoiceAmount, transactionAmount decimal.Decimal) bool {
	diff := transactionAmount.Sub(invoiceAmount).Abs()
	return diff.LessThanOrEqual(c.ToleranceFor(invoiceAmount))
}

// WithinCumulativeTolerance reports whether an invoice-amount sum matches a
// transaction amount within the cumulative tolerance. The boundary is inclusive.
func (c *MatchingConfig) WithinCumulativeTolerance(sum, transactionAmount decimal.Decimal) bool {
	diff := sum.Sub(transactionAmount).Abs()
	return diff.LessThanOrEqual(c.CumulativeToleranceFor(transactionAmount))
}

// String returns a human-readable description of the configuration
func (c *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Tolerance: max(%s, %s%%), Cumulative: max(%s, %s%%)}",
		c.MinimumTolerance,
		c.TolerancePercent.Mul(decimal.NewFromInt(100)),
		c.CumulativeMinimumTolerance,
		c.CumulativeTolerancePercent.Mul(decimal.NewFromInt(100)))
}
