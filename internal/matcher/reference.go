package matcher

import (
	"strings"
	"unicode"

	"invoice-reconciliation-service/internal/models"
)

// Reference is the textual linkage between an invoice and a payment
// description: the digits of the document number and a prefix of the
// counterparty name. At least one usable reference must appear in the
// description for a match; an amount match alone never qualifies.
type Reference struct {
	digits     string
	namePrefix string
}

// NewReference precomputes the searchable reference tokens of an invoice.
// The document number is reduced to its digits and only used when it carries
// at least MinReferenceDigits of them; the counterparty name contributes its
// first NamePrefixLength characters only when the name has at least
// MinNameLength characters.
func NewReference(config *MatchingConfig, invoice *models.Invoice) Reference {
	var ref Reference

	digits := digitsOf(invoice.Number)
	if len(digits) >= config.MinReferenceDigits {
		ref.digits = digits
	}

	name := strings.TrimSpace(invoice.CounterpartyName)
	if len([]rune(name)) >= config.MinNameLength {
		runes := []rune(strings.ToLower(name))
		if len(runes) > config.NamePrefixLength {
			runes = runes[:config.NamePrefixLength]
		}
		ref.namePrefix = string(runes)
	}

	return ref
}

// IsUsable reports whether the invoice carries any searchable reference.
func (r Reference) IsUsable() bool {
	return r.digits != "" || r.namePrefix != ""
}

// Matches reports whether the payment description references the invoice,
// case-insensitively, by document number digits or counterparty name prefix.
func (r Reference) Matches(description string) bool {
	if !r.IsUsable() {
		return false
	}

	lowered := strings.ToLower(description)

	if r.digits != "" && strings.Contains(lowered, r.digits) {
		return true
	}

	if r.namePrefix != "" && strings.Contains(lowered, r.namePrefix) {
		return true
	}

	return false
}

// digitsOf strips every non-digit rune from s.
func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
