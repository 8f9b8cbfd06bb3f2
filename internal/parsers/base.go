// Package parsers reads invoice and bank transaction CSV exports into the
// ledger models.
//
// Files are header-mapped: columns are located by name, not position, so
// exports with reordered or extra columns still parse. Records that fail to
// parse are collected into the parse stats and skipped, never fatal.
package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"invoice-reconciliation-service/pkg/errors"
)

// ParseError describes one rejected CSV record
type ParseError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d (%s=%q): %s: %v", e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d (%s=%q): %s", e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds the CSV dialect options
type ParseConfig struct {
	Delimiter        rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
}

// DefaultParseConfig returns the dialect used by the management system's
// CSV exports.
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
	}
}

// ParseStats summarizes one parse run
type ParseStats struct {
	RecordsParsed  int
	RecordsSkipped int
	Errors         []*ParseError
}

// AddError records a rejected record
func (s *ParseStats) AddError(err *ParseError) {
	s.RecordsSkipped++
	s.Errors = append(s.Errors, err)
}

// HasErrors reports whether any record was rejected
func (s *ParseStats) HasErrors() bool {
	return len(s.Errors) > 0
}

func (s *ParseStats) String() string {
	return fmt.Sprintf("parsed %d records, skipped %d", s.RecordsParsed, s.RecordsSkipped)
}

// baseParser carries the CSV plumbing shared by the invoice and transaction
// parsers: file opening, header mapping and record iteration.
type baseParser struct {
	config *ParseConfig

	headerIndex map[string]int
	line        int
}

func newBaseParser(config *ParseConfig) *baseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &baseParser{config: config}
}

// openFile opens the CSV file and returns a configured reader.
func (p *baseParser) openFile(path string) (*os.File, *csv.Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}

	reader := csv.NewReader(file)
	reader.Comma = p.config.Delimiter
	reader.TrimLeadingSpace = p.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1

	p.headerIndex = nil
	p.line = 0

	return file, reader, nil
}

// readHeaders reads the header row and verifies the required columns are
// present. Header names match case-insensitively with surrounding space
// ignored.
func (p *baseParser) readHeaders(reader *csv.Reader, path string, required []string) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ParseError(errors.CodeInvalidFormat, path, 0, "headers", "", fmt.Errorf("file is empty"))
		}
		return errors.ParseError(errors.CodeInvalidFormat, path, 0, "headers", "", err)
	}
	p.line = 1

	p.headerIndex = make(map[string]int, len(headers))
	for i, h := range headers {
		p.headerIndex[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var missing []string
	for _, name := range required {
		if _, ok := p.headerIndex[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.ParseError(errors.CodeMissingColumn, path, 1, "headers", strings.Join(missing, ","),
			fmt.Errorf("missing required columns")).
			WithSuggestion("Ensure the CSV export includes the columns: " + strings.Join(required, ", "))
	}

	return nil
}

// readRecord returns the next non-empty record, or io.EOF.
func (p *baseParser) readRecord(reader *csv.Reader) ([]string, error) {
	for {
		record, err := reader.Read()
		if err != nil {
			return nil, err
		}
		p.line++

		if p.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		return record, nil
	}
}

// fieldValue returns the value of a named column in the record, or "" when
// the column is absent or the record is short.
func (p *baseParser) fieldValue(record []string, name string) string {
	idx, ok := p.headerIndex[strings.ToLower(name)]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
