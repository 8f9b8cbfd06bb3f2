package parsers

import (
	"context"
	"io"
	"strconv"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/logger"
)

// transactionHeaders are the required columns of a bank movement export
var transactionHeaders = []string{"id", "tipo", "importo", "data", "descrizione", "contoId"}

// TransactionParser reads bank transaction CSV exports
type TransactionParser struct {
	base   *baseParser
	logger logger.Logger
}

// NewTransactionParser creates a transaction parser. A nil config uses the
// default CSV dialect.
func NewTransactionParser(config *ParseConfig) *TransactionParser {
	return &TransactionParser{
		base:   newBaseParser(config),
		logger: logger.GetGlobalLogger().WithComponent("transaction_parser"),
	}
}

// ParseTransactions reads every transaction in the file. Malformed records
// are collected in the stats and skipped.
func (p *TransactionParser) ParseTransactions(path string) ([]*models.Transaction, *ParseStats, error) {
	return p.ParseTransactionsWithContext(context.Background(), path)
}

// ParseTransactionsWithContext parses with cancellation support.
func (p *TransactionParser) ParseTransactionsWithContext(ctx context.Context, path string) ([]*models.Transaction, *ParseStats, error) {
	file, reader, err := p.base.openFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	stats := &ParseStats{}

	if err := p.base.readHeaders(reader, path, transactionHeaders); err != nil {
		return nil, stats, err
	}

	var transactions []*models.Transaction
	for {
		if err := ctx.Err(); err != nil {
			return transactions, stats, err
		}

		record, err := p.base.readRecord(reader)
		if err != nil {
			if err == io.EOF {
				break
			}
			stats.AddError(&ParseError{Line: p.base.line + 1, Field: "record", Message: "unreadable record", Err: err})
			continue
		}

		tx, perr := p.parseRecord(record)
		if perr != nil {
			p.logger.WithFields(logger.Fields{
				"line": perr.Line,
			}).WithError(perr).Warn("Skipping invalid transaction record")
			stats.AddError(perr)
			continue
		}

		transactions = append(transactions, tx)
		stats.RecordsParsed++
	}

	p.logger.WithFields(logger.Fields{
		"file_path": path,
		"parsed":    stats.RecordsParsed,
		"skipped":   stats.RecordsSkipped,
	}).Info("Parsed transaction file")

	return transactions, stats, nil
}

func (p *TransactionParser) parseRecord(record []string) (*models.Transaction, *ParseError) {
	line := p.base.line

	tx := &models.Transaction{
		ID:          p.base.fieldValue(record, "id"),
		Type:        models.TransactionType(p.base.fieldValue(record, "tipo")),
		Amount:      p.base.fieldValue(record, "importo"),
		Description: p.base.fieldValue(record, "descrizione"),
		AccountID:   p.base.fieldValue(record, "contoId"),
	}

	date := p.base.fieldValue(record, "data")
	if date != "" {
		parsed, err := models.ParseDate(date)
		if err != nil {
			return nil, &ParseError{Line: line, Field: "data", Value: date, Message: "invalid date", Err: err}
		}
		tx.Date = parsed
	}

	if reconciled := p.base.fieldValue(record, "riconciliato"); reconciled != "" {
		parsed, err := strconv.ParseBool(reconciled)
		if err != nil {
			return nil, &ParseError{Line: line, Field: "riconciliato", Value: reconciled, Message: "invalid boolean", Err: err}
		}
		tx.Reconciled = parsed
	}

	if invoiceID := p.base.fieldValue(record, "invoiceId"); invoiceID != "" {
		tx.InvoiceID = &invoiceID
	}

	if note := p.base.fieldValue(record, "note"); note != "" {
		tx.Note = &note
	}

	if _, err := models.ParsePositiveAmount(tx.Amount); err != nil {
		return nil, &ParseError{Line: line, Field: "importo", Value: tx.Amount, Message: "invalid amount", Err: err}
	}

	if err := tx.Validate(); err != nil {
		return nil, &ParseError{Line: line, Field: "record", Value: tx.ID, Message: "invalid transaction", Err: err}
	}

	return tx, nil
}
