package parsers

import (
	"context"
	"fmt"
	"io"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/logger"
)

// invoiceHeaders are the required columns of an invoice export
var invoiceHeaders = []string{"id", "tipo", "numero", "ragioneSociale", "totale", "stato", "dataEmissione"}

// InvoiceParser reads invoice CSV exports
type InvoiceParser struct {
	base   *baseParser
	logger logger.Logger
}

// NewInvoiceParser creates an invoice parser. A nil config uses the default
// CSV dialect.
func NewInvoiceParser(config *ParseConfig) *InvoiceParser {
	return &InvoiceParser{
		base:   newBaseParser(config),
		logger: logger.GetGlobalLogger().WithComponent("invoice_parser"),
	}
}

// ParseInvoices reads every invoice in the file. Malformed records are
// collected in the stats and skipped.
func (p *InvoiceParser) ParseInvoices(path string) ([]*models.Invoice, *ParseStats, error) {
	return p.ParseInvoicesWithContext(context.Background(), path)
}

// ParseInvoicesWithContext parses with cancellation support.
func (p *InvoiceParser) ParseInvoicesWithContext(ctx context.Context, path string) ([]*models.Invoice, *ParseStats, error) {
	file, reader, err := p.base.openFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	stats := &ParseStats{}

	if err := p.base.readHeaders(reader, path, invoiceHeaders); err != nil {
		return nil, stats, err
	}

	var invoices []*models.Invoice
	for {
		if err := ctx.Err(); err != nil {
			return invoices, stats, err
		}

		record, err := p.base.readRecord(reader)
		if err != nil {
			if err == io.EOF {
				break
			}
			stats.AddError(&ParseError{Line: p.base.line + 1, Field: "record", Message: "unreadable record", Err: err})
			continue
		}

		invoice, perr := p.parseRecord(record)
		if perr != nil {
			p.logger.WithFields(logger.Fields{
				"line": perr.Line,
			}).WithError(perr).Warn("Skipping invalid invoice record")
			stats.AddError(perr)
			continue
		}

		invoices = append(invoices, invoice)
		stats.RecordsParsed++
	}

	p.logger.WithFields(logger.Fields{
		"file_path": path,
		"parsed":    stats.RecordsParsed,
		"skipped":   stats.RecordsSkipped,
	}).Info("Parsed invoice file")

	return invoices, stats, nil
}

func (p *InvoiceParser) parseRecord(record []string) (*models.Invoice, *ParseError) {
	line := p.base.line

	invoice := &models.Invoice{
		ID:               p.base.fieldValue(record, "id"),
		Type:             models.InvoiceType(p.base.fieldValue(record, "tipo")),
		Number:           p.base.fieldValue(record, "numero"),
		CounterpartyName: p.base.fieldValue(record, "ragioneSociale"),
		Total:            p.base.fieldValue(record, "totale"),
		Status:           models.InvoiceStatus(p.base.fieldValue(record, "stato")),
	}

	issueDate := p.base.fieldValue(record, "dataEmissione")
	if issueDate != "" {
		parsed, err := models.ParseDate(issueDate)
		if err != nil {
			return nil, &ParseError{Line: line, Field: "dataEmissione", Value: issueDate, Message: "invalid date", Err: err}
		}
		invoice.IssueDate = parsed
	}

	if paymentDate := p.base.fieldValue(record, "dataPagamento"); paymentDate != "" {
		parsed, err := models.ParseDate(paymentDate)
		if err != nil {
			return nil, &ParseError{Line: line, Field: "dataPagamento", Value: paymentDate, Message: "invalid date", Err: err}
		}
		invoice.PaymentDate = &parsed
	}

	if paidAmount := p.base.fieldValue(record, "totalePagato"); paidAmount != "" {
		if _, err := models.ParseAmount(paidAmount); err != nil {
			return nil, &ParseError{Line: line, Field: "totalePagato", Value: paidAmount, Message: "invalid amount", Err: err}
		}
		invoice.PaidAmount = &paidAmount
	}

	if _, err := models.ParsePositiveAmount(invoice.Total); err != nil {
		return nil, &ParseError{Line: line, Field: "totale", Value: invoice.Total, Message: "invalid amount", Err: err}
	}

	if err := invoice.Validate(); err != nil {
		return nil, &ParseError{Line: line, Field: "record", Value: invoice.ID, Message: "invalid invoice", Err: err}
	}

	// A paid invoice in the export must carry its payment evidence.
	if invoice.Status == models.InvoiceStatusPaid && invoice.PaymentDate == nil {
		return nil, &ParseError{Line: line, Field: "dataPagamento", Message: "paid invoice without payment date",
			Err: fmt.Errorf("missing payment date")}
	}

	return invoice, nil
}
