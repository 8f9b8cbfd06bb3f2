package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = time.RFC3339

const schema = `
CREATE TABLE IF NOT EXISTS invoices (
	id              TEXT PRIMARY KEY,
	tipo            TEXT NOT NULL,
	numero          TEXT NOT NULL,
	ragione_sociale TEXT NOT NULL DEFAULT '',
	totale          TEXT NOT NULL,
	stato           TEXT NOT NULL,
	data_emissione  TEXT NOT NULL,
	data_pagamento  TEXT,
	totale_pagato   TEXT
);

CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	tipo         TEXT NOT NULL,
	importo      TEXT NOT NULL,
	data         TEXT NOT NULL,
	descrizione  TEXT NOT NULL DEFAULT '',
	conto_id     TEXT NOT NULL DEFAULT '',
	riconciliato INTEGER NOT NULL DEFAULT 0,
	invoice_id   TEXT,
	note         TEXT
);

CREATE INDEX IF NOT EXISTS idx_invoices_stato ON invoices(stato);
CREATE INDEX IF NOT EXISTS idx_transactions_conto ON transactions(conto_id);
CREATE INDEX IF NOT EXISTS idx_transactions_riconciliato ON transactions(riconciliato);
`

// SQLiteStore is a Store backed by a local SQLite database. Amounts are
// stored in the locale string format shared with the upstream modules;
// dates are stored as RFC 3339 text.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLiteStore opens (and if needed initializes) a SQLite-backed ledger.
// WAL mode and a busy timeout keep concurrent CLI invocations from failing
// immediately on lock contention.
func OpenSQLiteStore(path string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("sqlite_ledger")

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageConnection, "open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodeStorageConnection, "ping database", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodeStorageWrite, "create schema", err)
	}

	log.WithField("path", path).Debug("Opened ledger database")

	return &SQLiteStore{db: db, logger: log}, nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTransaction executes fn inside a database transaction, rolling back on
// error or panic.
func (s *SQLiteStore) withTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Error("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "commit transaction", err)
	}
	return nil
}

// SaveInvoices inserts or replaces invoice records
func (s *SQLiteStore) SaveInvoices(ctx context.Context, invoices []*models.Invoice) error {
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO invoices
				(id, tipo, numero, ragione_sociale, totale, stato, data_emissione, data_pagamento, totale_pagato)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.StorageError(errors.CodeStorageWrite, "prepare invoice insert", err)
		}
		defer stmt.Close()

		for _, inv := range invoices {
			var paymentDate interface{}
			if inv.PaymentDate != nil {
				paymentDate = inv.PaymentDate.Format(timeLayout)
			}
			var paidAmount interface{}
			if inv.PaidAmount != nil {
				paidAmount = *inv.PaidAmount
			}

			if _, err := stmt.ExecContext(ctx,
				inv.ID, string(inv.Type), inv.Number, inv.CounterpartyName,
				inv.Total, string(inv.Status), inv.IssueDate.Format(timeLayout),
				paymentDate, paidAmount,
			); err != nil {
				return errors.StorageError(errors.CodeStorageWrite, "insert invoice", err).
					WithContext("invoice_id", inv.ID)
			}
		}
		return nil
	})
}

// SaveTransactions inserts or replaces transaction records
func (s *SQLiteStore) SaveTransactions(ctx context.Context, transactions []*models.Transaction) error {
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO transactions
				(id, tipo, importo, data, descrizione, conto_id, riconciliato, invoice_id, note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.StorageError(errors.CodeStorageWrite, "prepare transaction insert", err)
		}
		defer stmt.Close()

		for _, t := range transactions {
			var invoiceID, note interface{}
			if t.InvoiceID != nil {
				invoiceID = *t.InvoiceID
			}
			if t.Note != nil {
				note = *t.Note
			}

			if _, err := stmt.ExecContext(ctx,
				t.ID, string(t.Type), t.Amount, t.Date.Format(timeLayout),
				t.Description, t.AccountID, t.Reconciled, invoiceID, note,
			); err != nil {
				return errors.StorageError(errors.CodeStorageWrite, "insert transaction", err).
					WithContext("transaction_id", t.ID)
			}
		}
		return nil
	})
}

const invoiceColumns = `id, tipo, numero, ragione_sociale, totale, stato, data_emissione, data_pagamento, totale_pagato`

// ListInvoices returns every invoice ordered by issue date
func (s *SQLiteStore) ListInvoices(ctx context.Context) ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY data_emissione, id`
	return s.queryInvoices(ctx, query)
}

// ListOutstandingInvoices returns invoices that are neither paid nor cancelled
func (s *SQLiteStore) ListOutstandingInvoices(ctx context.Context) ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE stato NOT IN (?, ?) ORDER BY data_emissione, id`
	return s.queryInvoices(ctx, query,
		string(models.InvoiceStatusPaid), string(models.InvoiceStatusCancelled))
}

func (s *SQLiteStore) queryInvoices(ctx context.Context, query string, args ...interface{}) ([]*models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "list invoices", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "list invoices", err)
	}
	return invoices, nil
}

func scanInvoice(rows *sql.Rows) (*models.Invoice, error) {
	var (
		inv         models.Invoice
		invType     string
		status      string
		issueDate   string
		paymentDate sql.NullString
		paidAmount  sql.NullString
	)

	if err := rows.Scan(&inv.ID, &invType, &inv.Number, &inv.CounterpartyName,
		&inv.Total, &status, &issueDate, &paymentDate, &paidAmount); err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "scan invoice", err)
	}

	inv.Type = models.InvoiceType(invType)
	inv.Status = models.InvoiceStatus(status)

	parsed, err := time.Parse(timeLayout, issueDate)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "scan invoice", err).
			WithContext("invoice_id", inv.ID).
			WithContext("value", issueDate)
	}
	inv.IssueDate = parsed

	if paymentDate.Valid {
		parsed, err := time.Parse(timeLayout, paymentDate.String)
		if err != nil {
			return nil, errors.StorageError(errors.CodeStorageRead, "scan invoice", err).
				WithContext("invoice_id", inv.ID).
				WithContext("value", paymentDate.String)
		}
		inv.PaymentDate = &parsed
	}
	if paidAmount.Valid {
		amount := paidAmount.String
		inv.PaidAmount = &amount
	}

	return &inv, nil
}

// ListTransactions returns transactions ordered by date, optionally scoped by account
func (s *SQLiteStore) ListTransactions(ctx context.Context, accountID string) ([]*models.Transaction, error) {
	query := `SELECT id, tipo, importo, data, descrizione, conto_id, riconciliato, invoice_id, note
		FROM transactions`
	var args []interface{}
	if accountID != "" {
		query += ` WHERE conto_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY data, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "list transactions", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		var (
			t         models.Transaction
			txType    string
			date      string
			invoiceID sql.NullString
			note      sql.NullString
		)

		if err := rows.Scan(&t.ID, &txType, &t.Amount, &date, &t.Description,
			&t.AccountID, &t.Reconciled, &invoiceID, &note); err != nil {
			return nil, errors.StorageError(errors.CodeStorageRead, "scan transaction", err)
		}

		t.Type = models.TransactionType(txType)

		parsed, err := time.Parse(timeLayout, date)
		if err != nil {
			return nil, errors.StorageError(errors.CodeStorageRead, "scan transaction", err).
				WithContext("transaction_id", t.ID).
				WithContext("value", date)
		}
		t.Date = parsed

		if invoiceID.Valid {
			id := invoiceID.String
			t.InvoiceID = &id
		}
		if note.Valid {
			n := note.String
			t.Note = &n
		}

		transactions = append(transactions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageRead, "list transactions", err)
	}
	return transactions, nil
}

// UpdateInvoice persists the reconciliation-owned fields of one invoice
func (s *SQLiteStore) UpdateInvoice(ctx context.Context, upd InvoiceUpdate) error {
	return s.execInvoiceUpdate(ctx, s.db.ExecContext, upd)
}

// UpdateTransaction persists the reconciliation-owned fields of one transaction
func (s *SQLiteStore) UpdateTransaction(ctx context.Context, upd TransactionUpdate) error {
	return s.execTransactionUpdate(ctx, s.db.ExecContext, upd)
}

// ApplyMatch persists all updates of one match inside a single database
// transaction.
func (s *SQLiteStore) ApplyMatch(ctx context.Context, invoices []InvoiceUpdate, tx TransactionUpdate) error {
	return s.withTransaction(ctx, func(dbTx *sql.Tx) error {
		for _, upd := range invoices {
			if err := s.execInvoiceUpdate(ctx, dbTx.ExecContext, upd); err != nil {
				return err
			}
		}
		return s.execTransactionUpdate(ctx, dbTx.ExecContext, tx)
	})
}

type execFunc func(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

func (s *SQLiteStore) execInvoiceUpdate(ctx context.Context, exec execFunc, upd InvoiceUpdate) error {
	var paymentDate, paidAmount interface{}
	if upd.PaymentDate != nil {
		paymentDate = upd.PaymentDate.Format(timeLayout)
	}
	if upd.PaidAmount != nil {
		paidAmount = *upd.PaidAmount
	}

	res, err := exec(ctx, `UPDATE invoices SET stato = ?, data_pagamento = ?, totale_pagato = ? WHERE id = ?`,
		string(upd.Status), paymentDate, paidAmount, upd.ID)
	if err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "update invoice", err).
			WithContext("invoice_id", upd.ID)
	}

	return requireRow(res, "update invoice", upd.ID)
}

func (s *SQLiteStore) execTransactionUpdate(ctx context.Context, exec execFunc, upd TransactionUpdate) error {
	var invoiceID, note interface{}
	if upd.InvoiceID != nil {
		invoiceID = *upd.InvoiceID
	}
	if upd.Note != nil {
		note = *upd.Note
	}

	res, err := exec(ctx, `UPDATE transactions SET riconciliato = ?, invoice_id = ?, note = ? WHERE id = ?`,
		upd.Reconciled, invoiceID, note, upd.ID)
	if err != nil {
		return errors.StorageError(errors.CodeStorageWrite, "update transaction", err).
			WithContext("transaction_id", upd.ID)
	}

	return requireRow(res, "update transaction", upd.ID)
}

func requireRow(res sql.Result, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.StorageError(errors.CodeStorageWrite, operation, err)
	}
	if affected == 0 {
		return errors.StorageError(errors.CodeRecordNotFound, operation,
			fmt.Errorf("no record with id %s", id))
	}
	return nil
}
