package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/joescharf/lendchat/internal/models"
)

// --- Loans ---

func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	if loan.ID == "" {
		loan.ID = NewID()
	}
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = time.Now().UTC()
	}
	if loan.Status == "" {
		loan.Status = "active"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (id, customer_id, amount, status, interest_rate, created_at, due_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.CustomerID, loan.Amount, loan.Status, loan.InterestRate,
		loan.CreatedAt.UTC(), loan.DueDate.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create loan: %w", err)
	}
	return nil
}

// ListLoans returns a customer's loans, newest first. No loans is not an error.
func (s *SQLiteStore) ListLoans(ctx context.Context, customerID string) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, amount, status, interest_rate, created_at, due_date
		FROM loans WHERE customer_id = ? ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	loans := []models.Loan{}
	for rows.Next() {
		var l models.Loan
		if err := rows.Scan(&l.ID, &l.CustomerID, &l.Amount, &l.Status, &l.InterestRate, &l.CreatedAt, &l.DueDate); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// --- Payments ---

func (s *SQLiteStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, customer_id, loan_id, amount, status, method, due_date, paid_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CustomerID, p.LoanID, p.Amount, string(p.Status), p.Method,
		p.DueDate.UTC(), nullTime(p.PaidDate),
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// ListPayments returns a customer's payments, latest due date first.
func (s *SQLiteStore) ListPayments(ctx context.Context, customerID string) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, loan_id, amount, status, method, due_date, paid_date
		FROM payments WHERE customer_id = ? ORDER BY due_date DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		var p models.Payment
		var status string
		var paidDate sql.NullTime
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.LoanID, &p.Amount, &status, &p.Method, &p.DueDate, &paidDate); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Status = models.PaymentStatus(status)
		p.PaidDate = timePtr(paidDate)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// --- Documents ---

func (s *SQLiteStore) insertDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = NewID()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, customer_id, title, content, type, category, language, metadata, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CustomerID, doc.Title, doc.Content, string(doc.Type), doc.Category, doc.Language,
		marshalMetadata(doc.Metadata), boolToInt(doc.Active), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateCustomerDocument(ctx context.Context, doc *models.Document) error {
	if doc.CustomerID == "" {
		return fmt.Errorf("create customer document: customer id is required")
	}
	return s.insertDocument(ctx, doc)
}

func (s *SQLiteStore) CreateKnowledgeDocument(ctx context.Context, doc *models.Document) error {
	doc.CustomerID = ""
	return s.insertDocument(ctx, doc)
}

func (s *SQLiteStore) queryDocuments(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var d models.Document
		var docType, metadata string
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.Title, &d.Content, &docType, &d.Category, &d.Language,
			&metadata, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Type = models.DocumentType(docType)
		d.Metadata = unmarshalMetadata(metadata)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

const documentColumns = `id, customer_id, title, content, type, category, language, metadata, active, created_at, updated_at`

// ListCustomerDocuments returns the active documents attached to a customer.
func (s *SQLiteStore) ListCustomerDocuments(ctx context.Context, customerID string) ([]models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		WHERE customer_id = ? AND active = 1 ORDER BY updated_at DESC`, customerID)
}

// ListKnowledgeDocuments returns every knowledge base document, active or not.
func (s *SQLiteStore) ListKnowledgeDocuments(ctx context.Context) ([]models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		WHERE customer_id = '' ORDER BY type, title`)
}

// SearchKnowledge ranks active knowledge base documents by term overlap with query.
func (s *SQLiteStore) SearchKnowledge(ctx context.Context, query string, limit int) ([]models.Document, error) {
	docs, err := s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		WHERE customer_id = '' AND active = 1 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	return rankDocuments(docs, query, limit), nil
}

// --- Conversation entries ---

func (s *SQLiteStore) CreateConversationEntry(ctx context.Context, e *models.ConversationEntry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Sentiment == "" {
		e.Sentiment = models.SentimentNeutral
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_entries (id, customer_id, session_id, content, sentiment, resolved, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CustomerID, e.SessionID, e.Content, string(e.Sentiment), boolToInt(e.Resolved), e.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create conversation entry: %w", err)
	}
	return nil
}

// ListConversationEntries returns the customer's most recent entries, newest first.
func (s *SQLiteStore) ListConversationEntries(ctx context.Context, customerID string, limit int) ([]models.ConversationEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, session_id, content, sentiment, resolved, timestamp
		FROM conversation_entries WHERE customer_id = ? ORDER BY timestamp DESC LIMIT ?`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation entries: %w", err)
	}
	defer rows.Close()

	entries := []models.ConversationEntry{}
	for rows.Next() {
		var e models.ConversationEntry
		var sentiment string
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.SessionID, &e.Content, &sentiment, &e.Resolved, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation entry: %w", err)
		}
		e.Sentiment = models.ParseSentiment(sentiment)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
