package store

import (
	"context"
	"errors"

	"github.com/joescharf/lendchat/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SessionListFilter specifies filters for listing sessions.
type SessionListFilter struct {
	CustomerID string
	Step       models.Step
	Limit      int
}

// Store defines the persistence interface for lendchat.
type Store interface {
	// Customer data reads
	Ping(ctx context.Context) error
	ListLoans(ctx context.Context, customerID string) ([]models.Loan, error)
	ListPayments(ctx context.Context, customerID string) ([]models.Payment, error)
	ListCustomerDocuments(ctx context.Context, customerID string) ([]models.Document, error)
	ListConversationEntries(ctx context.Context, customerID string, limit int) ([]models.ConversationEntry, error)
	SearchKnowledge(ctx context.Context, query string, limit int) ([]models.Document, error)

	// Customer data writes
	CreateLoan(ctx context.Context, loan *models.Loan) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	CreateCustomerDocument(ctx context.Context, doc *models.Document) error
	CreateKnowledgeDocument(ctx context.Context, doc *models.Document) error
	ListKnowledgeDocuments(ctx context.Context) ([]models.Document, error)
	CreateConversationEntry(ctx context.Context, entry *models.ConversationEntry) error

	// Sessions
	LoadSession(ctx context.Context, sessionID string) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	ActiveSession(ctx context.Context, customerID string) (*models.Session, error)
	ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error)

	// Escalations
	CreateEscalation(ctx context.Context, e *models.Escalation) error
	ListEscalations(ctx context.Context, status models.EscalationStatus, limit int) ([]*models.Escalation, error)
	ResolveEscalation(ctx context.Context, id string) (*models.Escalation, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
