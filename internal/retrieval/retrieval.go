// Package retrieval assembles the per-turn customer snapshot the workflow
// reasons over.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/joescharf/lendchat/internal/models"
)

// ErrStoreUnavailable means the customer store could not be reached at all.
// Individual sub-read failures never produce it.
var ErrStoreUnavailable = errors.New("customer store unavailable")

// CustomerStore is the read side of the customer data store. Implementations
// return empty slices, not errors, when a customer has no records.
type CustomerStore interface {
	Ping(ctx context.Context) error
	ListLoans(ctx context.Context, customerID string) ([]models.Loan, error)
	ListPayments(ctx context.Context, customerID string) ([]models.Payment, error)
	ListCustomerDocuments(ctx context.Context, customerID string) ([]models.Document, error)
	ListConversationEntries(ctx context.Context, customerID string, limit int) ([]models.ConversationEntry, error)
	SearchKnowledge(ctx context.Context, query string, limit int) ([]models.Document, error)
}

const (
	defaultHistoryLimit   = 10
	defaultKnowledgeLimit = 3
	maxSnippet            = 600
)

// Retriever builds CustomerContext snapshots from a CustomerStore.
type Retriever struct {
	store          CustomerStore
	historyLimit   int
	knowledgeLimit int
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithHistoryLimit sets how many prior conversation entries are read.
func WithHistoryLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// WithKnowledgeLimit sets how many knowledge base matches feed the context blob.
func WithKnowledgeLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.knowledgeLimit = n
		}
	}
}

// WithLogger sets the logger used for degraded sub-reads.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithClock overrides the time source stamped on snapshots.
func WithClock(now func() time.Time) Option {
	return func(r *Retriever) { r.now = now }
}

// New creates a Retriever over store.
func New(store CustomerStore, opts ...Option) *Retriever {
	r := &Retriever{
		store:          store,
		historyLimit:   defaultHistoryLimit,
		knowledgeLimit: defaultKnowledgeLimit,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve runs the sub-reads concurrently. Each one that fails degrades to
// an empty field. ErrStoreUnavailable is returned when the store does not
// answer a ping or when every sub-read fails.
func (r *Retriever) Retrieve(ctx context.Context, customerID, message string) (*models.CustomerContext, error) {
	if err := r.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	cc := &models.CustomerContext{
		CustomerID:          customerID,
		RelevantDocuments:   []models.Document{},
		LoanHistory:         []models.Loan{},
		PaymentHistory:      []models.Payment{},
		ConversationHistory: []models.ConversationEntry{},
	}

	var (
		mu       sync.Mutex
		failures []error
		kb       []models.Document
	)
	degrade := func(read string, err error) {
		r.logger.Warn("context sub-read failed", "customer_id", customerID, "read", read, "error", err)
		mu.Lock()
		failures = append(failures, fmt.Errorf("%s: %w", read, err))
		mu.Unlock()
	}

	searchKB := strings.TrimSpace(message) != ""
	reads := 4
	if searchKB {
		reads++
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		docs, err := r.store.ListCustomerDocuments(ctx, customerID)
		if err != nil {
			degrade("documents", err)
			return
		}
		cc.RelevantDocuments = nonNil(docs)
	})
	wg.Go(func() {
		loans, err := r.store.ListLoans(ctx, customerID)
		if err != nil {
			degrade("loans", err)
			return
		}
		cc.LoanHistory = nonNil(loans)
	})
	wg.Go(func() {
		payments, err := r.store.ListPayments(ctx, customerID)
		if err != nil {
			degrade("payments", err)
			return
		}
		cc.PaymentHistory = nonNil(payments)
	})
	wg.Go(func() {
		entries, err := r.store.ListConversationEntries(ctx, customerID, r.historyLimit)
		if err != nil {
			degrade("conversations", err)
			return
		}
		cc.ConversationHistory = nonNil(entries)
	})
	if searchKB {
		wg.Go(func() {
			docs, err := r.store.SearchKnowledge(ctx, message, r.knowledgeLimit)
			if err != nil {
				degrade("knowledge", err)
				return
			}
			kb = docs
		})
	}
	wg.Wait()

	if len(failures) == reads {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, errors.Join(failures...))
	}

	cc.Context = contextBlob(kb)
	cc.RetrievedAt = r.now().UTC()
	return cc, nil
}

// contextBlob renders knowledge base matches as plain text for prompts.
func contextBlob(docs []models.Document) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		content := strings.TrimSpace(d.Content)
		if runes := []rune(content); len(runes) > maxSnippet {
			content = string(runes[:maxSnippet]) + "..."
		}
		fmt.Fprintf(&b, "%s (%s)\n%s", d.Title, d.Type, content)
	}
	return b.String()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
