package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/lendchat/internal/models"
)

type fakeStore struct {
	pingErr  error
	loans    []models.Loan
	payments []models.Payment
	docs     []models.Document
	entries  []models.ConversationEntry
	kb       []models.Document

	loansErr, paymentsErr, docsErr, entriesErr, kbErr error

	gotLimit int
	gotQuery string
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListLoans(context.Context, string) ([]models.Loan, error) {
	return f.loans, f.loansErr
}

func (f *fakeStore) ListPayments(context.Context, string) ([]models.Payment, error) {
	return f.payments, f.paymentsErr
}

func (f *fakeStore) ListCustomerDocuments(context.Context, string) ([]models.Document, error) {
	return f.docs, f.docsErr
}

func (f *fakeStore) ListConversationEntries(_ context.Context, _ string, limit int) ([]models.ConversationEntry, error) {
	f.gotLimit = limit
	return f.entries, f.entriesErr
}

func (f *fakeStore) SearchKnowledge(_ context.Context, query string, _ int) ([]models.Document, error) {
	f.gotQuery = query
	return f.kb, f.kbErr
}

var errBoom = errors.New("boom")

func TestRetrieve_AssemblesSnapshot(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		loans:    []models.Loan{{ID: "l1", Amount: 8000}},
		payments: []models.Payment{{ID: "p1", Amount: 800, Status: models.PaymentStatusCompleted}},
		docs:     []models.Document{{ID: "d1", Title: "Agreement"}},
		entries:  []models.ConversationEntry{{ID: "e1", Content: "hi"}},
		kb:       []models.Document{{Title: "Balances", Type: models.DocumentTypeFAQ, Content: "Your balance is shown in the app."}},
	}
	r := New(fs, WithClock(func() time.Time { return fixed }))

	cc, err := r.Retrieve(context.Background(), "c1", "What is my loan balance?")
	require.NoError(t, err)

	assert.Equal(t, "c1", cc.CustomerID)
	assert.Len(t, cc.LoanHistory, 1)
	assert.Len(t, cc.PaymentHistory, 1)
	assert.Len(t, cc.RelevantDocuments, 1)
	assert.Len(t, cc.ConversationHistory, 1)
	assert.Contains(t, cc.Context, "Balances (faq)")
	assert.Contains(t, cc.Context, "shown in the app")
	assert.Equal(t, fixed, cc.RetrievedAt)
	assert.Equal(t, defaultHistoryLimit, fs.gotLimit)
	assert.Equal(t, "What is my loan balance?", fs.gotQuery)
}

func TestRetrieve_SubReadFailuresDegrade(t *testing.T) {
	fs := &fakeStore{
		loans:       []models.Loan{{ID: "l1", Amount: 8000}},
		paymentsErr: errBoom,
		docsErr:     errBoom,
		kbErr:       errBoom,
	}
	r := New(fs)

	cc, err := r.Retrieve(context.Background(), "c1", "balance")
	require.NoError(t, err)
	assert.Len(t, cc.LoanHistory, 1)
	assert.NotNil(t, cc.PaymentHistory)
	assert.Empty(t, cc.PaymentHistory)
	assert.Empty(t, cc.RelevantDocuments)
	assert.Empty(t, cc.Context)
}

func TestRetrieve_NilSlicesBecomeEmpty(t *testing.T) {
	r := New(&fakeStore{})

	cc, err := r.Retrieve(context.Background(), "c1", "")
	require.NoError(t, err)
	assert.NotNil(t, cc.LoanHistory)
	assert.NotNil(t, cc.PaymentHistory)
	assert.NotNil(t, cc.RelevantDocuments)
	assert.NotNil(t, cc.ConversationHistory)
	assert.Equal(t, models.SegmentBasic, SegmentContext(cc))
}

func TestRetrieve_PingFailureIsUnavailable(t *testing.T) {
	r := New(&fakeStore{pingErr: errors.New("connection refused")})

	cc, err := r.Retrieve(context.Background(), "c1", "hi")
	assert.Nil(t, cc)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRetrieve_AllSubReadsFailingIsUnavailable(t *testing.T) {
	r := New(&fakeStore{
		loansErr: errBoom, paymentsErr: errBoom, docsErr: errBoom, entriesErr: errBoom, kbErr: errBoom,
	})

	_, err := r.Retrieve(context.Background(), "c1", "hi")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRetrieve_BlankMessageAllReadsFailingIsUnavailable(t *testing.T) {
	fs := &fakeStore{loansErr: errBoom, paymentsErr: errBoom, docsErr: errBoom, entriesErr: errBoom}
	r := New(fs)

	for _, msg := range []string{"", "   "} {
		cc, err := r.Retrieve(context.Background(), "c1", msg)
		assert.Nil(t, cc)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	}
	assert.Empty(t, fs.gotQuery, "knowledge search is skipped for blank messages")
}

func TestRetrieve_Options(t *testing.T) {
	fs := &fakeStore{}
	r := New(fs, WithHistoryLimit(3), WithKnowledgeLimit(0))

	_, err := r.Retrieve(context.Background(), "c1", "hi")
	require.NoError(t, err)
	assert.Equal(t, 3, fs.gotLimit)
	assert.Equal(t, defaultKnowledgeLimit, r.knowledgeLimit)
}

func TestContextBlob_Truncates(t *testing.T) {
	long := make([]byte, maxSnippet+50)
	for i := range long {
		long[i] = 'x'
	}
	blob := contextBlob([]models.Document{{Title: "T", Type: models.DocumentTypePolicy, Content: string(long)}})
	assert.Contains(t, blob, "T (policy)")
	assert.True(t, len(blob) < len(long)+20)
	assert.Contains(t, blob, "...")
}

func TestContextBlob_TruncatesOnRuneBoundary(t *testing.T) {
	content := strings.Repeat("é", maxSnippet+10)
	blob := contextBlob([]models.Document{{Title: "Tarifa", Type: models.DocumentTypeFAQ, Content: content}})

	assert.True(t, utf8.ValidString(blob))
	assert.Contains(t, blob, strings.Repeat("é", maxSnippet)+"...")
	assert.NotContains(t, blob, strings.Repeat("é", maxSnippet+1))
}
