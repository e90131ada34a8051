package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/lendchat/internal/models"
)

// LoadSession returns the stored session state, or ErrNotFound.
func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, sessionID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(state)
}

// ActiveSession returns the customer's most recently active non-terminal
// session, or ErrNotFound when every session has ended or escalated.
func (s *SQLiteStore) ActiveSession(ctx context.Context, customerID string) (*models.Session, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions
		WHERE customer_id = ? AND current_step NOT IN (?, ?)
		ORDER BY last_activity DESC LIMIT 1`,
		customerID, string(models.StepEnded), string(models.StepEscalated),
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active session for %s: %w", customerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}
	return decodeSession(state)
}

// ListSessions returns sessions matching the filter, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error) {
	query := `SELECT state FROM sessions WHERE 1=1`
	var args []any

	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.Step != "" {
		query += ` AND current_step = ?`
		args = append(args, string(filter.Step))
	}
	query += ` ORDER BY last_activity DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess, err := decodeSession(state)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SaveSession upserts the full session state. When the session has reached
// a terminal step, a conversation entry summarizing it is recorded once.
// A single retry is made on lock contention.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.SessionID == "" {
		return fmt.Errorf("save session: session id is required")
	}

	err := s.saveSession(ctx, sess)
	if IsBusy(err) {
		err = s.saveSession(ctx, sess)
	}
	return err
}

func (s *SQLiteStore) saveSession(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, customer_id, current_step, requires_escalation, escalation_reason,
			segment, language, state, started_at, last_activity, ended_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_step = excluded.current_step,
			requires_escalation = excluded.requires_escalation,
			escalation_reason = excluded.escalation_reason,
			segment = excluded.segment,
			language = excluded.language,
			state = excluded.state,
			last_activity = excluded.last_activity,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at`,
		sess.SessionID, sess.CustomerID, string(sess.CurrentStep), boolToInt(sess.RequiresEscalation),
		sess.EscalationReason, string(sess.CustomerSegment), sess.Language, string(data),
		sess.Metadata.StartTime.UTC(), sess.Metadata.LastActivity.UTC(), nullTime(sess.Metadata.EndTime), now,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if sess.Terminal() {
		if err := recordConversationEntry(ctx, tx, sess); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// recordConversationEntry writes the summary row for a finished session
// unless one already exists.
func recordConversationEntry(ctx context.Context, tx *sql.Tx, sess *models.Session) error {
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_entries WHERE session_id = ?`, sess.SessionID,
	).Scan(&count); err != nil {
		return fmt.Errorf("check conversation entry: %w", err)
	}
	if count > 0 {
		return nil
	}

	msg, ok := sess.LastCustomerMessage()
	if !ok {
		return nil
	}
	sentiment := msg.Sentiment
	if sentiment == "" {
		sentiment = models.SentimentNeutral
	}
	ts := sess.Metadata.LastActivity
	if ts.IsZero() {
		ts = msg.Timestamp
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_entries (id, customer_id, session_id, content, sentiment, resolved, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		NewID(), sess.CustomerID, sess.SessionID, msg.Content, string(sentiment),
		boolToInt(!sess.RequiresEscalation), ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record conversation entry: %w", err)
	}
	return nil
}

func decodeSession(state string) (*models.Session, error) {
	var sess models.Session
	if err := json.Unmarshal([]byte(state), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.History == nil {
		sess.History = []models.Message{}
	}
	return &sess, nil
}
