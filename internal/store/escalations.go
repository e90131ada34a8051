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

// CreateEscalation records a handoff. ID, status and creation time are
// filled in when empty.
func (s *SQLiteStore) CreateEscalation(ctx context.Context, e *models.Escalation) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Status == "" {
		e.Status = models.EscalationStatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode escalation: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO escalations (id, customer_id, session_id, reason, status, payload, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CustomerID, e.SessionID, e.Reason, string(e.Status), string(payload),
		e.CreatedAt.UTC(), nullTime(e.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("create escalation: %w", err)
	}
	return nil
}

// ListEscalations returns escalations, oldest first so the queue reads in
// arrival order. An empty status lists every escalation.
func (s *SQLiteStore) ListEscalations(ctx context.Context, status models.EscalationStatus, limit int) ([]*models.Escalation, error) {
	query := `SELECT payload, status, resolved_at FROM escalations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	escalations := []*models.Escalation{}
	for rows.Next() {
		var payload, st string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&payload, &st, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		e, err := decodeEscalation(payload, st, resolvedAt)
		if err != nil {
			return nil, err
		}
		escalations = append(escalations, e)
	}
	return escalations, rows.Err()
}

// ResolveEscalation marks an escalation resolved and returns it.
// Resolving an already resolved escalation keeps the first resolution time.
func (s *SQLiteStore) ResolveEscalation(ctx context.Context, id string) (*models.Escalation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE escalations SET status = ?, resolved_at = COALESCE(resolved_at, ?) WHERE id = ?`,
		string(models.EscalationStatusResolved), now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve escalation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}

	var payload, st string
	var resolvedAt sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT payload, status, resolved_at FROM escalations WHERE id = ?`, id,
	).Scan(&payload, &st, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	return decodeEscalation(payload, st, resolvedAt)
}

// decodeEscalation rebuilds an escalation from its payload. Status and
// resolution time come from their columns since they change after insert.
func decodeEscalation(payload, status string, resolvedAt sql.NullTime) (*models.Escalation, error) {
	var e models.Escalation
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, fmt.Errorf("decode escalation: %w", err)
	}
	e.Status = models.EscalationStatus(status)
	e.ResolvedAt = timePtr(resolvedAt)
	return &e, nil
}
