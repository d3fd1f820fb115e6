package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/oddyssey/engine/internal/domain"
)

// InsertAlert stores a monitor finding.
func (s *Store) InsertAlert(ctx context.Context, a domain.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oddyssey_alerts (id, severity, check_name, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, string(a.Severity), a.Check, a.Message, a.Details, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlertsSince returns alerts created after the cutoff, newest first.
func (s *Store) ListAlertsSince(ctx context.Context, cutoff time.Time) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, severity, check_name, message, details, created_at
		FROM oddyssey_alerts
		WHERE created_at > $1
		ORDER BY created_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var sev string
		if err := rows.Scan(&a.ID, &sev, &a.Check, &a.Message, &a.Details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = domain.AlertSeverity(sev)
		out = append(out, a)
	}
	return out, rows.Err()
}
