package repository

import (
	"context"
	"fmt"

	"github.com/oddyssey/engine/internal/domain"
)

// insertOutbox stages an event in the same transaction as the state change.
func insertOutbox(ctx context.Context, db DBTX, draft domain.OutboxDraft) error {
	_, err := db.Exec(ctx, `
		INSERT INTO event_outbox (event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		draft.EventID, draft.AggregateType, draft.AggregateID, draft.EventType,
		draft.Payload, draft.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// InsertOutbox stages an event outside any caller-managed transaction.
func (s *Store) InsertOutbox(ctx context.Context, draft domain.OutboxDraft) error {
	return insertOutbox(ctx, s.pool, draft)
}
