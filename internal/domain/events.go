package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Aggregate and event type names published through the outbox.
const (
	AggregateCycle = "cycle"
	AggregateSlip  = "slip"

	EventCycleCreated  = "created"
	EventCycleResolved = "resolved"
	EventSlipPlaced    = "placed"
	EventPrizeClaimed  = "prize_claimed"
)

// OutboxDraft is an event staged in the transactional outbox, written in the
// same transaction as the state change it describes.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func newDraft(aggregateType, aggregateID, eventType string, payload any) OutboxDraft {
	body, _ := json.Marshal(payload)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		OccurredAt:    time.Now().UTC(),
	}
}

// NewCycleCreatedEvent announces a freshly published cycle.
func NewCycleCreatedEvent(c *Cycle) OutboxDraft {
	return newDraft(AggregateCycle, strconv.FormatInt(c.ID, 10), EventCycleCreated, map[string]any{
		"cycle_id":  c.ID,
		"game_date": c.GameDate,
		"starts_at": c.StartsAt,
		"ends_at":   c.EndsAt,
	})
}

// NewCycleResolvedEvent announces submitted results.
func NewCycleResolvedEvent(c *Cycle) OutboxDraft {
	return newDraft(AggregateCycle, strconv.FormatInt(c.ID, 10), EventCycleResolved, map[string]any{
		"cycle_id":           c.ID,
		"resolution_tx_hash": c.ResolutionTxHash,
	})
}

// NewSlipPlacedEvent announces an accepted slip.
func NewSlipPlacedEvent(s *Slip) OutboxDraft {
	return newDraft(AggregateSlip, strconv.FormatInt(s.ID, 10), EventSlipPlaced, map[string]any{
		"slip_id":  s.ID,
		"cycle_id": s.CycleID,
		"player":   s.Player,
		"tx_hash":  s.TxHash,
	})
}

// NewPrizeClaimedEvent announces a settled prize claim.
func NewPrizeClaimedEvent(claim *PrizeClaim) OutboxDraft {
	return newDraft(AggregateSlip, strconv.FormatInt(claim.SlipID, 10), EventPrizeClaimed, map[string]any{
		"cycle_id": claim.CycleID,
		"slip_id":  claim.SlipID,
		"player":   claim.Player,
		"rank":     claim.Rank,
		"amount":   claim.Amount,
	})
}
