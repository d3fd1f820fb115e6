package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oddyssey/engine/internal/domain"
)

// GetClaim returns the prize claim for (cycle, slip, player), nil if absent.
func (s *Store) GetClaim(ctx context.Context, cycleID, slipID int64, player string) (*domain.PrizeClaim, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT cycle_id, slip_id, player, rank, amount, claimed, claim_tx_hash, claimed_at
		FROM oddyssey_prize_claims
		WHERE cycle_id = $1 AND slip_id = $2 AND player = $3`, cycleID, slipID, player)

	var pc domain.PrizeClaim
	err := row.Scan(&pc.CycleID, &pc.SlipID, &pc.Player, &pc.Rank, &pc.Amount,
		&pc.Claimed, &pc.ClaimTxHash, &pc.ClaimedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return &pc, nil
}

// SettleClaim marks a staged claim as paid and flips the slip's claimed flag,
// staging the claim event in the same transaction. The claimed guard makes a
// double settle a no-op that the caller detects via the returned bool.
func (s *Store) SettleClaim(ctx context.Context, claim *domain.PrizeClaim, txHash string, claimedAt time.Time) (bool, error) {
	settled := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE oddyssey_prize_claims
			SET claimed = true, claim_tx_hash = $4, claimed_at = $5, updated_at = now()
			WHERE cycle_id = $1 AND slip_id = $2 AND player = $3 AND NOT claimed`,
			claim.CycleID, claim.SlipID, claim.Player, txHash, claimedAt)
		if err != nil {
			return fmt.Errorf("settle claim: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		settled = true

		_, err = tx.Exec(ctx, `
			UPDATE oddyssey_slips SET prize_claimed = true, updated_at = now()
			WHERE slip_id = $1`, claim.SlipID)
		if err != nil {
			return fmt.Errorf("flag slip claimed: %w", err)
		}

		claim.Claimed = true
		claim.ClaimTxHash = &txHash
		claim.ClaimedAt = &claimedAt
		return insertOutbox(ctx, tx, domain.NewPrizeClaimedEvent(claim))
	})
	return settled, err
}
