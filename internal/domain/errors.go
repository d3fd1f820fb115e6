package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches on the error code so callers can compare against constructor
// output without caring about the message.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Predicate failures: rejected, never retried.

func ErrInsufficientCandidates(have, want int) *AppError {
	return &AppError{Code: "INSUFFICIENT_CANDIDATES", Message: fmt.Sprintf("only %d candidates available, need %d", have, want), Status: 422}
}

func ErrPredictionMismatch(msg string) *AppError {
	return &AppError{Code: "PREDICTION_MISMATCH", Message: msg, Status: 400}
}

func ErrSlipClosedForBetting(cycleID int64) *AppError {
	return &AppError{Code: "SLIP_CLOSED_FOR_BETTING", Message: fmt.Sprintf("cycle %d is closed for betting", cycleID), Status: 409}
}

func ErrAlreadyClaimed(cycleID, slipID int64) *AppError {
	return &AppError{Code: "ALREADY_CLAIMED", Message: fmt.Sprintf("prize for slip %d in cycle %d already claimed", slipID, cycleID), Status: 409}
}

func ErrNotEligibleForPrize(correctCount int) *AppError {
	return &AppError{Code: "NOT_ELIGIBLE_FOR_PRIZE", Message: fmt.Sprintf("slip is not eligible for a prize (correct count %d)", correctCount), Status: 422}
}

func ErrUnauthorizedClaim(player string) *AppError {
	return &AppError{Code: "UNAUTHORIZED_CLAIM", Message: fmt.Sprintf("player %s does not own this slip", player), Status: 403}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: "RATE_LIMITED", Message: msg, Status: 429}
}

// Invariant violations: fatal, always alerted.

func ErrValidationFailed(msg string) *AppError {
	return &AppError{Code: "VALIDATION_FAILED", Message: msg, Status: 422}
}

func ErrDuplicateFixtureInCycle(fixtureID int64) *AppError {
	return &AppError{Code: "DUPLICATE_FIXTURE_IN_CYCLE", Message: fmt.Sprintf("fixture %d appears more than once", fixtureID), Status: 500}
}

func ErrWrongMatchCount(have int) *AppError {
	return &AppError{Code: "WRONG_MATCH_COUNT", Message: fmt.Sprintf("cycle has %d matches, expected %d", have, MatchesPerCycle), Status: 500}
}

func ErrCycleSyncMismatch(dbID, chainID int64) *AppError {
	return &AppError{Code: "CYCLE_SYNC_MISMATCH", Message: fmt.Sprintf("db cycle id %d does not match chain cycle id %d", dbID, chainID), Status: 500}
}

func ErrCorruptSnapshot(cycleID int64, cause error) *AppError {
	return &AppError{Code: "CORRUPT_SNAPSHOT", Message: fmt.Sprintf("cycle %d snapshot is corrupt", cycleID), Status: 500, Cause: cause}
}

// ErrCycleAlreadyOnChain signals an idempotent submission: the chain already
// carries the cycle, so no new transaction was sent and no hash is available
// from this run.
func ErrCycleAlreadyOnChain(cycleID int64) *AppError {
	return &AppError{Code: "CYCLE_ALREADY_ON_CHAIN", Message: fmt.Sprintf("cycle %d is already on chain", cycleID), Status: 409}
}

// External failures: escalated, never retried.

func ErrContractReverted(op string, cause error) *AppError {
	return &AppError{Code: "CONTRACT_REVERTED", Message: fmt.Sprintf("contract call %s reverted", op), Status: 502, Cause: cause}
}

// Generic.

func ErrNotFound(entity string, id int64) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s %d not found", entity, id), Status: 404}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: msg, Status: 500, Cause: cause}
}
