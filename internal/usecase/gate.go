package usecase

import (
	"context"
	"fmt"

	"FeeSync/internal/domain"
	"FeeSync/internal/ports"
)

// SyncLedgerGate decides whether an encounter was already handled.
type SyncLedgerGate struct {
	ledger ports.SyncLedger
	policy domain.GatePolicy
}

// NewSyncLedgerGate defaults to the success-only policy.
func NewSyncLedgerGate(ledger ports.SyncLedger, policy domain.GatePolicy) *SyncLedgerGate {
	if !policy.Valid() {
		policy = domain.GateSuccessOnly
	}
	return &SyncLedgerGate{ledger: ledger, policy: policy}
}

// Policy reports the active gate policy.
func (g *SyncLedgerGate) Policy() domain.GatePolicy {
	return g.policy
}

// IsAlreadyProcessed checks a single encounter against the ledger.
func (g *SyncLedgerGate) IsAlreadyProcessed(ctx context.Context, encounterID string) (bool, error) {
	ok, err := g.ledger.Exists(ctx, encounterID, g.policy.StatusFilter())
	if err != nil {
		return false, fmt.Errorf("check ledger %s: %w", encounterID, err)
	}
	return ok, nil
}

// Prefetch returns the processed subset of ids in one ledger round trip.
func (g *SyncLedgerGate) Prefetch(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	set, err := g.ledger.ProcessedSet(ctx, ids, g.policy.StatusFilter())
	if err != nil {
		return nil, fmt.Errorf("load processed: %w", err)
	}
	return set, nil
}
