package billing

import (
	"context"
	"errors"
	"fmt"

	"highlightflow/internal/storage"

	"github.com/jackc/pgx/v5"
)

// Gate answers whether an owner may spend more and records what a project
// actually cost.
type Gate interface {
	Reserve(ctx context.Context, ownerID, projectID string, estimatedCost float64) (bool, error)
	RecordActual(ctx context.Context, ownerID, projectID string, cost float64) error
}

// Unlimited allows every reservation and records nothing.
type Unlimited struct{}

func (Unlimited) Reserve(context.Context, string, string, float64) (bool, error) { return true, nil }

func (Unlimited) RecordActual(context.Context, string, string, float64) error { return nil }

// LedgerGate checks an owner's credit balance against the charges of their
// other projects. Each project has one charge row, so recording the same
// project twice replaces rather than adds.
type LedgerGate struct {
	db *storage.DB
}

func NewLedgerGate(db *storage.DB) *LedgerGate {
	return &LedgerGate{db: db}
}

func (g *LedgerGate) Reserve(ctx context.Context, ownerID, projectID string, estimatedCost float64) (bool, error) {
	var balance float64
	err := g.db.Pool.QueryRow(ctx, `SELECT balance FROM credit_accounts WHERE owner_id=$1`, ownerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load credit balance: %w", err)
	}
	var spent float64
	err = g.db.Pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount),0) FROM billing_charges WHERE owner_id=$1 AND project_id <> $2::uuid`, ownerID, projectID).Scan(&spent)
	if err != nil {
		return false, fmt.Errorf("sum charges: %w", err)
	}
	return Allowed(balance, spent, estimatedCost), nil
}

func (g *LedgerGate) RecordActual(ctx context.Context, ownerID, projectID string, cost float64) error {
	_, err := g.db.Pool.Exec(ctx, `
INSERT INTO billing_charges (project_id, owner_id, amount) VALUES ($1::uuid, $2, $3)
ON CONFLICT (project_id) DO UPDATE SET amount=EXCLUDED.amount, updated_at=NOW()`, projectID, ownerID, cost)
	if err != nil {
		return fmt.Errorf("record charge: %w", err)
	}
	return nil
}

// Allowed reports whether estimated spend fits within balance after spent.
func Allowed(balance, spent, estimated float64) bool {
	if estimated < 0 {
		estimated = 0
	}
	return balance-spent >= estimated
}
