package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ServiceCallRecord struct {
	CallID       string
	ProjectID    string
	Stage        string
	Operation    string
	ProviderName string
	Model        string
	Status       string
	ErrorKind    string
	Cost         float64
	Duration     time.Duration
}

// ServiceCallRepo is the audit log of analysis and embedding calls.
type ServiceCallRepo struct {
	db *DB
}

func NewServiceCallRepo(db *DB) *ServiceCallRepo {
	return &ServiceCallRepo{db: db}
}

func (r *ServiceCallRepo) Insert(ctx context.Context, rec ServiceCallRecord) error {
	if rec.CallID == "" {
		rec.CallID = uuid.NewString()
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO service_calls(call_id, project_id, stage, operation, provider_name, model, status, error_kind, cost, duration_ms)
VALUES ($1::uuid, NULLIF($2,'')::uuid, $3, $4, $5, $6, $7, NULLIF($8,''), $9, $10)
ON CONFLICT (call_id) DO NOTHING`,
		rec.CallID, rec.ProjectID, rec.Stage, rec.Operation, rec.ProviderName, rec.Model, rec.Status, rec.ErrorKind, rec.Cost, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert service call: %w", err)
	}
	return nil
}
