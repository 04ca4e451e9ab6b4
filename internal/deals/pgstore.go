package deals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-deals/internal/platform/db"
)

// schemaSQL creates the deal document table.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS deals (
	id          UUID PRIMARY KEY,
	deal_number TEXT NOT NULL UNIQUE,
	tenant_id   BIGINT NOT NULL,
	agency_id   BIGINT NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	document    JSONB NOT NULL,
	version     BIGINT NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS deals_tenant_status_idx ON deals (tenant_id, status);
`

// PGStore persists deals as JSONB documents guarded by a version column.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore using the provided pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// EnsureSchema creates the deals table when missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return mapPGError("ensure schema", err)
	}
	return nil
}

// CreateDeal inserts a new deal at version 1.
func (s *PGStore) CreateDeal(ctx context.Context, d *Deal) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	Normalize(d)
	d.Version = 1
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("deals: encode deal: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO deals (id, deal_number, tenant_id, agency_id, stage, status, document, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)`,
		d.ID, d.DealNumber, d.TenantID, d.AgencyID, d.Lifecycle.Stage.Wire(), string(d.Lifecycle.Status), doc, d.Audit.CreatedAt)
	if err != nil {
		return mapPGError("create deal", err)
	}
	return nil
}

// FetchDeal loads a deal by id.
func (s *PGStore) FetchDeal(ctx context.Context, id uuid.UUID) (*Deal, error) {
	row := s.pool.QueryRow(ctx, `SELECT stage, document, version FROM deals WHERE id = $1`, id)
	d, err := scanDeal(row)
	if err != nil {
		return nil, mapPGError("fetch deal", err)
	}
	return d, nil
}

// UpdateDeal applies a field patch.
func (s *PGStore) UpdateDeal(ctx context.Context, id uuid.UUID, patch DealPatch) (*Deal, error) {
	return s.mutate(ctx, "update deal", id, func(d *Deal) error { return ApplyPatch(d, patch) })
}

// ProgressStage moves the deal to the requested stage.
func (s *PGStore) ProgressStage(ctx context.Context, id uuid.UUID, req StageRequest) (*Deal, error) {
	return s.mutate(ctx, "progress stage", id, func(d *Deal) error { return ApplyStage(d, req) })
}

// RecordPayment records a payment.
func (s *PGStore) RecordPayment(ctx context.Context, id uuid.UUID, req PaymentRequest) (*Deal, error) {
	return s.mutate(ctx, "record payment", id, func(d *Deal) error { return ApplyPaymentRequest(d, req) })
}

// CreatePaymentSchedule stores the payment plan.
func (s *PGStore) CreatePaymentSchedule(ctx context.Context, id uuid.UUID, req ScheduleRequest) error {
	_, err := s.mutate(ctx, "create payment schedule", id, func(d *Deal) error { return ApplySchedule(d, req) })
	return err
}

// CreateNote appends a note.
func (s *PGStore) CreateNote(ctx context.Context, id uuid.UUID, req NoteRequest) error {
	_, err := s.mutate(ctx, "create note", id, func(d *Deal) error { return ApplyNote(d, req) })
	return err
}

// CreateDocument attaches a document reference.
func (s *PGStore) CreateDocument(ctx context.Context, id uuid.UUID, req DocumentRequest) error {
	_, err := s.mutate(ctx, "create document", id, func(d *Deal) error { return ApplyDocument(d, req) })
	return err
}

// CompleteDeal closes the deal as completed.
func (s *PGStore) CompleteDeal(ctx context.Context, id uuid.UUID, req CompleteRequest) error {
	_, err := s.mutate(ctx, "complete deal", id, func(d *Deal) error { return ApplyCompletion(d, req) })
	return err
}

// CancelDeal closes the deal as cancelled.
func (s *PGStore) CancelDeal(ctx context.Context, id uuid.UUID, req CancelRequest) error {
	_, err := s.mutate(ctx, "cancel deal", id, func(d *Deal) error { return ApplyCancellation(d, req) })
	return err
}

// mutate locks the row, applies fn and writes the document back with a bumped version.
func (s *PGStore) mutate(ctx context.Context, op string, id uuid.UUID, fn func(*Deal) error) (*Deal, error) {
	var out *Deal
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT stage, document, version FROM deals WHERE id = $1 FOR UPDATE`, id)
		d, err := scanDeal(row)
		if err != nil {
			return err
		}
		version := d.Version
		if err := fn(d); err != nil {
			return err
		}
		d.Version = version + 1
		doc, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("deals: encode deal: %w", err)
		}
		tag, err := tx.Exec(ctx, `UPDATE deals SET stage = $2, status = $3, document = $4, version = version + 1, updated_at = $5
WHERE id = $1 AND version = $6`,
			id, d.Lifecycle.Stage.Wire(), string(d.Lifecycle.Status), doc, d.Audit.UpdatedAt, version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return wrapf(ErrStaleOrConflicting, "deal %s changed during %s", id, op)
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, mapPGError(op, err)
	}
	return out, nil
}

func scanDeal(row pgx.Row) (*Deal, error) {
	var (
		stageToken string
		doc        []byte
		version    int64
	)
	if err := row.Scan(&stageToken, &doc, &version); err != nil {
		return nil, err
	}
	var d Deal
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("deals: decode deal: %w", err)
	}
	stage, err := StageFromWire(stageToken)
	if err != nil {
		return nil, err
	}
	d.Lifecycle.Stage = stage
	d.Version = version
	return &d, nil
}

// mapPGError converts driver errors into engine error kinds. Engine errors pass through.
func mapPGError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrValidation, ErrPermissionDenied, ErrAlreadyTerminal, ErrStaleOrConflicting, ErrNotFound, ErrTransport} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return wrapf(ErrNotFound, "deal")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return wrapf(ErrStaleOrConflicting, "%s: %s", op, pgErr.Message)
		case "23505":
			return wrapf(ErrStaleOrConflicting, "%s: duplicate %s", op, pgErr.ConstraintName)
		}
	}
	return &TransportError{Op: op, Err: err}
}
