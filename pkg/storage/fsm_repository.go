// Package storage holds the sqlx-backed repositories, one per table owned
// by this service (spec.md §6's fixed persisted-state list). Every method
// takes an explicit context and either *sqlx.DB or *sqlx.Tx, never holding
// a package-level connection the way the teacher's ent client is injected
// per-service.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
)

// FSMRow is a row of fsm_state.
type FSMRow struct {
	FSMKind        string         `db:"fsm_kind"`
	EntityID       string         `db:"entity_id"`
	CurrentState   string         `db:"current_state"`
	PreviousState  sql.NullString `db:"previous_state"`
	TransitionAt   time.Time      `db:"transition_at"`
	Metadata       []byte         `db:"metadata"`
	LeaseID        sql.NullString `db:"lease_id"`
	LeaseEpoch     int64          `db:"lease_epoch"`
	LeaseExpiresAt sql.NullTime   `db:"lease_expires_at"`
}

// FSMHistoryRow is an append-only row of fsm_state_history.
type FSMHistoryRow struct {
	HistoryID     int64     `db:"history_id"`
	FSMKind       string    `db:"fsm_kind"`
	EntityID      string    `db:"entity_id"`
	FromState     sql.NullString `db:"from_state"`
	ToState       string    `db:"to_state"`
	Action        string    `db:"action"`
	DurationMS    sql.NullInt64 `db:"duration_ms"`
	Success       bool      `db:"success"`
	ErrorMessage  sql.NullString `db:"error_message"`
	CorrelationID string    `db:"correlation_id"`
	OccurredAt    time.Time `db:"occurred_at"`
}

// FSMRepository owns fsm_state and fsm_state_history — the FSM reducer is
// its only writer, per spec.md §4.4.
type FSMRepository struct {
	db *sqlx.DB
}

func NewFSMRepository(db *sqlx.DB) *FSMRepository {
	return &FSMRepository{db: db}
}

// Get fetches the current row for (fsmKind, entityID), creating none if
// absent — callers that need "create on first event" use ClaimLease, which
// upserts.
func (r *FSMRepository) Get(ctx context.Context, fsmKind, entityID string) (*FSMRow, error) {
	var row FSMRow
	err := r.db.GetContext(ctx, &row,
		`SELECT fsm_kind, entity_id, current_state, previous_state, transition_at, metadata,
		        lease_id, lease_epoch, lease_expires_at
		 FROM fsm_state WHERE fsm_kind = $1 AND entity_id = $2`, fsmKind, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fsm_repository: get: %w", err)
	}
	return &row, nil
}

// ClaimLease performs the propose() compare-and-set from spec.md §4.4: if
// the row has no lease or the lease has expired, a new lease_id is
// assigned and lease_epoch incremented; otherwise the existing holder's
// claim is returned unchanged and won is false. The row is created with
// initial_state on first event for the entity (upsert).
func (r *FSMRepository) ClaimLease(ctx context.Context, fsmKind, entityID, initialState string, ttl time.Duration) (row FSMRow, won bool, err error) {
	newLeaseID := uuid.NewString()
	expiresAt := time.Now().UTC().Add(ttl)

	// INSERT ... ON CONFLICT claims the row on first sight, or steals the
	// lease when the existing one is expired — the SQL analog of the
	// teacher's `ForUpdate(sql.WithLockAction(sql.SkipLocked))` claim,
	// adapted from "claim a free row" to "claim or steal an expired lease."
	const q = `
		INSERT INTO fsm_state (fsm_kind, entity_id, current_state, transition_at, lease_id, lease_epoch, lease_expires_at)
		VALUES ($1, $2, $3, now(), $4, 1, $5)
		ON CONFLICT (fsm_kind, entity_id) DO UPDATE
		    SET lease_id = $4,
		        lease_epoch = fsm_state.lease_epoch + 1,
		        lease_expires_at = $5
		    WHERE fsm_state.lease_expires_at IS NULL OR fsm_state.lease_expires_at <= now()
		RETURNING fsm_kind, entity_id, current_state, previous_state, transition_at, metadata,
		          lease_id, lease_epoch, lease_expires_at`

	var claimed FSMRow
	err = r.db.GetContext(ctx, &claimed, q, fsmKind, entityID, initialState, newLeaseID, expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		// The row exists and its lease is still live — fetch it so the
		// caller can report who holds it, and signal Conflict.
		existing, getErr := r.Get(ctx, fsmKind, entityID)
		if getErr != nil {
			return FSMRow{}, false, fmt.Errorf("fsm_repository: claim lost but row missing: %w", getErr)
		}
		return *existing, false, nil
	}
	if err != nil {
		return FSMRow{}, false, fmt.Errorf("fsm_repository: claim lease: %w", err)
	}
	return claimed, true, nil
}

// Transition applies a validated (from_state, action, to_state) edge and
// appends a history row in one transaction — "no history without a state
// change; no state change without history" (spec.md §4.4).
func (r *FSMRepository) Transition(ctx context.Context, fsmKind, entityID, leaseID string, leaseEpoch int64, toState, action, correlationID string, metadata []byte, durationMS int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fsm_repository: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var fromState string
	err = tx.GetContext(ctx, &fromState,
		`UPDATE fsm_state SET previous_state = current_state, current_state = $1, transition_at = now(), metadata = $2
		 WHERE fsm_kind = $3 AND entity_id = $4 AND lease_id = $5 AND lease_epoch = $6 AND lease_expires_at > now()
		 RETURNING previous_state`,
		toState, metadata, fsmKind, entityID, leaseID, leaseEpoch)
	if errors.Is(err, sql.ErrNoRows) {
		return domainerr.New(domainerr.StaleLease, correlationID, "lease expired or stolen before transition")
	}
	if err != nil {
		return fmt.Errorf("fsm_repository: update state: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO fsm_state_history (fsm_kind, entity_id, from_state, to_state, action, duration_ms, success, correlation_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, true, $7, now())`,
		fsmKind, entityID, fromState, toState, action, durationMS, correlationID)
	if err != nil {
		return fmt.Errorf("fsm_repository: insert history: %w", err)
	}

	return tx.Commit()
}

// Release clears the lease fields so a future proposer can claim
// immediately rather than waiting for TTL expiry.
func (r *FSMRepository) Release(ctx context.Context, fsmKind, entityID, leaseID string, leaseEpoch int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fsm_state SET lease_expires_at = now() WHERE fsm_kind = $1 AND entity_id = $2 AND lease_id = $3 AND lease_epoch = $4`,
		fsmKind, entityID, leaseID, leaseEpoch)
	if err != nil {
		return fmt.Errorf("fsm_repository: release: %w", err)
	}
	return nil
}

// FindExpiredLeases returns every fsm_state row whose lease has expired,
// for the orphan-detection loop (pkg/fsm's ticker, grounded in the
// teacher's runOrphanDetection) to log — harvesting never transitions
// state itself, only a fresh propose() may.
func (r *FSMRepository) FindExpiredLeases(ctx context.Context, olderThan time.Duration) ([]FSMRow, error) {
	var rows []FSMRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT fsm_kind, entity_id, current_state, previous_state, transition_at, metadata, lease_id, lease_epoch, lease_expires_at
		 FROM fsm_state WHERE lease_expires_at IS NOT NULL AND lease_expires_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("fsm_repository: find expired leases: %w", err)
	}
	return rows, nil
}

// HistoryFor returns every history row for an entity, ordered by
// occurred_at, used by invariants #4 and #5's tests.
func (r *FSMRepository) HistoryFor(ctx context.Context, fsmKind, entityID string) ([]FSMHistoryRow, error) {
	var rows []FSMHistoryRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT history_id, fsm_kind, entity_id, from_state, to_state, action, duration_ms, success, error_message, correlation_id, occurred_at
		 FROM fsm_state_history WHERE fsm_kind = $1 AND entity_id = $2 ORDER BY occurred_at ASC`, fsmKind, entityID)
	if err != nil {
		return nil, fmt.Errorf("fsm_repository: history: %w", err)
	}
	return rows, nil
}
