package db

import (
	"context"
	"time"

	"copyforge/internal/types"
)

// ProcessedEventRepo stores dedup markers for billing events.
type ProcessedEventRepo struct {
	db DBTX
}

func NewProcessedEventRepo(db DBTX) *ProcessedEventRepo {
	return &ProcessedEventRepo{db: db}
}

// Claim records eventID and reports whether this caller inserted the marker.
// false means the event was already claimed by an earlier delivery.
func (r *ProcessedEventRepo) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_billing_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim billing event", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release removes a marker so a redelivery can be applied again.
func (r *ProcessedEventRepo) Release(ctx context.Context, eventID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM processed_billing_events WHERE event_id = $1`, eventID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release billing event", err)
	}
	return nil
}

// PurgeBefore deletes markers processed before cutoff and returns how many
// were removed.
func (r *ProcessedEventRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM processed_billing_events WHERE processed_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge billing events", err)
	}
	return tag.RowsAffected(), nil
}
