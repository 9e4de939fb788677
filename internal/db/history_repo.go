package db

import (
	"context"

	"copyforge/internal/types"
)

// GenerationHistoryRepo persists completed generations.
type GenerationHistoryRepo struct {
	db DBTX
}

func NewGenerationHistoryRepo(db DBTX) *GenerationHistoryRepo {
	return &GenerationHistoryRepo{db: db}
}

func (r *GenerationHistoryRepo) Record(ctx context.Context, rec types.GenerationRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO generations (id, user_id, content_type, prompt, generated_content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.UserID, rec.ContentType, rec.Prompt, rec.GeneratedContent, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record generation", err)
	}
	return nil
}

// ListByUser returns the newest records first.
func (r *GenerationHistoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]types.GenerationRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, content_type, prompt, generated_content, created_at
		 FROM generations
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list generations", err)
	}
	defer rows.Close()

	records := make([]types.GenerationRecord, 0, limit)
	for rows.Next() {
		var rec types.GenerationRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ContentType, &rec.Prompt, &rec.GeneratedContent, &rec.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan generation", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate generations", err)
	}
	return records, nil
}
