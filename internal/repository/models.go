package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// trainedAtLayout is fixed width so trained_at sorts lexically.
const trainedAtLayout = "2006-01-02T15:04:05.000000000Z"

var _ domain.Repository = (*SQLRepository)(nil)

// SaveModel stores a model generation and marks it current in one transaction.
// Superseded generations beyond the retain count are pruned.
func (r *SQLRepository) SaveModel(ctx context.Context, model *domain.ClassifierModel) error {
	if model == nil || model.ID == "" {
		return fmt.Errorf("%w: model id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE classifier_models SET is_current = 0 WHERE is_current = 1`); err != nil {
		return fmt.Errorf("failed to clear current model: %w", err)
	}

	insert := `
		INSERT INTO classifier_models (model_key, id, version, trained_at, is_current, payload)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(model_key) DO UPDATE SET
			id = excluded.id,
			is_current = 1,
			payload = excluded.payload
	`
	if _, err := tx.ExecContext(ctx, r.rebind(insert),
		model.Key(), model.ID, model.Version,
		model.TrainedAt.UTC().Format(trainedAtLayout), string(payload),
	); err != nil {
		return fmt.Errorf("failed to insert model: %w", err)
	}

	if err := r.pruneModels(ctx, tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLRepository) pruneModels(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT model_key FROM classifier_models
		WHERE is_current = 0
		ORDER BY trained_at DESC, model_key DESC
	`)
	if err != nil {
		return fmt.Errorf("failed to list model generations: %w", err)
	}

	var stale []string
	for i := 0; rows.Next(); i++ {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		if i >= r.modelRetain {
			stale = append(stale, key)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, key := range stale {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM classifier_models WHERE model_key = ?`), key); err != nil {
			return fmt.Errorf("failed to prune model %s: %w", key, err)
		}
	}
	return nil
}

// LoadModel returns the current model, or domain.ErrModelNotFound.
func (r *SQLRepository) LoadModel(ctx context.Context) (*domain.ClassifierModel, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM classifier_models WHERE is_current = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}

	var model domain.ClassifierModel
	if err := json.Unmarshal([]byte(payload), &model); err != nil {
		return nil, fmt.Errorf("failed to decode stored model: %w", err)
	}
	return &model, nil
}
