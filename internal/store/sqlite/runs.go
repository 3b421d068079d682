package sqlite

import (
	"context"
	"encoding/json"

	"sequence_engine/internal/model"
)

// SaveRuns 落库一批终态结果。单条失败不影响其余。
func (s *Store) SaveRuns(ctx context.Context, runs []model.SequenceRun) error {
	var firstErr error
	for _, run := range runs {
		if run.ID == "" || !run.Status.Terminal() {
			continue
		}
		steps, err := json.Marshal(run.Steps)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO runs (id, batch_id, site_id, site_name, status, steps_json, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				steps_json = excluded.steps_json,
				finished_at = excluded.finished_at
		`, run.ID, run.BatchID, run.SiteID, run.SiteName, string(run.Status), string(steps), run.StartedAtMs, run.FinishedAtMs)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.SequenceRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, site_id, site_name, status, steps_json, started_at, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SequenceRun
	for rows.Next() {
		var (
			run       model.SequenceRun
			status    string
			stepsJSON string
		)
		if err := rows.Scan(&run.ID, &run.BatchID, &run.SiteID, &run.SiteName, &status, &stepsJSON, &run.StartedAtMs, &run.FinishedAtMs); err != nil {
			return nil, err
		}
		run.Status = model.RunStatus(status)
		if err := json.Unmarshal([]byte(stepsJSON), &run.Steps); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListRunsByBatch(ctx context.Context, batchID string) ([]model.SequenceRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, site_id, site_name, status, steps_json, started_at, finished_at
		FROM runs WHERE batch_id = ? ORDER BY started_at ASC
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SequenceRun
	for rows.Next() {
		var (
			run       model.SequenceRun
			status    string
			stepsJSON string
		)
		if err := rows.Scan(&run.ID, &run.BatchID, &run.SiteID, &run.SiteName, &status, &stepsJSON, &run.StartedAtMs, &run.FinishedAtMs); err != nil {
			return nil, err
		}
		run.Status = model.RunStatus(status)
		if err := json.Unmarshal([]byte(stepsJSON), &run.Steps); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
