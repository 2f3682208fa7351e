package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

func nowText() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s %q: %w", field, value, err)
	}
	return t, nil
}

// Settings

// GetSetting returns the value for key. ok is false when the key is unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key. Last write wins.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	now := nowText()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now, now)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// ListSettings returns every setting ordered by key.
func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := []Setting{}
	for rows.Next() {
		var st Setting
		var updatedAt string
		if err := rows.Scan(&st.Key, &st.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		if st.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
			return nil, err
		}
		settings = append(settings, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return settings, nil
}

// Optimization history

// SaveOptimization appends rec to the history log and returns its id.
// A zero CreatedAt is stamped with the current time.
func (s *Store) SaveOptimization(ctx context.Context, rec *OptimizationRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO optimization_history
		(original_prompt, optimized_prompt, confidence, tokens_used, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.OriginalPrompt,
		rec.OptimizedPrompt,
		rec.Confidence,
		rec.TokensUsed,
		rec.ProcessingTimeMs,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save optimization history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get optimization id: %w", err)
	}
	rec.ID = id
	return id, nil
}

// ListOptimizations returns up to limit records, most recent first.
// A non-positive limit returns everything.
func (s *Store) ListOptimizations(ctx context.Context, limit int) ([]OptimizationRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_prompt, optimized_prompt, confidence, tokens_used, processing_time_ms, created_at
		FROM optimization_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list optimization history: %w", err)
	}
	defer rows.Close()

	records := []OptimizationRecord{}
	for rows.Next() {
		var rec OptimizationRecord
		var createdAt string
		err := rows.Scan(
			&rec.ID,
			&rec.OriginalPrompt,
			&rec.OptimizedPrompt,
			&rec.Confidence,
			&rec.TokensUsed,
			&rec.ProcessingTimeMs,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan optimization row: %w", err)
		}
		if rec.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating optimization history: %w", err)
	}
	return records, nil
}

// Process history

// SaveProcessHistory records a tracked process lifetime and returns its id.
func (s *Store) SaveProcessHistory(ctx context.Context, h *ProcessHistory) (int64, error) {
	var endTime sql.NullString
	if h.EndTime != nil {
		endTime = sql.NullString{String: h.EndTime.UTC().Format(timeLayout), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO process_history
		(process_name, pid, path, start_time, end_time, max_cpu_usage, max_memory_usage)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		h.ProcessName,
		int64(h.PID),
		h.Path,
		h.StartTime.UTC().Format(timeLayout),
		endTime,
		h.MaxCPUUsage,
		int64(h.MaxMemoryUsage),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save process history for pid %d: %w", h.PID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get process history id: %w", err)
	}
	h.ID = id
	return id, nil
}

// ListProcessHistory returns up to limit records, most recent first.
func (s *Store) ListProcessHistory(ctx context.Context, limit int) ([]ProcessHistory, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, process_name, pid, path, start_time, end_time, max_cpu_usage, max_memory_usage
		FROM process_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list process history: %w", err)
	}
	defer rows.Close()

	history := []ProcessHistory{}
	for rows.Next() {
		var h ProcessHistory
		var pid, maxMem int64
		var startTime string
		var endTime sql.NullString
		err := rows.Scan(&h.ID, &h.ProcessName, &pid, &h.Path, &startTime, &endTime, &h.MaxCPUUsage, &maxMem)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process history row: %w", err)
		}
		h.PID = uint32(pid)
		h.MaxMemoryUsage = uint64(maxMem)
		if h.StartTime, err = parseTime("start_time", startTime); err != nil {
			return nil, err
		}
		if endTime.Valid {
			end, err := parseTime("end_time", endTime.String)
			if err != nil {
				return nil, err
			}
			h.EndTime = &end
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating process history: %w", err)
	}
	return history, nil
}

// Task folders

// SaveTaskFolder records a created folder and returns its id.
func (s *Store) SaveTaskFolder(ctx context.Context, name, path string) (int64, error) {
	now := nowText()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO task_folders (folder_name, folder_path, status, created_at, updated_at)
		VALUES (?, ?, 'active', ?, ?)
	`, name, path, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to save task folder %s: %w", name, err)
	}
	return result.LastInsertId()
}

// ListTaskFolders returns all recorded folders, most recent first.
func (s *Store) ListTaskFolders(ctx context.Context) ([]TaskFolder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, folder_name, folder_path, status, created_at
		FROM task_folders
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list task folders: %w", err)
	}
	defer rows.Close()

	folders := []TaskFolder{}
	for rows.Next() {
		var f TaskFolder
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &f.Path, &f.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan task folder row: %w", err)
		}
		if f.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task folders: %w", err)
	}
	return folders, nil
}
