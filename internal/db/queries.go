package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"github.com/lucasnoah/writefactory/internal/archive"
	"github.com/lucasnoah/writefactory/internal/pipeline"
	"github.com/lucasnoah/writefactory/internal/progress"
	"github.com/lucasnoah/writefactory/internal/registry"
)

// RecordRun upserts a run record.
func (d *DB) RecordRun(ctx context.Context, rec registry.Record) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO runs (id, keyword, content_type, profile, status, step_index, step_count, step,
		                  result_id, error, error_kind, last_seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
		    status = EXCLUDED.status,
		    step_index = EXCLUDED.step_index,
		    step_count = EXCLUDED.step_count,
		    step = EXCLUDED.step,
		    result_id = EXCLUDED.result_id,
		    error = EXCLUDED.error,
		    error_kind = EXCLUDED.error_kind,
		    last_seq = EXCLUDED.last_seq,
		    updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.Keyword, rec.ContentType, rec.Profile, string(rec.Status), rec.StepIndex, rec.StepCount,
		rec.Step, rec.ResultID, rec.Error, rec.ErrorKind, int64(rec.LastSeq), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.ID, err)
	}
	return nil
}

const runColumns = `id, keyword, content_type, profile, status, step_index, step_count, step,
	result_id, error, error_kind, last_seq, created_at, updated_at`

func scanRun(row pgx.Row) (registry.Record, error) {
	var r registry.Record
	var status string
	var lastSeq int64
	err := row.Scan(&r.ID, &r.Keyword, &r.ContentType, &r.Profile, &status, &r.StepIndex, &r.StepCount,
		&r.Step, &r.ResultID, &r.Error, &r.ErrorKind, &lastSeq, &r.CreatedAt, &r.UpdatedAt)
	r.Status = registry.Status(status)
	r.LastSeq = uint64(lastSeq)
	return r, err
}

// GetRun returns one run record, or nil if it does not exist.
func (d *DB) GetRun(ctx context.Context, id string) (*registry.Record, error) {
	r, err := scanRun(d.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM runs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]registry.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.pool.Query(ctx, "SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, id LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []registry.Record
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Save stores a completed snapshot as a generation keyed by run id.
func (d *DB) Save(ctx context.Context, s pipeline.Snapshot) (string, error) {
	doc, err := sonic.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO generations (id, run_id, keyword, content_type, profile, title, sections, snapshot, completed_at)
		VALUES ($1, $1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		ON CONFLICT (id) DO UPDATE SET
		    title = EXCLUDED.title,
		    sections = EXCLUDED.sections,
		    snapshot = EXCLUDED.snapshot,
		    completed_at = EXCLUDED.completed_at`,
		s.RunID, s.Keyword, string(s.ContentType), s.Profile, s.Title, len(s.Sections), string(doc), s.CompletedAt,
	)
	if err != nil {
		return "", fmt.Errorf("save generation %s: %w", s.RunID, err)
	}
	return s.RunID, nil
}

// List returns generation summaries, newest first. limit <= 0 means 50.
func (d *DB) List(ctx context.Context, limit int) ([]archive.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, run_id, keyword, content_type, profile, title, sections, completed_at
		FROM generations ORDER BY completed_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []archive.Summary
	for rows.Next() {
		var s archive.Summary
		var ct string
		if err := rows.Scan(&s.ID, &s.RunID, &s.Keyword, &ct, &s.Profile, &s.Title, &s.Sections, &s.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		s.ContentType = pipeline.ContentType(ct)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get loads a generation's snapshot.
func (d *DB) Get(ctx context.Context, id string) (*pipeline.Snapshot, error) {
	var doc []byte
	err := d.pool.QueryRow(ctx, "SELECT snapshot FROM generations WHERE id = $1", id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	var s pipeline.Snapshot
	if err := sonic.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("decode generation %s: %w", id, err)
	}
	return &s, nil
}

// LogEvent appends a progress event to the run's event log. Replays of an
// already logged sequence number are ignored.
func (d *DB) LogEvent(ctx context.Context, ev progress.Event) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO run_events (run_id, seq, type, step, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (run_id, seq) DO NOTHING`,
		ev.RunID, int64(ev.Seq), string(ev.Type), ev.Step, ev.Status, string(payload), ev.Time,
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// RunEvents returns a run's logged events in sequence order.
func (d *DB) RunEvents(ctx context.Context, runID string) ([]progress.Event, error) {
	rows, err := d.pool.Query(ctx, "SELECT payload FROM run_events WHERE run_id = $1 ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("run events: %w", err)
	}
	defer rows.Close()

	var out []progress.Event
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev progress.Event
		if err := sonic.Unmarshal(doc, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RunsSince returns every run created at or after since, oldest first.
func (d *DB) RunsSince(ctx context.Context, since time.Time) ([]registry.Record, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+runColumns+" FROM runs WHERE created_at >= $1 ORDER BY created_at, id", since)
	if err != nil {
		return nil, fmt.Errorf("runs since: %w", err)
	}
	defer rows.Close()

	var out []registry.Record
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventsSince returns progress events logged at or after since, grouped by
// run and in sequence order within each run.
func (d *DB) EventsSince(ctx context.Context, since time.Time) ([]progress.Event, error) {
	rows, err := d.pool.Query(ctx, "SELECT payload FROM run_events WHERE created_at >= $1 ORDER BY run_id, seq", since)
	if err != nil {
		return nil, fmt.Errorf("events since: %w", err)
	}
	defer rows.Close()

	var out []progress.Event
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev progress.Event
		if err := sonic.Unmarshal(doc, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
