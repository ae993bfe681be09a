package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lucasnoah/writefactory/internal/archive"
	"github.com/lucasnoah/writefactory/internal/pipeline"
	"github.com/lucasnoah/writefactory/internal/progress"
	"github.com/lucasnoah/writefactory/internal/registry"
)

// testDB connects to WRITEFACTORY_TEST_DATABASE_URL and resets the schema.
// Tests are skipped when it is unset.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("WRITEFACTORY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WRITEFACTORY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Reset(ctx); err != nil {
		t.Fatalf("reset test db: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestMigrateIdempotent(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := d.pool.QueryRow(ctx, "SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}
}

func TestRecordRunUpsert(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec := registry.Record{
		ID: "run-1", Keyword: "AI副業", ContentType: "article", Status: registry.Pending,
		StepCount: 6, CreatedAt: now, UpdatedAt: now,
	}
	if err := d.RecordRun(ctx, rec); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	rec.Status = registry.Failed
	rec.StepIndex = 4
	rec.Step = "lead"
	rec.ErrorKind = "invalid_request"
	rec.Error = "bad prompt"
	rec.LastSeq = 9
	rec.UpdatedAt = now.Add(time.Second)
	if err := d.RecordRun(ctx, rec); err != nil {
		t.Fatalf("RecordRun update: %v", err)
	}

	got, err := d.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != registry.Failed || got.StepIndex != 4 || got.ErrorKind != "invalid_request" || got.LastSeq != 9 {
		t.Errorf("unexpected record: %+v", got)
	}

	missing, err := d.GetRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetRun(nope) = %v, %v", missing, err)
	}

	runs, err := d.ListRuns(ctx, 10)
	if err != nil || len(runs) != 1 {
		t.Errorf("ListRuns = %v, %v", runs, err)
	}
}

func TestGenerations(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	done := time.Now().UTC().Truncate(time.Millisecond)

	snap := pipeline.Snapshot{
		RunID: "run-1", Keyword: "AI副業", ContentType: pipeline.Dialogue, Title: "AI副業入門",
		Sections: []pipeline.Section{{
			Heading: "始め方",
			Lines:   []pipeline.DialogueLine{{Speaker: "霊夢", Text: "始めるわよ"}},
			Image:   -1,
		}},
		CompletedAt: done,
	}
	id, err := d.Save(ctx, snap)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := d.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Sections[0].Lines[0].Speaker != "霊夢" {
		t.Errorf("dialogue lost: %+v", got.Sections)
	}

	list, err := d.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Title != "AI副業入門" || list[0].Sections != 1 {
		t.Errorf("unexpected list: %+v", list)
	}

	if _, err := d.Get(ctx, "missing"); !errors.Is(err, archive.ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want archive.ErrNotFound", err)
	}
}

func TestRunEvents(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	events := []progress.Event{
		{Type: progress.TypeProgress, RunID: "run-1", Seq: 1, Step: "intent", Status: "running", Time: now},
		{Type: progress.TypeProgress, RunID: "run-1", Seq: 2, Step: "intent", Status: "completed", Time: now},
		{Type: progress.TypeResult, RunID: "run-1", Seq: 3, Status: "completed", ResultID: "run-1", Time: now},
	}
	for _, ev := range events {
		if err := d.LogEvent(ctx, ev); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}
	// duplicate seq is ignored
	if err := d.LogEvent(ctx, events[0]); err != nil {
		t.Fatalf("LogEvent duplicate: %v", err)
	}

	got, err := d.RunEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("RunEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d", i, ev.Seq)
		}
	}
	if !got[2].Terminal() {
		t.Error("last event should be terminal")
	}
}

func TestSinceQueries(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	old := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	recent := old.Add(48 * time.Hour)

	for _, r := range []registry.Record{
		{ID: "old", Keyword: "a", ContentType: "article", Status: registry.Completed, CreatedAt: old, UpdatedAt: old},
		{ID: "new", Keyword: "b", ContentType: "dialogue", Status: registry.Failed, CreatedAt: recent, UpdatedAt: recent},
	} {
		if err := d.RecordRun(ctx, r); err != nil {
			t.Fatalf("record run: %v", err)
		}
		ev := progress.Event{Type: progress.TypeProgress, RunID: r.ID, Seq: 1, Step: "intent", Status: "running", Time: r.CreatedAt}
		if err := d.LogEvent(ctx, ev); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	runs, err := d.RunsSince(ctx, recent.Add(-time.Hour))
	if err != nil {
		t.Fatalf("runs since: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "new" {
		t.Errorf("runs since = %+v", runs)
	}

	events, err := d.EventsSince(ctx, old)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(events) != 2 || events[0].RunID != "new" {
		t.Errorf("events since = %+v", events)
	}
}
