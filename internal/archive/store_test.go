package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucasnoah/writefactory/internal/pipeline"
	"github.com/lucasnoah/writefactory/internal/registry"
)

func testStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "generations"))
}

func snapshot(runID string, completed time.Time) pipeline.Snapshot {
	return pipeline.Snapshot{
		RunID:       runID,
		Keyword:     "AI副業",
		ContentType: pipeline.Article,
		Title:       "AI副業 完全ガイド",
		Sections: []pipeline.Section{
			{Heading: "AI副業とは", Body: "本文", Image: -1},
			{Heading: "始め方", Subheadings: []string{"準備"}, Body: "本文", Image: 0},
		},
		Media:       []pipeline.Media{{Section: 1, Prompt: "desk", URL: "https://example.com/a.png"}},
		StartedAt:   completed.Add(-time.Minute),
		CompletedAt: completed,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	id, err := s.Save(ctx, snapshot("run-1", now))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id != "run-1" {
		t.Errorf("id = %q, want run-1", id)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "AI副業 完全ガイド" || len(got.Sections) != 2 {
		t.Errorf("unexpected snapshot: %+v", got)
	}
	if got.Sections[1].Subheadings[0] != "準備" || got.Media[0].URL == "" {
		t.Errorf("nested fields lost: %+v", got.Sections)
	}
	if !got.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, now)
	}

	// no temp files left behind
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 {
		t.Errorf("expected exactly one file, got %d", len(entries))
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)
	for _, id := range []string{"missing", "../etc/passwd", ""} {
		if _, err := s.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) err = %v, want ErrNotFound", id, err)
		}
	}
}

func TestListOrderAndLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "newest", "middle"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		if _, err := s.Save(ctx, snapshot(id, base.Add(offsets[i]))); err != nil {
			t.Fatal(err)
		}
	}
	// a broken file is skipped
	if err := os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"newest", "middle", "old"}
	if len(all) != len(want) {
		t.Fatalf("List returned %d, want %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("all[%d] = %s, want %s", i, all[i].ID, id)
		}
	}
	if all[0].Sections != 2 || all[0].Keyword != "AI副業" {
		t.Errorf("summary fields: %+v", all[0])
	}

	limited, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[1].ID != "middle" {
		t.Errorf("limited = %+v", limited)
	}
}

func TestListMissingDir(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nope"))
	got, err := s.List(context.Background(), 10)
	if err != nil || len(got) != 0 {
		t.Errorf("List on missing dir = %v, %v", got, err)
	}
}

func TestSaveRejectsBadID(t *testing.T) {
	s := testStore(t)
	if _, err := s.Save(context.Background(), snapshot("../escape", time.Now())); err == nil {
		t.Fatal("expected error for path-like id")
	}
}

func TestWriteAtomicCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.txt")
	if err := WriteAtomic(path, []byte("hello")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Errorf("read back %q, %v", data, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o644 {
		t.Errorf("mode = %o, want 644", perm)
	}

	// replacing leaves no temp files behind
	if err := WriteAtomic(path, []byte("again")); err != nil {
		t.Fatalf("WriteAtomic again: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only c.txt, got %d entries", len(entries))
	}
}

func TestRecordRunSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "generations")
	ctx := context.Background()
	rec := registry.Record{
		ID: "run-9", Keyword: "AI副業", ContentType: "article", Status: registry.Failed,
		StepIndex: 4, Step: "lead", ErrorKind: "auth", Error: "401 unauthorized", LastSeq: 9,
	}
	if err := NewFileStore(dir).RecordRun(ctx, rec); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	reopened := NewFileStore(dir)
	got, err := reopened.GetRun(ctx, "run-9")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil || got.Status != registry.Failed || got.ErrorKind != "auth" || got.Step != "lead" || got.LastSeq != 9 {
		t.Errorf("unexpected record: %+v", got)
	}

	// run records never show up as generations
	items, err := reopened.List(ctx, 0)
	if err != nil || len(items) != 0 {
		t.Errorf("List = %v, %v", items, err)
	}

	missing, err := reopened.GetRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetRun(nope) = %v, %v", missing, err)
	}
	if err := reopened.RecordRun(ctx, registry.Record{ID: "../x"}); err == nil {
		t.Error("expected error for path-like id")
	}
}
