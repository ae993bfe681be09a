// Package archive stores finished runs for later browsing.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lucasnoah/writefactory/internal/pipeline"
	"github.com/lucasnoah/writefactory/internal/registry"
)

// ErrNotFound is returned by Get for an unknown generation id.
var ErrNotFound = errors.New("generation not found")

// Summary is one row of the generation history.
type Summary struct {
	ID          string               `json:"id"`
	RunID       string               `json:"run_id"`
	Keyword     string               `json:"keyword"`
	ContentType pipeline.ContentType `json:"content_type"`
	Profile     string               `json:"profile,omitempty"`
	Title       string               `json:"title"`
	Sections    int                  `json:"sections"`
	CompletedAt time.Time            `json:"completed_at"`
}

// SummaryOf summarizes a saved snapshot.
func SummaryOf(id string, s pipeline.Snapshot) Summary {
	return Summary{
		ID:          id,
		RunID:       s.RunID,
		Keyword:     s.Keyword,
		ContentType: s.ContentType,
		Profile:     s.Profile,
		Title:       s.Title,
		Sections:    len(s.Sections),
		CompletedAt: s.CompletedAt,
	}
}

// Store persists completed runs. Both the file store and the Postgres
// database implement it.
type Store interface {
	Save(ctx context.Context, s pipeline.Snapshot) (string, error)
	List(ctx context.Context, limit int) ([]Summary, error)
	Get(ctx context.Context, id string) (*pipeline.Snapshot, error)
}

// FileStore keeps one JSON document per generation under dir, and one
// record per run, finished or not, under dir/runs.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store's root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the snapshot, keyed by its run id. Saving the same run again
// replaces the earlier document.
func (s *FileStore) Save(ctx context.Context, snap pipeline.Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validID(snap.RunID); err != nil {
		return "", err
	}
	if err := saveDoc(s.path(snap.RunID), snap); err != nil {
		return "", fmt.Errorf("save generation %s: %w", snap.RunID, err)
	}
	return snap.RunID, nil
}

// Get reads one generation.
func (s *FileStore) Get(ctx context.Context, id string) (*pipeline.Snapshot, error) {
	if err := validID(id); err != nil {
		return nil, ErrNotFound
	}
	var snap pipeline.Snapshot
	if err := loadDoc(s.path(id), &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

// List returns up to limit generations, most recently completed first.
// limit <= 0 returns all of them.
func (s *FileStore) List(ctx context.Context, limit int) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.dir, err)
	}

	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(name, ".json")
		var snap pipeline.Snapshot
		if err := loadDoc(s.path(id), &snap); err != nil {
			continue // skip broken entries
		}
		out = append(out, SummaryOf(id, snap))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) runPath(id string) string {
	return filepath.Join(s.dir, "runs", id+".json")
}

// RecordRun writes the run's latest record, so failed runs keep their
// error classification across restarts.
func (s *FileStore) RecordRun(ctx context.Context, rec registry.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validID(rec.ID); err != nil {
		return err
	}
	if err := saveDoc(s.runPath(rec.ID), rec); err != nil {
		return fmt.Errorf("record run %s: %w", rec.ID, err)
	}
	return nil
}

// GetRun reads a run record, or returns nil if none was written.
func (s *FileStore) GetRun(ctx context.Context, id string) (*registry.Record, error) {
	if validID(id) != nil {
		return nil, nil
	}
	var rec registry.Record
	if err := loadDoc(s.runPath(id), &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &rec, nil
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid generation id %q", id)
	}
	return nil
}
