// Package analytics summarises logged runs: step latency, outcomes per
// content type, failure kinds and weekly throughput.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/writefactory/internal/progress"
	"github.com/lucasnoah/writefactory/internal/registry"
)

// Source is the run history analytics reads from.
type Source interface {
	RunsSince(ctx context.Context, since time.Time) ([]registry.Record, error)
	EventsSince(ctx context.Context, since time.Time) ([]progress.Event, error)
}

// StepDuration holds latency stats for one step of one content type.
type StepDuration struct {
	ContentType string  `json:"content_type"`
	Step        string  `json:"step"`
	Count       int     `json:"count"`
	Avg         float64 `json:"avg_seconds"`
	P50         float64 `json:"p50_seconds"`
	P95         float64 `json:"p95_seconds"`
	CachedPct   float64 `json:"cached_pct"`
}

// Outcome holds run results for one content type.
type Outcome struct {
	ContentType string  `json:"content_type"`
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	InFlight    int     `json:"in_flight"`
	SuccessPct  float64 `json:"success_pct"`
}

// FailureKind counts failed runs by classification and the step they
// stopped at.
type FailureKind struct {
	Kind  string  `json:"kind"`
	Step  string  `json:"step"`
	Count int     `json:"count"`
	Pct   float64 `json:"pct_of_failures"`
}

// Throughput holds run counts for one ISO week.
type Throughput struct {
	Week      string `json:"week"`
	Started   int    `json:"started"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Report is everything Build computes.
type Report struct {
	Since      time.Time      `json:"since"`
	Runs       int            `json:"runs"`
	Steps      []StepDuration `json:"steps"`
	Outcomes   []Outcome      `json:"outcomes"`
	Failures   []FailureKind  `json:"failures"`
	Throughput []Throughput   `json:"throughput"`
}

// Build loads runs and events logged since the given time and summarises
// them.
func Build(ctx context.Context, src Source, since time.Time) (*Report, error) {
	runs, err := src.RunsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	events, err := src.EventsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return &Report{
		Since:      since,
		Runs:       len(runs),
		Steps:      StepDurations(runs, events),
		Outcomes:   Outcomes(runs),
		Failures:   Failures(runs),
		Throughput: WeeklyThroughput(runs),
	}, nil
}

// StepDurations pairs each step's first running event with its completed
// event in the same run. Retry notices do not restart the clock. Events of
// runs missing from runs are attributed to an empty content type.
func StepDurations(runs []registry.Record, events []progress.Event) []StepDuration {
	contentType := make(map[string]string, len(runs))
	for _, r := range runs {
		contentType[r.ID] = r.ContentType
	}

	type key struct{ ct, step string }
	type acc struct {
		seconds []float64
		cached  int
	}
	started := make(map[[2]string]time.Time)
	stats := make(map[key]*acc)

	for _, ev := range events {
		if ev.Type != progress.TypeProgress || ev.Step == "" {
			continue
		}
		sk := [2]string{ev.RunID, ev.Step}
		switch ev.Status {
		case "running":
			if _, ok := started[sk]; !ok {
				started[sk] = ev.Time
			}
		case "completed":
			start, ok := started[sk]
			if !ok {
				continue
			}
			k := key{contentType[ev.RunID], ev.Step}
			a := stats[k]
			if a == nil {
				a = &acc{}
				stats[k] = a
			}
			a.seconds = append(a.seconds, math.Max(0, ev.Time.Sub(start).Seconds()))
			if ev.Cached {
				a.cached++
			}
		}
	}

	results := make([]StepDuration, 0, len(stats))
	for k, a := range stats {
		sort.Float64s(a.seconds)
		results = append(results, StepDuration{
			ContentType: k.ct,
			Step:        k.step,
			Count:       len(a.seconds),
			Avg:         avg(a.seconds),
			P50:         percentile(a.seconds, 50),
			P95:         percentile(a.seconds, 95),
			CachedPct:   pct(a.cached, len(a.seconds)),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].ContentType != results[j].ContentType {
			return results[i].ContentType < results[j].ContentType
		}
		return results[i].Step < results[j].Step
	})
	return results
}

// Outcomes groups runs by content type.
func Outcomes(runs []registry.Record) []Outcome {
	byType := make(map[string]*Outcome)
	for _, r := range runs {
		o := byType[r.ContentType]
		if o == nil {
			o = &Outcome{ContentType: r.ContentType}
			byType[r.ContentType] = o
		}
		o.Total++
		switch r.Status {
		case registry.Completed:
			o.Completed++
		case registry.Failed:
			o.Failed++
		default:
			o.InFlight++
		}
	}

	results := make([]Outcome, 0, len(byType))
	for _, o := range byType {
		o.SuccessPct = pct(o.Completed, o.Completed+o.Failed)
		results = append(results, *o)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ContentType < results[j].ContentType
	})
	return results
}

// Failures counts failed runs by error kind and step, most frequent first.
func Failures(runs []registry.Record) []FailureKind {
	type key struct{ kind, step string }
	counts := make(map[key]int)
	total := 0
	for _, r := range runs {
		if r.Status != registry.Failed {
			continue
		}
		kind := r.ErrorKind
		if kind == "" {
			kind = "unknown"
		}
		counts[key{kind, r.Step}]++
		total++
	}

	results := make([]FailureKind, 0, len(counts))
	for k, n := range counts {
		results = append(results, FailureKind{Kind: k.kind, Step: k.step, Count: n, Pct: pct(n, total)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		if results[i].Kind != results[j].Kind {
			return results[i].Kind < results[j].Kind
		}
		return results[i].Step < results[j].Step
	})
	return results
}

// WeeklyThroughput buckets runs by the ISO week they were created in.
func WeeklyThroughput(runs []registry.Record) []Throughput {
	byWeek := make(map[string]*Throughput)
	for _, r := range runs {
		year, week := r.CreatedAt.UTC().ISOWeek()
		label := fmt.Sprintf("%d-W%02d", year, week)
		t := byWeek[label]
		if t == nil {
			t = &Throughput{Week: label}
			byWeek[label] = t
		}
		t.Started++
		switch r.Status {
		case registry.Completed:
			t.Completed++
		case registry.Failed:
			t.Failed++
		}
	}

	results := make([]Throughput, 0, len(byWeek))
	for _, t := range byWeek {
		results = append(results, *t)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Week < results[j].Week
	})
	return results
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
