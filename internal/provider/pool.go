package provider

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Health is a provider's selection state.
type Health string

const (
	Healthy     Health = "healthy"
	Degraded    Health = "degraded"
	CircuitOpen Health = "circuit_open"
)

// Descriptor is a point-in-time view of one pooled provider.
type Descriptor struct {
	ID                  string     `json:"id"`
	Capability          Capability `json:"capability"`
	Weight              float64    `json:"weight"`
	Health              Health     `json:"health"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenUntil           time.Time  `json:"open_until,omitempty"`
}

// Selection is the outcome of Pool.Select.
type Selection struct {
	Provider   Provider
	Descriptor Descriptor
	Params     Params // per-provider defaults from configuration
}

// PoolOptions configures circuit behaviour.
type PoolOptions struct {
	FailureThreshold int           // consecutive failures that open the circuit; <= 0 disables
	Cooldown         time.Duration // how long an open circuit excludes the provider
}

type member struct {
	provider Provider
	params   Params
	desc     Descriptor
}

// Pool performs weighted selection among healthy providers per capability
// and tracks their health. It is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	members map[Capability][]*member
	byID    map[string]*member
	opts    PoolOptions
	log     zerolog.Logger

	now  func() time.Time
	rand func() float64
}

// NewPool creates an empty pool.
func NewPool(opts PoolOptions, log zerolog.Logger) *Pool {
	return &Pool{
		members: make(map[Capability][]*member),
		byID:    make(map[string]*member),
		opts:    opts,
		log:     log.With().Str("component", "provider_pool").Logger(),
		now:     time.Now,
		rand:    rand.Float64,
	}
}

// Register adds a provider with the given selection weight.
func (p *Pool) Register(prov Provider, weight float64, params Params) error {
	if weight <= 0 {
		return fmt.Errorf("provider %q: weight must be positive, got %v", prov.ID(), weight)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.byID[prov.ID()]; dup {
		return fmt.Errorf("provider %q registered twice", prov.ID())
	}
	m := &member{
		provider: prov,
		params:   params,
		desc: Descriptor{
			ID:         prov.ID(),
			Capability: prov.Capability(),
			Weight:     weight,
			Health:     Healthy,
		},
	}
	p.members[prov.Capability()] = append(p.members[prov.Capability()], m)
	p.byID[prov.ID()] = m
	return nil
}

// Select picks a provider for c by weighted random choice over the
// selectable subset. It fails with ErrNoProvider when every provider for c
// is circuit-open.
func (p *Pool) Select(c Capability) (Selection, error) {
	return p.SelectPreferred(c, "")
}

// SelectPreferred returns the preferred provider when it serves c and is
// selectable, otherwise it falls back to weighted selection.
func (p *Pool) SelectPreferred(c Capability, preferred string) (Selection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	candidates := p.members[c]
	var total float64
	for _, m := range candidates {
		p.refreshLocked(m, now)
		total += effectiveWeight(m.desc)
	}

	if preferred != "" {
		if m, ok := p.byID[preferred]; ok && m.desc.Capability == c && m.desc.Health != CircuitOpen {
			return selection(m), nil
		}
	}

	if total <= 0 {
		return Selection{}, fmt.Errorf("%w for capability %q", ErrNoProvider, c)
	}
	target := p.rand() * total
	var last *member
	for _, m := range candidates {
		w := effectiveWeight(m.desc)
		if w <= 0 {
			continue
		}
		last = m
		if target < w {
			return selection(m), nil
		}
		target -= w
	}
	// float rounding can leave target at the very top of the range
	return selection(last), nil
}

// ReportSuccess resets the provider's failure count.
func (p *Pool) ReportSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.byID[id]
	if !ok {
		return
	}
	if m.desc.Health != Healthy {
		p.log.Info().Str("provider", id).Msg("provider recovered")
	}
	m.desc.ConsecutiveFailures = 0
	m.desc.Health = Healthy
	m.desc.OpenUntil = time.Time{}
}

// ReportFailure records a failed call. Failures caused by the caller
// (invalid request, cancellation, unparseable output) do not count against
// the provider.
func (p *Pool) ReportFailure(id string, err error) Health {
	kind := KindOf(err)
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.byID[id]
	if !ok {
		return ""
	}
	switch kind {
	case KindInvalidRequest, KindCancelled, KindContract, KindNoProvider:
		return m.desc.Health
	}

	m.desc.ConsecutiveFailures++
	if p.opts.FailureThreshold > 0 && m.desc.ConsecutiveFailures >= p.opts.FailureThreshold {
		m.desc.Health = CircuitOpen
		m.desc.OpenUntil = p.now().Add(p.opts.Cooldown)
		p.log.Warn().
			Str("provider", id).
			Int("failures", m.desc.ConsecutiveFailures).
			Time("open_until", m.desc.OpenUntil).
			Msg("circuit opened")
	} else {
		m.desc.Health = Degraded
	}
	return m.desc.Health
}

// Snapshot returns descriptors for every provider, sorted by capability and id.
func (p *Pool) Snapshot() []Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make([]Descriptor, 0, len(p.byID))
	for _, m := range p.byID {
		p.refreshLocked(m, now)
		out = append(out, m.desc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Capability != out[j].Capability {
			return out[i].Capability < out[j].Capability
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// refreshLocked moves an open circuit whose cool-down has elapsed to
// degraded. The failure count is kept, so one more failure re-opens it.
func (p *Pool) refreshLocked(m *member, now time.Time) {
	if m.desc.Health == CircuitOpen && !now.Before(m.desc.OpenUntil) {
		m.desc.Health = Degraded
		m.desc.OpenUntil = time.Time{}
	}
}

func effectiveWeight(d Descriptor) float64 {
	switch d.Health {
	case Healthy:
		return d.Weight
	case Degraded:
		return d.Weight / 2
	}
	return 0
}

func selection(m *member) Selection {
	return Selection{Provider: m.provider, Descriptor: m.desc, Params: m.params}
}
