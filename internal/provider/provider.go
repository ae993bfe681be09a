// Package provider defines the text and image generation backends and the
// pool that chooses between them.
package provider

import (
	"context"
	"sort"
	"strings"
)

// Capability is the class of generation work a provider supports.
type Capability string

const (
	Text  Capability = "text"
	Image Capability = "image"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return c == Text || c == Image
}

// Params are provider call parameters (model knobs, step name, image size).
type Params map[string]string

// Canonical returns the params as sorted key=value pairs joined by newlines.
func (p Params) Canonical() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Request is one provider call.
type Request struct {
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Params Params `json:"params,omitempty"`
}

// Response is a provider's output. Text providers fill Text; image providers
// fill URL and/or Data.
type Response struct {
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MIME     string `json:"mime,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Provider is a single generation backend.
type Provider interface {
	ID() string
	Capability() Capability
	Call(ctx context.Context, req Request) (Response, error)
}
