package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama generates text with a local or remote ollama server.
type Ollama struct {
	id     string
	model  string
	client *api.Client
}

// NewOllama creates an ollama text provider. BaseURL defaults to
// http://localhost:11434.
func NewOllama(s Settings) (*Ollama, error) {
	if s.Model == "" {
		return nil, fmt.Errorf("ollama provider %q: model is required", s.ID)
	}
	base := s.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url: %w", err)
	}
	return &Ollama{id: s.ID, model: s.Model, client: api.NewClient(u, http.DefaultClient)}, nil
}

func (o *Ollama) ID() string             { return o.id }
func (o *Ollama) Capability() Capability { return Text }

func (o *Ollama) Call(ctx context.Context, req Request) (Response, error) {
	stream := false
	gen := &api.GenerateRequest{
		Model:   o.model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  &stream,
		Options: map[string]any{},
	}
	if v, err := strconv.ParseFloat(req.Params["temperature"], 64); err == nil {
		gen.Options["temperature"] = v
	}
	if v, err := strconv.Atoi(req.Params["max_tokens"]); err == nil && v > 0 {
		gen.Options["num_predict"] = v
	}
	if req.Params["format"] == "json" {
		gen.Format = []byte(`"json"`)
	}

	var b strings.Builder
	err := o.client.Generate(ctx, gen, func(r api.GenerateResponse) error {
		b.WriteString(r.Response)
		return nil
	})
	if err != nil {
		e := Classify(err)
		e.Provider = o.id
		return Response{}, e
	}
	return Response{Text: b.String(), Provider: o.id, Model: o.model}, nil
}
