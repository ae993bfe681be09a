package provider

import "fmt"

// Provider kinds accepted in configuration.
const (
	KindOpenAI      = "openai"
	KindOpenAIImage = "openai-image"
	KindOllama      = "ollama"
	KindOffline     = "offline"
)

// Settings configures one provider instance.
type Settings struct {
	ID         string
	Kind       string
	Capability Capability
	Model      string
	APIKey     string
	BaseURL    string
	Weight     float64
	Params     Params
}

// Capabilities lists the capabilities a provider kind can serve.
var Capabilities = map[string][]Capability{
	KindOpenAI:      {Text},
	KindOpenAIImage: {Image},
	KindOllama:      {Text},
	KindOffline:     {Text, Image},
}

// New builds a provider from settings. The set of kinds is closed; adding a
// backend means adding a case here.
func New(s Settings) (Provider, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	if !supports(s.Kind, s.Capability) {
		return nil, fmt.Errorf("provider %q: kind %q cannot serve capability %q", s.ID, s.Kind, s.Capability)
	}
	switch s.Kind {
	case KindOpenAI:
		return NewOpenAIText(s)
	case KindOpenAIImage:
		return NewOpenAIImage(s)
	case KindOllama:
		return NewOllama(s)
	case KindOffline:
		return NewOffline(s.ID, s.Capability), nil
	}
	return nil, fmt.Errorf("provider %q: unknown kind %q", s.ID, s.Kind)
}

func supports(kind string, c Capability) bool {
	for _, have := range Capabilities[kind] {
		if have == c {
			return true
		}
	}
	return false
}
