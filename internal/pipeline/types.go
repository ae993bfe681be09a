package pipeline

import (
	"fmt"
	"strings"
)

// ContentType selects the step list for a run.
type ContentType string

const (
	Article   ContentType = "article"
	Narration ContentType = "narration"
	Dialogue  ContentType = "dialogue"
)

// ContentTypes lists every supported content type.
var ContentTypes = []ContentType{Article, Narration, Dialogue}

// ParseContentType accepts the canonical names and the legacy aliases
// blog, youtube and yukkuri.
func ParseContentType(s string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "article", "blog":
		return Article, nil
	case "narration", "youtube":
		return Narration, nil
	case "dialogue", "yukkuri":
		return Dialogue, nil
	}
	return "", fmt.Errorf("unknown content type %q (want article, narration or dialogue)", s)
}

// Intent is the parsed output of the intent step.
type Intent struct {
	Persona       string   `json:"persona"`
	NeedsExplicit []string `json:"needs_explicit"`
	NeedsLatent   []string `json:"needs_latent"`
}

// Section is one h2 block of the artifact.
type Section struct {
	Heading     string         `json:"heading"`
	Subheadings []string       `json:"subheadings,omitempty"`
	Body        string         `json:"body,omitempty"`
	Lines       []DialogueLine `json:"lines,omitempty"`
	ImagePrompt string         `json:"image_prompt,omitempty"`
	Image       int            `json:"image"` // index into Media, -1 when none
}

// DialogueLine is one speaker turn in a dialogue script.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Media is a generated image.
type Media struct {
	Section  int    `json:"section"`
	Prompt   string `json:"prompt"`
	URL      string `json:"url,omitempty"`
	MIME     string `json:"mime,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Profile is a client profile applied to a run.
type Profile struct {
	Name        string            `json:"name,omitempty"`
	Tone        string            `json:"tone,omitempty"`
	ChannelName string            `json:"channel_name,omitempty"`
	Presenters  []string          `json:"presenters,omitempty"`
	Images      bool              `json:"images,omitempty"`
	MaxImages   int               `json:"max_images,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"` // step name or capability -> provider id
}

// DefaultPresenters speak in dialogue scripts when the profile names none.
var DefaultPresenters = []string{"霊夢", "魔理沙"}

func (p Profile) presenters() []string {
	if len(p.Presenters) >= 2 {
		return p.Presenters
	}
	return DefaultPresenters
}
