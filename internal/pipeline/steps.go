package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasnoah/writefactory/internal/provider"
)

// Task is one provider call selected by a step. Group steps select one task
// per section.
type Task struct {
	Label   string            // e.g. "body[2]"
	Section int               // section index, -1 for whole-run tasks
	Vars    map[string]string // extra template variables
	Params  provider.Params   // extra call parameters
}

// TaskResult pairs a task with its provider response.
type TaskResult struct {
	Task     Task
	Response provider.Response
	Cached   bool
}

// Step is one stage of a content type's step list. Select and Merge are
// pure with respect to everything but the RunState they are given.
type Step struct {
	Name       string
	Capability provider.Capability
	Group      bool // tasks run through the parallel group runner
	Select     func(*RunState) ([]Task, error)
	Merge      func(*RunState, []TaskResult) error
}

// StepOptions toggles optional steps.
type StepOptions struct {
	Images    bool
	MaxImages int
}

// Steps returns the ordered step list for ct.
func Steps(ct ContentType, opts StepOptions) ([]Step, error) {
	switch ct {
	case Article:
		steps := []Step{intentStep(), structureStep(), titleStep(), textStep("lead", setLead), bodyStep(), textStep("summary", setSummary)}
		if opts.Images {
			steps = append(steps, imagePromptsStep(opts.MaxImages), imagesStep())
		}
		return steps, nil
	case Narration, Dialogue:
		return []Step{intentStep(), structureStep(), titleStep(), textStep("intro", setIntro), bodyStep(), textStep("ending", setEnding)}, nil
	}
	return nil, fmt.Errorf("unknown content type %q", ct)
}

// StepNames returns the step names for ct, for progress totals.
func StepNames(ct ContentType, opts StepOptions) []string {
	steps, _ := Steps(ct, opts)
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func single(vars map[string]string, params provider.Params) func(*RunState) ([]Task, error) {
	return func(*RunState) ([]Task, error) {
		return []Task{{Section: -1, Vars: vars, Params: params}}, nil
	}
}

func onlyText(results []TaskResult) (string, error) {
	if len(results) != 1 {
		return "", contractf("expected one result, got %d", len(results))
	}
	text := strings.TrimSpace(results[0].Response.Text)
	if text == "" {
		return "", contractf("empty output")
	}
	return text, nil
}

func intentStep() Step {
	return Step{
		Name:       "intent",
		Capability: provider.Text,
		Select:     single(nil, provider.Params{"format": "json"}),
		Merge: func(rs *RunState, results []TaskResult) error {
			text, err := onlyText(results)
			if err != nil {
				return err
			}
			in, err := ParseIntent(text)
			if err != nil {
				return err
			}
			rs.Intent = in
			return nil
		},
	}
}

func structureStep() Step {
	return Step{
		Name:       "structure",
		Capability: provider.Text,
		Select:     single(nil, nil),
		Merge: func(rs *RunState, results []TaskResult) error {
			text, err := onlyText(results)
			if err != nil {
				return err
			}
			sections, err := ParseStructure(text)
			if err != nil {
				return err
			}
			rs.Sections = sections
			return nil
		},
	}
}

func titleStep() Step {
	return Step{
		Name:       "title",
		Capability: provider.Text,
		Select:     single(nil, nil),
		Merge: func(rs *RunState, results []TaskResult) error {
			text, err := onlyText(results)
			if err != nil {
				return err
			}
			titles, err := ParseTitles(text)
			if err != nil {
				return err
			}
			rs.TitleCandidates = titles
			rs.Title = titles[0]
			return nil
		},
	}
}

func setLead(rs *RunState, s string)    { rs.Lead = s }
func setSummary(rs *RunState, s string) { rs.Summary = s }
func setIntro(rs *RunState, s string)   { rs.Intro = s }
func setEnding(rs *RunState, s string)  { rs.Ending = s }

func textStep(name string, set func(*RunState, string)) Step {
	return Step{
		Name:       name,
		Capability: provider.Text,
		Select:     single(nil, nil),
		Merge: func(rs *RunState, results []TaskResult) error {
			text, err := onlyText(results)
			if err != nil {
				return err
			}
			set(rs, text)
			return nil
		},
	}
}

func sectionTasks(rs *RunState, step string, limit int) ([]Task, error) {
	if len(rs.Sections) == 0 {
		return nil, contractf("%s needs at least one section", step)
	}
	n := len(rs.Sections)
	if limit > 0 && limit < n {
		n = limit
	}
	tasks := make([]Task, n)
	for i := 0; i < n; i++ {
		sec := rs.Sections[i]
		tasks[i] = Task{
			Label:   fmt.Sprintf("%s[%d]", step, i),
			Section: i,
			Vars: map[string]string{
				"heading":       sec.Heading,
				"subheadings":   strings.Join(sec.Subheadings, "\n"),
				"section_index": strconv.Itoa(i + 1),
				"section_count": strconv.Itoa(len(rs.Sections)),
				"image_prompt":  sec.ImagePrompt,
			},
			Params: provider.Params{"heading": sec.Heading},
		}
	}
	return tasks, nil
}

func bodyStep() Step {
	return Step{
		Name:       "body",
		Capability: provider.Text,
		Group:      true,
		Select: func(rs *RunState) ([]Task, error) {
			tasks, err := sectionTasks(rs, "body", 0)
			if err != nil || rs.ContentType != Dialogue {
				return tasks, err
			}
			speakers := strings.Join(rs.Profile.presenters(), ",")
			for i := range tasks {
				tasks[i].Params["speakers"] = speakers
			}
			return tasks, nil
		},
		Merge: func(rs *RunState, results []TaskResult) error {
			for _, r := range results {
				text := strings.TrimSpace(r.Response.Text)
				if text == "" {
					return contractf("empty body for section %q", rs.Sections[r.Task.Section].Heading)
				}
				sec := &rs.Sections[r.Task.Section]
				sec.Body = text
				if rs.ContentType == Dialogue {
					lines, err := ParseDialogue(text, rs.Profile.presenters())
					if err != nil {
						return err
					}
					sec.Lines = lines
				}
			}
			return nil
		},
	}
}

func imagePromptsStep(limit int) Step {
	return Step{
		Name:       "image_prompts",
		Capability: provider.Text,
		Group:      true,
		Select: func(rs *RunState) ([]Task, error) {
			return sectionTasks(rs, "image_prompts", limit)
		},
		Merge: func(rs *RunState, results []TaskResult) error {
			for _, r := range results {
				p := strings.TrimSpace(r.Response.Text)
				if p == "" {
					return contractf("empty image prompt for section %q", rs.Sections[r.Task.Section].Heading)
				}
				rs.Sections[r.Task.Section].ImagePrompt = p
			}
			return nil
		},
	}
}

func imagesStep() Step {
	return Step{
		Name:       "images",
		Capability: provider.Image,
		Group:      true,
		Select: func(rs *RunState) ([]Task, error) {
			var tasks []Task
			for i, sec := range rs.Sections {
				if sec.ImagePrompt == "" {
					continue
				}
				tasks = append(tasks, Task{
					Label:   fmt.Sprintf("images[%d]", i),
					Section: i,
					Vars:    map[string]string{"heading": sec.Heading, "image_prompt": sec.ImagePrompt},
					Params:  provider.Params{"heading": sec.Heading},
				})
			}
			return tasks, nil
		},
		Merge: func(rs *RunState, results []TaskResult) error {
			for _, r := range results {
				if r.Response.URL == "" && len(r.Response.Data) == 0 {
					return contractf("image provider returned neither url nor data")
				}
				rs.Sections[r.Task.Section].Image = len(rs.Media)
				rs.Media = append(rs.Media, Media{
					Section:  r.Task.Section,
					Prompt:   rs.Sections[r.Task.Section].ImagePrompt,
					URL:      r.Response.URL,
					MIME:     r.Response.MIME,
					Data:     r.Response.Data,
					Provider: r.Response.Provider,
				})
			}
			return nil
		},
	}
}

// baseVars are the template variables every step sees.
func baseVars(rs *RunState) map[string]string {
	presenters := rs.Profile.presenters()
	v := map[string]string{
		"keyword":        rs.Keyword,
		"content_type":   string(rs.ContentType),
		"tone":           rs.Profile.Tone,
		"channel_name":   rs.Profile.ChannelName,
		"presenters":     strings.Join(presenters, "、"),
		"speaker_a":      presenters[0],
		"speaker_b":      presenters[1],
		"title":          rs.Title,
		"lead":           rs.Lead,
		"intro":          rs.Intro,
		"outline":        outline(rs.Sections),
		"persona":        "",
		"needs_explicit": "",
		"needs_latent":   "",
	}
	if rs.Intent != nil {
		v["persona"] = rs.Intent.Persona
		v["needs_explicit"] = strings.Join(rs.Intent.NeedsExplicit, ", ")
		v["needs_latent"] = strings.Join(rs.Intent.NeedsLatent, ", ")
	}
	return v
}
