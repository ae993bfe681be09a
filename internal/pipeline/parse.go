package pipeline

import (
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/lucasnoah/writefactory/internal/provider"
)

var (
	levelHeadingRe = regexp.MustCompile(`^(?:\d+\.\s*)?[hH]([23])\s*[:：]\s*(.+)$`)
	mdHeadingRe    = regexp.MustCompile(`^(#{2,3})\s+(.+)$`)
	titlePrefixRe  = regexp.MustCompile(`^(?:\d+\s*[.)、．]|[-*・])\s*`)
	speakerRe      = regexp.MustCompile(`^([^:：]{1,20}?)\s*[:：]\s*(.*)$`)
)

func contractf(format string, args ...any) error {
	return provider.Errorf(provider.KindContract, format, args...)
}

// ParseIntent extracts the intent JSON object from text, tolerating code
// fences or prose around it.
func ParseIntent(text string) (*Intent, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, contractf("no JSON object in output")
	}
	var in Intent
	if err := sonic.UnmarshalString(text[start:end+1], &in); err != nil {
		return nil, contractf("decode intent: %v", err)
	}
	if strings.TrimSpace(in.Persona) == "" {
		return nil, contractf("intent has no persona")
	}
	return &in, nil
}

// ParseStructure reads an outline. It accepts "h2: x", "h2：x", numbered
// "1. h2: x", and markdown "## x" / "### x". Each h2 opens a section; h3
// lines attach to the open section.
func ParseStructure(text string) ([]Section, error) {
	var sections []Section
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		level, heading := "", ""
		if m := levelHeadingRe.FindStringSubmatch(line); m != nil {
			level, heading = "h"+m[1], m[2]
		} else if m := mdHeadingRe.FindStringSubmatch(line); m != nil {
			level, heading = "h3", m[2]
			if len(m[1]) == 2 {
				level = "h2"
			}
		}
		heading = strings.TrimSpace(heading)
		if heading == "" {
			continue
		}
		switch level {
		case "h2":
			sections = append(sections, Section{Heading: heading, Image: -1})
		case "h3":
			if n := len(sections); n > 0 {
				sections[n-1].Subheadings = append(sections[n-1].Subheadings, heading)
			}
		}
	}
	if len(sections) == 0 {
		return nil, contractf("outline has no h2 headings")
	}
	return sections, nil
}

// ParseTitles returns one candidate per non-empty line with list markers
// and quotes removed.
func ParseTitles(text string) ([]string, error) {
	var titles []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = titlePrefixRe.ReplaceAllString(line, "")
		line = strings.Trim(line, "\"'「」『』 ")
		if line != "" {
			titles = append(titles, line)
		}
	}
	if len(titles) == 0 {
		return nil, contractf("no title candidates")
	}
	return titles, nil
}

// ParseDialogue splits a script into speaker turns. A line starting with a
// known speaker name and a colon opens a turn; other lines continue the
// current turn. Text before the first turn is dropped.
func ParseDialogue(text string, speakers []string) ([]DialogueLine, error) {
	known := make(map[string]string, len(speakers))
	for _, s := range speakers {
		known[strings.ToLower(s)] = s
	}
	var lines []DialogueLine
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if m := speakerRe.FindStringSubmatch(raw); m != nil {
			if name, ok := known[strings.ToLower(strings.TrimSpace(m[1]))]; ok {
				lines = append(lines, DialogueLine{Speaker: name, Text: strings.TrimSpace(m[2])})
				continue
			}
		}
		if n := len(lines); n > 0 {
			if lines[n-1].Text == "" {
				lines[n-1].Text = raw
			} else {
				lines[n-1].Text += "\n" + raw
			}
		}
	}
	if len(lines) == 0 {
		return nil, contractf("dialogue has no speaker turns for %s", strings.Join(speakers, ", "))
	}
	return lines, nil
}

// outline formats sections back into the h2/h3 notation used in prompts.
func outline(sections []Section) string {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString("h2: " + s.Heading + "\n")
		for _, sub := range s.Subheadings {
			b.WriteString("h3: " + sub + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
