// Package render turns finished runs into Markdown and HTML documents.
package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	stdhtml "html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/lucasnoah/writefactory/internal/pipeline"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Markdown renders the snapshot as a Markdown document.
func Markdown(s pipeline.Snapshot) string {
	var b strings.Builder
	title := s.Title
	if title == "" {
		title = s.Keyword
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	para(&b, s.Lead)
	para(&b, s.Intro)

	for _, sec := range s.Sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.Heading)
		if img := image(s, sec); img != "" {
			para(&b, img)
		}
		if len(sec.Lines) > 0 {
			for _, l := range sec.Lines {
				fmt.Fprintf(&b, "**%s**：%s\n\n", l.Speaker, l.Text)
			}
			continue
		}
		if sec.Body == "" && len(sec.Subheadings) > 0 {
			for _, h := range sec.Subheadings {
				fmt.Fprintf(&b, "### %s\n\n", h)
			}
			continue
		}
		para(&b, sec.Body)
	}

	if s.Summary != "" {
		b.WriteString("## まとめ\n\n")
		para(&b, s.Summary)
	}
	para(&b, s.Ending)
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// HTML renders the snapshot as a standalone HTML page.
func HTML(s pipeline.Snapshot) (string, error) {
	body, err := Fragment(Markdown(s))
	if err != nil {
		return "", err
	}
	title := s.Title
	if title == "" {
		title = s.Keyword
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"ja\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n</head>\n<body>\n", stdhtml.EscapeString(title))
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

// Fragment converts Markdown to an HTML fragment.
func Fragment(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return buf.String(), nil
}

// Filename returns a file name for the snapshot with the given extension.
func Filename(s pipeline.Snapshot, ext string) string {
	id := s.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	slug := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ', '\t', '\n':
			return '-'
		}
		return r
	}, s.Keyword)
	return fmt.Sprintf("%s-%s-%s.%s", s.ContentType, slug, id, ext)
}

func para(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.WriteString(text)
	b.WriteString("\n\n")
}

func image(s pipeline.Snapshot, sec pipeline.Section) string {
	if sec.Image < 0 || sec.Image >= len(s.Media) {
		return ""
	}
	m := s.Media[sec.Image]
	src := m.URL
	if src == "" && len(m.Data) > 0 {
		mime := m.MIME
		if mime == "" {
			mime = "image/png"
		}
		src = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
	}
	if src == "" {
		return ""
	}
	alt := strings.NewReplacer("[", "", "]", "", "\n", " ").Replace(m.Prompt)
	return fmt.Sprintf("![%s](%s)", alt, src)
}
