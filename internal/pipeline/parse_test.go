package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/writefactory/internal/provider"
)

func TestParseStructure_Formats(t *testing.T) {
	text := `構成案です。
h2：AI副業とは
h3：基本
h2: 始め方
1. h2: 稼ぐコツ
1. h3: 継続
## よくある質問
### 税金は？
`
	sections, err := ParseStructure(text)
	require.NoError(t, err)
	require.Len(t, sections, 4)
	assert.Equal(t, "AI副業とは", sections[0].Heading)
	assert.Equal(t, []string{"基本"}, sections[0].Subheadings)
	assert.Equal(t, "始め方", sections[1].Heading)
	assert.Equal(t, "稼ぐコツ", sections[2].Heading)
	assert.Equal(t, []string{"継続"}, sections[2].Subheadings)
	assert.Equal(t, "よくある質問", sections[3].Heading)
	assert.Equal(t, []string{"税金は？"}, sections[3].Subheadings)
	for _, s := range sections {
		assert.Equal(t, -1, s.Image)
	}
}

func TestParseStructure_NoHeadings(t *testing.T) {
	_, err := ParseStructure("just prose\n### orphan h3")
	require.Error(t, err)
	assert.Equal(t, provider.KindContract, provider.KindOf(err))
}

func TestParseIntent(t *testing.T) {
	in, err := ParseIntent("```json\n{\"persona\": \"会社員\", \"needs_explicit\": [\"稼ぎたい\"], \"needs_latent\": [\"不安\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, "会社員", in.Persona)
	assert.Equal(t, []string{"稼ぎたい"}, in.NeedsExplicit)
	assert.Equal(t, []string{"不安"}, in.NeedsLatent)

	_, err = ParseIntent("no json here")
	assert.Equal(t, provider.KindContract, provider.KindOf(err))
	_, err = ParseIntent(`{"persona": ""}`)
	assert.Equal(t, provider.KindContract, provider.KindOf(err))
}

func TestParseTitles(t *testing.T) {
	titles, err := ParseTitles("1. 「AI副業入門」\n\n2) 始め方\n- \"注意点\"\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"AI副業入門", "始め方", "注意点"}, titles)

	_, err = ParseTitles("\n  \n")
	assert.Error(t, err)
}

func TestParseDialogue(t *testing.T) {
	text := `前置き
霊夢：今日はAI副業の話よ。
魔理沙: 面白そうだぜ。
続きの行だぜ。
霊夢：まとめるわね。`
	lines, err := ParseDialogue(text, DefaultPresenters)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, DialogueLine{Speaker: "霊夢", Text: "今日はAI副業の話よ。"}, lines[0])
	assert.Equal(t, "魔理沙", lines[1].Speaker)
	assert.Equal(t, "面白そうだぜ。\n続きの行だぜ。", lines[1].Text)

	_, err = ParseDialogue("nobody speaks", DefaultPresenters)
	assert.Error(t, err)
}

func TestParseContentType(t *testing.T) {
	for in, want := range map[string]ContentType{"article": Article, "blog": Article, "YouTube": Narration, "yukkuri": Dialogue, "dialogue": Dialogue} {
		got, err := ParseContentType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseContentType("podcast")
	assert.Error(t, err)
}

func TestSteps(t *testing.T) {
	assert.Equal(t, []string{"intent", "structure", "title", "lead", "body", "summary"}, StepNames(Article, StepOptions{}))
	assert.Equal(t, []string{"intent", "structure", "title", "lead", "body", "summary", "image_prompts", "images"}, StepNames(Article, StepOptions{Images: true}))
	assert.Equal(t, []string{"intent", "structure", "title", "intro", "body", "ending"}, StepNames(Narration, StepOptions{}))
	assert.Equal(t, []string{"intent", "structure", "title", "intro", "body", "ending"}, StepNames(Dialogue, StepOptions{}))
}

func TestRunState_SnapshotIsIndependent(t *testing.T) {
	rs := NewRunState("r1", "kw", Article, Profile{Name: "acme"})
	rs.Sections = []Section{{Heading: "a", Subheadings: []string{"x"}, Image: -1}}
	rs.SetOutput(StepOutput{Step: "structure", Text: "h2: a"})
	rs.SetOutput(StepOutput{Step: "title", Text: "t"})
	rs.SetOutput(StepOutput{Step: "structure", Text: "h2: a (again)"})

	snap := rs.Snapshot()
	rs.Sections[0].Subheadings[0] = "mutated"

	assert.Equal(t, "x", snap.Sections[0].Subheadings[0])
	require.Len(t, snap.Outputs, 2)
	assert.Equal(t, "structure", snap.Outputs[0].Step)
	assert.Equal(t, "h2: a (again)", snap.Outputs[0].Text)
	assert.Equal(t, "acme", snap.Profile)
}
