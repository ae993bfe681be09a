package prompt

// builtinTemplates maps "<content_type>/<step>.md" (or "common/<step>.md")
// to content. The part before the first "---" line is the system prompt.
var builtinTemplates = map[string]string{
	"common/intent.md":         intentTemplate,
	"common/structure.md":      structureTemplate,
	"common/title.md":          titleTemplate,
	"article/lead.md":          leadTemplate,
	"article/body.md":          articleBodyTemplate,
	"article/summary.md":       summaryTemplate,
	"article/image_prompts.md": imagePromptTemplate,
	"article/images.md":        imageTemplate,
	"narration/intro.md":       introTemplate,
	"narration/body.md":        narrationBodyTemplate,
	"narration/ending.md":      endingTemplate,
	"dialogue/intro.md":        dialogueIntroTemplate,
	"dialogue/body.md":         dialogueBodyTemplate,
	"dialogue/ending.md":       dialogueEndingTemplate,
}

const intentTemplate = `あなたは検索意図の分析に長けたSEOコンサルタントです。出力はJSONのみで返してください。
---
キーワード「{{keyword}}」で検索するユーザーを分析してください。

次の形式のJSONで答えてください。
{"persona": "想定読者の人物像", "needs_explicit": ["顕在ニーズ"], "needs_latent": ["潜在ニーズ"]}
{{#if tone}}
トーン: {{tone}}
{{/if}}`

const structureTemplate = `あなたは構成作成のプロです。見出しは「h2: 見出し」「h3: 小見出し」の形式で一行ずつ書いてください。
---
キーワード: {{keyword}}
想定読者: {{persona}}
顕在ニーズ: {{needs_explicit}}
潜在ニーズ: {{needs_latent}}

読者のニーズをすべて満たす見出し構成を作成してください。h2は4〜8個にしてください。`

const titleTemplate = `あなたはクリック率の高いタイトルを作るコピーライターです。
---
キーワード「{{keyword}}」のタイトル案を5個、1行に1つずつ番号付きで出してください。
想定読者: {{persona}}

構成:
{{outline}}`

const leadTemplate = `あなたはSEO記事のライターです。{{#if tone}}文体は{{tone}}にしてください。{{/if}}
---
記事「{{title}}」のリード文を300字程度で書いてください。
想定読者: {{persona}}
潜在ニーズ: {{needs_latent}}

構成:
{{outline}}`

const articleBodyTemplate = `あなたはSEO記事のライターです。{{#if tone}}文体は{{tone}}にしてください。{{/if}}見出しは出力せず本文だけを書いてください。
---
記事「{{title}}」の {{section_index}}/{{section_count}} 番目の見出し「{{heading}}」の本文を書いてください。
{{#if subheadings}}
次の小見出しを含めてください:
{{subheadings}}
{{/if}}
キーワード: {{keyword}}
想定読者: {{persona}}`

const summaryTemplate = `あなたはSEO記事のライターです。
---
記事「{{title}}」のまとめを200字程度で書いてください。

構成:
{{outline}}`

const imagePromptTemplate = `You write prompts for an image generation model. Answer with the prompt only, in English, one paragraph.
---
Article title: {{title}}
Section heading: {{heading}}
Write an image prompt for an editorial illustration of this section.`

const imageTemplate = `---
{{image_prompt}}`

const introTemplate = `あなたはYouTube動画の台本作家です。{{#if channel_name}}チャンネル名は「{{channel_name}}」です。{{/if}}
---
動画「{{title}}」の冒頭の語りを書いてください。視聴者が最後まで見たくなるように、動画で分かることを先に伝えてください。

構成:
{{outline}}`

const narrationBodyTemplate = `あなたはYouTube動画の台本作家です。話し言葉で書いてください。
---
動画「{{title}}」の {{section_index}}/{{section_count}} 番目のパート「{{heading}}」の語りを書いてください。
{{#if subheadings}}
触れる内容:
{{subheadings}}
{{/if}}`

const endingTemplate = `あなたはYouTube動画の台本作家です。{{#if channel_name}}チャンネル名は「{{channel_name}}」です。{{/if}}
---
動画「{{title}}」の締めの語りを書いてください。内容の振り返りとチャンネル登録の呼びかけを入れてください。`

const dialogueIntroTemplate = `あなたはゆっくり解説動画の台本作家です。話者は{{presenters}}です。
---
動画「{{title}}」のオープニングの掛け合いを書いてください。
各行は「{{speaker_a}}：セリフ」「{{speaker_b}}：セリフ」の形式にしてください。`

const dialogueBodyTemplate = `あなたはゆっくり解説動画の台本作家です。話者は{{presenters}}です。{{speaker_a}}は聞き手、{{speaker_b}}は解説役です。
---
動画「{{title}}」のパート「{{heading}}」の掛け合いを書いてください。
各行は必ず「{{speaker_a}}：セリフ」または「{{speaker_b}}：セリフ」の形式にしてください。
{{#if subheadings}}
触れる内容:
{{subheadings}}
{{/if}}`

const dialogueEndingTemplate = `あなたはゆっくり解説動画の台本作家です。話者は{{presenters}}です。
---
動画「{{title}}」のエンディングの掛け合いを書いてください。
各行は「{{speaker_a}}：セリフ」「{{speaker_b}}：セリフ」の形式にしてください。`
