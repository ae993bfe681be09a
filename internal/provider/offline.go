package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// Offline answers every step in the expected shape without calling an
// external service. It is the default provider when none is configured.
type Offline struct {
	id         string
	capability Capability
}

// NewOffline creates an offline provider for the given capability.
func NewOffline(id string, capability Capability) *Offline {
	return &Offline{id: id, capability: capability}
}

func (o *Offline) ID() string             { return o.id }
func (o *Offline) Capability() Capability { return o.capability }

func (o *Offline) Call(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, &Error{Kind: KindCancelled, Provider: o.id, Err: err}
	}
	if o.capability == Image {
		sum := sha1.Sum([]byte(req.Prompt))
		return Response{URL: "offline://image/" + hex.EncodeToString(sum[:8]) + ".png", MIME: "image/png", Provider: o.id}, nil
	}

	keyword := req.Params["keyword"]
	heading := req.Params["heading"]
	var text string
	switch req.Params["step"] {
	case "intent":
		text = fmt.Sprintf(`{"persona": "%s について調べ始めた読者", "needs_explicit": ["%s の基本を知りたい"], "needs_latent": ["失敗せずに始めたい"]}`, keyword, keyword)
	case "structure":
		text = strings.Join([]string{
			"h2: " + keyword + "とは",
			"h3: 基本の考え方",
			"h2: " + keyword + "の始め方",
			"h2: " + keyword + "で注意すること",
			"h2: よくある質問",
		}, "\n")
	case "title":
		text = fmt.Sprintf("1. %s 完全ガイド\n2. 今日から始める%s\n3. %s の基本と注意点", keyword, keyword, keyword)
	case "image_prompts":
		text = "A clean editorial illustration about " + heading
	case "body":
		if speakers := strings.Split(req.Params["speakers"], ","); len(speakers) >= 2 {
			text = fmt.Sprintf("%s：今日は「%s」の話をするわ。\n%s：%s は準備が大切だぜ。", speakers[0], heading, speakers[1], keyword)
			break
		}
		text = fmt.Sprintf("%s について説明します。\n\n結論から言うと、%s は準備が大切です。", heading, keyword)
	default:
		text = fmt.Sprintf("%s: %s", req.Params["step"], keyword)
	}
	return Response{Text: text, Provider: o.id, Model: "offline"}, nil
}
