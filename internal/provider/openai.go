package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIText generates text with the chat completions API.
type OpenAIText struct {
	id     string
	model  string
	client openai.Client
}

// NewOpenAIText creates a chat completion provider.
func NewOpenAIText(s Settings) (*OpenAIText, error) {
	opts, err := openAIOptions(s)
	if err != nil {
		return nil, err
	}
	if s.Model == "" {
		s.Model = string(openai.ChatModelGPT4o)
	}
	return &OpenAIText{id: s.ID, model: s.Model, client: openai.NewClient(opts...)}, nil
}

func (o *OpenAIText) ID() string             { return o.id }
func (o *OpenAIText) Capability() Capability { return Text }

func (o *OpenAIText) Call(ctx context.Context, req Request) (Response, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	}
	if v, err := strconv.ParseFloat(req.Params["temperature"], 64); err == nil {
		params.Temperature = openai.Float(v)
	}
	if v, err := strconv.ParseInt(req.Params["max_tokens"], 10, 64); err == nil && v > 0 {
		params.MaxCompletionTokens = openai.Int(v)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, o.classify(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, &Error{Kind: KindServer, Provider: o.id, Err: errors.New("empty choices")}
	}
	return Response{Text: resp.Choices[0].Message.Content, Provider: o.id, Model: o.model}, nil
}

func (o *OpenAIText) classify(err error) error {
	e := Classify(err)
	e.Provider = o.id
	return e
}

// OpenAIImage generates images with the images API.
type OpenAIImage struct {
	id     string
	model  string
	client openai.Client
}

// NewOpenAIImage creates an image generation provider.
func NewOpenAIImage(s Settings) (*OpenAIImage, error) {
	opts, err := openAIOptions(s)
	if err != nil {
		return nil, err
	}
	if s.Model == "" {
		s.Model = string(openai.ImageModelDallE3)
	}
	return &OpenAIImage{id: s.ID, model: s.Model, client: openai.NewClient(opts...)}, nil
}

func (o *OpenAIImage) ID() string             { return o.id }
func (o *OpenAIImage) Capability() Capability { return Image }

func (o *OpenAIImage) Call(ctx context.Context, req Request) (Response, error) {
	size := req.Params["size"]
	if size == "" {
		size = "1024x1024"
	}
	format := req.Params["response_format"]
	if format == "" {
		format = "url"
	}
	params := openai.ImageGenerateParams{
		Prompt:         req.Prompt,
		Model:          openai.ImageModel(o.model),
		Size:           openai.ImageGenerateParamsSize(size),
		ResponseFormat: openai.ImageGenerateParamsResponseFormat(format),
	}
	if style := req.Params["style"]; style != "" {
		params.Style = openai.ImageGenerateParamsStyle(style)
	}

	resp, err := o.client.Images.Generate(ctx, params)
	if err != nil {
		e := Classify(err)
		e.Provider = o.id
		return Response{}, e
	}
	if len(resp.Data) == 0 {
		return Response{}, &Error{Kind: KindServer, Provider: o.id, Err: errors.New("empty image data")}
	}
	img := resp.Data[0]
	out := Response{URL: img.URL, Provider: o.id, Model: o.model, MIME: "image/png"}
	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return Response{}, &Error{Kind: KindServer, Provider: o.id, Err: err}
		}
		out.Data = data
	}
	return out, nil
}

func openAIOptions(s Settings) ([]option.RequestOption, error) {
	if s.APIKey == "" {
		return nil, errors.New("openai api key missing; set api_key on the provider")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(s.APIKey),
		// retries are owned by the stage executor
		option.WithMaxRetries(0),
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	return opts, nil
}
