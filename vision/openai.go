package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures a chat-vision backed Provider. Any
// openai-compatible endpoint works via the client's BaseURL.
type OpenAIConfig struct {
	Client *openai.Client
	Model  string

	// ProviderID defaults to "openai:<model>".
	ProviderID string
}

// OpenAIProvider adapts an openai-compatible vision chat model to the
// Provider capability. The model is asked for a strict JSON analysis which is
// normalized into entities/objects/text.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	id     string
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("Client is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("Model is required")
	}
	id := strings.TrimSpace(cfg.ProviderID)
	if id == "" {
		id = "openai:" + cfg.Model
	}
	return &OpenAIProvider{client: cfg.Client, model: cfg.Model, id: id}, nil
}

func (p *OpenAIProvider) ID() string { return p.id }

const visionPrompt = `Analyze the product photo. Respond with JSON only:
{"entities":[{"label":"...","score":0.0}],"objects":[{"label":"...","score":0.0}],"text":"..."}
entities: brand/product identifications ordered by confidence, score in [0,1].
objects: generic object categories visible in the photo, most prominent first.
text: any legible printed text, or "".`

type openAIAnalysis struct {
	Entities []struct {
		Label string  `json:"label"`
		Score float32 `json:"score"`
	} `json:"entities"`
	Objects []struct {
		Label string  `json:"label"`
		Score float32 `json:"score"`
	} `json:"objects"`
	Text string `json:"text"`
}

func (p *OpenAIProvider) Analyze(ctx context.Context, img Image) (Result, error) {
	if len(img.Bytes) == 0 {
		return Result{}, &ProviderError{Provider: p.id, Kind: ErrorKindInvalidImage, Err: fmt.Errorf("empty image")}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    DataURL(img),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return Result{}, err
	}
	if len(resp.Choices) == 0 {
		return Result{}, &ProviderError{Provider: p.id, Kind: ErrorKindUnavailable, Err: fmt.Errorf("empty completion")}
	}

	var a openAIAnalysis
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &a); err != nil {
		return Result{}, &ProviderError{Provider: p.id, Kind: ErrorKindUnavailable, Err: fmt.Errorf("unparseable analysis: %w", err)}
	}

	out := Result{ProviderID: p.id, RawText: strings.TrimSpace(a.Text)}
	for _, e := range a.Entities {
		if strings.TrimSpace(e.Label) == "" {
			continue
		}
		out.Entities = append(out.Entities, Entity{Label: e.Label, Score: clamp01(e.Score)})
	}
	for _, o := range a.Objects {
		if strings.TrimSpace(o.Label) == "" {
			continue
		}
		out.Objects = append(out.Objects, Object{Label: o.Label, Score: clamp01(o.Score)})
	}
	return out, nil
}

// DataURL encodes the image as a data: URL for providers that don't fetch
// remote assets. The content type is sniffed when not supplied.
func DataURL(img Image) string {
	ct := img.ContentType
	if ct == "" {
		ct = http.DetectContentType(img.Bytes)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(img.Bytes)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
