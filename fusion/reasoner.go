package fusion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/doujins-org/compkit/vision"
)

// chatCompleter is the slice of the openai client the reasoner needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type ReasonerConfig struct {
	Client *openai.Client
	Model  string

	// Fallback runs whenever the reasoning call fails or returns an
	// unusable attribute set. Defaults to NewVoting(VotingConfig{}).
	Fallback Strategy

	Logger *slog.Logger
}

// Reasoner delegates fusion to an LLM for ambiguous provider output. Its
// output is not reproducible, so it is never the only strategy: any failure
// falls back to the deterministic voting strategy.
type Reasoner struct {
	chat     chatCompleter
	model    string
	fallback Strategy
	logger   *slog.Logger
}

func NewReasoner(cfg ReasonerConfig) (*Reasoner, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("Client is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("Model is required")
	}
	r := &Reasoner{
		chat:     cfg.Client,
		model:    cfg.Model,
		fallback: cfg.Fallback,
		logger:   cfg.Logger,
	}
	if r.fallback == nil {
		r.fallback = NewVoting(VotingConfig{})
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r, nil
}

const reasonerPrompt = `You are fusing outputs of independent vision services that analyzed one product photo.
Given their entities, detected objects and OCR text below, identify the item. Respond with JSON only:
{"brand":"","product_name":"","category":"","secondary":[],"confidence":0.0}
Leave a field empty rather than guessing. confidence is in [0,1].

`

type reasonerReply struct {
	Brand       string   `json:"brand"`
	ProductName string   `json:"product_name"`
	Category    string   `json:"category"`
	Secondary   []string `json:"secondary"`
	Confidence  float32  `json:"confidence"`
}

func (r *Reasoner) Synthesize(ctx context.Context, results []vision.Result) (AttributeSet, error) {
	attrs, err := r.reason(ctx, results)
	if err != nil {
		r.logger.Warn("reasoning fusion failed, using voting fallback", "err", err)
		return r.fallback.Synthesize(ctx, results)
	}
	if attrs.Empty() {
		return r.fallback.Synthesize(ctx, results)
	}
	return attrs, nil
}

func (r *Reasoner) reason(ctx context.Context, results []vision.Result) (AttributeSet, error) {
	payload, contributors := encodeResults(results)
	if len(contributors) == 0 {
		return AttributeSet{}, fmt.Errorf("no usable provider results")
	}

	resp, err := r.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: reasonerPrompt + payload},
		},
	})
	if err != nil {
		return AttributeSet{}, err
	}
	if len(resp.Choices) == 0 {
		return AttributeSet{}, fmt.Errorf("empty completion")
	}

	var reply reasonerReply
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &reply); err != nil {
		return AttributeSet{}, fmt.Errorf("unparseable reply: %w", err)
	}

	conf := reply.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	attrs := AttributeSet{
		Brand:           strings.TrimSpace(reply.Brand),
		ProductName:     strings.TrimSpace(reply.ProductName),
		Category:        strings.TrimSpace(reply.Category),
		Confidence:      conf,
		FieldConfidence: map[Field]float32{},
		Provenance:      map[Field][]string{},
	}
	for _, s := range reply.Secondary {
		s = strings.TrimSpace(s)
		if s != "" {
			attrs.Secondary = append(attrs.Secondary, s)
		}
	}
	sort.Strings(attrs.Secondary)
	for _, f := range []Field{FieldBrand, FieldProductName, FieldCategory} {
		switch {
		case f == FieldBrand && attrs.Brand == "",
			f == FieldProductName && attrs.ProductName == "",
			f == FieldCategory && attrs.Category == "":
			continue
		}
		attrs.FieldConfidence[f] = conf
		attrs.Provenance[f] = contributors
	}
	return attrs, nil
}

// encodeResults serializes the successful provider results for the prompt and
// returns the contributing provider IDs, sorted.
func encodeResults(results []vision.Result) (string, []string) {
	type entity struct {
		Label string  `json:"label"`
		Score float32 `json:"score"`
	}
	type provider struct {
		Provider string   `json:"provider"`
		Entities []entity `json:"entities,omitempty"`
		Objects  []entity `json:"objects,omitempty"`
		Text     string   `json:"text,omitempty"`
	}

	var payload []provider
	var ids []string
	for _, r := range results {
		if !r.OK() {
			continue
		}
		p := provider{Provider: r.ProviderID, Text: r.RawText}
		for _, e := range r.Entities {
			p.Entities = append(p.Entities, entity{Label: e.Label, Score: e.Score})
		}
		for _, o := range r.Objects {
			p.Objects = append(p.Objects, entity{Label: o.Label, Score: o.Score})
		}
		payload = append(payload, p)
		ids = append(ids, r.ProviderID)
	}
	sort.Strings(ids)
	b, err := json.Marshal(payload)
	if err != nil {
		return "[]", ids
	}
	return string(b), ids
}
