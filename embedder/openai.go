package embedder

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures a hosted vision-language embedding provider
// reachable through an openai-compatible embeddings endpoint (Qwen-VL-style
// models that accept data: URLs as input). Point the client's BaseURL at the
// serving host.
type OpenAIConfig struct {
	Client     *openai.Client
	Model      string
	Dimensions int
}

type OpenAI struct {
	client *openai.Client
	model  string
	dims   int
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("Client is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("Model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("Dimensions is required")
	}
	return &OpenAI{client: cfg.Client, model: cfg.Model, dims: cfg.Dimensions}, nil
}

func (o *OpenAI) Model() string   { return o.model }
func (o *OpenAI) Dimensions() int { return o.dims }

func (o *OpenAI) EmbedImage(ctx context.Context, img Image) ([]float32, error) {
	if len(img.Bytes) == 0 {
		return nil, fmt.Errorf("image bytes are required")
	}
	ct := img.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	dataURL := "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(img.Bytes)

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{dataURL},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dims,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response is empty")
	}
	return resp.Data[0].Embedding, nil
}
