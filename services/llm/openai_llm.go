package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultChatModel      = "gpt-3.5-turbo"
	DefaultEmbeddingModel = string(openai.AdaEmbeddingV2)

	openAIKeySecretPath = "/run/secrets/openai_api_key"
)

var ErrMissingAPIKey = errors.New("openai api key not configured")

type OpenAIConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string
}

// OpenAIFactory builds chat and embedding clients against the OpenAI API.
// It holds no per-request state and is safe for concurrent use.
type OpenAIFactory struct {
	cfg OpenAIConfig
}

func NewOpenAIFactory(cfg OpenAIConfig) (*OpenAIFactory, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = ReadOpenAIKeySecret(openAIKeySecretPath)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
		slog.Warn("OPENAI_MODEL not set, using default", "model", cfg.Model)
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	slog.Info("Initializing OpenAI client factory",
		"model", cfg.Model,
		"embedding_model", cfg.EmbeddingModel,
		"custom_base_url", cfg.BaseURL != "")
	return &OpenAIFactory{cfg: cfg}, nil
}

// ReadOpenAIKeySecret returns the trimmed contents of a mounted secret file,
// or "" if it cannot be read.
func ReadOpenAIKeySecret(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	slog.Info("Read the OpenAI API key from secret file", "path", path)
	return strings.TrimSpace(string(b))
}

func (f *OpenAIFactory) ForCredential(apiKey string) (*Clients, error) {
	key := f.cfg.APIKey
	if k := strings.TrimSpace(apiKey); k != "" {
		key = k
	}

	oaCfg := openai.DefaultConfig(key)
	if f.cfg.BaseURL != "" {
		oaCfg.BaseURL = f.cfg.BaseURL
	}
	embedder, err := embeddings.NewEmbedder(&openAIEmbedderClient{
		client: openai.NewClientWithConfig(oaCfg),
		model:  openai.EmbeddingModel(f.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	opts := []lcopenai.Option{
		lcopenai.WithToken(key),
		lcopenai.WithModel(f.cfg.Model),
	}
	if f.cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(f.cfg.BaseURL))
	}
	model, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	return &Clients{Embedder: embedder, Model: model, Credential: key}, nil
}

// openAIEmbedderClient adapts go-openai to embeddings.EmbedderClient.
type openAIEmbedderClient struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func (c *openAIEmbedderClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		slog.Error("OpenAI embeddings call failed", "error", err)
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("OpenAI returned embedding with index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var (
	_ ClientFactory             = (*OpenAIFactory)(nil)
	_ embeddings.EmbedderClient = (*openAIEmbedderClient)(nil)
)
