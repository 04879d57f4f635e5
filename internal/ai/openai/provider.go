package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/textpulse/internal/ai"
	"github.com/kiranshivaraju/textpulse/internal/config"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// Provider implements models.AIProvider against the chat/completions API.
// Any OpenAI-compatible server (vLLM included) can sit behind it.
type Provider struct {
	name         string
	baseURL      string
	apiKey       string
	systemPrompt string
	client       *http.Client
}

// NewProvider returns a provider for api.openai.com (or OPENAI_BASE_URL).
func NewProvider(cfg config.OpenAIConfig, systemPrompt string) *Provider {
	return NewCompatible("openai", cfg.BaseURL, cfg.APIKey, systemPrompt)
}

// NewCompatible returns a provider for an OpenAI-compatible endpoint.
// apiKey may be empty for servers that do not authenticate.
func NewCompatible(name, baseURL, apiKey, systemPrompt string) *Provider {
	return &Provider{
		name:         name,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		systemPrompt: systemPrompt,
		client:       &http.Client{},
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.systemPrompt},
			{Role: "user", Content: req.Text},
		},
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var resp chatResponse
	if err := ai.PostJSON(ctx, p.client, p.baseURL+"/chat/completions", headers, body, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ai.ErrInvalidResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty message content", ai.ErrInvalidResponse)
	}
	return content, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

var _ models.AIProvider = (*Provider)(nil)
