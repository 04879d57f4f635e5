package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/textpulse/internal/ai"
	"github.com/kiranshivaraju/textpulse/internal/config"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// Provider implements models.AIProvider using Ollama's /api/chat endpoint.
type Provider struct {
	baseURL      string
	systemPrompt string
	client       *http.Client
}

func NewProvider(cfg config.OllamaConfig, systemPrompt string) *Provider {
	return &Provider{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		systemPrompt: systemPrompt,
		client:       &http.Client{},
	}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	body := chatRequest{
		Model:  req.Model,
		Stream: false,
		Messages: []message{
			{Role: "system", Content: p.systemPrompt},
			{Role: "user", Content: req.Text},
		},
	}

	var resp chatResponse
	if err := ai.PostJSON(ctx, p.client, p.baseURL+"/api/chat", nil, body, &resp); err != nil {
		return "", err
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty message content", ai.ErrInvalidResponse)
	}
	return content, nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message message `json:"message"`
}

var _ models.AIProvider = (*Provider)(nil)
