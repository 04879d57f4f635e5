package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/textpulse/internal/ai"
	"github.com/kiranshivaraju/textpulse/internal/config"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

const (
	apiVersion = "2023-06-01"
	maxTokens  = 1024
)

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	cfg          config.AnthropicConfig
	systemPrompt string
	client       *http.Client
}

func NewProvider(cfg config.AnthropicConfig, systemPrompt string) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, systemPrompt: systemPrompt, client: &http.Client{}}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	body := messagesRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		System:    p.systemPrompt,
		Messages:  []message{{Role: "user", Content: req.Text}},
	}
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": apiVersion,
	}

	var resp messagesResponse
	if err := ai.PostJSON(ctx, p.client, p.cfg.BaseURL+"/messages", headers, body, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", fmt.Errorf("%w: no text content blocks", ai.ErrInvalidResponse)
	}
	return content, nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

var _ models.AIProvider = (*Provider)(nil)
