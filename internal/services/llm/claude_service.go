package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/common"
	"github.com/ternarybob/beacon/internal/models"
)

// ClaudeService generates audit narratives with the Anthropic API.
type ClaudeService struct {
	config *common.LLMConfig
	logger arbor.ILogger
	client anthropic.Client
	model  string
}

// NewClaudeService creates a Claude-backed analysis service.
func NewClaudeService(config *common.LLMConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if config.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set via ANTHROPIC_API_KEY or llm.anthropic_api_key in config)")
	}

	model := config.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &ClaudeService{
		config: config,
		logger: logger,
		client: anthropic.NewClient(option.WithAPIKey(config.AnthropicAPIKey)),
		model:  model,
	}, nil
}

// Provider returns the provider name.
func (s *ClaudeService) Provider() string {
	return ProviderClaude
}

// GenerateReport asks Claude for a structured audit narrative.
func (s *ClaudeService) GenerateReport(ctx context.Context, url string, lighthouse *models.LighthouseReport, crux *models.CrUXData) (*models.AIReport, error) {
	prompt, err := buildPrompt(url, lighthouse, crux)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 8192,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Claude generation failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from Claude API")
	}

	report, err := parseReport(text.String())
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("url", url).Str("model", s.model).Msg("Generated analysis report")
	return report, nil
}
