package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/common"
	"github.com/ternarybob/beacon/internal/models"
)

// Provider names accepted in configuration.
const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// Service generates the narrative analysis section of an audit report.
type Service interface {
	GenerateReport(ctx context.Context, url string, lighthouse *models.LighthouseReport, crux *models.CrUXData) (*models.AIReport, error)
	Provider() string
}

// NewService creates the LLM service selected by configuration. Gemini is
// the default provider.
func NewService(config *common.Config, logger arbor.ILogger) (Service, error) {
	switch config.LLM.Provider {
	case ProviderClaude:
		return NewClaudeService(&config.LLM, logger)
	case ProviderGemini, "":
		return NewGeminiService(&config.LLM, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", config.LLM.Provider)
	}
}

// buildPrompt renders the analysis prompt from the collected audit data.
func buildPrompt(url string, lighthouse *models.LighthouseReport, crux *models.CrUXData) (string, error) {
	input := map[string]any{
		"url":        url,
		"lighthouse": lighthouse,
		"crux":       crux,
	}
	inputJSON, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode audit data: %w", err)
	}
	return fmt.Sprintf(userPromptTemplate, string(inputJSON)), nil
}

// parseReport decodes the model's JSON output, tolerating markdown fences.
func parseReport(text string) (*models.AIReport, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var report models.AIReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		return nil, fmt.Errorf("failed to parse model output: %w", err)
	}
	return &report, nil
}
