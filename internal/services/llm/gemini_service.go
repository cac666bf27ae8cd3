package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/common"
	"github.com/ternarybob/beacon/internal/models"
	"google.golang.org/genai"
)

// GeminiService generates audit narratives with the Gemini API.
type GeminiService struct {
	config *common.LLMConfig
	logger arbor.ILogger
	client *genai.Client
	model  string
}

// NewGeminiService creates a Gemini-backed analysis service.
func NewGeminiService(config *common.LLMConfig, logger arbor.ILogger) (*GeminiService, error) {
	if config.GoogleAPIKey == "" {
		return nil, fmt.Errorf("Google API key is required (set via GOOGLE_API_KEY or llm.google_api_key in config)")
	}

	model := config.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.GoogleAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	return &GeminiService{
		config: config,
		logger: logger,
		client: client,
		model:  model,
	}, nil
}

// Provider returns the provider name.
func (s *GeminiService) Provider() string {
	return ProviderGemini
}

// GenerateReport asks Gemini for a structured audit narrative.
func (s *GeminiService) GenerateReport(ctx context.Context, url string, lighthouse *models.LighthouseReport, crux *models.CrUXData) (*models.AIReport, error) {
	prompt, err := buildPrompt(url, lighthouse, crux)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromText(prompt)},
		},
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini generation failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini API")
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty text in Gemini response")
	}

	report, err := parseReport(text)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("url", url).Str("model", s.model).Msg("Generated analysis report")
	return report, nil
}
