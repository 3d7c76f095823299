package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/MegaGrindStone/datachat/internal/models"
	"google.golang.org/genai"
)

// Gemini implements the LLM interface on top of the Gemini API.
type Gemini struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *genai.Client
}

// NewGemini creates a new Gemini instance. An empty endpoint targets the public Gemini API.
func NewGemini(ctx context.Context, apiKey, endpoint, model, systemPrompt string, params LLMParameters) (Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if endpoint != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return Gemini{}, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return Gemini{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       client,
	}, nil
}

// Complete sends messages as a single generate content request. System messages become the system
// instruction of the request.
func (g Gemini) Complete(ctx context.Context, messages []models.LLMMessage) (string, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range withSystemPrompt(g.systemPrompt, messages) {
		switch msg.Role {
		case models.LLMRoleSystem:
			system = append(system, msg.Content)
		case models.LLMRoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}

	cfg := g.config()
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return resp.Text(), nil
}

func (g Gemini) config() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: g.params.Temperature,
		TopP:        g.params.TopP,
	}
	if g.params.Seed != nil {
		seed := int32(*g.params.Seed)
		cfg.Seed = &seed
	}
	if g.params.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*g.params.MaxTokens)
	}
	return cfg
}
