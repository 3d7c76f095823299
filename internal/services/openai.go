package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/datachat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface for interacting with OpenAI's language models. It
// also routes prompts through OpenAI's function calling.
type OpenAI struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified API key, base URL, model name, and system prompt.
// An empty base URL targets the public OpenAI API.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(messages []models.LLMMessage) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return msgs
}

// Complete is a wrapper around the OpenAI chat completion API.
func (o OpenAI) Complete(ctx context.Context, messages []models.LLMMessage) (string, error) {
	req := o.chatRequest(openAIMessages(withSystemPrompt(o.systemPrompt, messages)), nil)

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices found")
	}

	return resp.Choices[0].Message.Content, nil
}

// Route lets the model pick one of tools for prompt. When the model answers directly, the returned routing
// carries its answer instead of a tool name.
func (o OpenAI) Route(ctx context.Context, prompt string, tools []models.Tool) (models.Routing, error) {
	oTools := make([]goopenai.Tool, len(tools))
	for i, tool := range tools {
		oTools[i] = goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}

	msgs := openAIMessages([]models.LLMMessage{{Role: models.LLMRoleUser, Content: prompt}})
	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(msgs, oTools))
	if err != nil {
		return models.Routing{}, fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return models.Routing{}, errors.New("no choices found")
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		if len(msg.ToolCalls) > 1 {
			o.logger.Warn("Received multiples tool call, but only the first one is supported",
				slog.Int("count", len(msg.ToolCalls)),
				slog.String("toolCalls", fmt.Sprintf("%+v", msg.ToolCalls)),
			)
		}
		return models.Routing{Tool: msg.ToolCalls[0].Function.Name}, nil
	}

	return models.Routing{Text: msg.Content}, nil
}

func (o OpenAI) chatRequest(
	messages []goopenai.ChatCompletionMessage,
	tools []goopenai.Tool,
) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Tools:    tools,
	}
	if len(tools) > 0 {
		req.ToolChoice = "auto"
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}

	return req
}
