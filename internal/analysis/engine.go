package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/datachat/internal/models"
)

// LLM is a language model able to complete a conversation.
type LLM interface {
	Complete(ctx context.Context, messages []models.LLMMessage) (string, error)
}

// ToolRouter is implemented by language models that pick a tool natively.
type ToolRouter interface {
	Route(ctx context.Context, prompt string, tools []models.Tool) (models.Routing, error)
}

// Engine answers prompts about the stored dataset, with a Vega-Lite chart, a statistical summary, or a
// plain answer of the language model.
type Engine struct {
	llm    LLM
	router ToolRouter
	store  Store

	logger *slog.Logger
}

const (
	// ToolVegaSpec generates a chart of the dataset.
	ToolVegaSpec = "generate_vega_spec"
	// ToolStatsSummary summarizes the dataset statistics.
	ToolStatsSummary = "generate_stats_summary"

	// DescriptionNoDataset answers every query sent before the first upload.
	DescriptionNoDataset = "Please upload a dataset for me to work with."
	// DescriptionFailed answers queries the engine couldn't process.
	DescriptionFailed = "The requested visualization could not be generated due to formatting issues"
)

var errInvalidSpec = errors.New("model returned an invalid Vega-Lite specification")

var splitKeywords = []string{" and ", " also ", " another ", " plus "}

var tools = []models.Tool{
	{
		Name: ToolVegaSpec,
		Description: "Generates a Vega-Lite JSON specification for data visualization based on what type of " +
			"graph or chart the user wants. It also takes a description of something particular the user " +
			"wants an additional summary of. Choose it for histograms, scatter plots, bar charts, line " +
			"charts, pie charts, box plots, or any other type of chart or graph.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"user_prompt": {
					"type": "string",
					"description": "User's request for the desired visualization, describing fields to visualize and chart type."
				}
			},
			"required": ["user_prompt"]
		}`),
	},
	{
		Name:        ToolStatsSummary,
		Description: "Generate a statistical summary of the dataset based on user-provided prompt.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"user_prompt": {
					"type": "string",
					"description": "Description of the statistics requested."
				}
			},
			"required": ["user_prompt"]
		}`),
	},
}

// NewEngine creates an Engine. When llm also implements ToolRouter, it is used to pick the tool, otherwise
// the model is asked to classify the prompt.
func NewEngine(llm LLM, store Store, logger *slog.Logger) Engine {
	e := Engine{
		llm:    llm,
		store:  store,
		logger: logger.With(slog.String("module", "engine")),
	}
	if router, ok := llm.(ToolRouter); ok {
		e.router = router
	}
	return e
}

// Upload parses raw as CSV and makes it the dataset every following query is about.
func (e Engine) Upload(ctx context.Context, raw []byte) (*Frame, error) {
	frame, err := ParseFrame(raw)
	if err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, frame); err != nil {
		return nil, fmt.Errorf("failed to save dataset: %w", err)
	}

	e.logger.Info("Dataset stored",
		slog.Int("columns", len(frame.Columns)),
		slog.Int("rows", frame.Len()))

	return frame, nil
}

// Query answers prompt. Failures of the language model are reported in the description of the returned
// response, only a failing store is returned as an error.
func (e Engine) Query(ctx context.Context, prompt string) (models.QueryResponse, error) {
	frame, err := e.store.Load(ctx)
	if errors.Is(err, ErrNoDataset) {
		return models.QueryResponse{Description: DescriptionNoDataset}, nil
	}
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("failed to load dataset: %w", err)
	}

	resp, err := e.answer(ctx, frame, prompt)
	if err != nil {
		e.logger.Error("Failed to answer query",
			slog.String("prompt", prompt),
			slog.String(errLoggerKey, err.Error()))
		return models.QueryResponse{Description: DescriptionFailed}, nil
	}
	return resp, nil
}

func (e Engine) answer(ctx context.Context, frame *Frame, prompt string) (models.QueryResponse, error) {
	routing, err := e.route(ctx, prompt)
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("failed to route prompt: %w", err)
	}

	e.logger.Debug("Prompt routed", slog.String("tool", routing.Tool))

	switch routing.Tool {
	case ToolVegaSpec:
		return e.visualize(ctx, frame, prompt)
	case ToolStatsSummary:
		summary, err := e.summarize(ctx, frame, prompt)
		if err != nil {
			return models.QueryResponse{}, err
		}
		return models.QueryResponse{Description: summary}, nil
	default:
		return models.QueryResponse{Description: routing.Text}, nil
	}
}

func (e Engine) route(ctx context.Context, prompt string) (models.Routing, error) {
	if e.router != nil {
		return e.router.Route(ctx, prompt, tools)
	}

	var sb strings.Builder
	sb.WriteString("Pick the tool that fits the user request best. Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	sb.WriteString("- none: the request needs neither.\n\n")
	fmt.Fprintf(&sb, "User request: %s\n", prompt)
	sb.WriteString("Reply with the tool name only.")

	choice, err := e.complete(ctx, sb.String())
	if err != nil {
		return models.Routing{}, err
	}
	choice = strings.ToLower(choice)
	switch {
	case strings.Contains(choice, ToolVegaSpec):
		return models.Routing{Tool: ToolVegaSpec}, nil
	case strings.Contains(choice, ToolStatsSummary):
		return models.Routing{Tool: ToolStatsSummary}, nil
	}

	text, err := e.complete(ctx, prompt)
	if err != nil {
		return models.Routing{}, err
	}
	return models.Routing{Text: text}, nil
}

func (e Engine) visualize(ctx context.Context, frame *Frame, prompt string) (models.QueryResponse, error) {
	actions := SplitActions(prompt)

	info, err := json.Marshal(frame.Info())
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("failed to marshal column info: %w", err)
	}

	specPrompt := fmt.Sprintf("Based on the following dataset columns %q and their types:\n%s\n\n"+
		"User request: %s\n"+
		"Please generate a Vega-Lite specification for a visualization that meets the user's needs, "+
		"make sure there are plenty of samples to plot for a nice visual. "+
		"Only return the JSON format and never return an empty chart.",
		frame.Columns, info, prompt)

	out, err := e.complete(ctx, specPrompt)
	if err != nil {
		return models.QueryResponse{}, err
	}
	spec, err := ExtractSpec(out)
	if err != nil {
		return models.QueryResponse{}, err
	}

	summaryPrompt := fmt.Sprintf("Since this visual is all the user requested, please provide a brief, "+
		"concise summary of the visual based on: %s.", prompt)
	description, err := e.complete(ctx, summaryPrompt)
	if err != nil {
		return models.QueryResponse{}, err
	}

	if len(actions) > 1 {
		e.logger.Debug("Multiple actions requested", slog.Any("actions", actions))
		stats, err := e.summarize(ctx, frame, prompt)
		if err != nil {
			return models.QueryResponse{}, err
		}
		description = stats + "\n\n" + description
	}

	return models.QueryResponse{Visualization: spec, Description: description}, nil
}

func (e Engine) summarize(ctx context.Context, frame *Frame, prompt string) (string, error) {
	statsPrompt := fmt.Sprintf("Here's the statistical description of the dataset:\n%s\n"+
		"User request: %s\n"+
		"Please provide a concise but clear response showing numbers, ignore input that asks for visuals. "+
		"Return user friendly text, not code. If it asks for something specific like a correlation, "+
		"make sure to actually compute that number.",
		FormatStats(frame.Describe()), prompt)

	return e.complete(ctx, statsPrompt)
}

func (e Engine) complete(ctx context.Context, prompt string) (string, error) {
	out, err := e.llm.Complete(ctx, []models.LLMMessage{{Role: models.LLMRoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("failed to complete: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// SplitActions splits a prompt asking for several things at once, on the first conjunction it contains.
// A prompt without one is returned as the only action.
func SplitActions(prompt string) []string {
	lower := strings.ToLower(prompt)
	for _, kw := range splitKeywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		parts := strings.Split(lower, kw)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return []string{prompt}
}

// ExtractSpec returns the compacted JSON object found in a model output, which may be wrapped in a
// Markdown code fence.
func ExtractSpec(out string) (string, error) {
	s := strings.TrimSpace(out)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	if !strings.HasPrefix(s, "{") || !json.Valid([]byte(s)) {
		return "", errInvalidSpec
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidSpec, err)
	}
	return buf.String(), nil
}

const errLoggerKey = "err"
