package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Tool names the classifier may choose.
var knownTools = []string{"calculate_carbon_footprint", "deploy_instance", "search_knowledge"}

// Intent is the tool call the classifier picked for a prompt.
type Intent struct {
	Tool     string `json:"tool"`
	Instance string `json:"instance"`
	Hours    int    `json:"hours"`
	Query    string `json:"query"`
}

// Client wraps the Anthropic API for intent classification.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
// Extra request options are passed through to the SDK.
func NewClient(apiKey, model string, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildIntentPrompt constructs the system and user prompts for intent classification.
func buildIntentPrompt(prompt string) (system string, user string) {
	system = `You route requests for a cloud sustainability assistant. Return ONLY a JSON object with these fields:
- "tool": one of "calculate_carbon_footprint", "deploy_instance", "search_knowledge"
- "instance": the cloud instance type mentioned (for example "t3.medium" or "gpu.large"), empty string if none
- "hours": integer number of hours mentioned, 0 if none
- "query": for "search_knowledge", the question to look up; otherwise empty string

Rules:
- Requests to launch, deploy, start or provision an instance use "deploy_instance"
- Questions about emissions, CO2, carbon or energy of an instance use "calculate_carbon_footprint"
- General questions about efficient or green AI practices use "search_knowledge"
- Write instance types in lowercase with a dot between family and size ("gpu large" becomes "gpu.large")
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Request: ")
	sb.WriteString(prompt)
	user = sb.String()
	return
}

// ClassifyIntent asks the model which tool should serve prompt.
func (c *Client) ClassifyIntent(ctx context.Context, prompt string) (*Intent, error) {
	systemPrompt, userPrompt := buildIntentPrompt(prompt)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseIntent(text)
}

// parseIntent decodes a model reply, tolerating markdown fences.
func parseIntent(text string) (*Intent, error) {
	text = stripFence(text)

	var intent Intent
	if err := json.Unmarshal([]byte(text), &intent); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	intent.Tool = strings.TrimSpace(intent.Tool)
	intent.Instance = strings.ToLower(strings.TrimSpace(intent.Instance))
	if !isKnownTool(intent.Tool) {
		return nil, fmt.Errorf("unknown tool %q in LLM response", intent.Tool)
	}
	if intent.Hours < 0 {
		intent.Hours = 0
	}
	return &intent, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

func isKnownTool(name string) bool {
	for _, t := range knownTools {
		if t == name {
			return true
		}
	}
	return false
}
