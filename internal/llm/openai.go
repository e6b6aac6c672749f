package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
)

// extraction keeps a low temperature for consistent structured output.
const extractionTemperature = 0.3

// OpenAIConfig configures the OpenAI-compatible chat-completions endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type openAIClient struct {
	cfg OpenAIConfig
}

// NewOpenAIClient builds a Client for any OpenAI-compatible provider.
// The API key and model are required.
func NewOpenAIClient(cfg OpenAIConfig) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperrors.New(apperrors.CodeExtractorNotConfigured, "llm api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, apperrors.New(apperrors.CodeExtractorNotConfigured, "llm model is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &openAIClient{cfg: cfg}, nil
}

type chatRequest struct {
	Model          string      `json:"model"`
	Messages       []Message   `json:"messages"`
	Temperature    float64     `json:"temperature"`
	Tools          []toolDef   `json:"tools,omitempty"`
	ToolChoice     *toolChoice `json:"tool_choice,omitempty"`
	ResponseFormat *respFormat `json:"response_format,omitempty"`
}

type toolDef struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type toolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type respFormat struct {
	Type       string          `json:"type"`
	JSONSchema *respJSONSchema `json:"json_schema,omitempty"`
}

type respJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *openAIClient) CallWithTool(ctx context.Context, messages []Message, tool ToolSchema) (json.RawMessage, error) {
	choice := &toolChoice{Type: "function"}
	choice.Function.Name = tool.Name

	resp, err := c.complete(ctx, chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: extractionTemperature,
		Tools: []toolDef{{
			Type: "function",
			Function: toolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}},
		ToolChoice: choice,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return nil, apperrors.New(apperrors.CodeLLMMalformedResponse, "response carries no tool call")
	}
	call := resp.Choices[0].Message.ToolCalls[0]
	if call.Function.Name != tool.Name {
		return nil, apperrors.New(apperrors.CodeLLMMalformedResponse,
			fmt.Sprintf("model called %q instead of %q", call.Function.Name, tool.Name))
	}
	args := strings.TrimSpace(call.Function.Arguments)
	if args == "" || !json.Valid([]byte(args)) {
		return nil, apperrors.New(apperrors.CodeLLMMalformedResponse, "tool call arguments are not valid JSON")
	}
	return json.RawMessage(args), nil
}

func (c *openAIClient) CallWithJSON(ctx context.Context, messages []Message, schema map[string]any) (json.RawMessage, error) {
	resp, err := c.complete(ctx, chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: extractionTemperature,
		ResponseFormat: &respFormat{
			Type: "json_schema",
			JSONSchema: &respJSONSchema{
				Name:   "event_extraction",
				Strict: true,
				Schema: schema,
			},
		},
	})
	if err != nil {
		// Some compatible providers reject json_schema; retry as json_object.
		resp, err = c.complete(ctx, chatRequest{
			Model:          c.cfg.Model,
			Messages:       messages,
			Temperature:    extractionTemperature,
			ResponseFormat: &respFormat{Type: "json_object"},
		})
		if err != nil {
			return nil, err
		}
	}

	if len(resp.Choices) == 0 {
		return nil, apperrors.New(apperrors.CodeLLMMalformedResponse, "response carries no choices")
	}
	content := StripCodeFence(strings.TrimSpace(resp.Choices[0].Message.Content))
	if content == "" || !json.Valid([]byte(content)) {
		return nil, apperrors.New(apperrors.CodeLLMMalformedResponse, "response content is not valid JSON")
	}
	return json.RawMessage(content), nil
}

func (c *openAIClient) complete(ctx context.Context, reqBody chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMUnavailable, "chat completion request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMUnavailable, "read chat completion response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.CodeLLMUnavailable,
			fmt.Sprintf("chat completion returned %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMMalformedResponse, "decode chat completion response", err)
	}
	return &parsed, nil
}

// StripCodeFence removes a markdown code-block wrapper (```json ... ```)
// some models insist on emitting around JSON output.
func StripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
