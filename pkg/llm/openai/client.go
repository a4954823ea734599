package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/carechat/internal/types"
	"github.com/user/carechat/pkg/llm"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// summaryPrompt frames the incremental summarization request. The prior
// summary and the newly uncovered turns are merged into one updated summary
// so each summarization call stays bounded regardless of history length.
const summaryPrompt = `You maintain a running summary of a healthcare-assistant conversation. Update the summary to incorporate the new turns below, preserving medical details the assistant would need later: reported symptoms, medications and dosages, care instructions, appointments, and the user's outstanding questions. Keep it concise and factual.

Current summary (may be empty):
%s

New turns:
%s

Provide the updated summary:`

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

// chatResponse is the OpenAI chat completions response body.
type chatResponse struct {
	Model   string        `json:"model"`
	Choices []choice      `json:"choices"`
	Usage   responseUsage `json:"usage"`
}

// choice represents a single completion choice.
type choice struct {
	Message responseMessage `json:"message"`
}

// responseMessage is the OpenAI message format in responses.
type responseMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Annotations []annotation `json:"annotations,omitempty"`
}

// annotation carries source citations on providers that attach them.
type annotation struct {
	Type        string `json:"type"`
	URLCitation *struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"url_citation,omitempty"`
}

// responseUsage is the OpenAI token usage format.
type responseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Generate sends the context package as a chat completion request.
func (c *Client) Generate(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	start := time.Now()
	chatResp, err := c.complete(ctx, messages)
	if err != nil {
		return nil, err
	}

	choice := chatResp.Choices[0]
	var citations []string
	for _, a := range choice.Message.Annotations {
		if a.URLCitation != nil {
			citations = append(citations, a.URLCitation.URL)
		}
	}

	model := chatResp.Model
	if model == "" {
		model = c.config.Model
	}

	return &llm.Response{
		Text:           choice.Message.Content,
		ModelUsed:      model,
		Citations:      citations,
		TokenCount:     chatResp.Usage.TotalTokens,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// Summarize condenses newMessages into an updated running summary.
func (c *Client) Summarize(ctx context.Context, priorSummary string, newMessages []llm.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range newMessages {
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}

	prompt := fmt.Sprintf(summaryPrompt, priorSummary, transcript.String())
	chatResp, err := c.complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", err
	}
	return chatResp.Choices[0].Message.Content, nil
}

// complete sends a chat completion request and returns the parsed body with
// at least one choice, classifying HTTP failures into the core taxonomy.
func (c *Client) complete(ctx context.Context, messages []llm.Message) (*chatResponse, error) {
	reqBody := chatRequest{
		Model:    c.config.Model,
		Messages: messages,
	}

	if c.config.MaxTokens > 0 {
		reqBody.MaxTokens = c.config.MaxTokens
	}

	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.config.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w: %v", types.ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w: %v", types.ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response: %w", types.ErrUpstream)
	}

	return &chatResp, nil
}

// classifyStatus maps HTTP status codes onto the core error taxonomy.
// Rate limits and server errors are transient; other client errors mean the
// request itself was rejected and retrying won't help.
func classifyStatus(status int, body []byte) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("API error (status %d): %s: %w", status, string(body), types.ErrUpstream)
	}
	return fmt.Errorf("API error (status %d): %s: %w", status, string(body), types.ErrInvalidRequest)
}
