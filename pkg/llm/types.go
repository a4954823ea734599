package llm

// Message represents a chat message in an assembled context package.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents a complete response from an LLM provider.
type Response struct {
	Text           string   `json:"text"`
	ModelUsed      string   `json:"model_used"`
	Citations      []string `json:"citations,omitempty"`
	TokenCount     int      `json:"token_count"`
	ResponseTimeMs int64    `json:"response_time_ms"`
}
