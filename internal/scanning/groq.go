package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// GroqName is the provider name recorded on results
	GroqName = "Groq"

	defaultGroqURL   = "https://api.groq.com/openai/v1"
	defaultGroqModel = "llama-3.3-70b-versatile"
)

// GroqConfig configures the Groq provider
type GroqConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Groq implements Provider using Groq's OpenAI compatible chat API
type Groq struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewGroq creates a Groq provider. A missing or placeholder key leaves it unconfigured.
func NewGroq(cfg GroqConfig) *Groq {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGroqURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGroqModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProviderLimit
	}

	key := cfg.APIKey
	if IsPlaceholderKey(key) {
		key = ""
	}

	return &Groq{
		apiKey:  key,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Name implements Provider
func (g *Groq) Name() string {
	return GroqName
}

// Configured implements Provider
func (g *Groq) Configured() bool {
	return g.apiKey != ""
}

// Extract implements Provider
func (g *Groq) Extract(ctx context.Context, text string) (*Analysis, error) {
	if !g.Configured() {
		return nil, fmt.Errorf("%w: %s api key missing", ErrProviderUnconfigured, GroqName)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reqID := uuid.New().String()
	start := time.Now()

	reqBody := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: groqSystemPrompt},
			{Role: "user", Content: groqUserPrompt(text)},
		},
		Temperature: 0.1,
		MaxTokens:   1000,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := g.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	slog.Debug("Calling Groq", "req_id", reqID, "model", g.model, "text_len", len(text))

	resp, err := g.client.Do(req)
	if err != nil {
		slog.Warn("Groq request failed", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, providerFailure(GroqName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: groq API error (status %d): %s", ErrProvider, resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrParse, err)
	}
	slog.Debug("Groq responded", "req_id", reqID, "elapsed_ms", time.Since(start).Milliseconds())

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in groq response", ErrParse)
	}

	analysis, err := parseAnalysisJSON(chatResp.Choices[0].Message.Content, GroqName)
	if err != nil {
		return nil, fmt.Errorf("parsing groq response: %w", err)
	}
	return analysis, nil
}
