package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	// GeminiName is the provider name recorded on results
	GeminiName = "Google AI"

	defaultGeminiModel   = "gemini-2.5-flash"
	defaultProviderLimit = 30 * time.Second
)

// contentGenerator is the part of genai.GenerativeModel used here
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini provider
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Gemini implements Provider using Google Gemini
type Gemini struct {
	client  *genai.Client
	model   contentGenerator
	timeout time.Duration
}

// NewGemini creates a Gemini provider. A missing or placeholder key is not an
// error; the provider is returned unconfigured.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProviderLimit
	}
	if IsPlaceholderKey(cfg.APIKey) {
		return &Gemini{timeout: cfg.Timeout}, nil
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(0.1)

	return &Gemini{
		client:  client,
		model:   model,
		timeout: cfg.Timeout,
	}, nil
}

// Name implements Provider
func (g *Gemini) Name() string {
	return GeminiName
}

// Configured implements Provider
func (g *Gemini) Configured() bool {
	return g.model != nil
}

// Extract implements Provider
func (g *Gemini) Extract(ctx context.Context, text string) (*Analysis, error) {
	if !g.Configured() {
		return nil, fmt.Errorf("%w: %s api key missing", ErrProviderUnconfigured, GeminiName)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, genai.Text(geminiPrompt(text)))
	if err != nil {
		return nil, providerFailure(GeminiName, err)
	}
	slog.Debug("Gemini responded", "elapsed_ms", time.Since(start).Milliseconds())

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no response from gemini", ErrParse)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			responseText.WriteString(string(t))
		}
	}

	analysis, err := parseAnalysisJSON(responseText.String(), GeminiName)
	if err != nil {
		return nil, fmt.Errorf("parsing gemini response: %w", err)
	}
	return analysis, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
