package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Mode selects how prescription text is structured
type Mode string

const (
	ModeGemini   Mode = "gemini"
	ModeGroq     Mode = "groq"
	ModeMultiple Mode = "multiple"
	ModePattern  Mode = "pattern"
)

// MultipleLabel is the strategy label when both providers are consulted
const MultipleLabel = "Multiple AI"

// ParseMode parses a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeGemini, ModeGroq, ModeMultiple, ModePattern:
		return m, nil
	}
	return "", fmt.Errorf("unknown strategy %q: must be gemini, groq, multiple or pattern", s)
}

// NewAnalyzer builds the Analyzer for mode. primary backs ModeGemini and
// secondary backs ModeGroq; ModeMultiple consults both.
func NewAnalyzer(mode Mode, primary, secondary Provider, matcher *PatternMatcher) (Analyzer, error) {
	switch mode {
	case ModeGemini:
		return &singleStrategy{provider: primary, matcher: matcher}, nil
	case ModeGroq:
		return &singleStrategy{provider: secondary, matcher: matcher}, nil
	case ModeMultiple:
		return &multiStrategy{providers: []Provider{primary, secondary}, matcher: matcher}, nil
	case ModePattern:
		return matcher, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", mode)
}

// singleStrategy asks one provider and falls back to pattern matching
type singleStrategy struct {
	provider Provider
	matcher  *PatternMatcher
}

func (s *singleStrategy) Label() string {
	return s.provider.Name()
}

func (s *singleStrategy) Analyze(ctx context.Context, text string) *Analysis {
	name := s.provider.Name()
	if !s.provider.Configured() {
		slog.Warn("Provider not configured, using pattern matching", "provider", name)
		return s.matcher.Fallback(text, name+" API key not configured - using pattern matching")
	}

	analysis, err := s.provider.Extract(ctx, text)
	if err != nil {
		slog.Warn("Provider failed, using pattern matching", "provider", name, "reason", failureReason(err), "error", err)
		return s.matcher.Fallback(text, name+" analysis failed")
	}
	return analysis
}

// multiStrategy asks every provider at once and keeps the most confident answer
type multiStrategy struct {
	providers []Provider
	matcher   *PatternMatcher
}

func (m *multiStrategy) Label() string {
	return MultipleLabel
}

func (m *multiStrategy) Analyze(ctx context.Context, text string) *Analysis {
	results := make([]*Analysis, len(m.providers))

	var g errgroup.Group
	for i, p := range m.providers {
		if !p.Configured() {
			slog.Warn("Provider not configured, skipping", "provider", p.Name())
			continue
		}
		g.Go(func() error {
			analysis, err := p.Extract(ctx, text)
			if err != nil {
				slog.Warn("Provider failed", "provider", p.Name(), "reason", failureReason(err), "error", err)
				return nil
			}
			results[i] = analysis
			return nil
		})
	}
	_ = g.Wait()

	// ties go to the earlier provider
	var best *Analysis
	for _, r := range results {
		if r == nil || r.Confidence <= 0 {
			continue
		}
		if best == nil || r.Confidence > best.Confidence {
			best = r
		}
	}

	if best == nil {
		slog.Info("All AI services unavailable, using pattern matching")
		return m.matcher.Fallback(text, "All AI services failed")
	}
	return best
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnconfigured):
		return "unconfigured"
	case errors.Is(err, ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return "provider"
	}
}
