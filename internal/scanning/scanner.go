package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderUnconfigured is returned when a provider has no credential
	ErrProviderUnconfigured = errors.New("provider not configured")
	// ErrProviderTimeout is returned when a provider call exceeds its deadline
	ErrProviderTimeout = errors.New("provider timed out")
	// ErrProvider is returned for network and vendor failures
	ErrProvider = errors.New("provider request failed")
	// ErrParse is returned when a provider answer is not in the expected shape
	ErrParse = errors.New("unexpected provider response")
)

// Candidate is a structured medicine mention extracted from prescription text
type Candidate struct {
	Name           string  `json:"name"`
	Dosage         string  `json:"dosage,omitempty"`
	Frequency      string  `json:"frequency,omitempty"`
	Duration       string  `json:"duration,omitempty"`
	Confidence     float64 `json:"confidence"` // 0-100
	SourceProvider string  `json:"source_provider"`
	// MedicineID is the catalog record the candidate resolved to, if any
	MedicineID string `json:"medicine_id,omitempty"`
}

// Patient is best-effort patient metadata read from the prescription
type Patient struct {
	Name string `json:"name,omitempty"`
	Age  string `json:"age,omitempty"`
	Date string `json:"date,omitempty"`
}

// Doctor is best-effort prescriber metadata read from the prescription
type Doctor struct {
	Name      string `json:"name,omitempty"`
	Signature bool   `json:"signature,omitempty"`
}

// Analysis is the structured reading of one prescription text
type Analysis struct {
	Medicines   []Candidate `json:"medicines"`
	Patient     Patient     `json:"patient"`
	Doctor      Doctor      `json:"doctor"`
	Confidence  float64     `json:"confidence"` // 0-1
	RawAnalysis string      `json:"raw_analysis"`
	// Provider is the name of the provider whose output this is
	Provider string `json:"provider"`
}

// Provider is an external AI capability that structures prescription text
type Provider interface {
	// Name is the display name recorded on results
	Name() string
	// Configured reports whether the provider has a usable credential
	Configured() bool
	// Extract sends text to the provider. It fails with ErrProviderUnconfigured,
	// ErrProviderTimeout, ErrProvider or ErrParse.
	Extract(ctx context.Context, text string) (*Analysis, error)
}

// Analyzer turns prescription text into medicine candidates. It never fails;
// on any provider problem it degrades to pattern matching.
type Analyzer interface {
	Analyze(ctx context.Context, text string) *Analysis
	// Label names the strategy, e.g. "Multiple AI"
	Label() string
}

// IsPlaceholderKey reports whether key is empty or a template value such as
// "your_groq_api_key_here"
func IsPlaceholderKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}
	lower := strings.ToLower(key)
	return strings.HasPrefix(lower, "your_") && strings.HasSuffix(lower, "_here")
}

func providerFailure(name string, err error) error {
	var timeout interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
		return fmt.Errorf("%w: %s: %v", ErrProviderTimeout, name, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrProvider, name, err)
}
