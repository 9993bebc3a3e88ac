package prescription

import (
	"time"

	"github.com/zombor/rx-tracker/internal/scanning"
)

// Status is the verification state of a result
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Result is the outcome of processing one prescription image. Only Status
// changes after the result is committed.
type Result struct {
	ID                    string               `json:"id"`
	FileName              string               `json:"file_name"`
	ProcessedAt           time.Time            `json:"processed_at"`
	Status                Status               `json:"status"`
	OverallConfidence     float64              `json:"overall_confidence"` // 0-100
	ExtractedText         string               `json:"extracted_text"`
	Medicines             []scanning.Candidate `json:"medicines"`
	ProviderUsed          string               `json:"provider_used"`
	Strategy              string               `json:"strategy"`
	ProcessingTimeSeconds float64              `json:"processing_time_seconds"`
	Patient               scanning.Patient     `json:"patient"`
	Doctor                scanning.Doctor      `json:"doctor"`
	RawAnalysis           string               `json:"raw_analysis,omitempty"`
}

func (r *Result) clone() *Result {
	c := *r
	c.Medicines = append([]scanning.Candidate(nil), r.Medicines...)
	return &c
}

// Stats summarizes the ledger
type Stats struct {
	Total             int     `json:"total"`
	Pending           int     `json:"pending"`
	Verified          int     `json:"verified"`
	Rejected          int     `json:"rejected"`
	AverageConfidence float64 `json:"average_confidence"`
}
