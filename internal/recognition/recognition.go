package recognition

import (
	"context"
	"errors"
)

// ErrRecognition is returned when the underlying OCR worker fails
var ErrRecognition = errors.New("text recognition failed")

// CharacterWhitelist restricts recognition to the characters found on prescriptions
const CharacterWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789.,:-/() "

// Box is a word bounding box in image pixel coordinates
type Box struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// Word is a single recognized word
type Word struct {
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"` // 0-100
	BoundingBox Box     `json:"bbox"`
}

// Result is the raw output of one recognition pass
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0-100
	Words      []Word  `json:"words"`
}

// ProgressFunc receives recognition progress in [0,1]
type ProgressFunc func(progress float64)

// Recognizer is an OCR worker. Implementations are not required to be safe
// for concurrent use; the Engine serializes access.
type Recognizer interface {
	// Recognize extracts text from PNG encoded image data
	Recognize(ctx context.Context, pngData []byte, onProgress ProgressFunc) (*Result, error)
	// Close releases the worker
	Close() error
}

// RecognizerFactory creates a new worker
type RecognizerFactory func() (Recognizer, error)

// MeanConfidence averages word confidences, ignoring words without a score
func MeanConfidence(words []Word) float64 {
	var sum float64
	var n int
	for _, w := range words {
		if w.Confidence < 0 {
			continue
		}
		sum += w.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
