package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/rx-tracker/internal/recognition"
)

// Config holds Tesseract configuration
type Config struct {
	Language    string // default "eng"
	TessdataDir string // optional tessdata prefix
}

// Recognizer implements recognition.Recognizer with an in-process Tesseract client
type Recognizer struct {
	client *gosseract.Client
}

// New creates a Tesseract worker configured for prescriptions: restricted
// character set, a single uniform block of text and preserved word spacing.
func New(cfg Config) (*Recognizer, error) {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}

	client := gosseract.NewClient()
	if cfg.TessdataDir != "" {
		if err := client.SetTessdataPrefix(cfg.TessdataDir); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting tessdata dir: %w", err)
		}
	}
	if err := client.SetLanguage(cfg.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting language %q: %w", cfg.Language, err)
	}
	if err := client.SetWhitelist(recognition.CharacterWhitelist); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting whitelist: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := client.SetVariable(gosseract.SettableVariable("preserve_interword_spaces"), "1"); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting preserve_interword_spaces: %w", err)
	}

	return &Recognizer{client: client}, nil
}

// Factory returns a recognition.RecognizerFactory for cfg
func Factory(cfg Config) recognition.RecognizerFactory {
	return func() (recognition.Recognizer, error) {
		return New(cfg)
	}
}

// Recognize performs OCR on PNG data. Tesseract does not report intermediate
// progress through this binding, so only the start and end are signalled.
func (r *Recognizer) Recognize(ctx context.Context, pngData []byte, onProgress recognition.ProgressFunc) (*recognition.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	onProgress(0)

	if err := r.client.SetImageFromBytes(pngData); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := r.client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("reading word boxes: %w", err)
	}

	words := make([]recognition.Word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, recognition.Word{
			Text:       b.Word,
			Confidence: b.Confidence,
			BoundingBox: recognition.Box{
				X0: b.Box.Min.X,
				Y0: b.Box.Min.Y,
				X1: b.Box.Max.X,
				Y1: b.Box.Max.Y,
			},
		})
	}

	onProgress(1)

	return &recognition.Result{
		Text:       text,
		Confidence: recognition.MeanConfidence(words),
		Words:      words,
	}, nil
}

// Close releases the Tesseract client
func (r *Recognizer) Close() error {
	return r.client.Close()
}
