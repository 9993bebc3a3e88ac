package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/zombor/rx-tracker/internal/imaging"
	"github.com/zombor/rx-tracker/internal/prescription"
	"github.com/zombor/rx-tracker/internal/recognition"
	"github.com/zombor/rx-tracker/internal/scanning"
)

// line is one JSON output record per input file
type line struct {
	File       string               `json:"file"`
	Text       string               `json:"text,omitempty"`
	Confidence float64              `json:"confidence,omitempty"`
	Words      int                  `json:"words,omitempty"`
	Medicines  []scanning.Candidate `json:"medicines,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// input is one file named on the command line
type input struct {
	Path string
	Data []byte
}

type batcher interface {
	ProcessBatch(ctx context.Context, images []imaging.Source, onProgress func(index int, progress float64)) ([]recognition.BatchItem, error)
}

// runBatch writes one line per input in input order. Inputs that are not
// images are rejected before recognition.
func runBatch(ctx context.Context, b batcher, matcher *scanning.PatternMatcher, inputs []input, w io.Writer) error {
	lines := make([]line, len(inputs))
	images := make([]imaging.Source, 0, len(inputs))
	slots := make([]int, 0, len(inputs))

	for i, in := range inputs {
		lines[i].File = in.Path
		mediaType := imaging.MediaTypeFor(in.Path)
		if !imaging.IsImageMediaType(mediaType) {
			err := fmt.Errorf("%w: %q is not an image type", prescription.ErrInvalidInput, mediaType)
			slog.Warn("Skipping file", "path", in.Path, "error", err)
			lines[i].Error = err.Error()
			continue
		}
		slots = append(slots, i)
		images = append(images, imaging.Source{
			Name:      filepath.Base(in.Path),
			MediaType: mediaType,
			Data:      in.Data,
		})
	}

	var batchErr error
	if len(images) == 0 {
		batchErr = errors.New("no image files given")
	} else {
		var items []recognition.BatchItem
		items, batchErr = b.ProcessBatch(ctx, images, func(index int, progress float64) {
			slog.Debug("OCR progress", "file", images[index].Name, "progress", progress)
		})
		for j, item := range items {
			out := &lines[slots[j]]
			if item.Err != nil {
				out.Error = item.Err.Error()
				continue
			}
			out.Text = item.Result.Text
			out.Confidence = item.Result.Confidence
			out.Words = len(item.Result.Words)
			out.Medicines = matcher.Match(item.Result.Text)
		}
	}

	enc := json.NewEncoder(w)
	for _, out := range lines {
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
	}
	return batchErr
}
