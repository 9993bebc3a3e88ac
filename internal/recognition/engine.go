package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/zombor/rx-tracker/internal/imaging"
)

const defaultAttempts = 2

// Engine owns a single OCR worker. The worker is created on first use and
// every recognition call holds it exclusively, so concurrent callers queue.
type Engine struct {
	factory  RecognizerFactory
	attempts int

	// sem is a one-slot queue guarding worker
	sem    chan struct{}
	worker Recognizer
}

// Option configures an Engine
type Option func(*Engine)

// WithAttempts sets how many times a batch item is recognized before giving up
func WithAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// NewEngine creates an Engine that builds its worker with factory
func NewEngine(factory RecognizerFactory, opts ...Option) *Engine {
	e := &Engine{
		factory:  factory,
		attempts: defaultAttempts,
		sem:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	<-e.sem
}

// RecognizeImage runs recognition on an already normalized image
func (e *Engine) RecognizeImage(ctx context.Context, img image.Image, onProgress ProgressFunc) (*Result, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecognition, err)
	}

	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	if e.worker == nil {
		slog.Info("Initializing OCR worker")
		w, err := e.factory()
		if err != nil {
			return nil, fmt.Errorf("%w: initializing worker: %v", ErrRecognition, err)
		}
		e.worker = w
	}

	res, err := e.worker.Recognize(ctx, data, monotonic(onProgress))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	if res.Words == nil {
		res.Words = []Word{}
	}
	return res, nil
}

// ProcessImage decodes, normalizes and recognizes an uploaded image
func (e *Engine) ProcessImage(ctx context.Context, src imaging.Source, onProgress ProgressFunc) (*Result, error) {
	img, err := imaging.Prepare(src)
	if err != nil {
		return nil, err
	}
	return e.RecognizeImage(ctx, img, onProgress)
}

// BatchItem is the outcome for one image of a batch
type BatchItem struct {
	Result *Result
	Err    error
}

// ProcessBatch recognizes images one at a time, keeping input order. Items that
// fail recognition are retried; decode failures are not. An error is returned
// only when no item succeeded.
func (e *Engine) ProcessBatch(ctx context.Context, images []imaging.Source, onProgress func(index int, progress float64)) ([]BatchItem, error) {
	items := make([]BatchItem, len(images))
	succeeded := 0

	for i, src := range images {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(images); j++ {
				items[j].Err = err
			}
			break
		}

		var itemProgress ProgressFunc
		if onProgress != nil {
			index := i
			itemProgress = func(p float64) { onProgress(index, p) }
		}

		items[i] = e.processWithRetry(ctx, src, itemProgress)
		if items[i].Err == nil {
			succeeded++
		} else {
			slog.Warn("Batch item failed", "index", i, "name", src.Name, "error", items[i].Err)
		}
	}

	if len(images) > 0 && succeeded == 0 {
		return items, fmt.Errorf("all %d images failed", len(images))
	}
	return items, nil
}

func (e *Engine) processWithRetry(ctx context.Context, src imaging.Source, onProgress ProgressFunc) BatchItem {
	img, err := imaging.Prepare(src)
	if err != nil {
		return BatchItem{Err: err}
	}

	// progress stays monotonic across attempts
	progress := monotonic(onProgress)

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		res, err := e.RecognizeImage(ctx, img, progress)
		if err == nil {
			return BatchItem{Result: res}
		}
		lastErr = err
		if !errors.Is(err, ErrRecognition) {
			break
		}
		slog.Debug("Retrying recognition", "name", src.Name, "attempt", attempt, "error", err)
	}
	return BatchItem{Err: lastErr}
}

// Close releases the worker. It is safe to call more than once; a later
// recognition call creates a fresh worker.
func (e *Engine) Close() error {
	e.sem <- struct{}{}
	defer e.release()

	if e.worker == nil {
		return nil
	}
	err := e.worker.Close()
	e.worker = nil
	if err != nil {
		return fmt.Errorf("closing OCR worker: %w", err)
	}
	return nil
}

// monotonic clamps progress to [0,1] and drops values lower than the last one reported
func monotonic(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(float64) {}
	}
	last := -1.0
	return func(p float64) {
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		if p < last {
			return
		}
		last = p
		fn(p)
	}
}
