package prescription

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/rx-tracker/internal/catalog"
	"github.com/zombor/rx-tracker/internal/imaging"
	"github.com/zombor/rx-tracker/internal/recognition"
	"github.com/zombor/rx-tracker/internal/scanning"
)

const (
	progressPreprocessing = 10
	progressOCRSpan       = 30
	progressExtracted     = 40
	progressStructured    = 80
	progressDone          = 100

	exactBonus     = 10
	secondaryBonus = 5
	maxConfidence  = 99

	// confidenceFloor is the lowest overall confidence a result carries
	confidenceFloor = 75

	// minTokenLength is the shortest word tried by the secondary enrichment pass
	minTokenLength = 4

	defaultJobRetention = 15 * time.Minute
)

// IDGenerator generates unique IDs for results
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.New().String()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// TextExtractor recognizes text in a normalized image
type TextExtractor interface {
	RecognizeImage(ctx context.Context, img image.Image, onProgress recognition.ProgressFunc) (*recognition.Result, error)
}

// KnowledgeBase is the medicine catalog
type KnowledgeBase interface {
	FindExact(name string) (catalog.Medicine, bool)
	FindPartial(name string) []catalog.Medicine
	ByCategory(category string) []catalog.Medicine
	Categories() []string
	All() []catalog.Medicine
}

// Service runs prescription images through recognition, structuring and
// enrichment, and commits the results to the ledger
type Service struct {
	ledger      *Ledger
	extractor   TextExtractor
	analyzer    scanning.Analyzer
	catalog     KnowledgeBase
	idGenerator IDGenerator
	timeSource  TimeSource

	mu           sync.Mutex
	jobs         map[string]*Job
	jobRetention time.Duration
}

// NewService creates a new Service with a UUID generator and the wall clock
func NewService(ledger *Ledger, extractor TextExtractor, analyzer scanning.Analyzer, kb KnowledgeBase) *Service {
	return NewServiceWithDeps(ledger, extractor, analyzer, kb, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(ledger *Ledger, extractor TextExtractor, analyzer scanning.Analyzer, kb KnowledgeBase, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		ledger:       ledger,
		extractor:    extractor,
		analyzer:     analyzer,
		catalog:      kb,
		idGenerator:  idGen,
		timeSource:   timeSrc,
		jobs:         make(map[string]*Job),
		jobRetention: defaultJobRetention,
	}
}

func validateSource(src imaging.Source) error {
	if !imaging.IsImageMediaType(src.MediaType) {
		return fmt.Errorf("%w: %q is not an image type", ErrInvalidInput, src.MediaType)
	}
	if len(src.Data) == 0 {
		return fmt.Errorf("%w: empty upload", ErrInvalidInput)
	}
	return nil
}

// Submit starts processing src in the background. Non-image uploads are
// rejected before a job is created.
func (s *Service) Submit(src imaging.Source) (*Job, error) {
	if err := validateSource(src); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := newJob(s.idGenerator.Generate(), src.Name, cancel)

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	go func() {
		result, err := s.run(ctx, job, src)
		job.finish(result, err)
		time.AfterFunc(s.jobRetention, func() { s.ForgetJob(job.ID) })
	}()

	return job, nil
}

// Process runs src through the pipeline and waits for the result
func (s *Service) Process(ctx context.Context, src imaging.Source) (*Result, error) {
	if err := validateSource(src); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	job := newJob(s.idGenerator.Generate(), src.Name, cancel)
	result, err := s.run(ctx, job, src)
	job.finish(result, err)
	return result, err
}

// Job returns a submitted job
func (s *Service) Job(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

// ForgetJob discards a job
func (s *Service) ForgetJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *Service) fail(job *Job, retryable bool, err error) error {
	stage := job.currentStage()
	slog.Error("Prescription job failed", "job_id", job.ID, "stage", stage, "error", err)
	return &JobError{Stage: stage, Retryable: retryable, Err: err}
}

func (s *Service) run(ctx context.Context, job *Job, src imaging.Source) (*Result, error) {
	start := s.timeSource.Now()

	job.setStage(StagePreprocessing)
	job.report(progressPreprocessing)

	img, err := imaging.Prepare(src)
	if err != nil {
		return nil, s.fail(job, true, err)
	}

	job.setStage(StageExtractingText)
	ocr, err := s.extractor.RecognizeImage(ctx, img, func(p float64) {
		job.report(progressPreprocessing + int(p*progressOCRSpan))
	})
	if err != nil {
		// an abandoned job is not worth retrying
		return nil, s.fail(job, ctx.Err() == nil, err)
	}
	job.report(progressExtracted)

	if err := ctx.Err(); err != nil {
		return nil, s.fail(job, false, err)
	}

	job.setStage(StageStructuring)
	analysis := s.structure(ctx, job, ocr.Text)
	job.report(progressStructured)

	job.setStage(StageEnriching)
	medicines := s.enrich(analysis.Medicines)

	if err := ctx.Err(); err != nil {
		return nil, s.fail(job, false, err)
	}

	now := s.timeSource.Now()
	result := &Result{
		ID:                    job.ID,
		FileName:              src.Name,
		ProcessedAt:           now,
		Status:                StatusPending,
		OverallConfidence:     math.Max(ocr.Confidence, confidenceFloor),
		ExtractedText:         ocr.Text,
		Medicines:             medicines,
		ProviderUsed:          analysis.Provider,
		Strategy:              s.analyzer.Label(),
		ProcessingTimeSeconds: now.Sub(start).Seconds(),
		Patient:               analysis.Patient,
		Doctor:                analysis.Doctor,
		RawAnalysis:           analysis.RawAnalysis,
	}

	if err := s.ledger.Commit(result); err != nil {
		return nil, s.fail(job, false, fmt.Errorf("committing result: %w", err))
	}
	job.report(progressDone)

	slog.Info("Prescription processed",
		"job_id", job.ID,
		"file_name", src.Name,
		"medicines", len(medicines),
		"provider", analysis.Provider,
		"confidence", result.OverallConfidence,
	)

	return result, nil
}

// structure never fails; a panicking analyzer yields no medicines
func (s *Service) structure(ctx context.Context, job *Job, text string) (analysis *scanning.Analysis) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Structuring panicked, continuing without medicines", "job_id", job.ID, "panic", r)
			analysis = &scanning.Analysis{Medicines: []scanning.Candidate{}}
		}
	}()

	analysis = s.analyzer.Analyze(ctx, text)
	if analysis == nil {
		analysis = &scanning.Analysis{Medicines: []scanning.Candidate{}}
	}
	return analysis
}

// boost raises confidence by bonus up to the cap and never lowers it
func boost(confidence, bonus float64) float64 {
	return math.Max(confidence, math.Min(confidence+bonus, maxConfidence))
}

// enrich resolves candidates against the catalog. Matched candidates take the
// canonical name and gain confidence; the list is deduplicated afterwards.
func (s *Service) enrich(candidates []scanning.Candidate) []scanning.Candidate {
	out := make([]scanning.Candidate, 0, len(candidates))

	for _, c := range candidates {
		if rec, ok := s.catalog.FindExact(c.Name); ok {
			c.MedicineID = rec.ID
			c.Confidence = boost(c.Confidence, exactBonus)
		} else if matches := s.catalog.FindPartial(c.Name); len(matches) > 0 {
			c.Name = matches[0].Name
			c.MedicineID = matches[0].ID
			c.Confidence = boost(c.Confidence, exactBonus)
		}
		out = append(out, c)
	}

	// secondary pass: an unknown multi-word name may contain a whole catalog name
	for i := range out {
		if out[i].MedicineID != "" {
			continue
		}
		if rec, ok := s.resolveWords(out[i].Name); ok {
			out[i].Name = rec.Name
			out[i].MedicineID = rec.ID
			out[i].Confidence = boost(out[i].Confidence, secondaryBonus)
		}
	}

	return scanning.Dedupe(out)
}

func (s *Service) resolveWords(name string) (catalog.Medicine, bool) {
	words := strings.Fields(name)
	if len(words) < 2 {
		return catalog.Medicine{}, false
	}
	for _, w := range words {
		if len(w) < minTokenLength {
			continue
		}
		// whole catalog keys only, never substrings of a word
		if rec, ok := s.catalog.FindExact(w); ok {
			return rec, true
		}
	}
	return catalog.Medicine{}, false
}

// ListResults returns the processing history, newest first
func (s *Service) ListResults() ([]*Result, error) {
	return s.ledger.List()
}

// GetResult retrieves a result by ID
func (s *Service) GetResult(id string) (*Result, error) {
	return s.ledger.Get(id)
}

// VerifyResult marks a pending result as verified
func (s *Service) VerifyResult(id string) (*Result, error) {
	return s.ledger.Verify(id)
}

// RejectResult marks a pending result as rejected
func (s *Service) RejectResult(id string) (*Result, error) {
	return s.ledger.Reject(id)
}

// DeleteResult removes a result
func (s *Service) DeleteResult(id string) error {
	return s.ledger.Delete(id)
}

// Stats summarizes the processing history
func (s *Service) Stats() (Stats, error) {
	return s.ledger.Stats()
}

// LookupMedicine finds a medicine by exact name, generic name or alias
func (s *Service) LookupMedicine(name string) (catalog.Medicine, bool) {
	return s.catalog.FindExact(name)
}

// SearchMedicines filters the catalog by partial name and category. Empty
// filters match everything.
func (s *Service) SearchMedicines(query, category string) []catalog.Medicine {
	var medicines []catalog.Medicine
	if strings.TrimSpace(query) == "" {
		medicines = s.catalog.All()
	} else {
		medicines = s.catalog.FindPartial(query)
	}

	if strings.TrimSpace(category) == "" {
		return medicines
	}
	inCategory := make(map[string]bool)
	for _, m := range s.catalog.ByCategory(category) {
		inCategory[m.ID] = true
	}
	filtered := make([]catalog.Medicine, 0, len(medicines))
	for _, m := range medicines {
		if inCategory[m.ID] {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

// Categories lists the catalog categories
func (s *Service) Categories() []string {
	return s.catalog.Categories()
}

// IsRetryable reports whether err asks the caller to retry with a clearer image
func IsRetryable(err error) bool {
	var jobErr *JobError
	return errors.As(err, &jobErr) && jobErr.Retryable
}
