package verification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrBusy is returned when an attempt is already in flight on the Verifier
	ErrBusy = errors.New("verification already in progress")
	// ErrSuperseded is returned when a newer upload replaced the attempt
	ErrSuperseded = errors.New("verification superseded by a newer upload")
)

// DefaultExtractionTimeout bounds a single text extraction
const DefaultExtractionTimeout = 90 * time.Second

// Stage is the orchestrator's position in the pipeline
type Stage string

const (
	StageIdle              Stage = "IDLE"
	StageFingerprinting    Stage = "FINGERPRINTING"
	StageCheckingDuplicate Stage = "CHECKING_DUPLICATE"
	StageExtractingText    Stage = "EXTRACTING_TEXT"
	StageScoring           Stage = "SCORING"
	StageDone              Stage = "DONE"
)

// Overall progress checkpoints; extraction reports inside [extractStart, extractEnd].
const (
	progressFingerprint = 10
	progressRegistry    = 20
	extractStart        = 30
	extractEnd          = 90
	progressDone        = 100
)

// TextExtractor turns an image into text, reporting 0-100 progress on the
// given channel. Implementations must not send on progress after returning.
type TextExtractor interface {
	ExtractText(ctx context.Context, imageData []byte, contentType string, progress chan<- int) (string, error)
}

// File is an uploaded payment screenshot
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Update is a progress event published to subscribers
type Update struct {
	Stage    Stage `json:"stage"`
	Progress int   `json:"progress"`
}

// Outcome is the eventual value of an attempt started with Start
type Outcome struct {
	Result Result
	Err    error
}

// Config holds the Verifier's tunables
type Config struct {
	Fee               int
	ExtractionTimeout time.Duration
}

// Verifier runs one verification attempt at a time:
// fingerprint, duplicate check, text extraction, parsing and scoring.
type Verifier struct {
	registry  *RegistryClient
	extractor TextExtractor
	parser    *Parser
	scorer    *Scorer
	timeout   time.Duration

	busy atomic.Bool

	mu          sync.Mutex
	generation  uint64
	stage       Stage
	progress    int
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers map[int]chan Update
	nextSubID   int
}

// NewVerifier creates a Verifier. A nil registry disables the duplicate check.
func NewVerifier(registry HashRegistry, extractor TextExtractor, cfg Config) *Verifier {
	timeout := cfg.ExtractionTimeout
	if timeout == 0 {
		timeout = DefaultExtractionTimeout
	}
	return &Verifier{
		registry:    NewRegistryClient(registry),
		extractor:   extractor,
		parser:      NewParser(cfg.Fee),
		scorer:      NewScorer(cfg.Fee),
		timeout:     timeout,
		stage:       StageIdle,
		subscribers: make(map[int]chan Update),
	}
}

// Busy reports whether an attempt is in flight
func (v *Verifier) Busy() bool {
	return v.busy.Load()
}

// Progress returns the overall progress of the current attempt (0-100)
func (v *Verifier) Progress() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.progress
}

// Stage returns the pipeline stage of the current attempt
func (v *Verifier) Stage() Stage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stage
}

// Subscribe returns a stream of progress updates and a function that stops it.
// Slow subscribers miss updates rather than stalling the pipeline.
func (v *Verifier) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 32)

	v.mu.Lock()
	id := v.nextSubID
	v.nextSubID++
	v.subscribers[id] = ch
	v.mu.Unlock()

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if c, ok := v.subscribers[id]; ok {
			delete(v.subscribers, id)
			close(c)
		}
	}
}

// attempt is a claimed run of the pipeline
type attempt struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// claimLocked registers a new attempt. v.mu must be held and the Verifier idle.
func (v *Verifier) claimLocked(ctx context.Context) *attempt {
	ctx, cancel := context.WithCancel(ctx)
	a := &attempt{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	v.busy.Store(true)
	v.generation++
	a.gen = v.generation
	v.cancel, v.done = cancel, a.done
	v.stage, v.progress = StageIdle, 0
	return a
}

// claim registers a new attempt or fails with ErrBusy
func (v *Verifier) claim(ctx context.Context) (*attempt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.busy.Load() {
		return nil, ErrBusy
	}
	return v.claimLocked(ctx), nil
}

// claimReplacing supersedes whatever attempt holds the Verifier until it can
// register a new one.
func (v *Verifier) claimReplacing(ctx context.Context) (*attempt, error) {
	for {
		v.mu.Lock()
		if !v.busy.Load() {
			a := v.claimLocked(ctx)
			v.mu.Unlock()
			return a, nil
		}
		v.generation++
		cancel, done := v.cancel, v.done
		v.mu.Unlock()

		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// finish releases the Verifier held by a
func (v *Verifier) finish(a *attempt) {
	v.mu.Lock()
	v.cancel, v.done = nil, nil
	v.busy.Store(false)
	v.mu.Unlock()
	a.cancel()
	close(a.done)
}

// Start claims the Verifier and runs the attempt in the background. The attempt
// is registered before Start returns, so a following Supersede always reaches it.
// If the Verifier is busy the outcome is ErrBusy.
func (v *Verifier) Start(ctx context.Context, file File, teamName string) <-chan Outcome {
	out := make(chan Outcome, 1)
	a, err := v.claim(ctx)
	if err != nil {
		out <- Outcome{Err: err}
		return out
	}
	go v.deliver(a, file, teamName, out)
	return out
}

// StartReplace supersedes any in-flight attempt and claims the Verifier for
// file before returning. It fails only if ctx ends while the old attempt winds down.
func (v *Verifier) StartReplace(ctx context.Context, file File, teamName string) (<-chan Outcome, error) {
	a, err := v.claimReplacing(ctx)
	if err != nil {
		return nil, fmt.Errorf("superseding previous attempt: %w", err)
	}
	out := make(chan Outcome, 1)
	go v.deliver(a, file, teamName, out)
	return out, nil
}

func (v *Verifier) deliver(a *attempt, file File, teamName string, out chan<- Outcome) {
	result, err := v.execute(a, file, teamName)
	out <- Outcome{Result: result, Err: err}
}

// Supersede cancels the in-flight attempt, if any, and waits for it to wind down.
// The superseded attempt returns ErrSuperseded and its result is discarded.
func (v *Verifier) Supersede(ctx context.Context) error {
	v.mu.Lock()
	v.generation++
	cancel, done := v.cancel, v.done
	v.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Replace supersedes any in-flight attempt and verifies file in its place
func (v *Verifier) Replace(ctx context.Context, file File, teamName string) (Result, error) {
	out, err := v.StartReplace(ctx, file, teamName)
	if err != nil {
		return Result{}, err
	}
	o := <-out
	return o.Result, o.Err
}

// Verify runs the pipeline for file. Pipeline failures never surface as errors:
// they resolve to a REJECTED result. The only errors are ErrBusy and ErrSuperseded.
func (v *Verifier) Verify(ctx context.Context, file File, teamName string) (Result, error) {
	a, err := v.claim(ctx)
	if err != nil {
		return Result{}, err
	}
	return v.execute(a, file, teamName)
}

func (v *Verifier) execute(a *attempt, file File, teamName string) (Result, error) {
	defer v.finish(a)

	logger := slog.With("team_name", teamName, "filename", file.Name, "attempt", a.gen)
	result := v.run(a.ctx, a.gen, logger, file)

	if !v.current(a.gen) {
		logger.Info("Discarding superseded verification")
		return Result{}, ErrSuperseded
	}
	v.publish(a.gen, StageDone, progressDone)
	return result, nil
}

func (v *Verifier) run(ctx context.Context, gen uint64, logger *slog.Logger, file File) Result {
	v.publish(gen, StageFingerprinting, progressFingerprint)
	if file.Reader == nil {
		logger.Error("Failed to read payment screenshot", "error", "no file content")
		return rejected(recommendationError, "")
	}
	var buf bytes.Buffer
	imageHash, err := Fingerprint(io.TeeReader(file.Reader, &buf))
	if err != nil {
		logger.Error("Failed to read payment screenshot", "error", err)
		return rejected(recommendationError, "")
	}
	logger = logger.With("image_hash", imageHash)

	v.publish(gen, StageCheckingDuplicate, progressRegistry)
	if v.registry.IsDuplicate(ctx, imageHash) {
		logger.Warn("Payment screenshot already used by another team")
		return rejected(recommendationDuplicate, imageHash)
	}

	v.publish(gen, StageExtractingText, extractStart)
	text, err := v.extract(ctx, gen, buf.Bytes(), file.ContentType)
	if err != nil {
		logger.Error("Failed to extract text from payment screenshot",
			"content_type", file.ContentType,
			"file_size", buf.Len(),
			"error", err,
		)
		return rejected(recommendationError, "")
	}

	v.publish(gen, StageScoring, extractEnd)
	details := v.parser.Parse(text)
	score := v.scorer.Score(details)
	logger.Info("Payment screenshot scored",
		"status", score.Status,
		"confidence", score.Confidence,
		"transaction_ids", len(details.TransactionIDs),
	)
	return newResult(score.Status, score.Confidence, details, score.Recommendations, imageHash)
}

type extraction struct {
	text string
	err  error
}

// extract runs the extractor under the time ceiling and relays its progress
func (v *Verifier) extract(ctx context.Context, gen uint64, data []byte, contentType string) (string, error) {
	if v.extractor == nil {
		return "", errors.New("no text extractor configured")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	progress := make(chan int, 16)
	results := make(chan extraction, 1)
	go func() {
		text, err := v.extractor.ExtractText(ctx, data, contentType, progress)
		results <- extraction{text: text, err: err}
	}()

	for {
		select {
		case p := <-progress:
			v.publish(gen, StageExtractingText, extractionProgress(p))
		case r := <-results:
			if r.err != nil {
				return "", fmt.Errorf("extracting text: %w", r.err)
			}
			return r.text, nil
		case <-ctx.Done():
			return "", fmt.Errorf("extracting text: %w", ctx.Err())
		}
	}
}

// extractionProgress maps engine progress 0-100 into the extraction window
func extractionProgress(p int) int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return extractStart + p*(extractEnd-extractStart)/100
}

func (v *Verifier) current(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.generation == gen
}

// publish records stage and progress for the attempt gen and notifies subscribers.
// Progress never moves backwards within an attempt.
func (v *Verifier) publish(gen uint64, stage Stage, progress int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return
	}
	v.stage = stage
	if progress > v.progress {
		v.progress = progress
	}
	update := Update{Stage: v.stage, Progress: v.progress}
	for _, ch := range v.subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}
