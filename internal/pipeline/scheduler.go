// Package pipeline runs the two-stage page transform for document jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Lllllllleong/documenttranslator/internal/artifacts"
	"github.com/Lllllllleong/documenttranslator/internal/compiler"
	"github.com/Lllllllleong/documenttranslator/internal/jobstore"
	"github.com/Lllllllleong/documenttranslator/internal/ledger"
	"github.com/Lllllllleong/documenttranslator/internal/models"
	"github.com/Lllllllleong/documenttranslator/internal/progress"
	"github.com/Lllllllleong/documenttranslator/internal/transform"
)

// ErrUnknownJob is returned for job IDs this scheduler has never accepted.
var ErrUnknownJob = errors.New("unknown job")

// Page error kinds recorded on failed pages.
const (
	ErrorKindTransientExhausted = "transient_exhausted"
	ErrorKindPermanent          = "permanent"
	ErrorKindCancelled          = "cancelled"
)

const (
	defaultWorkerPoolSize = 8
	defaultGlobalPoolSize = 32
	defaultCallTimeout    = 120 * time.Second

	// runningCap holds progress below 100 until the output has been compiled
	// and stored, so 100 always means the output is readable.
	runningCap = 99
)

// Config sizes the scheduler.
type Config struct {
	// WorkerPoolSize bounds the pages of one job in flight at once.
	WorkerPoolSize int
	// GlobalPoolSize bounds external calls in flight across all jobs.
	GlobalPoolSize int
	CallTimeout    time.Duration
	Retry          RetryPolicy
	Policy         compiler.Policy
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize: defaultWorkerPoolSize,
		GlobalPoolSize: defaultGlobalPoolSize,
		CallTimeout:    defaultCallTimeout,
		Retry:          DefaultRetryPolicy(),
		Policy:         compiler.PolicyFail,
	}
}

// PageError is the terminal failure of one page. Page is the zero-based index.
type PageError struct {
	Page     int
	Kind     string
	Attempts int
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d failed (%s after %d attempts): %v", e.Page+1, e.Kind, e.Attempts, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithArtifacts stores per-page intermediates and the compiled output.
func WithArtifacts(store artifacts.Store) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithRepository keeps job records in sync with job state.
func WithRepository(repo jobstore.Repository) Option {
	return func(s *Scheduler) { s.repo = repo }
}

// WithNotifier announces terminal jobs.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithSleeper overrides how retry backoff waits (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// Scheduler drives jobs through transcription, translation and compilation.
type Scheduler struct {
	cfg       Config
	transform transform.Service
	book      *ledger.Book
	tracker   *progress.Tracker
	store     artifacts.Store
	repo      jobstore.Repository
	notifier  Notifier
	sleep     func(context.Context, time.Duration) error
	global    *semaphore.Weighted

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	job  *models.Job
	done chan struct{}

	mu     sync.Mutex
	result models.JobResult
}

// NewScheduler wires a scheduler. Zero values in cfg fall back to defaults.
func NewScheduler(cfg Config, svc transform.Service, book *ledger.Book, tracker *progress.Tracker, opts ...Option) (*Scheduler, error) {
	if svc == nil || book == nil || tracker == nil {
		return nil, errors.New("scheduler requires a transform service, ledger book and progress tracker")
	}
	defaults := DefaultConfig()
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = defaults.WorkerPoolSize
	}
	if cfg.GlobalPoolSize <= 0 {
		cfg.GlobalPoolSize = defaults.GlobalPoolSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = defaults.Retry
	}
	if cfg.Policy == "" {
		cfg.Policy = defaults.Policy
	}

	s := &Scheduler{
		cfg:       cfg,
		transform: svc,
		book:      book,
		tracker:   tracker,
		sleep:     sleepContext,
		global:    semaphore.NewWeighted(int64(cfg.GlobalPoolSize)),
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit accepts a job whose pages are all not started and processes it in
// the background. The job must not be touched by the caller afterwards.
func (s *Scheduler) Submit(ctx context.Context, job *models.Job) (string, error) {
	if job == nil {
		return "", errors.New("nil job")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	seen := make(map[int]bool, len(job.Pages))
	for _, p := range job.Pages {
		if p == nil {
			return "", fmt.Errorf("job %s has a nil page", job.ID)
		}
		if p.StageState == "" {
			p.StageState = models.StageNotStarted
		}
		if p.StageState != models.StageNotStarted {
			return "", fmt.Errorf("job %s page %d is %s, expected %s", job.ID, p.Number(), p.StageState, models.StageNotStarted)
		}
		if seen[p.Index] {
			return "", fmt.Errorf("job %s has duplicate page index %d", job.ID, p.Index)
		}
		seen[p.Index] = true
	}
	sort.Slice(job.Pages, func(i, j int) bool { return job.Pages[i].Index < job.Pages[j].Index })

	s.mu.Lock()
	if _, exists := s.runs[job.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("job %s already submitted", job.ID)
	}
	// The job is fully initialised before it becomes visible to Status.
	job.Status = models.JobStatusRunning
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	r := &run{job: job, done: make(chan struct{})}
	s.runs[job.ID] = r
	s.mu.Unlock()

	s.book.Open(job.ID, job.Filename, len(job.Pages))
	s.tracker.Start(job.ID)
	s.updateRecord(ctx, job.ID, jobstore.Update{Status: models.JobStatusRunning})

	slog.Info("Job submitted.", "jobId", job.ID, "filename", job.Filename, "pageCount", len(job.Pages))
	go s.execute(context.WithoutCancel(ctx), r)
	return job.ID, nil
}

// Await blocks until the job is terminal or ctx is done.
func (s *Scheduler) Await(ctx context.Context, jobID string) (models.JobResult, error) {
	r, ok := s.lookup(jobID)
	if !ok {
		return models.JobResult{}, fmt.Errorf("await %s: %w", jobID, ErrUnknownJob)
	}
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.result, nil
	case <-ctx.Done():
		return models.JobResult{}, ctx.Err()
	}
}

// Status returns the in-memory status of a job.
func (s *Scheduler) Status(jobID string) (models.JobStatus, bool) {
	r, ok := s.lookup(jobID)
	if !ok {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Status, true
}

// Forget drops a terminal job from memory. Running jobs are kept.
func (s *Scheduler) Forget(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[jobID]
	if !ok {
		return false
	}
	select {
	case <-r.done:
		delete(s.runs, jobID)
		return true
	default:
		return false
	}
}

func (s *Scheduler) lookup(jobID string) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[jobID]
	return r, ok
}

func (s *Scheduler) execute(ctx context.Context, r *run) {
	logCtx := slog.With("jobId", r.job.ID)
	logCtx.Info("Starting page processing.", "pageCount", len(r.job.Pages), "workers", s.cfg.WorkerPoolSize)

	// Pages are isolated: a failed page never cancels its siblings.
	var eg errgroup.Group
	eg.SetLimit(s.cfg.WorkerPoolSize)
	for _, page := range r.job.Pages {
		eg.Go(func() error {
			s.processPage(ctx, r, page)
			s.reportProgress(r)
			return nil
		})
	}
	_ = eg.Wait()

	s.finish(ctx, r)
}

func (s *Scheduler) processPage(ctx context.Context, r *run, page *models.Page) {
	logCtx := slog.With("jobId", r.job.ID, "page", page.Number())

	s.advance(r, page, models.StageTranscribing)
	transcription := ""
	if page.Blank {
		logCtx.Info("Page has no content, skipping transcription.")
	} else {
		resp, err := s.call(ctx, r, page, transform.Request{
			Operation: models.OperationTranscribe,
			PageIndex: page.Index,
			Unit:      page.Unit,
			MIMEType:  page.MIMEType,
		})
		if err != nil {
			s.failPage(logCtx, r, page, err)
			return
		}
		transcription = resp.Text
	}
	r.mu.Lock()
	page.Transcription = &transcription
	r.mu.Unlock()
	s.advance(r, page, models.StageTranscribed)
	s.savePage(ctx, logCtx, r.job.ID, artifacts.StageTranscription, page, transcription)

	s.advance(r, page, models.StageTranslating)
	translation := ""
	if strings.TrimSpace(transcription) == "" {
		logCtx.Info("Blank page, skipping translation.")
	} else {
		resp, err := s.call(ctx, r, page, transform.Request{
			Operation: models.OperationTranslate,
			PageIndex: page.Index,
			Text:      transcription,
		})
		if err != nil {
			s.failPage(logCtx, r, page, err)
			return
		}
		translation = resp.Text
	}
	r.mu.Lock()
	page.Translation = &translation
	r.mu.Unlock()
	s.advance(r, page, models.StageTranslated)
	s.savePage(ctx, logCtx, r.job.ID, artifacts.StageTranslation, page, translation)
	logCtx.Info("Page translated.")
}

// call invokes the transform service under the global bound, with a per-call
// timeout and bounded retries for transient failures. Every attempt that got a
// response is metered, including responses rejected after the fact.
func (s *Scheduler) call(ctx context.Context, r *run, page *models.Page, req transform.Request) (transform.Response, error) {
	logCtx := slog.With("jobId", r.job.ID, "page", page.Number(), "operation", req.Operation)
	maxAttempts := s.cfg.Retry.attempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.global.Acquire(ctx, 1); err != nil {
			return transform.Response{}, &PageError{Page: page.Index, Kind: ErrorKindCancelled, Attempts: attempt - 1, Err: err}
		}
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		start := time.Now()
		resp, err := s.transform.Invoke(callCtx, req)
		elapsed := time.Since(start)
		cancel()
		s.global.Release(1)

		if err == nil {
			s.meter(ctx, logCtx, r.job.ID, page, req.Operation, resp.Usage, elapsed)
			return resp, nil
		}
		lastErr = err
		if usage, ok := transform.UsageOf(err); ok {
			s.meter(ctx, logCtx, r.job.ID, page, req.Operation, usage, elapsed)
		}

		if ctx.Err() != nil {
			return transform.Response{}, &PageError{Page: page.Index, Kind: ErrorKindCancelled, Attempts: attempt, Err: err}
		}
		if !transform.IsTransient(err) {
			return transform.Response{}, &PageError{Page: page.Index, Kind: ErrorKindPermanent, Attempts: attempt, Err: err}
		}
		if attempt == maxAttempts {
			break
		}

		delay := s.cfg.Retry.backoff(attempt)
		logCtx.Warn("Transform call failed, will retry.",
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", delay.String(),
			"error", err,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return transform.Response{}, &PageError{Page: page.Index, Kind: ErrorKindCancelled, Attempts: attempt, Err: err}
		}
	}
	return transform.Response{}, &PageError{Page: page.Index, Kind: ErrorKindTransientExhausted, Attempts: maxAttempts, Err: lastErr}
}

func (s *Scheduler) meter(ctx context.Context, logCtx *slog.Logger, jobID string, page *models.Page, op models.Operation, usage transform.Usage, elapsed time.Duration) {
	rec := models.UsageRecord{
		Operation:    op,
		Page:         page.Number(),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Estimated:    usage.Estimated,
		DurationSecs: elapsed.Seconds(),
		Timestamp:    time.Now().UTC(),
	}
	if _, err := s.book.Record(ctx, jobID, rec); err != nil {
		if ledger.IsPersistenceError(err) {
			logCtx.Warn("Usage counted in memory but not yet persisted.", "error", err)
			return
		}
		logCtx.Error("Failed to record usage.", "error", err)
	}
}

func (s *Scheduler) advance(r *run, page *models.Page, to models.StageState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !models.CanAdvance(page.StageState, to) {
		slog.Error("Invalid page stage transition.", "jobId", r.job.ID, "page", page.Number(), "from", page.StageState, "to", to)
		return
	}
	page.StageState = to
}

func (s *Scheduler) failPage(logCtx *slog.Logger, r *run, page *models.Page, err error) {
	kind := ErrorKindPermanent
	var perr *PageError
	if errors.As(err, &perr) {
		kind = perr.Kind
	}
	r.mu.Lock()
	if models.CanAdvance(page.StageState, models.StageFailed) {
		page.StageState = models.StageFailed
		page.ErrorKind = kind
		page.ErrorDetails = err.Error()
	}
	r.mu.Unlock()
	logCtx.Error("Page failed.", "errorKind", kind, "error", err)
}

func (s *Scheduler) savePage(ctx context.Context, logCtx *slog.Logger, jobID, stage string, page *models.Page, text string) {
	if s.store == nil {
		return
	}
	// Each page stage is produced once per job, so the first write wins.
	key := artifacts.PageKey(jobID, stage, page.Number())
	if err := s.store.PutIfAbsent(ctx, key, artifacts.ContentTypeMarkdown, []byte(text)); err != nil {
		logCtx.Warn("Failed to store page artifact.", "key", key, "error", err)
	}
}

func (s *Scheduler) reportProgress(r *run) {
	r.mu.Lock()
	done := 0
	for _, p := range r.job.Pages {
		if p.StageState.IsTerminal() {
			done++
		}
	}
	total := len(r.job.Pages)
	r.mu.Unlock()

	s.tracker.Set(r.job.ID, min(progress.Percent(done, total), runningCap))
}

// finish compiles the output according to the partial failure policy, records
// the outcome and releases waiters.
func (s *Scheduler) finish(ctx context.Context, r *run) {
	job := r.job
	logCtx := slog.With("jobId", job.ID)

	r.mu.Lock()
	var failures []models.PageFailure
	translations := make([]string, len(job.Pages))
	for i, p := range job.Pages {
		if p.StageState == models.StageFailed {
			failures = append(failures, models.PageFailure{Index: p.Index, ErrorKind: p.ErrorKind, Message: p.ErrorDetails})
			continue
		}
		if p.Translation != nil {
			translations[i] = *p.Translation
		}
	}
	pages := append([]*models.Page(nil), job.Pages...)
	r.mu.Unlock()

	result := models.JobResult{JobID: job.ID, FailedPages: failures}
	var errDetails string

	switch {
	case len(failures) > 0 && s.cfg.Policy == compiler.PolicyFail:
		result.Status = models.JobStatusFailed
		errDetails = fmt.Sprintf("%d of %d pages failed", len(failures), len(pages))
	default:
		doc, err := compiler.Compile(pages, s.cfg.Policy)
		if err != nil {
			result.Status = models.JobStatusFailed
			errDetails = fmt.Sprintf("failed to compile output: %v", err)
			break
		}
		if err := s.saveOutput(ctx, job.ID, doc.Content); err != nil {
			result.Status = models.JobStatusFailed
			errDetails = fmt.Sprintf("failed to store output: %v", err)
			break
		}
		result.Status = models.JobStatusCompleted
		result.Translations = translations
		result.Output = doc.Content
		if s.store != nil {
			result.OutputKey = artifacts.OutputKey(job.ID)
		}
	}

	if l, ok := s.book.Get(job.ID); ok {
		if err := l.Flush(ctx); err != nil {
			logCtx.Warn("Final cost ledger flush failed.", "error", err)
		}
	}

	s.updateRecord(ctx, job.ID, jobstore.Update{
		Status:       result.Status,
		ErrorDetails: errDetails,
		FailedPages:  failures,
		OutputKey:    result.OutputKey,
	})

	r.mu.Lock()
	job.Status = result.Status
	r.result = result
	r.mu.Unlock()

	if result.Status == models.JobStatusCompleted {
		s.tracker.Set(job.ID, 100)
		logCtx.Info("Job completed.", "pageCount", len(pages), "failedPages", len(failures))
	} else {
		s.tracker.Fail(job.ID)
		logCtx.Error("Job failed.", "pageCount", len(pages), "failedPages", len(failures), "error", errDetails)
	}

	if s.notifier != nil {
		payload := models.WorkflowCompletionPayload{
			JobID:       job.ID,
			Status:      result.Status,
			PageCount:   len(pages),
			FailedPages: failures,
			OutputKey:   result.OutputKey,
		}
		if err := s.notifier.Notify(ctx, payload); err != nil {
			logCtx.Error("Failed to notify completion.", "error", err)
		}
	}
	close(r.done)
}

func (s *Scheduler) saveOutput(ctx context.Context, jobID, content string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Put(ctx, artifacts.OutputKey(jobID), artifacts.ContentTypeMarkdown, []byte(content))
}

func (s *Scheduler) updateRecord(ctx context.Context, jobID string, u jobstore.Update) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Update(ctx, jobID, u); err != nil {
		slog.Error("Failed to update job record.", "jobId", jobID, "status", u.Status, "error", err)
	}
}
