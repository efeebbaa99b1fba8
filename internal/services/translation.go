package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/Lllllllleong/documenttranslator/internal/artifacts"
	"github.com/Lllllllleong/documenttranslator/internal/gcp"
	"github.com/Lllllllleong/documenttranslator/internal/jobstore"
	"github.com/Lllllllleong/documenttranslator/internal/ledger"
	"github.com/Lllllllleong/documenttranslator/internal/models"
	"github.com/Lllllllleong/documenttranslator/internal/pagesource"
	"github.com/Lllllllleong/documenttranslator/internal/pipeline"
	"github.com/Lllllllleong/documenttranslator/internal/progress"
	"github.com/Lllllllleong/documenttranslator/internal/transform"
)

var (
	// ErrJobNotFound is returned for job IDs with no record.
	ErrJobNotFound = errors.New("job not found")
	// ErrOutputNotReady is returned when output is requested before the job completed.
	ErrOutputNotReady = errors.New("job output not ready")
	// ErrJobRunning is returned when deleting a job that is still processing.
	ErrJobRunning = errors.New("job is still running")
	// ErrInvalidUpload is returned for uploads rejected before processing.
	ErrInvalidUpload = errors.New("invalid upload")
)

const defaultListLimit = 50

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._ -]+`)

// PageRenderer splits a document into page units.
type PageRenderer interface {
	RenderPages(ctx context.Context, document []byte) ([]pagesource.Unit, error)
}

// Dependencies are the collaborators of a TranslationService.
type Dependencies struct {
	Transform transform.Service
	Pages     PageRenderer
	Store     artifacts.Store
	Repo      jobstore.Repository
	Notifier  pipeline.Notifier

	// ReadObject downloads uploaded objects for storage-event intake.
	ReadObject ObjectReader
}

// TranslationService accepts documents, runs them through the pipeline and
// serves their progress, output and cost.
type TranslationService struct {
	config    TranslationConfig
	scheduler *pipeline.Scheduler
	pages     PageRenderer
	store     artifacts.Store
	repo      jobstore.Repository
	book      *ledger.Book
	tracker   *progress.Tracker

	storageClient *storage.Client
	readObject    ObjectReader
	closers       []func() error
}

// NewTranslation creates a TranslationService from the environment. Without a
// PROJECT_ID it runs locally with disk artifacts and in-memory job records.
func NewTranslation(ctx context.Context) (*TranslationService, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var (
		deps          Dependencies
		closers       []func() error
		storageClient *storage.Client
		firestoreDB   *firestore.Client
	)
	cleanup := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if config.ProjectID != "" {
		storageClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		closers = append(closers, storageClient.Close)

		firestoreDB, err = gcp.NewFirestoreClient(ctx, config.ProjectID)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		closers = append(closers, firestoreDB.Close)
		deps.Repo, err = jobstore.NewFirestoreRepository(firestoreDB, config.CollectionName)
		if err != nil {
			cleanup()
			return nil, err
		}
	} else {
		deps.Repo = jobstore.NewMemoryRepository()
	}

	if config.ArtifactBucket != "" {
		deps.Store, err = artifacts.NewGCSStore(storageClient, config.ArtifactBucket)
	} else {
		deps.Store, err = artifacts.NewDiskStore(config.DataDir)
	}
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	switch config.TransformBackend {
	case BackendVertex:
		vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.VertexAIModel)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		closers = append(closers, vertexClient.Close)
		deps.Transform = transform.NewVertexService(vertexClient, config.TargetLanguage)
	case BackendOpenAI:
		deps.Transform = transform.NewOpenAIService(transform.OpenAIConfig{
			APIKey:         config.LLMAPIKey,
			BaseURL:        config.LLMBaseURL,
			Model:          config.LLMModel,
			TargetLanguage: config.TargetLanguage,
		})
	}

	if config.WorkflowID != "" {
		executionsClient, err := gcp.NewExecutionsClient(ctx)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, executionsClient.Close)
		deps.Notifier = pipeline.NewWorkflowNotifier(executionsClient, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
	}

	deps.Pages = pagesource.NewPDFSource("")

	svc, err := NewTranslationWith(*config, deps)
	if err != nil {
		cleanup()
		return nil, err
	}
	svc.storageClient = storageClient
	svc.readObject = svc.gcsReader()
	svc.closers = closers

	slog.Info("Translation service initialised.",
		"backend", config.TransformBackend,
		"artifactBucket", config.ArtifactBucket,
		"dataDir", config.DataDir,
		"workers", config.Pipeline.WorkerPoolSize,
		"policy", config.Pipeline.Policy,
	)
	return svc, nil
}

// NewTranslationWith wires a TranslationService from explicit collaborators.
func NewTranslationWith(config TranslationConfig, deps Dependencies) (*TranslationService, error) {
	if deps.Transform == nil || deps.Pages == nil || deps.Store == nil || deps.Repo == nil {
		return nil, errors.New("translation service requires a transform service, page renderer, artifact store and job repository")
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 50 << 20
	}
	if config.Retention == "" {
		config.Retention = progress.Retain
	}
	if config.Pricing == (ledger.Pricing{}) {
		config.Pricing = ledger.DefaultPricing()
	}

	book := ledger.NewBook(config.Pricing, ledger.NewStorePersister(deps.Store))
	tracker := progress.NewTracker(config.Retention)

	opts := []pipeline.Option{pipeline.WithArtifacts(deps.Store), pipeline.WithRepository(deps.Repo)}
	if deps.Notifier != nil {
		opts = append(opts, pipeline.WithNotifier(deps.Notifier))
	}
	scheduler, err := pipeline.NewScheduler(config.Pipeline, deps.Transform, book, tracker, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &TranslationService{
		config:    config,
		scheduler: scheduler,
		pages:     deps.Pages,
		store:     deps.Store,
		repo:      deps.Repo,
		book:      book,
		tracker:   tracker,

		readObject: deps.ReadObject,
	}, nil
}

// Close releases the cloud clients created by NewTranslation.
func (s *TranslationService) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MaxUploadBytes is the largest document Submit accepts.
func (s *TranslationService) MaxUploadBytes() int64 {
	return s.config.MaxUploadBytes
}

// Submit validates and splits a document and schedules it as a new job. A
// document whose hash matches an existing job that has not failed returns
// that job instead.
func (s *TranslationService) Submit(ctx context.Context, filename string, data []byte) (*models.SubmitResponse, error) {
	name, err := s.validateUpload(filename, data)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])
	logCtx := slog.With("filename", name, "fileHash", fileHash)

	existing, err := s.findDuplicate(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	}
	if existing != nil {
		logCtx.Info("Duplicate file detected. Returning existing job.", "existingJobId", existing.ID)
		return &models.SubmitResponse{
			Status:    "duplicate",
			JobID:     existing.ID,
			Filename:  existing.OriginalFilename,
			PageCount: existing.PageCount,
			Duplicate: true,
		}, nil
	}

	now := time.Now().UTC()
	record := &models.JobRecord{
		ID:               uuid.NewString(),
		FileHash:         fileHash,
		OriginalFilename: name,
		Status:           models.JobStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		logCtx.Error("Failed to create job record", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("jobId", record.ID)
	logCtx.Info("Created job record.")

	units, err := s.pages.RenderPages(ctx, data)
	if err != nil {
		return nil, s.handleError(ctx, logCtx, record.ID, "failed to render pages", err)
	}
	pageCount := len(units)
	if err := s.repo.Update(ctx, record.ID, jobstore.Update{PageCount: &pageCount}); err != nil {
		return nil, s.handleError(ctx, logCtx, record.ID, "failed to record page count", err)
	}

	job := &models.Job{
		ID:        record.ID,
		Filename:  name,
		FileHash:  fileHash,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		Pages:     make([]*models.Page, 0, pageCount),
	}
	for _, u := range units {
		job.Pages = append(job.Pages, &models.Page{
			Index:      u.Index,
			Unit:       u.Data,
			MIMEType:   u.MIMEType,
			Blank:      u.Blank,
			StageState: models.StageNotStarted,
		})
	}
	if _, err := s.scheduler.Submit(ctx, job); err != nil {
		return nil, s.handleError(ctx, logCtx, record.ID, "failed to schedule job", err)
	}

	logCtx.Info("Document accepted.", "pageCount", pageCount)
	return &models.SubmitResponse{
		Status:    "accepted",
		JobID:     record.ID,
		Filename:  name,
		PageCount: pageCount,
	}, nil
}

// Await blocks until a job submitted by this process is terminal.
func (s *TranslationService) Await(ctx context.Context, jobID string) (models.JobResult, error) {
	result, err := s.scheduler.Await(ctx, jobID)
	if errors.Is(err, pipeline.ErrUnknownJob) {
		return models.JobResult{}, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
	}
	return result, err
}

// Progress reports a job's percentage, or -1 once it has failed. Jobs that
// are no longer tracked in memory are answered from their record.
func (s *TranslationService) Progress(ctx context.Context, jobID string) (*models.ProgressResponse, error) {
	if pct, ok := s.tracker.Consume(jobID); ok {
		status := models.JobStatusRunning
		if st, known := s.scheduler.Status(jobID); known {
			status = st
		}
		return &models.ProgressResponse{JobID: jobID, Percentage: pct, Status: status}, nil
	}

	record, err := s.getRecord(ctx, jobID)
	if err != nil {
		return nil, err
	}
	resp := &models.ProgressResponse{JobID: jobID, Status: record.Status}
	switch record.Status {
	case models.JobStatusCompleted:
		resp.Percentage = 100
	case models.JobStatusFailed:
		resp.Percentage = progress.Failed
	}
	return resp, nil
}

// Output returns the compiled document of a completed job.
func (s *TranslationService) Output(ctx context.Context, jobID string) (*models.OutputResponse, error) {
	record, err := s.getRecord(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.JobStatusCompleted {
		return nil, fmt.Errorf("%s is %s: %w", jobID, record.Status, ErrOutputNotReady)
	}
	key := record.OutputKey
	if key == "" {
		key = artifacts.OutputKey(jobID)
	}
	content, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, fmt.Errorf("output of %s missing: %w", jobID, ErrOutputNotReady)
		}
		return nil, fmt.Errorf("failed to read output of %s: %w", jobID, err)
	}
	return &models.OutputResponse{JobID: jobID, Content: string(content), FailedPages: record.FailedPages}, nil
}

// CostSummary returns the live summary of a job in this process, or the last
// persisted one.
func (s *TranslationService) CostSummary(ctx context.Context, jobID string) (*models.CostSummary, error) {
	if summary, err := s.book.Summary(jobID); err == nil {
		return &summary, nil
	}
	summary, err := ledger.LoadSummary(ctx, s.store, jobID)
	if err == nil {
		return &summary, nil
	}
	if !errors.Is(err, artifacts.ErrNotFound) {
		return nil, err
	}
	record, err := s.getRecord(ctx, jobID)
	if err != nil {
		return nil, err
	}
	empty := ledger.Derive(nil, record.PageCount, s.config.Pricing)
	empty.JobID = jobID
	empty.Filename = record.OriginalFilename
	empty.Timestamp = time.Now().UTC()
	return &empty, nil
}

// Delete removes a terminal job's record, artifacts and in-memory state.
func (s *TranslationService) Delete(ctx context.Context, jobID string) (*models.DeleteResponse, error) {
	if status, ok := s.scheduler.Status(jobID); ok && !status.IsTerminal() {
		return nil, fmt.Errorf("%s: %w", jobID, ErrJobRunning)
	}
	if err := s.repo.Delete(ctx, jobID); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
		}
		return nil, err
	}
	removed, err := s.store.DeletePrefix(ctx, artifacts.JobPrefix(jobID))
	if err != nil {
		slog.Error("Failed to delete job artifacts.", "jobId", jobID, "error", err)
		return nil, err
	}
	s.scheduler.Forget(jobID)
	s.book.Remove(jobID)
	s.tracker.Delete(jobID)

	slog.Info("Job deleted.", "jobId", jobID, "artifacts", removed)
	return &models.DeleteResponse{Status: "deleted", JobID: jobID}, nil
}

// ListJobs returns the most recent jobs first.
func (s *TranslationService) ListJobs(ctx context.Context, limit int) ([]models.JobListItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	records, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]models.JobListItem, 0, len(records))
	for _, rec := range records {
		items = append(items, models.JobListItem{
			JobID:     rec.ID,
			Filename:  rec.OriginalFilename,
			Status:    rec.Status,
			PageCount: rec.PageCount,
			CreatedAt: rec.CreatedAt,
		})
	}
	return items, nil
}

func (s *TranslationService) validateUpload(filename string, data []byte) (string, error) {
	name, err := validateFilename(filename)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if int64(len(data)) > s.config.MaxUploadBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidUpload, len(data), s.config.MaxUploadBytes)
	}
	return name, nil
}

func validateFilename(filename string) (string, error) {
	name := sanitizeFilename(filename)
	if name == "" {
		return "", fmt.Errorf("%w: no filename", ErrInvalidUpload)
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "", fmt.Errorf("%w: %q is not a PDF", ErrInvalidUpload, name)
	}
	return name, nil
}

// sanitizeFilename keeps the base name and replaces unsafe characters.
func sanitizeFilename(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSpace(unsafeFilenameChars.ReplaceAllString(base, "_"))
}

func (s *TranslationService) findDuplicate(ctx context.Context, fileHash string) (*models.JobRecord, error) {
	records, err := s.repo.FindByHash(ctx, fileHash)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Status != models.JobStatusFailed {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *TranslationService) getRecord(ctx context.Context, jobID string) (*models.JobRecord, error) {
	record, err := s.repo.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
		}
		return nil, err
	}
	return record, nil
}

func (s *TranslationService) handleError(ctx context.Context, logCtx *slog.Logger, jobID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := s.repo.Update(ctx, jobID, jobstore.Update{Status: models.JobStatusFailed, ErrorDetails: fullError}); err != nil {
		logCtx.Error("CRITICAL: Failed to update job status to failed after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}
