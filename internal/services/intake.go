package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/Lllllllleong/documenttranslator/internal/gcp"
	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// GCSEvent is the payload of a Cloud Storage object-finalize event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

// ObjectReader streams a storage object into w.
type ObjectReader func(ctx context.Context, bucket, object string, w io.Writer) error

// ProcessUpload downloads an uploaded document and submits it as a job.
// Objects that are not PDFs are skipped without error so the event is not
// redelivered.
func (s *TranslationService) ProcessUpload(ctx context.Context, e GCSEvent) (*models.SubmitResponse, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	read := s.readObject
	if read == nil {
		return nil, errors.New("storage intake requires a configured PROJECT_ID")
	}
	if _, err := validateFilename(path.Base(e.Name)); err != nil {
		logCtx.Info("Skipping object that is not a PDF.", "reason", err)
		return nil, nil
	}

	var buf bytes.Buffer
	if err := read(ctx, e.Bucket, e.Name, &buf); err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return nil, err
	}

	resp, err := s.Submit(ctx, path.Base(e.Name), buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to submit gs://%s/%s: %w", e.Bucket, e.Name, err)
	}
	logCtx.Info("Hand-off to pipeline complete.", "jobId", resp.JobID, "duplicate", resp.Duplicate)
	return resp, nil
}

func (s *TranslationService) gcsReader() ObjectReader {
	if s.storageClient == nil {
		return nil
	}
	client := s.storageClient
	return func(ctx context.Context, bucket, object string, w io.Writer) error {
		return gcp.StreamGCSObject(ctx, client, bucket, object, w)
	}
}
