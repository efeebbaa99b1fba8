package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documenttranslator/internal/gcp"
	"github.com/Lllllllleong/documenttranslator/internal/services"
)

var (
	translationInstance *services.TranslationService
	once                sync.Once
	initErr             error
)

func init() {
	// --- Set up structured logging ---
	level := gcp.ParseLogLevel(gcp.GetEnv("LOG_LEVEL", "info"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The framework will handle routing the event here.
	functions.CloudEvent("IntakeDocument", intakeDocument)
}

// main is required by the Go Functions Framework.
func main() {}

// intakeDocument is fired by a Cloud Storage object-finalize event and
// submits the uploaded PDF as a translation job.
func intakeDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		translationInstance, initErr = services.NewTranslation(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context inside ProcessUpload. Returning one marks
	// the invocation as failed so the event is retried.
	resp, err := translationInstance.ProcessUpload(ctx, gcsEvent)
	if err != nil {
		return err
	}
	if resp == nil || resp.Duplicate {
		return nil
	}

	// The instance may be throttled once the handler returns, so stay with
	// the job until it is terminal. A failed job is recorded on its record
	// and is not retried by redelivering the event.
	result, err := translationInstance.Await(ctx, resp.JobID)
	if err != nil {
		slog.Error("Stopped waiting for job", "jobId", resp.JobID, "error", err)
		return err
	}
	slog.Info("Job finished.", "jobId", result.JobID, "status", result.Status, "failedPages", len(result.FailedPages))
	return nil
}
