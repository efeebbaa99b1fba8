package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/documenttranslator/internal/gcp"
	"github.com/Lllllllleong/documenttranslator/internal/services"
)

const functionTarget = "TranslationAPI"

var (
	router  http.Handler
	once    sync.Once
	initErr error
)

func init() {
	// --- Set up structured logging ---
	level := gcp.ParseLogLevel(gcp.GetEnv("LOG_LEVEL", "info"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	functions.HTTP(functionTarget, handleTranslationAPI)
}

// main runs the function locally; on Cloud Functions the framework calls the
// registered handler directly.
func main() {
	if os.Getenv("FUNCTION_TARGET") == "" {
		os.Setenv("FUNCTION_TARGET", functionTarget)
	}
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}

// handleTranslationAPI is the HTTP entry point.
func handleTranslationAPI(w http.ResponseWriter, r *http.Request) {
	// Use sync.Once for robust, one-time initialization of clients.
	once.Do(func() {
		var svc *services.TranslationService
		svc, initErr = services.NewTranslation(context.Background())
		if initErr == nil {
			router = newRouter(svc)
		}
	})
	if initErr != nil {
		slog.Error("CRITICAL: Translation service initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}
