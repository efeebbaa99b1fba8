package services

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/documenttranslator/internal/compiler"
	"github.com/Lllllllleong/documenttranslator/internal/gcp"
	"github.com/Lllllllleong/documenttranslator/internal/ledger"
	"github.com/Lllllllleong/documenttranslator/internal/pipeline"
	"github.com/Lllllllleong/documenttranslator/internal/progress"
)

// Transform backends.
const (
	BackendVertex = "vertex"
	BackendOpenAI = "openai"
)

// TranslationConfig holds all configuration for the translation service.
type TranslationConfig struct {
	ProjectID        string
	VertexAIRegion   string
	VertexAIModel    string
	TransformBackend string
	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	TargetLanguage   string
	ArtifactBucket   string
	DataDir          string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
	MaxUploadBytes   int64
	Retention        progress.Retention
	Pricing          ledger.Pricing
	Pipeline         pipeline.Config
}

// loadConfig loads and validates all necessary environment variables for this service.
func loadConfig() (*TranslationConfig, error) {
	policy, err := compiler.ParsePolicy(strings.ToLower(gcp.GetEnv("PARTIAL_FAILURE_POLICY", string(compiler.PolicyFail))))
	if err != nil {
		return nil, err
	}
	retention, err := progress.ParseRetention(strings.ToLower(gcp.GetEnv("PROGRESS_RETENTION", string(progress.Retain))))
	if err != nil {
		return nil, err
	}

	defaults := pipeline.DefaultConfig()
	pricing := ledger.DefaultPricing()
	config := &TranslationConfig{
		ProjectID:        gcp.GetEnv("PROJECT_ID", ""),
		VertexAIRegion:   gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexAIModel:    gcp.GetEnv("VERTEX_AI_MODEL", "gemini-2.5-pro"),
		TransformBackend: strings.ToLower(gcp.GetEnv("TRANSFORM_BACKEND", BackendVertex)),
		LLMBaseURL:       gcp.GetEnv("LLM_BASE_URL", ""),
		LLMAPIKey:        gcp.GetEnv("LLM_API_KEY", ""),
		LLMModel:         gcp.GetEnv("LLM_MODEL", ""),
		TargetLanguage:   gcp.GetEnv("TARGET_LANGUAGE", "English"),
		ArtifactBucket:   gcp.GetEnv("ARTIFACT_BUCKET", ""),
		DataDir:          gcp.GetEnv("DATA_DIR", "data"),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "translation_jobs"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		MaxUploadBytes:   int64(gcp.GetEnvInt("MAX_UPLOAD_BYTES", 50<<20)),
		Retention:        retention,
		Pricing: ledger.Pricing{
			ThresholdTokens: int64(gcp.GetEnvInt("PRICING_THRESHOLD_TOKENS", int(pricing.ThresholdTokens))),
			InputTier1:      gcp.GetEnvFloat("PRICING_INPUT_TIER1", pricing.InputTier1),
			InputTier2:      gcp.GetEnvFloat("PRICING_INPUT_TIER2", pricing.InputTier2),
			OutputTier1:     gcp.GetEnvFloat("PRICING_OUTPUT_TIER1", pricing.OutputTier1),
			OutputTier2:     gcp.GetEnvFloat("PRICING_OUTPUT_TIER2", pricing.OutputTier2),
		},
		Pipeline: pipeline.Config{
			WorkerPoolSize: gcp.GetEnvInt("WORKER_POOL_SIZE", defaults.WorkerPoolSize),
			GlobalPoolSize: gcp.GetEnvInt("GLOBAL_POOL_SIZE", defaults.GlobalPoolSize),
			CallTimeout:    gcp.GetEnvDuration("CALL_TIMEOUT", defaults.CallTimeout),
			Retry: pipeline.RetryPolicy{
				MaxAttempts: gcp.GetEnvInt("MAX_RETRY_ATTEMPTS", defaults.Retry.MaxAttempts),
				BaseDelay:   gcp.GetEnvDuration("RETRY_BASE_DELAY", defaults.Retry.BaseDelay),
				MaxDelay:    gcp.GetEnvDuration("RETRY_MAX_DELAY", defaults.Retry.MaxDelay),
			},
			Policy: policy,
		},
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *TranslationConfig) validate() error {
	switch c.TransformBackend {
	case BackendVertex:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID environment variable must be set for the %s backend", BackendVertex)
		}
	case BackendOpenAI:
		if c.LLMAPIKey == "" {
			return fmt.Errorf("LLM_API_KEY environment variable must be set for the %s backend", BackendOpenAI)
		}
	default:
		return fmt.Errorf("TRANSFORM_BACKEND must be %q or %q, got %q", BackendVertex, BackendOpenAI, c.TransformBackend)
	}
	if c.ArtifactBucket != "" && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set when ARTIFACT_BUCKET is used")
	}
	if c.WorkflowID != "" && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set when WORKFLOW_ID is used")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.Pipeline.WorkerPoolSize <= 0 || c.Pipeline.GlobalPoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE and GLOBAL_POOL_SIZE must be positive")
	}
	if c.Pipeline.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_RETRY_ATTEMPTS must be positive, got %d", c.Pipeline.Retry.MaxAttempts)
	}
	if err := c.Pricing.Validate(); err != nil {
		return fmt.Errorf("invalid pricing configuration: %w", err)
	}
	return nil
}
