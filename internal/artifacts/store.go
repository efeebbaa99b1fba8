// Package artifacts stores per-job output objects under a flat key space
// such as "<job>/translated.md".
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("artifact not found")

// Content types used for stored artifacts.
const (
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeJSON     = "application/json"
)

// Store is an object store with whole-object writes. Readers observe either
// the previous object or the complete new one, never a partial write.
type Store interface {
	// Put creates or replaces the object under key.
	Put(ctx context.Context, key, contentType string, data []byte) error
	// PutIfAbsent writes the object only if nothing exists under key yet.
	PutIfAbsent(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// DeletePrefix removes every object whose key starts with prefix and
	// returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Stage directories for per-page artifacts.
const (
	StageTranscription = "transcription"
	StageTranslation   = "translation"
)

// OutputKey is the compiled document of a job.
func OutputKey(jobID string) string {
	return jobID + "/translated.md"
}

// CostLogKey is the persisted call log of a job.
func CostLogKey(jobID string) string {
	return jobID + "/cost_log.json"
}

// CostSummaryKey is the persisted cost summary of a job.
func CostSummaryKey(jobID string) string {
	return jobID + "/cost_summary.json"
}

// PageKey is a per-page intermediate, e.g. "<job>/translation/page_00003.md"
// for the third page.
func PageKey(jobID, stage string, pageNumber int) string {
	return fmt.Sprintf("%s/%s/page_%05d.md", jobID, stage, pageNumber)
}

// JobPrefix covers every artifact of a job.
func JobPrefix(jobID string) string {
	return jobID + "/"
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("artifact key is empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("artifact key %q must be a relative slash-separated path", key)
	}
	if path.Clean(key) != strings.TrimSuffix(key, "/") {
		return fmt.Errorf("artifact key %q is not canonical", key)
	}
	for _, part := range strings.Split(strings.TrimSuffix(key, "/"), "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("artifact key %q escapes the store", key)
		}
	}
	return nil
}
