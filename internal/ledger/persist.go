package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/documenttranslator/internal/artifacts"
	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// StorePersister writes <job>/cost_log.json and <job>/cost_summary.json to an
// artifact store, retrying each write with doubling backoff.
type StorePersister struct {
	store      artifacts.Store
	maxRetries int
	backoff    time.Duration
}

// NewStorePersister uses 3 attempts starting at a 200ms backoff.
func NewStorePersister(store artifacts.Store) *StorePersister {
	return &StorePersister{store: store, maxRetries: 3, backoff: 200 * time.Millisecond}
}

func (p *StorePersister) Persist(ctx context.Context, log models.CostLog, summary models.CostSummary) error {
	logJSON, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cost log: %w", err)
	}
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cost summary: %w", err)
	}
	if err := p.write(ctx, artifacts.CostLogKey(log.JobID), logJSON); err != nil {
		return err
	}
	return p.write(ctx, artifacts.CostSummaryKey(summary.JobID), summaryJSON)
}

func (p *StorePersister) write(ctx context.Context, key string, data []byte) error {
	backoff := p.backoff
	var lastErr error

	for i := 0; i < p.maxRetries; i++ {
		err := p.store.Put(ctx, key, artifacts.ContentTypeJSON, data)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == p.maxRetries-1 {
			break
		}
		slog.Warn("Cost ledger write failed, will retry.",
			"key", key,
			"attempt", i+1,
			"maxRetries", p.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("write of %s failed after all retries: %w", key, lastErr)
}

// LoadSummary reads a previously persisted summary, e.g. after a restart.
func LoadSummary(ctx context.Context, store artifacts.Store, jobID string) (models.CostSummary, error) {
	data, err := store.Get(ctx, artifacts.CostSummaryKey(jobID))
	if err != nil {
		return models.CostSummary{}, err
	}
	var summary models.CostSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return models.CostSummary{}, fmt.Errorf("failed to decode cost summary for %s: %w", jobID, err)
	}
	return summary, nil
}
