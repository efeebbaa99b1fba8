// Package ledger meters and prices the external calls made for a job.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// Persister durably stores a job's call log and derived summary. Each call
// replaces the previous state as a whole.
type Persister interface {
	Persist(ctx context.Context, log models.CostLog, summary models.CostSummary) error
}

// PersistenceError reports that entries are counted in memory but not yet durable.
type PersistenceError struct {
	JobID       string
	Unpersisted int
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: %d entries unpersisted: %v", e.JobID, e.Unpersisted, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err is a PersistenceError.
func IsPersistenceError(err error) bool {
	var perr *PersistenceError
	return errors.As(err, &perr)
}

// Ledger is the cost ledger of a single job. The tier decision and the
// running-total update for a call happen under one lock, so concurrent
// callers are priced in the order they reach it.
type Ledger struct {
	jobID     string
	filename  string
	pageCount int
	pricing   Pricing
	persister Persister
	now       func() time.Time

	mu         sync.Mutex
	entries    []models.CostEntry
	runningIn  int64
	runningOut int64
	persisted  int

	// persistMu orders writes so a later snapshot is never overwritten by an earlier one.
	persistMu sync.Mutex
}

// New creates a ledger for one job. A nil persister keeps the ledger in memory only.
func New(jobID, filename string, pageCount int, pricing Pricing, persister Persister) *Ledger {
	return &Ledger{
		jobID:     jobID,
		filename:  filename,
		pageCount: pageCount,
		pricing:   pricing,
		persister: persister,
		now:       time.Now,
	}
}

// JobID returns the job this ledger belongs to.
func (l *Ledger) JobID() string {
	return l.jobID
}

// Record appends a usage record, prices it against the running totals and
// persists the updated log. The returned entry is valid even when a
// PersistenceError is returned; the entry then stays flagged unpersisted until
// a later write succeeds.
func (l *Ledger) Record(ctx context.Context, rec models.UsageRecord) (models.CostEntry, error) {
	if rec.InputTokens < 0 || rec.OutputTokens < 0 {
		return models.CostEntry{}, fmt.Errorf("ledger %s: negative token counts (in=%d, out=%d)", l.jobID, rec.InputTokens, rec.OutputTokens)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}

	l.mu.Lock()
	entry := models.CostEntry{UsageRecord: rec, Seq: len(l.entries) + 1}
	l.pricing.price(&entry, l.runningIn, l.runningOut)
	l.runningIn += rec.InputTokens
	l.runningOut += rec.OutputTokens
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	slog.Info("API call metered.",
		"jobId", l.jobID,
		"operation", rec.Operation,
		"page", rec.Page,
		"inputTokens", rec.InputTokens,
		"outputTokens", rec.OutputTokens,
		"cost", entry.Cost,
	)

	if err := l.Flush(ctx); err != nil {
		entry.Unpersisted = true
		return entry, err
	}
	return entry, nil
}

// Flush writes the current log and summary. Entries that could not be written
// are flagged and retried on the next flush.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.persister == nil {
		return nil
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	entries := l.Entries()
	for i := range entries {
		entries[i].Unpersisted = false
	}
	summary := l.derive(entries)
	log := buildLog(l.jobID, l.filename, entries, summary)

	if err := l.persister.Persist(ctx, log, summary); err != nil {
		l.mu.Lock()
		for i := l.persisted; i < len(entries); i++ {
			l.entries[i].Unpersisted = true
		}
		pending := len(entries) - l.persisted
		l.mu.Unlock()

		slog.Error("Failed to persist cost ledger.", "jobId", l.jobID, "unpersisted", pending, "error", err)
		return &PersistenceError{JobID: l.jobID, Unpersisted: pending, Err: err}
	}

	l.mu.Lock()
	for i := 0; i < len(entries); i++ {
		l.entries[i].Unpersisted = false
	}
	if len(entries) > l.persisted {
		l.persisted = len(entries)
	}
	l.mu.Unlock()
	return nil
}

// Entries returns a copy of the ledger's entries in append order.
func (l *Ledger) Entries() []models.CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.CostEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Summary derives the current totals from a consistent snapshot of the entries.
func (l *Ledger) Summary() models.CostSummary {
	return l.derive(l.Entries())
}

// RunningTotals returns the cumulative token counts used for tier selection.
func (l *Ledger) RunningTotals() (input, output int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runningIn, l.runningOut
}

func (l *Ledger) derive(entries []models.CostEntry) models.CostSummary {
	summary := Derive(entries, l.pageCount, l.pricing)
	summary.JobID = l.jobID
	summary.Filename = l.filename
	summary.Timestamp = l.now().UTC()
	return summary
}

// Derive computes a summary as a pure function of entries.
func Derive(entries []models.CostEntry, pageCount int, pricing Pricing) models.CostSummary {
	summary := models.CostSummary{
		Breakdown: map[models.Operation]models.OperationCost{
			models.OperationTranscribe: {},
			models.OperationTranslate:  {},
		},
		PageCount: pageCount,
		Pricing:   pricing.Info(),
	}
	for _, entry := range entries {
		summary.TotalCalls++
		summary.TotalCostPicos += entry.CostPicos
		summary.TotalInputTokens += entry.InputTokens
		summary.TotalOutputTokens += entry.OutputTokens
		if entry.Unpersisted {
			summary.UnpersistedEntries++
		}

		op := summary.Breakdown[entry.Operation]
		op.Calls++
		op.CostPicos += entry.CostPicos
		summary.Breakdown[entry.Operation] = op
	}

	for name, op := range summary.Breakdown {
		op.Cost = PicosToUSD(op.CostPicos)
		if op.Calls > 0 {
			op.AvgCostPerCall = op.Cost / float64(op.Calls)
		}
		summary.Breakdown[name] = op
	}
	summary.TotalCost = PicosToUSD(summary.TotalCostPicos)
	if pageCount > 0 {
		summary.CostPerPage = summary.TotalCost / float64(pageCount)
	}
	return summary
}

func buildLog(jobID, filename string, entries []models.CostEntry, summary models.CostSummary) models.CostLog {
	return models.CostLog{
		JobID:             jobID,
		Filename:          filename,
		TotalCalls:        summary.TotalCalls,
		TotalCost:         summary.TotalCost,
		TotalInputTokens:  summary.TotalInputTokens,
		TotalOutputTokens: summary.TotalOutputTokens,
		Calls:             entries,
	}
}
