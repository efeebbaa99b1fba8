package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// ErrUnknownJob is returned for jobs that have no open ledger.
var ErrUnknownJob = errors.New("no ledger for job")

// Book holds the ledgers of every job known to this process.
type Book struct {
	pricing   Pricing
	persister Persister

	mu      sync.RWMutex
	ledgers map[string]*Ledger
}

// NewBook creates an empty registry. A nil persister keeps ledgers in memory.
func NewBook(pricing Pricing, persister Persister) *Book {
	return &Book{
		pricing:   pricing,
		persister: persister,
		ledgers:   make(map[string]*Ledger),
	}
}

// Open returns the job's ledger, creating it on first use.
func (b *Book) Open(jobID, filename string, pageCount int) *Ledger {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.ledgers[jobID]; ok {
		return l
	}
	l := New(jobID, filename, pageCount, b.pricing, b.persister)
	b.ledgers[jobID] = l
	return l
}

// Get returns the job's ledger if one is open.
func (b *Book) Get(jobID string) (*Ledger, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.ledgers[jobID]
	return l, ok
}

// Record meters one successful call against the job's ledger.
func (b *Book) Record(ctx context.Context, jobID string, rec models.UsageRecord) (models.CostEntry, error) {
	l, ok := b.Get(jobID)
	if !ok {
		return models.CostEntry{}, fmt.Errorf("record for %s: %w", jobID, ErrUnknownJob)
	}
	return l.Record(ctx, rec)
}

// Summary derives the job's current cost summary.
func (b *Book) Summary(jobID string) (models.CostSummary, error) {
	l, ok := b.Get(jobID)
	if !ok {
		return models.CostSummary{}, fmt.Errorf("summary for %s: %w", jobID, ErrUnknownJob)
	}
	return l.Summary(), nil
}

// Remove forgets the job's ledger.
func (b *Book) Remove(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ledgers, jobID)
}
