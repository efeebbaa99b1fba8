package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// MemoryRepository keeps job records in process memory. It is used when no
// Google Cloud project is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]models.JobRecord
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]models.JobRecord)}
}

func (r *MemoryRepository) Create(_ context.Context, rec *models.JobRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("job record has no ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("job %s already exists", rec.ID)
	}
	r.records[rec.ID] = clone(*rec)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	out := clone(rec)
	return &out, nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	apply(&rec, u, time.Now().UTC())
	r.records[id] = rec
	return nil
}

func (r *MemoryRepository) FindByHash(_ context.Context, fileHash string) ([]*models.JobRecord, error) {
	return r.collect(func(rec models.JobRecord) bool { return rec.FileHash == fileHash }, 0), nil
}

func (r *MemoryRepository) List(_ context.Context, limit int) ([]*models.JobRecord, error) {
	return r.collect(func(models.JobRecord) bool { return true }, limit), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	delete(r.records, id)
	return nil
}

func (r *MemoryRepository) collect(match func(models.JobRecord) bool, limit int) []*models.JobRecord {
	r.mu.RLock()
	out := make([]*models.JobRecord, 0)
	for _, rec := range r.records {
		if match(rec) {
			c := clone(rec)
			out = append(out, &c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clone(rec models.JobRecord) models.JobRecord {
	rec.FailedPages = append([]models.PageFailure(nil), rec.FailedPages...)
	return rec
}
