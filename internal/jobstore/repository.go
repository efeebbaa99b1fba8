// Package jobstore persists Document Job records.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// ErrNotFound is returned when no job record exists for an ID.
var ErrNotFound = errors.New("job record not found")

// Update is a partial change to a job record. Zero-valued fields are left
// untouched.
type Update struct {
	Status       models.JobStatus
	ErrorDetails string
	PageCount    *int
	FailedPages  []models.PageFailure
	OutputKey    string
}

// Repository stores job records.
type Repository interface {
	Create(ctx context.Context, rec *models.JobRecord) error
	Get(ctx context.Context, id string) (*models.JobRecord, error)
	Update(ctx context.Context, id string, u Update) error
	// FindByHash returns every record for a document hash, newest first.
	FindByHash(ctx context.Context, fileHash string) ([]*models.JobRecord, error)
	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]*models.JobRecord, error)
	Delete(ctx context.Context, id string) error
}

func apply(rec *models.JobRecord, u Update, now time.Time) {
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.ErrorDetails != "" {
		rec.ErrorDetails = u.ErrorDetails
	}
	if u.PageCount != nil {
		rec.PageCount = *u.PageCount
	}
	if u.FailedPages != nil {
		rec.FailedPages = append([]models.PageFailure(nil), u.FailedPages...)
	}
	if u.OutputKey != "" {
		rec.OutputKey = u.OutputKey
	}
	rec.UpdatedAt = now
}
