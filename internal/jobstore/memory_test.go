package jobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

func record(id, hash string, created time.Time) *models.JobRecord {
	return &models.JobRecord{
		ID:               id,
		FileHash:         hash,
		OriginalFilename: id + ".pdf",
		Status:           models.JobStatusPending,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestMemoryRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now().UTC()

	if err := repo.Create(ctx, record("job-1", "abc", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, record("job-1", "abc", now)); err == nil {
		t.Fatal("expected error creating a duplicate ID")
	}

	pages := 3
	err := repo.Update(ctx, "job-1", Update{
		Status:      models.JobStatusFailed,
		PageCount:   &pages,
		FailedPages: []models.PageFailure{{Index: 1, ErrorKind: "permanent"}},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.JobStatusFailed || got.PageCount != 3 || len(got.FailedPages) != 1 {
		t.Errorf("unexpected record after update: %+v", got)
	}

	got.FailedPages[0].Index = 99
	again, _ := repo.Get(ctx, "job-1")
	if again.FailedPages[0].Index != 1 {
		t.Error("Get returned a record sharing memory with the repository")
	}

	if err := repo.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
	if err := repo.Update(ctx, "job-1", Update{Status: models.JobStatusRunning}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing err = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepositoryFindAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		hash := "h1"
		if id == "mid" {
			hash = "h2"
		}
		if err := repo.Create(ctx, record(id, hash, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	matches, err := repo.FindByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "new" || matches[1].ID != "old" {
		t.Errorf("FindByHash order = %v", ids(matches))
	}

	listed, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "new" || listed[1].ID != "mid" {
		t.Errorf("List = %v, want [new mid]", ids(listed))
	}
}

func ids(recs []*models.JobRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
