package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// FirestoreRepository keeps one document per job in a collection, keyed by job ID.
type FirestoreRepository struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreRepository wraps an existing client. The client is owned by the caller.
func NewFirestoreRepository(client *firestore.Client, collection string) (*FirestoreRepository, error) {
	if collection == "" {
		return nil, errors.New("firestore collection name is required")
	}
	return &FirestoreRepository{client: client, collection: collection}, nil
}

func (r *FirestoreRepository) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func (r *FirestoreRepository) Create(ctx context.Context, rec *models.JobRecord) error {
	if rec.ID == "" {
		return errors.New("job record has no ID")
	}
	if _, err := r.doc(rec.ID).Create(ctx, rec); err != nil {
		return fmt.Errorf("failed to create job document %s: %w", rec.ID, err)
	}
	return nil
}

func (r *FirestoreRepository) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	snap, err := r.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read job document %s: %w", id, err)
	}
	return decode(snap)
}

func (r *FirestoreRepository) Update(ctx context.Context, id string, u Update) error {
	updates := []firestore.Update{
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if u.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: u.Status})
	}
	if u.ErrorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: u.ErrorDetails})
	}
	if u.PageCount != nil {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: *u.PageCount})
	}
	if u.FailedPages != nil {
		updates = append(updates, firestore.Update{Path: "failedPages", Value: u.FailedPages})
	}
	if u.OutputKey != "" {
		updates = append(updates, firestore.Update{Path: "outputKey", Value: u.OutputKey})
	}
	if _, err := r.doc(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to update job document %s: %w", id, err)
	}
	return nil
}

func (r *FirestoreRepository) FindByHash(ctx context.Context, fileHash string) ([]*models.JobRecord, error) {
	docs, err := r.client.Collection(r.collection).Where("fileHash", "==", fileHash).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	records, err := decodeAll(docs)
	if err != nil {
		return nil, err
	}
	// Sorted here to avoid requiring a composite index on (fileHash, createdAt).
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (r *FirestoreRepository) List(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	query := r.client.Collection(r.collection).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list job documents: %w", err)
	}
	return decodeAll(docs)
}

func (r *FirestoreRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.doc(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete job document %s: %w", id, err)
	}
	return nil
}

func decode(snap *firestore.DocumentSnapshot) (*models.JobRecord, error) {
	var rec models.JobRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode job document %s: %w", snap.Ref.ID, err)
	}
	rec.ID = snap.Ref.ID
	return &rec, nil
}

func decodeAll(docs []*firestore.DocumentSnapshot) ([]*models.JobRecord, error) {
	records := make([]*models.JobRecord, 0, len(docs))
	for _, snap := range docs {
		rec, err := decode(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
