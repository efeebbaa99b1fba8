package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestKeys(t *testing.T) {
	tests := map[string]string{
		OutputKey("job-1"):                          "job-1/translated.md",
		CostLogKey("job-1"):                         "job-1/cost_log.json",
		CostSummaryKey("job-1"):                     "job-1/cost_summary.json",
		PageKey("job-1", StageTranslation, 3):       "job-1/translation/page_00003.md",
		PageKey("job-1", StageTranscription, 12345): "job-1/transcription/page_12345.md",
		JobPrefix("job-1"):                          "job-1/",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("key = %q, want %q", got, want)
		}
	}
}

func TestValidateKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "/abs", "../x", "a/../../b", "a\\b", "a//b"} {
		if err := validateKey(key); err == nil {
			t.Errorf("validateKey(%q) = nil, want error", key)
		}
	}
	for _, key := range []string{"job/translated.md", "job/", "job/translation/page_00001.md"} {
		if err := validateKey(key); err != nil {
			t.Errorf("validateKey(%q) = %v, want nil", key, err)
		}
	}
}

func TestDiskStorePutGetReplace(t *testing.T) {
	ctx := context.Background()
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	if err := store.Put(ctx, "job/translated.md", ContentTypeMarkdown, []byte("one")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "job/translated.md", ContentTypeMarkdown, []byte("two")); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	got, err := store.Get(ctx, "job/translated.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "two" {
		t.Errorf("Get = %q, want %q", got, "two")
	}
}

func TestDiskStoreGetMissing(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	_, err = store.Get(context.Background(), "nope/translated.md")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing err = %v, want ErrNotFound", err)
	}
}

func TestDiskStorePutIfAbsentKeepsFirst(t *testing.T) {
	ctx := context.Background()
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.PutIfAbsent(ctx, "job/transcription/page_00001.md", ContentTypeMarkdown, []byte("page")); err != nil {
				t.Errorf("PutIfAbsent: %v", err)
			}
		}()
	}
	wg.Wait()

	if err := store.PutIfAbsent(ctx, "job/transcription/page_00001.md", ContentTypeMarkdown, []byte("other")); err != nil {
		t.Fatalf("PutIfAbsent existing: %v", err)
	}
	got, err := store.Get(ctx, "job/transcription/page_00001.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "page" {
		t.Errorf("Get = %q, want %q", got, "page")
	}
}

func TestDiskStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewDiskStore(root)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.Put(ctx, "job/cost_log.json", ContentTypeJSON, []byte("{}")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := store.PutIfAbsent(ctx, "job/cost_log.json", ContentTypeJSON, []byte("{}")); err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "job"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "cost_log.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only cost_log.json", names)
	}
}

func TestDiskStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	for _, key := range []string{
		"job-a/translated.md",
		"job-a/translation/page_00001.md",
		"job-a/translation/page_00002.md",
		"job-b/translated.md",
	} {
		if err := store.Put(ctx, key, ContentTypeMarkdown, []byte(key)); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	n, err := store.DeletePrefix(ctx, JobPrefix("job-a"))
	if err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if n != 3 {
		t.Errorf("DeletePrefix removed %d, want 3", n)
	}
	if _, err := store.Get(ctx, "job-a/translated.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("job-a output still readable: %v", err)
	}
	if _, err := store.Get(ctx, "job-b/translated.md"); err != nil {
		t.Errorf("job-b output removed: %v", err)
	}
}
