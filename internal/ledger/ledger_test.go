package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Lllllllleong/documenttranslator/internal/artifacts"
	"github.com/Lllllllleong/documenttranslator/internal/models"
)

func usage(op models.Operation, page int, in, out int64) models.UsageRecord {
	return models.UsageRecord{Operation: op, Page: page, InputTokens: in, OutputTokens: out}
}

func TestSplitTier(t *testing.T) {
	tests := []struct {
		name                 string
		before, n, thresh    int64
		wantTier1, wantTier2 int64
	}{
		{"below", 0, 1000, 200_000, 1000, 0},
		{"exactly fills", 199_000, 1000, 200_000, 1000, 0},
		{"straddles", 199_000, 2000, 200_000, 1000, 1000},
		{"already above", 250_000, 500, 200_000, 0, 500},
		{"at threshold", 200_000, 1, 200_000, 0, 1},
		{"zero tokens", 10, 0, 200_000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t1, t2 := SplitTier(tt.before, tt.n, tt.thresh)
			if t1 != tt.wantTier1 || t2 != tt.wantTier2 {
				t.Errorf("SplitTier(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.before, tt.n, tt.thresh, t1, t2, tt.wantTier1, tt.wantTier2)
			}
		})
	}
}

func TestPricingValidate(t *testing.T) {
	if err := DefaultPricing().Validate(); err != nil {
		t.Fatalf("default pricing invalid: %v", err)
	}
	bad := DefaultPricing()
	bad.InputTier2 = bad.InputTier1
	if err := bad.Validate(); err == nil {
		t.Error("expected error when tier 2 does not exceed tier 1")
	}
	bad = DefaultPricing()
	bad.ThresholdTokens = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero threshold")
	}
}

func TestRecordBelowThreshold(t *testing.T) {
	ctx := context.Background()
	l := New("job", "doc.pdf", 3, DefaultPricing(), nil)

	for page := 0; page < 3; page++ {
		for _, op := range []models.Operation{models.OperationTranscribe, models.OperationTranslate} {
			entry, err := l.Record(ctx, usage(op, page, 1000, 500))
			if err != nil {
				t.Fatalf("Record: %v", err)
			}
			// 1000 * $1.25/M + 500 * $10/M
			if entry.CostPicos != 6_250_000_000 {
				t.Errorf("entry cost = %d picos, want 6250000000", entry.CostPicos)
			}
			if entry.InputTier2 != 0 || entry.OutputTier2 != 0 {
				t.Errorf("unexpected tier 2 tokens: %+v", entry)
			}
		}
	}

	s := l.Summary()
	if s.TotalCalls != 6 || s.TotalInputTokens != 3000 || s.TotalOutputTokens != 1500 {
		t.Fatalf("summary totals = %d calls, %d in, %d out", s.TotalCalls, s.TotalInputTokens, s.TotalOutputTokens)
	}
	if s.TotalCostPicos != 6*6_250_000_000 {
		t.Errorf("total cost = %d picos, want %d", s.TotalCostPicos, 6*6_250_000_000)
	}
	if got := s.Breakdown[models.OperationTranslate].Calls; got != 3 {
		t.Errorf("translate calls = %d, want 3", got)
	}
	if s.CostPerPage != s.TotalCost/3 {
		t.Errorf("cost per page = %v, want %v", s.CostPerPage, s.TotalCost/3)
	}
}

func TestRecordStraddlesThreshold(t *testing.T) {
	ctx := context.Background()
	l := New("job", "doc.pdf", 1, DefaultPricing(), nil)

	if _, err := l.Record(ctx, usage(models.OperationTranscribe, 0, 199_000, 0)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entry, err := l.Record(ctx, usage(models.OperationTranslate, 0, 2000, 0))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.InputTier1 != 1000 || entry.InputTier2 != 1000 {
		t.Fatalf("split = (%d, %d), want (1000, 1000)", entry.InputTier1, entry.InputTier2)
	}
	// 1000 * 1_250_000 + 1000 * 2_500_000 picos
	if entry.CostPicos != 3_750_000_000 {
		t.Errorf("straddling cost = %d picos, want 3750000000", entry.CostPicos)
	}
}

func TestFineGrainedRateIsExact(t *testing.T) {
	pricing := DefaultPricing()
	pricing.InputTier1 = 0.0375
	if err := pricing.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	l := New("job", "doc.pdf", 1, pricing, nil)

	entry, err := l.Record(context.Background(), usage(models.OperationTranscribe, 0, 100_000, 0))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	// 100000 * $0.0375/M = $0.00375
	if entry.CostPicos != 3_750_000_000 {
		t.Errorf("cost = %d picos, want 3750000000", entry.CostPicos)
	}
	if entry.Cost != 0.00375 {
		t.Errorf("cost = %v USD, want 0.00375", entry.Cost)
	}
}

func TestPricingRejectsSubPicoRates(t *testing.T) {
	pricing := DefaultPricing()
	pricing.InputTier1 = 0.00000025
	if err := pricing.Validate(); err == nil {
		t.Fatal("expected error for a rate finer than one pico-dollar per token")
	}
}

func TestZeroPageSummary(t *testing.T) {
	s := New("job", "empty.pdf", 0, DefaultPricing(), nil).Summary()
	if s.CostPerPage != 0 || s.TotalCalls != 0 {
		t.Errorf("empty summary = %+v", s)
	}
}

func TestRecordRejectsNegativeTokens(t *testing.T) {
	l := New("job", "doc.pdf", 1, DefaultPricing(), nil)
	if _, err := l.Record(context.Background(), usage(models.OperationTranscribe, 0, -1, 0)); err == nil {
		t.Fatal("expected error for negative tokens")
	}
	if n := len(l.Entries()); n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
}

func TestConcurrentRecordMatchesSequentialDerivation(t *testing.T) {
	const (
		workers = 16
		calls   = 50
	)
	pricing := DefaultPricing()
	pricing.ThresholdTokens = 100_000
	l := New("job", "doc.pdf", workers, pricing, nil)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for k := 0; k < calls; k++ {
				in := int64(100 + (w*calls+k)%250)
				out := int64(50 + k%75)
				if _, err := l.Record(context.Background(), usage(models.OperationTranslate, w, in, out)); err != nil {
					t.Errorf("Record: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	entries := l.Entries()
	if len(entries) != workers*calls {
		t.Fatalf("entries = %d, want %d", len(entries), workers*calls)
	}

	var runIn, runOut, tier1In, costPicos int64
	for i, e := range entries {
		if e.Seq != i+1 {
			t.Fatalf("entry %d has seq %d", i, e.Seq)
		}
		want := models.CostEntry{UsageRecord: e.UsageRecord}
		pricing.price(&want, runIn, runOut)
		if want.InputTier1 != e.InputTier1 || want.OutputTier1 != e.OutputTier1 || want.CostPicos != e.CostPicos {
			t.Fatalf("entry %d priced %+v, sequential replay gives %+v", i, e, want)
		}
		runIn += e.InputTokens
		runOut += e.OutputTokens
		tier1In += e.InputTier1
		costPicos += e.CostPicos
	}

	gotIn, gotOut := l.RunningTotals()
	if gotIn != runIn || gotOut != runOut {
		t.Errorf("running totals = (%d, %d), want (%d, %d)", gotIn, gotOut, runIn, runOut)
	}
	if want := min(runIn, pricing.ThresholdTokens); tier1In != want {
		t.Errorf("tier 1 input tokens = %d, want %d", tier1In, want)
	}
	s := l.Summary()
	if s.TotalCostPicos != costPicos || s.TotalInputTokens != runIn {
		t.Errorf("summary = %d picos / %d in, want %d / %d", s.TotalCostPicos, s.TotalInputTokens, costPicos, runIn)
	}
}

type flakyPersister struct {
	mu    sync.Mutex
	fail  bool
	last  models.CostLog
	count int
}

func (p *flakyPersister) Persist(_ context.Context, log models.CostLog, _ models.CostSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("storage unavailable")
	}
	p.last = log
	p.count++
	return nil
}

func (p *flakyPersister) setFail(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

func TestPersistenceFailureIsReconciled(t *testing.T) {
	ctx := context.Background()
	p := &flakyPersister{}
	l := New("job", "doc.pdf", 2, DefaultPricing(), p)

	if _, err := l.Record(ctx, usage(models.OperationTranscribe, 0, 1000, 500)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	p.setFail(true)
	entry, err := l.Record(ctx, usage(models.OperationTranslate, 0, 1000, 500))
	if !IsPersistenceError(err) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if !entry.Unpersisted || entry.CostPicos != 6_250_000_000 {
		t.Errorf("entry = %+v, want unpersisted and priced", entry)
	}
	if _, err := l.Record(ctx, usage(models.OperationTranscribe, 1, 1000, 500)); !IsPersistenceError(err) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if got := l.Summary().UnpersistedEntries; got != 2 {
		t.Errorf("unpersisted entries = %d, want 2", got)
	}
	if got := l.Summary().TotalCalls; got != 3 {
		t.Errorf("in-memory calls = %d, want 3", got)
	}

	p.setFail(false)
	if _, err := l.Record(ctx, usage(models.OperationTranslate, 1, 1000, 500)); err != nil {
		t.Fatalf("Record after recovery: %v", err)
	}
	if got := l.Summary().UnpersistedEntries; got != 0 {
		t.Errorf("unpersisted entries after recovery = %d, want 0", got)
	}
	if n := len(p.last.Calls); n != 4 {
		t.Fatalf("persisted calls = %d, want 4", n)
	}
	for _, c := range p.last.Calls {
		if c.Unpersisted {
			t.Errorf("persisted entry %d still flagged unpersisted", c.Seq)
		}
	}
}

func TestStorePersisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := artifacts.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	book := NewBook(DefaultPricing(), NewStorePersister(store))
	book.Open("job-1", "doc.pdf", 1)

	if _, err := book.Record(ctx, "job-1", usage(models.OperationTranscribe, 0, 1000, 500)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := book.Record(ctx, "job-1", usage(models.OperationTranslate, 0, 800, 400)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	loaded, err := LoadSummary(ctx, store, "job-1")
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	live, err := book.Summary("job-1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if loaded.TotalCalls != 2 || loaded.TotalCostPicos != live.TotalCostPicos {
		t.Errorf("loaded summary = %d calls / %d picos, live = %d picos", loaded.TotalCalls, loaded.TotalCostPicos, live.TotalCostPicos)
	}
	if _, err := store.Get(ctx, artifacts.CostLogKey("job-1")); err != nil {
		t.Errorf("cost log not written: %v", err)
	}
}

func TestBookUnknownJob(t *testing.T) {
	book := NewBook(DefaultPricing(), nil)
	if _, err := book.Summary("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Summary err = %v, want ErrUnknownJob", err)
	}
	if _, err := book.Record(context.Background(), "missing", usage(models.OperationTranslate, 0, 1, 1)); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Record err = %v, want ErrUnknownJob", err)
	}
	l1 := book.Open("job", "a.pdf", 1)
	if l2 := book.Open("job", "a.pdf", 1); l1 != l2 {
		t.Error("Open returned a different ledger for the same job")
	}
	book.Remove("job")
	if _, ok := book.Get("job"); ok {
		t.Error("ledger still present after Remove")
	}
}
