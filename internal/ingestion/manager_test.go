package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mr1hm/go-green-corridor/internal/config"
	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type outcomes struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *outcomes) observe(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[outcome]++
}

func (o *outcomes) get(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[outcome]
}

type staticFetcher struct {
	alerts []FeedAlert
}

func (f *staticFetcher) Fetch(ctx context.Context) ([]FeedAlert, error) {
	return f.alerts, nil
}

func testConfig(workers int, enabled bool) *config.Config {
	return &config.Config{
		Worker: config.WorkerConfig{Count: workers, BufferSize: 100},
		Ingestion: config.IngestionConfig{
			Enabled:      enabled,
			PollInterval: time.Hour,
		},
	}
}

func setup(t *testing.T, cfg *config.Config, fetcher Fetcher) (*Manager, *store.SQLiteStore, *outcomes) {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	o := &outcomes{counts: make(map[string]int)}
	return NewManager(cfg, db, schema.MustDefault(), fetcher, o.observe), db, o
}

func alert(id, status string) FeedAlert {
	return FeedAlert{
		ID:        id,
		Type:      "Fire",
		Status:    status,
		Location:  models.GeoPoint{Latitude: 12.97, Longitude: 77.59},
		Timestamp: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestManager_StartStop(t *testing.T) {
	mgr, _, _ := setup(t, testConfig(2, false), nil)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	cancel()
	mgr.Stop()
}

func TestManager_InsertUpdateSkip(t *testing.T) {
	mgr, db, o := setup(t, testConfig(1, false), nil)
	ctx := context.Background()
	mgr.Start(ctx)

	mgr.Submit(ctx, alert("r1", "active"))
	mgr.Submit(ctx, alert("r1", "active"))
	mgr.Submit(ctx, alert("r1", "closed"))
	mgr.Submit(ctx, FeedAlert{ID: "bad", Type: "meteor"})
	mgr.Submit(ctx, FeedAlert{Type: "fire"})
	mgr.Stop()

	if o.get(OutcomeInserted) != 1 || o.get(OutcomeSkipped) != 1 || o.get(OutcomeUpdated) != 1 {
		t.Errorf("unexpected outcomes: %v", o.counts)
	}
	if o.get(OutcomeInvalid) != 2 {
		t.Errorf("expected 2 invalid alerts, got %d", o.get(OutcomeInvalid))
	}

	doc, err := db.Get(ctx, store.CollectionAlerts, "feed_r1")
	if err != nil {
		t.Fatalf("expected stored alert: %v", err)
	}
	if doc.Data["status"] != "closed" {
		t.Errorf("expected status closed, got %v", doc.Data["status"])
	}
	if _, ok := doc.Data["id"]; ok {
		t.Error("feed id should not be stored as a field")
	}
}

func TestManager_PollsFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"alerts":[
			{"id":"a1","type":"ambulance","status":"active","location":{"latitude":1,"longitude":2},"timestamp":"2026-04-02T10:00:00Z"},
			{"id":"a2","type":"DISASTER","status":"active","location":{"latitude":3,"longitude":4},"timestamp":"2026-04-02T10:05:00Z"}
		]}`)
	}))
	defer srv.Close()

	mgr, db, o := setup(t, testConfig(2, true), NewFeedClient(srv.URL, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for o.get(OutcomeInserted) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	mgr.Stop()

	docs, err := db.List(context.Background(), store.Collection(store.CollectionAlerts))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 ingested alerts, got %d", len(docs))
	}
}

func TestFeedClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := NewFeedClient(srv.URL, time.Second).Fetch(context.Background()); err == nil {
		t.Error("expected error for bad status")
	}
}

func TestManager_ConcurrentSubmit(t *testing.T) {
	mgr, _, o := setup(t, testConfig(4, false), nil)
	ctx := context.Background()
	mgr.Start(ctx)

	var wg sync.WaitGroup
	numGoroutines := 5
	numPerGoroutine := 20

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < numPerGoroutine; j++ {
				mgr.Submit(ctx, alert(fmt.Sprintf("c_%d_%d", goroutineID, j), "active"))
			}
		}(i)
	}

	wg.Wait()
	mgr.Stop()

	expected := numGoroutines * numPerGoroutine
	if got := o.get(OutcomeInserted); got != expected {
		t.Errorf("expected %d alerts inserted, got %d", expected, got)
	}
}

func TestManager_GracefulShutdown(t *testing.T) {
	mgr, _, _ := setup(t, testConfig(2, false), nil)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	for i := 0; i < 50; i++ {
		mgr.Submit(ctx, alert(fmt.Sprintf("shutdown_%d", i), "active"))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager.Stop() timed out - possible goroutine leak")
	}
}
