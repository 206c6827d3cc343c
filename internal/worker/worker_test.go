package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/listingrisk/internal/assessment"
	"github.com/opensource-finance/listingrisk/internal/bus"
	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/market"
	"github.com/opensource-finance/listingrisk/internal/repository"
)

type recordingAssessor struct {
	mu       sync.Mutex
	ids      []string
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	done     chan string
}

func newRecordingAssessor(buffer int) *recordingAssessor {
	return &recordingAssessor{done: make(chan string, buffer)}
}

func (r *recordingAssessor) Assess(ctx context.Context, l *domain.Listing, docs []domain.DocumentResult) (*domain.RiskAssessment, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		old := r.peak.Load()
		if n <= old || r.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.ids = append(r.ids, l.ID)
	r.mu.Unlock()
	r.done <- l.ID
	return &domain.RiskAssessment{ListingID: l.ID, RiskTier: domain.RiskLow}, nil
}

func publishListing(t *testing.T, b domain.EventBus, l *domain.Listing) {
	t.Helper()
	payload, _ := json.Marshal(l)
	if err := b.Publish(context.Background(), domain.TopicListingIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitFor(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case id := <-ch:
			got = append(got, id)
		case <-timeout:
			t.Fatalf("timed out after %d of %d assessments", len(got), n)
		}
	}
	return got
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, newRecordingAssessor(1))
		if err := w.Start(Config{WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicListingIngested {
			t.Errorf("unexpected stats: %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
		if err := w.Stop(); err != nil {
			t.Errorf("second Stop failed: %v", err)
		}
	})

	t.Run("AssessesIngestedListing", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		assessor := newRecordingAssessor(1)
		w := NewWorker(eventBus, assessor)
		if err := w.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		publishListing(t, eventBus, &domain.Listing{ID: "listing-001", OwnerID: "owner-1"})

		got := waitFor(t, assessor.done, 1)
		if got[0] != "listing-001" {
			t.Errorf("expected listing-001, got %s", got[0])
		}
	})

	t.Run("BoundedConcurrency", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		assessor := newRecordingAssessor(10)
		assessor.delay = 20 * time.Millisecond
		w := NewWorker(eventBus, assessor)
		if err := w.Start(Config{WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
			publishListing(t, eventBus, &domain.Listing{ID: id, OwnerID: "owner"})
		}

		waitFor(t, assessor.done, 6)
		if peak := assessor.peak.Load(); peak > 2 {
			t.Errorf("expected at most 2 concurrent assessments, saw %d", peak)
		}
	})

	t.Run("StopWaitsForInFlight", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		assessor := newRecordingAssessor(1)
		assessor.delay = 50 * time.Millisecond
		w := NewWorker(eventBus, assessor)
		_ = w.Start(Config{WorkerCount: 1})

		publishListing(t, eventBus, &domain.Listing{ID: "slow", OwnerID: "owner"})
		deadline := time.Now().Add(time.Second)
		for assessor.inFlight.Load() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}

		_ = w.Stop()
		select {
		case <-assessor.done:
		default:
			t.Error("expected in-flight assessment to finish before Stop returned")
		}
	})
}

func TestHandleMessage(t *testing.T) {
	w := NewWorker(bus.NewChannelBus(1), newRecordingAssessor(1))
	w.sem = make(chan struct{}, 1)

	t.Run("MalformedPayload", func(t *testing.T) {
		err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: []byte("{not json")})
		if err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("MissingListingID", func(t *testing.T) {
		err := w.handleMessage(context.Background(), &domain.Message{ID: "m2", Payload: []byte(`{"ownerId":"o"}`)})
		if err == nil {
			t.Error("expected missing id error")
		}
	})

	t.Run("AfterStop", func(t *testing.T) {
		_ = w.Stop()
		err := w.handleMessage(context.Background(), &domain.Message{ID: "m3", Payload: []byte(`{"id":"x"}`)})
		if err == nil {
			t.Error("expected error after stop")
		}
	})
}

// The full pipeline: ingest publishes, the worker assesses and persists.
func TestWorkerPipeline(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	analyzer := assessorFunc(func(ctx context.Context, l *domain.Listing, mc domain.MarketContext) domain.FraudAnalysisResult {
		return domain.FraudAnalysisResult{SuspiciousScore: 0.2, RiskLevel: domain.RiskLow, Source: domain.SourceFallback}
	})
	svc := assessment.NewService(repo, market.New(market.DefaultTable()), analyzer, assessment.WithBus(eventBus))

	completed := make(chan string, 1)
	sub, err := eventBus.Subscribe(ctx, domain.TopicAssessmentCompleted, func(ctx context.Context, msg *domain.Message) error {
		var a domain.RiskAssessment
		if err := json.Unmarshal(msg.Payload, &a); err != nil {
			return err
		}
		completed <- a.ListingID
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	w := NewWorker(eventBus, svc)
	if err := w.Start(Config{WorkerCount: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := svc.Ingest(ctx, &domain.Listing{
		ID:        "pipeline-001",
		OwnerID:   "owner-1",
		Price:     9_000_000,
		FloorArea: 900,
		Location:  "Kilimani",
	}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	select {
	case id := <-completed:
		if id != "pipeline-001" {
			t.Errorf("expected pipeline-001, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assessment")
	}

	examples, err := repo.ListTrainingExamples(ctx)
	if err != nil {
		t.Fatalf("ListTrainingExamples failed: %v", err)
	}
	if len(examples) != 1 {
		t.Errorf("expected 1 training example, got %d", len(examples))
	}
}

type assessorFunc func(ctx context.Context, l *domain.Listing, mc domain.MarketContext) domain.FraudAnalysisResult

func (f assessorFunc) Assess(ctx context.Context, l *domain.Listing, mc domain.MarketContext) domain.FraudAnalysisResult {
	return f(ctx, l, mc)
}
