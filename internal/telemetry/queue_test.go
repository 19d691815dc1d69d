package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memShipper records shipped events; optionally fails the first N batches.
type memShipper struct {
	mu        sync.Mutex
	events    []Event
	failFirst int
	batches   int
}

func (s *memShipper) Ship(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.batches <= s.failFirst {
		return fmt.Errorf("sink unreachable")
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *memShipper) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestQueueDisabledDrops(t *testing.T) {
	shipper := &memShipper{}
	q := NewQueue(shipper, nil)
	q.Start(context.Background())
	defer q.Stop()

	q.Offer(Event{Type: EventTraceCreate, TraceID: "t"})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, shipper.snapshot())
	assert.Equal(t, int64(1), q.Stats().Dropped)
}

func TestQueueConcurrentProducersAllConsumedInOrder(t *testing.T) {
	shipper := &memShipper{}
	q := NewQueue(shipper, nil)
	q.Enable()
	q.Start(context.Background())

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Offer(Event{
					Type:    EventGenerationCreate,
					TraceID: fmt.Sprintf("producer-%d", p),
					Attempt: i,
				})
			}
		}(p)
	}
	wg.Wait()
	q.Stop()

	events := shipper.snapshot()
	require.Len(t, events, producers*perProducer, "every offered event must be consumed")

	// Each producer's own FIFO order is preserved; global interleaving
	// across producers is unconstrained.
	next := make(map[string]int)
	for _, e := range events {
		assert.Equal(t, next[e.TraceID], e.Attempt, "per-producer order for %s", e.TraceID)
		next[e.TraceID]++
	}
}

func TestQueueContinuesAfterShipFailure(t *testing.T) {
	shipper := &memShipper{failFirst: 1}
	q := NewQueue(shipper, nil)
	q.Enable()
	q.Start(context.Background())

	q.Offer(Event{Type: EventTraceCreate, TraceID: "first"})
	require.Eventually(t, func() bool {
		shipper.mu.Lock()
		defer shipper.mu.Unlock()
		return shipper.batches >= 1
	}, time.Second, 10*time.Millisecond)

	q.Offer(Event{Type: EventTraceCreate, TraceID: "second"})
	q.Stop()

	events := shipper.snapshot()
	require.Len(t, events, 1, "consumer keeps draining after a failed send")
	assert.Equal(t, "second", events[0].TraceID)
}

func TestQueueStopDrains(t *testing.T) {
	shipper := &memShipper{}
	q := NewQueue(shipper, nil)
	q.Enable()
	q.Start(context.Background())

	for i := 0; i < 20; i++ {
		q.Offer(Event{Type: EventGenerationCreate, TraceID: "t", Attempt: i})
	}
	q.Stop()

	assert.Len(t, shipper.snapshot(), 20)
}

func TestQueueStopWithoutStart(t *testing.T) {
	q := NewQueue(&memShipper{}, nil)
	q.Stop() // must not hang
}

func TestHTTPShipperPostsBatch(t *testing.T) {
	var gotUser, gotPass string
	var got envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	shipper := NewHTTPShipper(HTTPShipperConfig{Host: srv.URL, PublicKey: "pk", SecretKey: "sk"})
	err := shipper.Ship(context.Background(), []Event{
		{Type: EventTraceCreate, TraceID: "t1"},
		{Type: EventGenerationCreate, TraceID: "t1", Stage: "decomposition"},
	})

	require.NoError(t, err)
	assert.Equal(t, "pk", gotUser)
	assert.Equal(t, "sk", gotPass)
	require.Len(t, got.Batch, 2)
	assert.Equal(t, EventTraceCreate, got.Batch[0].Type)
}

func TestHTTPShipperErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	shipper := NewHTTPShipper(HTTPShipperConfig{Host: srv.URL})
	err := shipper.Ship(context.Background(), []Event{{Type: EventTraceCreate}})
	assert.Error(t, err)
}
