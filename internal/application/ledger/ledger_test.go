package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-planner/internal/domain/delivery"
	"github.com/alem-hub/study-planner/pkg/logger"
	"github.com/alem-hub/study-planner/pkg/retry"
)

// memoryStore folds attempts with the domain rule under a mutex.
type memoryStore struct {
	mu       sync.Mutex
	stats    delivery.Stats
	failures []error
	calls    int
}

func (s *memoryStore) Record(_ context.Context, a delivery.Attempt) (delivery.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return delivery.Stats{}, err
	}
	s.stats = s.stats.Apply(a)
	return s.stats, nil
}

func (s *memoryStore) Load(context.Context) (delivery.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

type publisherFunc func(ctx context.Context, stats delivery.Stats) error

func (f publisherFunc) PublishStats(ctx context.Context, stats delivery.Stats) error {
	return f(ctx, stats)
}

func newLedger(store delivery.Store, publishers ...StatsPublisher) *Ledger {
	now := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC)
	return New(store, logger.Discard(), Config{
		Retrier:    retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond)),
		Publishers: publishers,
		Now:        func() time.Time { return now },
	})
}

func TestLedger_RecordSuccess(t *testing.T) {
	store := &memoryStore{}
	l := newLedger(store)

	require.NoError(t, l.RecordAttempt(context.Background(), true, nil))

	stats, err := l.ReadStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalScheduled)
	assert.Equal(t, int64(1), stats.TotalDelivered)
	assert.True(t, stats.LastAttemptSucceeded)
	assert.Equal(t, 1.0, stats.DeliveryRate())
	assert.True(t, stats.IsReliable())
}

func TestLedger_RecordFailureReason(t *testing.T) {
	store := &memoryStore{}
	l := newLedger(store)

	reason := "quota_exceeded"
	require.NoError(t, l.RecordAttempt(context.Background(), false, &reason))

	stats, err := l.ReadStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalFailed)
	require.NotNil(t, stats.LastFailureReason)
	assert.Equal(t, "quota_exceeded", *stats.LastFailureReason)
	assert.False(t, stats.IsReliable())
}

func TestLedger_RetriesTransientStoreErrors(t *testing.T) {
	store := &memoryStore{failures: []error{retry.Retryable(errors.New("busy"))}}
	l := newLedger(store)

	require.NoError(t, l.RecordAttempt(context.Background(), true, nil))
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, int64(1), store.stats.TotalScheduled)
}

func TestLedger_PersistentFailureReturnsError(t *testing.T) {
	store := &memoryStore{failures: []error{errors.New("disk full")}}
	l := newLedger(store)

	ch, cancel := l.Subscribe(1)
	defer cancel()

	err := l.RecordAttempt(context.Background(), true, nil)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, store.calls)

	select {
	case <-ch:
		t.Fatal("no snapshot expected after a failed write")
	default:
	}
}

func TestLedger_SubscribersSeeUpdates(t *testing.T) {
	var published []delivery.Stats
	pub := publisherFunc(func(_ context.Context, s delivery.Stats) error {
		published = append(published, s)
		return errors.New("redis down")
	})
	l := newLedger(&memoryStore{}, pub)
	defer l.Close()

	ch, cancel := l.Subscribe(4)
	defer cancel()

	require.NoError(t, l.RecordAttempt(context.Background(), true, nil))
	require.NoError(t, l.RecordAttempt(context.Background(), false, nil))

	first := <-ch
	second := <-ch
	assert.Equal(t, int64(1), first.TotalScheduled)
	assert.Equal(t, int64(2), second.TotalScheduled)
	assert.Len(t, published, 2)
}

func TestLedger_ConcurrentRecords(t *testing.T) {
	store := &memoryStore{}
	l := newLedger(store)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.RecordAttempt(context.Background(), i%5 != 0, nil))
		}(i)
	}
	wg.Wait()

	stats, err := l.ReadStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(50), stats.TotalScheduled)
	assert.Equal(t, int64(40), stats.TotalDelivered)
	assert.Equal(t, int64(10), stats.TotalFailed)
}
