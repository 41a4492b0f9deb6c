package outbox

import (
	"context"
	"errors"
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

type memStore struct {
	mu      sync.Mutex
	pending []Message
	sent    []string
	retried map[string]int
	dead    map[string]string
	claims  int
}

func newMemStore(msgs ...Message) *memStore {
	return &memStore{pending: msgs, retried: map[string]int{}, dead: map[string]string{}}
}

func (s *memStore) Claim(_ context.Context, limit int, _ time.Duration) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	out := append([]Message(nil), s.pending[:limit]...)
	s.pending = s.pending[limit:]
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, id)
	return nil
}

func (s *memStore) MarkRetry(_ context.Context, id string, attempts int, _ time.Time, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried[id] = attempts
	return nil
}

func (s *memStore) MarkDead(_ context.Context, id string, _ int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[id] = lastErr
	return nil
}

type sinkFunc func(ctx context.Context, m Message) error

func (f sinkFunc) Deliver(ctx context.Context, m Message) error { return f(ctx, m) }

func TestFlushMarksDeliveredMessagesSent(t *testing.T) {
	a := NewMessage("trade.order.paid", "o1", "OrderPaid", []byte(`{}`))
	b := NewMessage("trade.order.paid", "o2", "OrderPaid", []byte(`{}`))
	store := newMemStore(a, b)

	var got []string
	r := NewRelay(store, sinkFunc(func(_ context.Context, m Message) error {
		got = append(got, m.Key)
		return nil
	}), RelayConfig{}, nil)

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"o1", "o2"}, got)
	assert.Equal(t, []string{a.ID, b.ID}, store.sent)
}

func TestFlushSchedulesRetryOnSinkError(t *testing.T) {
	m := NewMessage("t", "k", "OrderPaid", nil)
	store := newMemStore(m)
	r := NewRelay(store, sinkFunc(func(context.Context, Message) error {
		return errors.New("broker down")
	}), RelayConfig{MaxAttempts: 3}, nil)

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.retried[m.ID])
	assert.Empty(t, store.dead)
	assert.Empty(t, store.sent)
}

func TestFlushDeadLettersAfterMaxAttempts(t *testing.T) {
	m := NewMessage("t", "k", "OrderPaid", nil)
	m.Attempts = 2
	store := newMemStore(m)
	r := NewRelay(store, sinkFunc(func(context.Context, Message) error {
		return errors.New("rejected")
	}), RelayConfig{MaxAttempts: 3}, nil)

	_, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rejected", store.dead[m.ID])
	assert.NotContains(t, store.retried, m.ID)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newMemStore()
	r := NewRelay(store, sinkFunc(func(context.Context, Message) error { return nil }),
		RelayConfig{Poll: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.claims >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestBackoff(t *testing.T) {
	base, max := time.Second, 5*time.Minute
	assert.Equal(t, time.Second, Backoff(0, base, max))
	assert.Equal(t, time.Second, Backoff(1, base, max))
	assert.Equal(t, 2*time.Second, Backoff(2, base, max))
	assert.Equal(t, 8*time.Second, Backoff(4, base, max))
	assert.Equal(t, max, Backoff(10, base, max))
	assert.Equal(t, max, Backoff(60, base, max))
}
