package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type chanReader struct {
	in chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *chanReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumerCommitsAfterHandlerSucceeds(t *testing.T) {
	r := &chanReader{in: make(chan kafka.Message, 8)}
	c := NewConsumerWithReader(r, 3, nil)
	c.retryBase = time.Millisecond

	var mu sync.Mutex
	calls := map[int64]int{}
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls[m.Offset]++
		if m.Offset == 2 && calls[m.Offset] < 3 {
			return errors.New("db unavailable")
		}
		return nil
	}

	for i := int64(1); i <= 4; i++ {
		r.in <- kafka.Message{Offset: i, Key: []byte("order-1")}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// one partition, one worker: offsets commit in order
	assert.Equal(t, []int64{1, 2, 3, 4}, r.commits())
	mu.Lock()
	assert.Equal(t, 3, calls[2])
	mu.Unlock()
	assert.True(t, r.closed)
}

func TestConsumerStopsWithoutMessages(t *testing.T) {
	r := &chanReader{in: make(chan kafka.Message)}
	c := NewConsumerWithReader(r, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, func(context.Context, kafka.Message) error { return nil }) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumerCommitsPartitionInOffsetOrder(t *testing.T) {
	r := &chanReader{in: make(chan kafka.Message, 8)}
	c := NewConsumerWithReader(r, 2, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	h := func(ctx context.Context, m kafka.Message) error {
		if m.Offset == 10 {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	// different orders, same partition
	r.in <- kafka.Message{Partition: 0, Offset: 10, Key: []byte("order-a")}
	r.in <- kafka.Message{Partition: 0, Offset: 11, Key: []byte("order-b")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	<-started
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.commits(), "offset 11 committed while 10 is in flight")

	close(release)
	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []int64{10, 11}, r.commits())
}

func TestSlotByPartition(t *testing.T) {
	assert.Equal(t, slot(3, 4), slot(3, 4))
	assert.Equal(t, 1, slot(5, 4))
	assert.Equal(t, 0, slot(7, 1))
	assert.Equal(t, 0, slot(-1, 4))
}
