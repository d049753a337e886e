package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	failures  map[string]int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failures: make(map[string]int)}
}

// failNext makes the next n publishes of payload fail.
func (p *fakePublisher) failNext(payload string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[payload] = n
}

func (p *fakePublisher) Publish(_ string, _ byte, _ bool, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.failures[payload]; n > 0 {
		p.failures[payload] = n - 1
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, payload)
	return nil
}

func (p *fakePublisher) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestCommandQueue_FIFO(t *testing.T) {
	pub := newFakePublisher()
	q := NewCommandQueue(pub, 4*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Enqueue(TopicCommand, "first", 1, false)
	q.Enqueue(TopicCommand, "second", 1, false)
	q.Enqueue(TopicCommand, "third", 1, false)

	waitFor(t, time.Second, func() bool { return len(pub.snapshot()) == 3 })
	assert.Equal(t, []string{"first", "second", "third"}, pub.snapshot())
}

func TestCommandQueue_FailedPublishRetriesBeforeLaterCommands(t *testing.T) {
	pub := newFakePublisher()
	pub.failNext("first", 2)
	q := NewCommandQueue(pub, 4*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Enqueue(TopicCommand, "first", 1, false)
	q.Enqueue(TopicCommand, "second", 1, false)

	waitFor(t, time.Second, func() bool { return len(pub.snapshot()) == 2 })
	assert.Equal(t, []string{"first", "second"}, pub.snapshot(),
		"the failed command must publish before anything enqueued after it")
}

func TestCommandQueue_SpacingBetweenPublishes(t *testing.T) {
	pub := newFakePublisher()
	spacing := 20 * time.Millisecond
	q := NewCommandQueue(pub, spacing, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	start := time.Now()
	q.Enqueue(TopicCommand, "a", 1, false)
	q.Enqueue(TopicCommand, "b", 1, false)

	waitFor(t, time.Second, func() bool { return len(pub.snapshot()) == 2 })
	require.GreaterOrEqual(t, time.Since(start), spacing,
		"second command must wait at least one spacing interval")
}

func TestCommandQueue_EnqueueNonBlocking(t *testing.T) {
	// No drain loop running: Enqueue must still return immediately.
	q := NewCommandQueue(newFakePublisher(), time.Millisecond, testLogger())
	for i := 0; i < 100; i++ {
		q.Enqueue(TopicCommand, "payload", 1, false)
	}
	assert.Equal(t, 100, q.Len())
}
