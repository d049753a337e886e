package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xparking_bus_commands_published_total",
		Help: "Commands successfully published to the bus",
	})
	commandRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xparking_bus_command_retries_total",
		Help: "Publish failures that caused head-of-queue reinsertion",
	})
	commandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xparking_bus_command_queue_depth",
		Help: "Commands waiting in the outbound queue",
	})
)

// Publisher is the transport the queue drains into. *Client satisfies
// it; tests use a fake.
type Publisher interface {
	Publish(topic string, qos byte, retain bool, payload string) error
}

// CommandQueue serializes outbound actuator commands with a minimum
// inter-publish spacing. A failed publish is reinserted at the head so
// it retries before anything enqueued after it; commands are never
// dropped.
type CommandQueue struct {
	pub     Publisher
	logger  *slog.Logger
	spacing time.Duration

	mu          sync.Mutex
	pending     []Command
	lastPublish time.Time
}

// NewCommandQueue builds a queue draining into pub. spacing <= 0
// selects the 100ms default.
func NewCommandQueue(pub Publisher, spacing time.Duration, logger *slog.Logger) *CommandQueue {
	if spacing <= 0 {
		spacing = 100 * time.Millisecond
	}
	return &CommandQueue{pub: pub, spacing: spacing, logger: logger}
}

// Enqueue appends a command. Non-blocking.
func (q *CommandQueue) Enqueue(topic, payload string, qos byte, retain bool) {
	q.mu.Lock()
	q.pending = append(q.pending, Command{
		Topic:      topic,
		Payload:    payload,
		QoS:        qos,
		Retain:     retain,
		EnqueuedAt: time.Now(),
	})
	commandQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()
}

// Len reports the number of queued commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run drains the queue until ctx is cancelled. At most one command is
// published per spacing interval.
func (q *CommandQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.spacing / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.drainOne()
		}
	}
}

// drainOne publishes the head command if the spacing interval has
// elapsed, reinserting it on failure.
func (q *CommandQueue) drainOne() {
	q.mu.Lock()
	if len(q.pending) == 0 || time.Since(q.lastPublish) < q.spacing {
		q.mu.Unlock()
		return
	}
	cmd := q.pending[0]
	q.pending = q.pending[1:]
	q.lastPublish = time.Now()
	commandQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	if err := q.pub.Publish(cmd.Topic, cmd.QoS, cmd.Retain, cmd.Payload); err != nil {
		q.logger.Error("publish failed, retrying at head of queue",
			"topic", cmd.Topic, "payload", cmd.Payload, "error", err)
		commandRetries.Inc()
		q.mu.Lock()
		q.pending = append([]Command{cmd}, q.pending...)
		commandQueueDepth.Set(float64(len(q.pending)))
		q.mu.Unlock()
		return
	}

	commandsPublished.Inc()
	q.logger.Debug("command published", "topic", cmd.Topic, "payload", cmd.Payload)
}
