package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"xparking/pkg/platform/sentinel"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xparking_payment_sessions_started_total",
		Help: "Payment sessions opened for QR reconciliation.",
	})
	sessionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xparking_payment_sessions_resolved_total",
		Help: "Payment sessions resolved, by outcome.",
	}, []string{"outcome"})
	feedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xparking_payment_feed_errors_total",
		Help: "Failed transaction feed polls.",
	})
)

// Callbacks receive the outcome of a payment session. Exactly one of
// OnMatched or OnTimeout fires per session, and neither fires after a
// successful Cancel.
type Callbacks struct {
	OnMatched func(sess Session, tx Transaction)
	OnTimeout func(sess Session)
}

// Checkout is what the caller shows the driver.
type Checkout struct {
	SessionID      string
	Description    string
	Amount         int64
	DisplayPayload string
}

// Engine opens payment sessions and reconciles them against the bank
// transaction feed. Each session gets its own polling goroutine; the
// session store is the single source of truth for whether a session is
// still open, so match, timeout and cancel resolve their race through
// Remove.
type Engine struct {
	store        SessionStore
	feed         TransactionFeed
	qr           QRConfig
	pollInterval time.Duration
	maxWait      time.Duration
	logger       *slog.Logger

	// workers is the engine's own lifecycle. Pollers run on it, not on
	// the ctx passed to Start, so they outlive the triggering request.
	workers     context.Context
	stopWorkers context.CancelFunc

	mu      sync.Mutex
	watched map[string]struct{}
}

func NewEngine(store SessionStore, feed TransactionFeed, qr QRConfig, pollInterval, maxWait time.Duration, logger *slog.Logger) *Engine {
	workers, stop := context.WithCancel(context.Background())
	return &Engine{
		store:        store,
		feed:         feed,
		qr:           qr,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		logger:       logger,
		workers:      workers,
		stopWorkers:  stop,
		watched:      make(map[string]struct{}),
	}
}

// Close stops every reconcile goroutine. Pending sessions stay in the
// store for the next process to sweep.
func (e *Engine) Close() {
	e.stopWorkers()
}

// Start opens a session for the given exit and begins reconciling.
// ctx covers only the session write; the reconcile goroutine runs on
// the engine's lifecycle and stops when the session resolves, the
// deadline passes, or the engine is closed.
func (e *Engine) Start(ctx context.Context, vehicleRef, plate string, hours, amount int64, cb Callbacks) (Checkout, error) {
	now := time.Now()
	sess := Session{
		ID:          uuid.NewString(),
		Description: NewDescription(plate, hours, now),
		Amount:      amount,
		Plate:       plate,
		Hours:       hours,
		VehicleRef:  vehicleRef,
		CreatedAt:   now,
	}

	if err := e.store.Put(ctx, sess); err != nil {
		return Checkout{}, fmt.Errorf("open payment session: %w", err)
	}
	sessionsStarted.Inc()

	e.logger.Info("payment session opened",
		"session_id", sess.ID,
		"plate", sess.Plate,
		"amount", sess.Amount,
		"description", sess.Description)

	e.watch(sess.ID)
	go e.reconcile(e.workers, sess, cb)

	return Checkout{
		SessionID:      sess.ID,
		Description:    sess.Description,
		Amount:         sess.Amount,
		DisplayPayload: e.qr.DisplayPayload(sess.Amount, sess.Description),
	}, nil
}

// Cancel removes a pending session. It reports whether the session was
// still open; cancelling twice, or after resolution, returns false.
func (e *Engine) Cancel(ctx context.Context, id string) bool {
	removed, err := e.store.Remove(ctx, id)
	if err != nil {
		e.logger.Error("cancel payment session", "session_id", id, "error", err)
		return false
	}
	if removed {
		sessionsResolved.WithLabelValues("cancelled").Inc()
		e.logger.Info("payment session cancelled", "session_id", id)
	}
	return removed
}

// SweepExpired removes overdue sessions left over from a crash. A
// session with a live poller is never reaped here: the poller owns its
// timeout, and a sweep racing it would strip the session before the
// timeout callback could fire. Returns the number removed.
func (e *Engine) SweepExpired(ctx context.Context) int {
	ids, err := e.store.ActiveIDs(ctx)
	if err != nil {
		e.logger.Error("sweep expired payment sessions", "error", err)
		return 0
	}

	cutoff := time.Now().Add(-e.maxWait)
	removed := 0
	for _, id := range ids {
		if e.watching(id) {
			continue
		}
		sess, err := e.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if !sess.CreatedAt.Before(cutoff) {
			continue
		}
		ok, err := e.store.Remove(ctx, id)
		if err != nil {
			e.logger.Error("reap expired payment session", "session_id", id, "error", err)
			continue
		}
		if ok {
			sessionsResolved.WithLabelValues("expired").Inc()
			removed++
		}
	}
	if removed > 0 {
		e.logger.Info("swept expired payment sessions", "count", removed)
	}
	return removed
}

func (e *Engine) watch(id string) {
	e.mu.Lock()
	e.watched[id] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) unwatch(id string) {
	e.mu.Lock()
	delete(e.watched, id)
	e.mu.Unlock()
}

func (e *Engine) watching(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.watched[id]
	return ok
}

func (e *Engine) reconcile(ctx context.Context, sess Session, cb Callbacks) {
	defer e.unwatch(sess.ID)
	deadline := sess.CreatedAt.Add(e.maxWait)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				e.resolveTimeout(ctx, sess, cb)
				return
			}
			done := e.poll(ctx, sess, cb)
			if done {
				return
			}
		}
	}
}

// poll runs one reconciliation cycle. It returns true when the session
// is resolved or gone and the goroutine should stop.
func (e *Engine) poll(ctx context.Context, sess Session, cb Callbacks) bool {
	if _, err := e.store.Get(ctx, sess.ID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Cancelled or resolved elsewhere.
			return true
		}
		e.logger.Error("check payment session", "session_id", sess.ID, "error", err)
		return false
	}

	txs, err := e.feed.ListRecent(ctx)
	if err != nil {
		feedErrors.Inc()
		e.logger.Warn("transaction feed poll failed", "session_id", sess.ID, "error", err)
		return false
	}

	for _, tx := range txs {
		if matches(sess, tx) {
			return e.resolveMatch(ctx, sess, tx, cb)
		}
	}
	return false
}

// matches requires the exact expected amount and the correlation token
// somewhere in the transfer memo. Banks mangle case and concatenate
// surrounding text, so the memo check is a case-insensitive contains.
func matches(sess Session, tx Transaction) bool {
	if tx.Amount != sess.Amount {
		return false
	}
	return strings.Contains(strings.ToLower(tx.Memo), strings.ToLower(sess.Description))
}

func (e *Engine) resolveMatch(ctx context.Context, sess Session, tx Transaction, cb Callbacks) bool {
	removed, err := e.store.Remove(ctx, sess.ID)
	if err != nil {
		e.logger.Error("close matched payment session", "session_id", sess.ID, "error", err)
		return false
	}
	if !removed {
		// Lost the race to a cancel.
		return true
	}

	sessionsResolved.WithLabelValues("matched").Inc()
	e.logger.Info("payment matched",
		"session_id", sess.ID,
		"plate", sess.Plate,
		"amount", tx.Amount,
		"transaction_id", tx.ID)
	if cb.OnMatched != nil {
		cb.OnMatched(sess, tx)
	}
	return true
}

func (e *Engine) resolveTimeout(ctx context.Context, sess Session, cb Callbacks) {
	removed, err := e.store.Remove(ctx, sess.ID)
	if err != nil {
		e.logger.Error("close timed out payment session", "session_id", sess.ID, "error", err)
		return
	}
	if !removed {
		return
	}

	sessionsResolved.WithLabelValues("timeout").Inc()
	e.logger.Info("payment timed out", "session_id", sess.ID, "plate", sess.Plate)
	if cb.OnTimeout != nil {
		cb.OnTimeout(sess)
	}
}
