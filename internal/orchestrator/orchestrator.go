package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"xparking/internal/audit"
	"xparking/internal/bus"
	"xparking/internal/payment"
	"xparking/internal/vehicle"
	"xparking/pkg/platform/sentinel"
)

// State of the vehicle lifecycle machine.
type State string

const (
	StateIdle                State = "IDLE"
	StateEntryScanning       State = "ENTRY_SCANNING"
	StateEntryFinalizing     State = "ENTRY_FINALIZING"
	StateExitValidating      State = "EXIT_VALIDATING_CREDENTIAL"
	StateExitScanning        State = "EXIT_SCANNING"
	StateExitFeeComputed     State = "EXIT_FEE_COMPUTED"
	StateExitAwaitingPayment State = "EXIT_AWAITING_PAYMENT"
	StateExitFinalizing      State = "EXIT_FINALIZING"
)

// Operation names the exclusive in-flight operation.
type Operation string

const (
	OpIdle  Operation = "IDLE"
	OpEntry Operation = "ENTRY"
	OpExit  Operation = "EXIT"
)

// ErrBusy is returned when a trigger arrives while another operation
// is in flight. The trigger is rejected, never queued.
var ErrBusy = errors.New("another operation is in flight")

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xparking_operations_total",
		Help: "Entry and exit operations, by outcome.",
	}, []string{"operation", "outcome"})
	occupancyGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xparking_lot_occupancy",
		Help: "Vehicles currently in the lot.",
	})
	alertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xparking_alerts_total",
		Help: "Emergency alerts received from the sensor controller.",
	})
)

// PaymentPrompt is what the caller renders when an exit awaits
// payment.
type PaymentPrompt struct {
	SessionID      string
	Description    string
	Amount         int64
	DisplayPayload string
}

// PaymentResult reports how an awaited payment ended.
type PaymentResult struct {
	Success bool
	Detail  string
	Fee     int64
	Plate   string
}

// Callbacks surface state to a UI or dashboard. All fields are
// optional. They are invoked from orchestrator goroutines and must not
// block.
type Callbacks struct {
	OnStateChanged  func(State)
	OnPaymentPrompt func(PaymentPrompt)
	OnPaymentResult func(PaymentResult)
	OnAlert         func(bus.Alert)
}

// Config carries the orchestrator's tunables.
type Config struct {
	Capacity      int
	HourlyRate    int64
	MinConfidence float64
	MinPlateLen   int
}

// activeOp is the ephemeral record of the one in-flight operation.
type activeOp struct {
	kind             Operation
	state            State
	plate            string
	credential       string
	operator         string
	sessionRef       string
	paymentSessionID string
	imageRef         string
	fee              int64
	hours            int64
}

// paymentOutcome travels from engine callbacks and manual overrides to
// the single dispatch loop, which owns all domain effects of a
// resolved payment.
type paymentOutcome struct {
	sessionID string
	matched   bool
	timedOut  bool
	cash      bool
	txID      string
	operator  string
}

// Orchestrator serializes the vehicle entry/exit lifecycle. One
// operation is in flight at a time; triggers during an active
// operation are rejected with the matching scan-fail command.
type Orchestrator struct {
	cfg        Config
	store      vehicle.Store
	engine     *payment.Engine
	recognizer Recognizer
	frames     FrameSource
	images     ImageStore
	queue      *bus.CommandQueue
	auditor    *audit.Publisher
	callbacks  Callbacks
	logger     *slog.Logger

	mu       sync.Mutex
	op       activeOp
	barriers map[bus.Lane]bool
	slots    int
	smoke    bus.SmokeSensor
	alerting bool

	outcomes chan paymentOutcome
}

func New(cfg Config, store vehicle.Store, engine *payment.Engine, recognizer Recognizer, frames FrameSource, images ImageStore, queue *bus.CommandQueue, auditor *audit.Publisher, callbacks Callbacks, logger *slog.Logger) *Orchestrator {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}
	if cfg.MinPlateLen <= 0 {
		cfg.MinPlateLen = 4
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		engine:     engine,
		recognizer: recognizer,
		frames:     frames,
		images:     images,
		queue:      queue,
		auditor:    auditor,
		callbacks:  callbacks,
		logger:     logger,
		op:         activeOp{kind: OpIdle, state: StateIdle},
		barriers:   make(map[bus.Lane]bool),
		outcomes:   make(chan paymentOutcome, 16),
	}
}

// Run consumes payment outcomes until ctx is done. Exactly one Run
// must be active; it is the only goroutine that finalizes exits.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-o.outcomes:
			o.applyOutcome(ctx, out)
		}
	}
}

// HandleEvent is the bus receive path. Triggers are handed to their
// own goroutine so recognition never blocks message delivery.
func (o *Orchestrator) HandleEvent(evt bus.Event) {
	switch e := evt.(type) {
	case bus.RFIDScanned:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if e.Lane == bus.LaneIn {
				o.TriggerEntry(ctx, e.Credential, "gate")
			} else {
				o.TriggerExit(ctx, e.Credential, "gate")
			}
		}()
	case bus.BarrierMoved:
		o.mu.Lock()
		o.barriers[e.Lane] = e.Open
		o.mu.Unlock()
	case bus.Alert:
		o.handleAlert(e)
	case bus.SmokeSensor:
		o.mu.Lock()
		o.smoke = e
		o.mu.Unlock()
	case bus.SmokeCleared:
		o.mu.Lock()
		o.alerting = false
		o.smoke.Status = "NORMAL"
		o.mu.Unlock()
		o.logger.Info("smoke alert cleared")
	case bus.SlotUpdate:
		o.mu.Lock()
		o.slots = e.Occupied
		o.mu.Unlock()
		occupancyGauge.Set(float64(e.Occupied))
	case bus.Unknown:
		o.logger.Warn("unknown bus event", "name", e.Name)
	}
}

func (o *Orchestrator) handleAlert(a bus.Alert) {
	o.mu.Lock()
	o.alerting = true
	o.mu.Unlock()

	alertsTotal.Inc()
	o.logger.Warn("alert raised", "type", a.Type, "smoke_value", a.SmokeValue)
	o.auditor.Publish(context.Background(), audit.Record{
		Action:     audit.ActionAlertRaised,
		AlertType:  a.Type,
		SmokeValue: a.SmokeValue,
	})
	if o.callbacks.OnAlert != nil {
		o.callbacks.OnAlert(a)
	}
}

// TriggerEntry runs the entry flow for a scanned credential.
func (o *Orchestrator) TriggerEntry(ctx context.Context, credential, operator string) error {
	if err := o.begin(OpEntry, StateEntryScanning, credential, operator); err != nil {
		o.queue.Enqueue(bus.TopicCommand, bus.CmdScanFailIn, 1, false)
		o.logger.Warn("entry trigger rejected", "credential", credential, "error", err)
		operationsTotal.WithLabelValues("entry", "rejected_busy").Inc()
		return err
	}

	rec, frame, err := o.scan(ctx, bus.LaneIn)
	if err != nil {
		o.fail(OpEntry, bus.CmdScanFailIn, "entry scan failed", err)
		return err
	}
	plate := strings.ToUpper(rec.Text)

	if existing, err := o.store.FindActiveByPlate(ctx, plate); err == nil && existing != nil {
		err := fmt.Errorf("plate %s: %w", plate, sentinel.ErrDuplicate)
		o.fail(OpEntry, bus.CmdScanFailIn, "duplicate entry", err)
		return err
	} else if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		o.fail(OpEntry, bus.CmdScanFailIn, "entry duplicate check failed", err)
		return err
	}

	count, err := o.store.ActiveCount(ctx)
	if err != nil {
		o.fail(OpEntry, bus.CmdScanFailIn, "entry capacity check failed", err)
		return err
	}
	if count >= o.cfg.Capacity {
		err := fmt.Errorf("lot full at %d: %w", count, sentinel.ErrCapacity)
		o.fail(OpEntry, bus.CmdScanFailIn, "capacity exceeded", err)
		return err
	}

	o.setState(StateEntryFinalizing)
	now := time.Now()
	ref := entryImageRef(plate, now)
	id, err := o.store.CreateEntry(ctx, vehicle.Entry{
		Plate:      plate,
		Credential: strings.ToUpper(credential),
		EntryTime:  now,
		ImageRef:   ref,
		Operator:   operator,
	})
	if err != nil {
		o.fail(OpEntry, bus.CmdScanFailIn, "persist entry failed", err)
		return err
	}
	o.saveImage(ctx, ref, frame)

	o.queue.Enqueue(bus.TopicCommand, bus.CmdScanSuccessIn, 1, false)
	o.auditor.Publish(ctx, audit.Record{
		Action:     audit.ActionVehicleEntered,
		Plate:      plate,
		Credential: credential,
		Lane:       string(bus.LaneIn),
		Operator:   operator,
	})
	o.logger.Info("vehicle entered", "plate", plate, "session_id", id, "operator", operator)
	operationsTotal.WithLabelValues("entry", "success").Inc()
	o.updateOccupancy(ctx)
	o.reset()
	return nil
}

// TriggerExit runs the exit flow up to the payment prompt. The
// operation stays active in EXIT_AWAITING_PAYMENT until the payment
// engine resolves or an operator intervenes.
func (o *Orchestrator) TriggerExit(ctx context.Context, credential, operator string) error {
	if err := o.begin(OpExit, StateExitValidating, credential, operator); err != nil {
		o.queue.Enqueue(bus.TopicCommand, bus.CmdScanFailOut, 1, false)
		o.logger.Warn("exit trigger rejected", "credential", credential, "error", err)
		operationsTotal.WithLabelValues("exit", "rejected_busy").Inc()
		return err
	}

	sess, err := o.store.FindActiveByCredential(ctx, strings.ToUpper(credential))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			o.fail(OpExit, bus.CmdVehicleNotFound, "no vehicle for credential", err)
		} else {
			o.fail(OpExit, bus.CmdScanFailOut, "credential lookup failed", err)
		}
		return err
	}

	o.setState(StateExitScanning)
	rec, frame, err := o.scan(ctx, bus.LaneOut)
	if err != nil {
		o.fail(OpExit, bus.CmdScanFailOut, "exit scan failed", err)
		return err
	}

	if !strings.EqualFold(rec.Text, sess.Plate) {
		err := fmt.Errorf("scanned %s, stored %s", strings.ToUpper(rec.Text), sess.Plate)
		o.queue.Enqueue(bus.TopicCommand, bus.CmdRFIDMismatch, 1, false)
		o.logger.Error("plate mismatch on exit", "scanned", strings.ToUpper(rec.Text), "stored", sess.Plate, "credential", credential)
		operationsTotal.WithLabelValues("exit", "mismatch").Inc()
		o.reset()
		return err
	}

	o.setState(StateExitFeeComputed)
	hours := BilledHours(time.Since(sess.EntryTime))
	fee := hours * o.cfg.HourlyRate

	checkout, err := o.engine.Start(ctx, sess.ID, sess.Plate, hours, fee, payment.Callbacks{
		OnMatched: func(ps payment.Session, tx payment.Transaction) {
			o.outcomes <- paymentOutcome{sessionID: ps.ID, matched: true, txID: tx.ID}
		},
		OnTimeout: func(ps payment.Session) {
			o.outcomes <- paymentOutcome{sessionID: ps.ID, timedOut: true}
		},
	})
	if err != nil {
		o.fail(OpExit, bus.CmdScanFailOut, "start payment failed", err)
		return err
	}

	// The frame is archived now; finalization reuses the same ref so the
	// stored record names the file that was actually written.
	imageRef := exitImageRef(sess.Plate, time.Now())

	o.mu.Lock()
	o.op.state = StateExitAwaitingPayment
	o.op.plate = sess.Plate
	o.op.sessionRef = sess.ID
	o.op.paymentSessionID = checkout.SessionID
	o.op.imageRef = imageRef
	o.op.fee = fee
	o.op.hours = hours
	o.mu.Unlock()
	o.notifyState(StateExitAwaitingPayment)

	o.saveImage(ctx, imageRef, frame)
	o.queue.Enqueue(bus.TopicCommand, bus.CmdScanSuccessOut, 1, false)
	o.logger.Info("exit awaiting payment",
		"plate", sess.Plate,
		"fee", fee,
		"hours", hours,
		"payment_session", checkout.SessionID)
	if o.callbacks.OnPaymentPrompt != nil {
		o.callbacks.OnPaymentPrompt(PaymentPrompt{
			SessionID:      checkout.SessionID,
			Description:    checkout.Description,
			Amount:         checkout.Amount,
			DisplayPayload: checkout.DisplayPayload,
		})
	}
	return nil
}

// CancelPayment aborts the awaited payment. The vehicle stays in the
// lot; a later exit attempt opens a fresh payment session.
func (o *Orchestrator) CancelPayment(ctx context.Context) bool {
	o.mu.Lock()
	if o.op.state != StateExitAwaitingPayment {
		o.mu.Unlock()
		return false
	}
	sessionID := o.op.paymentSessionID
	plate := o.op.plate
	o.mu.Unlock()

	// Losing this race means the engine already resolved the session
	// and its outcome is on the way to the dispatch loop.
	if !o.engine.Cancel(ctx, sessionID) {
		return false
	}

	o.queue.Enqueue(bus.TopicCommand, bus.CmdPaymentFail, 1, false)
	o.auditor.Publish(ctx, audit.Record{
		Action:    audit.ActionPaymentCancelled,
		Plate:     plate,
		SessionID: sessionID,
	})
	o.logger.Info("payment cancelled", "plate", plate, "payment_session", sessionID)
	operationsTotal.WithLabelValues("exit", "cancelled").Inc()
	if o.callbacks.OnPaymentResult != nil {
		o.callbacks.OnPaymentResult(PaymentResult{Success: false, Detail: "cancelled", Plate: plate})
	}
	o.reset()
	return true
}

// ManualCashPayment settles the awaited fee in cash. The QR session is
// cancelled and the exit finalizes as paid.
func (o *Orchestrator) ManualCashPayment(ctx context.Context, confirmedBy string) error {
	o.mu.Lock()
	if o.op.state != StateExitAwaitingPayment {
		o.mu.Unlock()
		return fmt.Errorf("no payment awaited: %w", sentinel.ErrNotFound)
	}
	sessionID := o.op.paymentSessionID
	o.mu.Unlock()

	if !o.engine.Cancel(ctx, sessionID) {
		return fmt.Errorf("payment session already resolved: %w", sentinel.ErrNotFound)
	}

	o.outcomes <- paymentOutcome{sessionID: sessionID, cash: true, operator: confirmedBy}
	return nil
}

// ManualBarrier publishes a manual barrier command for an operator.
func (o *Orchestrator) ManualBarrier(ctx context.Context, lane bus.Lane, open bool, operator string) {
	var payload string
	switch {
	case lane == bus.LaneIn && open:
		payload = bus.CmdBarrierInOpen
	case lane == bus.LaneIn:
		payload = bus.CmdBarrierInClose
	case open:
		payload = bus.CmdBarrierOutOpen
	default:
		payload = bus.CmdBarrierOutClose
	}

	o.queue.Enqueue(bus.TopicManual, payload, 1, false)
	o.auditor.Publish(ctx, audit.Record{
		Action:      audit.ActionManualBarrier,
		Lane:        string(lane),
		Operator:    operator,
		Description: payload,
	})
	o.logger.Info("manual barrier command", "lane", lane, "payload", payload, "operator", operator)
}

// Snapshot is a point-in-time view for status endpoints.
type Snapshot struct {
	State          State
	Operation      Operation
	Plate          string
	Occupied       int
	SlotsReported  int
	Capacity       int
	Barriers       map[bus.Lane]bool
	SmokeValue     float64
	SmokeStatus    string
	AlertActive    bool
	AwaitedPayment string
}

// Status reports current lifecycle and sensor state. Occupancy comes
// from persistence; SlotsReported is the raw slot-sensor figure.
func (o *Orchestrator) Status(ctx context.Context) Snapshot {
	count, err := o.store.ActiveCount(ctx)
	if err != nil {
		o.logger.Error("active count for status", "error", err)
		count = -1
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	barriers := make(map[bus.Lane]bool, len(o.barriers))
	for k, v := range o.barriers {
		barriers[k] = v
	}
	return Snapshot{
		State:          o.op.state,
		Operation:      o.op.kind,
		Plate:          o.op.plate,
		Occupied:       count,
		SlotsReported:  o.slots,
		Capacity:       o.cfg.Capacity,
		Barriers:       barriers,
		SmokeValue:     o.smoke.Value,
		SmokeStatus:    o.smoke.Status,
		AlertActive:    o.alerting,
		AwaitedPayment: o.op.paymentSessionID,
	}
}

// begin claims the single operation slot or returns ErrBusy.
func (o *Orchestrator) begin(kind Operation, state State, credential, operator string) error {
	o.mu.Lock()
	if o.op.kind != OpIdle {
		busy := o.op.kind
		o.mu.Unlock()
		return fmt.Errorf("%w: %s active", ErrBusy, busy)
	}
	o.op = activeOp{kind: kind, state: state, credential: credential, operator: operator}
	o.mu.Unlock()
	o.notifyState(state)
	return nil
}

// scan grabs the lane's latest frame and runs recognition, enforcing
// the minimum confidence and plate length.
func (o *Orchestrator) scan(ctx context.Context, lane bus.Lane) (*Recognition, []byte, error) {
	frame, ok := o.frames.LatestFrame(lane)
	if !ok {
		return nil, nil, fmt.Errorf("no frame available on %s lane: %w", lane, sentinel.ErrUnavailable)
	}

	rec, err := o.recognizer.Recognize(ctx, frame)
	if err != nil {
		return nil, nil, fmt.Errorf("recognize plate: %w", err)
	}
	if rec == nil || len(rec.Text) < o.cfg.MinPlateLen || rec.Confidence < o.cfg.MinConfidence {
		return nil, nil, fmt.Errorf("no usable plate in frame: %w", sentinel.ErrUnavailable)
	}
	return rec, frame, nil
}

func (o *Orchestrator) saveImage(ctx context.Context, ref string, frame []byte) {
	if o.images == nil {
		return
	}
	if err := o.images.Save(ctx, ref, frame); err != nil {
		o.logger.Error("archive frame", "ref", ref, "error", err)
	}
}

// applyOutcome finalizes or fails the awaited exit. It runs only on
// the Run goroutine, so persistence updates never race.
func (o *Orchestrator) applyOutcome(ctx context.Context, out paymentOutcome) {
	o.mu.Lock()
	if o.op.state != StateExitAwaitingPayment || o.op.paymentSessionID != out.sessionID {
		o.mu.Unlock()
		o.logger.Warn("stale payment outcome dropped", "payment_session", out.sessionID)
		return
	}
	op := o.op
	o.op.state = StateExitFinalizing
	o.mu.Unlock()

	if out.timedOut {
		o.queue.Enqueue(bus.TopicCommand, bus.CmdPaymentFail, 1, false)
		o.auditor.Publish(ctx, audit.Record{
			Action:    audit.ActionPaymentTimeout,
			Plate:     op.plate,
			SessionID: out.sessionID,
			Fee:       op.fee,
		})
		o.logger.Warn("payment timed out", "plate", op.plate, "fee", op.fee)
		operationsTotal.WithLabelValues("exit", "payment_timeout").Inc()
		if o.callbacks.OnPaymentResult != nil {
			o.callbacks.OnPaymentResult(PaymentResult{Success: false, Detail: "timeout", Fee: op.fee, Plate: op.plate})
		}
		o.reset()
		return
	}

	o.notifyState(StateExitFinalizing)
	now := time.Now()
	operator := op.operator
	method := "qr"
	action := audit.ActionPaymentMatched
	if out.cash {
		operator = out.operator
		method = "cash"
		action = audit.ActionCashOverride
	}

	err := o.store.CloseExit(ctx, op.sessionRef, vehicle.Exit{
		ExitTime: now,
		Fee:      op.fee,
		ImageRef: op.imageRef,
		Operator: operator,
	})
	if err != nil {
		o.queue.Enqueue(bus.TopicCommand, bus.CmdPaymentFail, 1, false)
		o.logger.Error("finalize exit failed", "plate", op.plate, "session_id", op.sessionRef, "error", err)
		operationsTotal.WithLabelValues("exit", "persist_failed").Inc()
		if o.callbacks.OnPaymentResult != nil {
			o.callbacks.OnPaymentResult(PaymentResult{Success: false, Detail: "persistence failure", Fee: op.fee, Plate: op.plate})
		}
		o.reset()
		return
	}

	o.queue.Enqueue(bus.TopicCommand, bus.CmdPaymentSuccess(op.fee), 1, false)
	o.auditor.Publish(ctx, audit.Record{
		Action:    action,
		Plate:     op.plate,
		SessionID: out.sessionID,
		Fee:       op.fee,
		Hours:     op.hours,
		Operator:  operator,
	})
	o.logger.Info("vehicle exited",
		"plate", op.plate,
		"fee", op.fee,
		"method", method,
		"transaction_id", out.txID)
	operationsTotal.WithLabelValues("exit", "paid_"+method).Inc()
	o.updateOccupancy(ctx)
	if o.callbacks.OnPaymentResult != nil {
		o.callbacks.OnPaymentResult(PaymentResult{Success: true, Detail: method, Fee: op.fee, Plate: op.plate})
	}
	o.reset()
}

func (o *Orchestrator) fail(kind Operation, cmd, msg string, err error) {
	o.queue.Enqueue(bus.TopicCommand, cmd, 1, false)
	o.logger.Error(msg, "error", err)
	operationsTotal.WithLabelValues(strings.ToLower(string(kind)), "failed").Inc()
	o.reset()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.op.state = s
	o.mu.Unlock()
	o.notifyState(s)
}

func (o *Orchestrator) reset() {
	o.mu.Lock()
	o.op = activeOp{kind: OpIdle, state: StateIdle}
	o.mu.Unlock()
	o.notifyState(StateIdle)
}

func (o *Orchestrator) notifyState(s State) {
	if o.callbacks.OnStateChanged != nil {
		o.callbacks.OnStateChanged(s)
	}
}

func (o *Orchestrator) updateOccupancy(ctx context.Context) {
	if count, err := o.store.ActiveCount(ctx); err == nil {
		occupancyGauge.Set(float64(count))
	}
}
