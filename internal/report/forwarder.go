package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"proctord/internal/proctor"
)

// ErrForwarderClosed is returned when work is submitted after Close.
var ErrForwarderClosed = errors.New("report: forwarder closed")

// Sink receives serialized violation batches.
type Sink interface {
	Persist(ctx context.Context, payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, payload []byte) error

// Persist calls f.
func (f SinkFunc) Persist(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// Batch is one delivery to a Sink: violations of a single session in
// recording order, and on the session's last batch its sealed log.
type Batch struct {
	Version    int                 `json:"version"`
	SessionID  string              `json:"session_id"`
	Seq        int                 `json:"seq"`
	Violations []proctor.Violation `json:"violations"`
	Log        *Log                `json:"log,omitempty"`
}

// EncodeBatch serializes b at the current format version.
func EncodeBatch(b Batch) ([]byte, error) {
	b.Version = FormatVersion
	if b.Violations == nil {
		b.Violations = []proctor.Violation{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// DecodeBatch validates and decodes a serialized batch.
func DecodeBatch(data []byte) (*Batch, error) {
	if err := ValidateBatch(data); err != nil {
		return nil, err
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if b.Log != nil {
		if b.Log.SessionID != b.SessionID {
			return nil, fmt.Errorf("report: batch session %s carries log of %s", b.SessionID, b.Log.SessionID)
		}
		if err := b.Log.Verify(); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	// BatchSize flushes once this many violations are pending.
	BatchSize int
	// FlushInterval flushes pending violations after this long.
	FlushInterval time.Duration
	// Rate and Burst limit sink writes.
	Rate  rate.Limit
	Burst int
	// Buffer is the inbound queue capacity; notices beyond it are dropped.
	Buffer int
	// Logger receives delivery failures.
	Logger *slog.Logger
}

// DefaultForwarderConfig returns sensible defaults.
func DefaultForwarderConfig() ForwarderConfig {
	return ForwarderConfig{
		BatchSize:     20,
		FlushInterval: 2 * time.Second,
		Rate:          5,
		Burst:         10,
		Buffer:        1024,
	}
}

type item struct {
	notice proctor.Notice
	log    *Log
}

// Forwarder batches violation notices and delivers them to a Sink under a
// rate limit. It implements proctor.Notifier and never blocks the monitor.
type Forwarder struct {
	sink    Sink
	cfg     ForwarderConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	in     chan item
	done   chan struct{}

	seq       map[string]int
	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	// errMu guards lastErr apart from mu, which Finish may hold while it
	// waits for queue space the run loop is about to free.
	errMu   sync.Mutex
	lastErr error
}

// NewForwarder creates a forwarder. Call Start to begin delivery.
func NewForwarder(sink Sink, cfg ForwarderConfig) *Forwarder {
	def := DefaultForwarderConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		sink:    sink,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		logger:  logger.With("component", "forwarder"),
		in:      make(chan item, cfg.Buffer),
		done:    make(chan struct{}),
		seq:     make(map[string]int),
	}
}

// Start runs delivery until Close or ctx is cancelled.
func (f *Forwarder) Start(ctx context.Context) {
	go f.run(ctx)
}

// Notify implements proctor.Notifier.
func (f *Forwarder) Notify(n proctor.Notice) {
	if n.SessionID == "" {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.dropped.Add(1)
		return
	}
	select {
	case f.in <- item{notice: n}:
	default:
		// Skip when the queue is full
		f.dropped.Add(1)
	}
}

// Finish queues the session's final batch carrying its sealed log. Pending
// violations of the session are delivered first.
func (f *Forwarder) Finish(ctx context.Context, log *Log) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrForwarderClosed
	}
	select {
	case f.in <- item{log: log}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes everything queued and stops delivery. It returns the last
// delivery error, if any.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	f.mu.Unlock()

	<-f.done

	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.lastErr
}

// Stats reports delivered batches, failed batches and dropped notices.
func (f *Forwarder) Stats() (delivered, failed, dropped int64) {
	return f.delivered.Load(), f.failed.Load(), f.dropped.Load()
}

func (f *Forwarder) run(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []proctor.Notice
	for {
		select {
		case <-ctx.Done():
			if len(pending) > 0 {
				f.logger.Warn("discarding pending violations on shutdown", "count", len(pending))
			}
			return

		case it, ok := <-f.in:
			if !ok {
				f.flush(ctx, pending)
				return
			}
			if it.log != nil {
				pending = f.flushSession(ctx, pending, it.log.SessionID)
				f.send(ctx, Batch{SessionID: it.log.SessionID, Violations: []proctor.Violation{}, Log: it.log})
				delete(f.seq, it.log.SessionID)
				continue
			}
			pending = append(pending, it.notice)
			if len(pending) >= f.cfg.BatchSize {
				f.flush(ctx, pending)
				pending = nil
			}

		case <-ticker.C:
			if len(pending) > 0 {
				f.flush(ctx, pending)
				pending = nil
			}
		}
	}
}

// flushSession delivers the pending violations of one session and returns
// the rest.
func (f *Forwarder) flushSession(ctx context.Context, pending []proctor.Notice, sessionID string) []proctor.Notice {
	var mine, rest []proctor.Notice
	for _, n := range pending {
		if n.SessionID == sessionID {
			mine = append(mine, n)
		} else {
			rest = append(rest, n)
		}
	}
	f.flush(ctx, mine)
	return rest
}

// flush delivers pending violations as one batch per session, preserving
// first-seen session order.
func (f *Forwarder) flush(ctx context.Context, pending []proctor.Notice) {
	if len(pending) == 0 {
		return
	}
	var order []string
	groups := make(map[string][]proctor.Violation)
	for _, n := range pending {
		if _, ok := groups[n.SessionID]; !ok {
			order = append(order, n.SessionID)
		}
		groups[n.SessionID] = append(groups[n.SessionID], n.Violation)
	}
	for _, id := range order {
		f.send(ctx, Batch{SessionID: id, Violations: groups[id]})
	}
}

func (f *Forwarder) send(ctx context.Context, b Batch) {
	f.seq[b.SessionID]++
	b.Seq = f.seq[b.SessionID]

	err := f.deliver(ctx, b)
	if err == nil {
		f.delivered.Add(1)
		return
	}
	f.failed.Add(1)
	f.logger.Warn("batch delivery failed",
		"session_id", b.SessionID,
		"seq", b.Seq,
		"violations", len(b.Violations),
		"error", err,
	)
	f.errMu.Lock()
	f.lastErr = err
	f.errMu.Unlock()
}

func (f *Forwarder) deliver(ctx context.Context, b Batch) error {
	payload, err := EncodeBatch(b)
	if err != nil {
		return err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return f.sink.Persist(ctx, payload)
}
