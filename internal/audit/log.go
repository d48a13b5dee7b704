package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/fleetgate/internal/infrastructure/config"
)

// persistTimeout bounds each repository write made by the consumer.
const persistTimeout = 5 * time.Second

// Logger is the minimal logging interface the audit log needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Log is the asynchronous audit appender.
//
// Writers hand records to a bounded in-memory queue and continue
// immediately; a single consumer goroutine persists them in arrival
// order, so records from one writer are never reordered. When the queue
// is full the configured overflow policy applies: "drop_oldest"
// sacrifices the oldest unwritten record, "block" makes the writer wait
// for space.
type Log struct {
	repo   Repository
	queue  chan Record
	policy string
	logger Logger

	mu     sync.Mutex
	closed bool

	done    chan struct{}
	dropped atomic.Uint64
}

// NewLog creates the async appender and starts its consumer goroutine.
func NewLog(repo Repository, cfg config.Audit, logger Logger) *Log {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	policy := cfg.OverflowPolicy
	if policy == "" {
		policy = config.AuditOverflowDropOldest
	}

	l := &Log{
		repo:   repo,
		queue:  make(chan Record, size),
		policy: policy,
		logger: logger,
		done:   make(chan struct{}),
	}

	go l.consume()

	return l
}

// Record enqueues an audit record and returns its assigned ID.
//
// The ID is generated here so callers can reference the record before
// it is durable. Under the drop_oldest policy a full queue may discard
// the oldest unwritten record to make room; after Close the record is
// discarded outright.
func (l *Log) Record(rec Record) string {
	if rec.ID == "" {
		rec.ID = "aud-" + uuid.NewString()[:8]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		l.dropped.Add(1)
		l.logger.Warn("audit record dropped after close",
			"audit_id", rec.ID, "status", string(rec.Status))
		return rec.ID
	}

	if l.policy == config.AuditOverflowBlock {
		// Backpressure: wait for the consumer to make room. The mutex
		// stays held so concurrent writers queue behind this one in
		// arrival order.
		l.queue <- rec
		return rec.ID
	}

	select {
	case l.queue <- rec:
	default:
		// Full: evict the oldest queued record, then retry once.
		select {
		case old := <-l.queue:
			l.dropped.Add(1)
			l.logger.Warn("audit queue full, dropped oldest record",
				"dropped_id", old.ID, "dropped_status", string(old.Status))
		default:
		}
		select {
		case l.queue <- rec:
		default:
			l.dropped.Add(1)
			l.logger.Warn("audit queue full, dropped record",
				"audit_id", rec.ID, "status", string(rec.Status))
		}
	}

	return rec.ID
}

// consume drains the queue until it is closed, persisting each record.
// Persistence failures are logged and the record is lost; the audit
// trail is best-effort once a record leaves the queue.
func (l *Log) consume() {
	defer close(l.done)

	for rec := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := l.repo.Append(ctx, &rec)
		cancel()

		if err != nil {
			l.logger.Error("persisting audit record failed",
				"audit_id", rec.ID, "status", string(rec.Status), "error", err)
		}
	}
}

// Dropped returns the number of records discarded by overflow or
// post-close writes since startup.
func (l *Log) Dropped() uint64 {
	return l.dropped.Load()
}

// Close stops accepting records and waits for queued records to be
// persisted, or for ctx to expire.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
