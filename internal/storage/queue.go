package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lueurxax/newspipe/internal/platform/observability"
)

// ErrDeadlockRetryExhausted is returned when a write unit kept hitting
// serialization conflicts after all retries.
var ErrDeadlockRetryExhausted = errors.New("write retries exhausted")

// ErrQueueClosed is returned for submissions after shutdown began.
var ErrQueueClosed = errors.New("write queue closed")

// WriteFunc is one unit of work executed inside a transaction.
type WriteFunc func(ctx context.Context, tx pgx.Tx) error

// QueueOptions tunes the serialized write queue.
type QueueOptions struct {
	ShardBuffer    int
	MaxRetries     int
	RetryBackoff   time.Duration
	BatchThreshold int
	HighWater      int
	LowWater       int
}

// DefaultQueueOptions returns the queue tuning used in production.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		ShardBuffer:    defaultShardBuffer,
		MaxRetries:     defaultWriteRetries,
		RetryBackoff:   defaultRetryBackoffBase,
		BatchThreshold: defaultBatchThreshold,
		HighWater:      defaultHighWater,
		LowWater:       defaultLowWater,
	}
}

type writeUnit struct {
	batchKey string
	fn       WriteFunc
	done     chan error
}

// Queue serializes writes per shard key. One goroutine per shard consumes
// a bounded channel, so updates touching the same rows never run
// concurrently and commutative increments stay conflict-free.
type Queue struct {
	db   *DB
	opts QueueOptions

	mu     sync.Mutex
	shards map[string]chan *writeUnit
	depth  int
	ready  chan struct{}
	open   bool
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newQueue(database *DB, opts QueueOptions) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan struct{})
	close(ready)

	return &Queue{
		db:      database,
		opts:    opts,
		shards:  make(map[string]chan *writeUnit),
		ready:   ready,
		open:    true,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit runs fn inside a transaction on the shard's writer goroutine and
// returns the unit's error. Units sharing a non-empty batchKey may be
// coalesced into one transaction when the shard backs up.
func (q *Queue) Submit(ctx context.Context, shard, batchKey string, fn WriteFunc) error {
	unit := &writeUnit{batchKey: batchKey, fn: fn, done: make(chan error, 1)}

	ch, err := q.shardChannel(shard)
	if err != nil {
		return err
	}

	select {
	case ch <- unit:
		q.noteEnqueued()
	case <-ctx.Done():
		return ctx.Err()
	case <-q.baseCtx.Done():
		return ErrQueueClosed
	}

	select {
	case err := <-unit.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitReady blocks while the queue is above the high-water mark. Producers
// call it before enqueueing new ingestion work.
func (q *Queue) WaitReady(ctx context.Context) error {
	for {
		q.mu.Lock()
		ready, open := q.ready, q.open
		q.mu.Unlock()

		if open {
			return nil
		}

		observability.QueueBackpressureWaits.Inc()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting writes and waits for in-flight units to settle.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	q.closed = true

	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}

func (q *Queue) shardChannel(shard string) (chan *writeUnit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	ch, ok := q.shards[shard]
	if !ok {
		ch = make(chan *writeUnit, q.opts.ShardBuffer)
		q.shards[shard] = ch

		q.wg.Add(1)

		go q.runShard(shard, ch)
	}

	return ch, nil
}

func (q *Queue) noteEnqueued() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.depth++
	observability.QueueDepth.WithLabelValues("write").Set(float64(q.depth))

	if q.open && q.depth > q.opts.HighWater {
		q.open = false
		q.ready = make(chan struct{})
	}
}

func (q *Queue) noteDone(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.depth -= n
	observability.QueueDepth.WithLabelValues("write").Set(float64(q.depth))

	if !q.open && q.depth <= q.opts.LowWater {
		q.open = true
		close(q.ready)
	}
}

func (q *Queue) runShard(shard string, ch chan *writeUnit) {
	defer q.wg.Done()

	var pending *writeUnit

	for {
		unit := pending
		pending = nil

		if unit == nil {
			var ok bool

			unit, ok = <-ch
			if !ok {
				return
			}
		}

		batch := []*writeUnit{unit}

		if unit.batchKey != "" && len(ch) >= q.opts.BatchThreshold {
			var extra []*writeUnit

			extra, pending = q.drainBatch(ch, unit.batchKey)
			batch = append(batch, extra...)
		}

		err := q.execBatch(shard, batch)

		for _, u := range batch {
			u.done <- err
		}

		q.noteDone(len(batch))
	}
}

// drainBatch collects immediately available units with the same batch key.
// A unit with a different key terminates the drain and heads the next batch.
func (q *Queue) drainBatch(ch chan *writeUnit, batchKey string) ([]*writeUnit, *writeUnit) {
	var extra []*writeUnit

	for len(extra) < q.opts.BatchThreshold {
		select {
		case u, ok := <-ch:
			if !ok {
				return extra, nil
			}

			if u.batchKey != batchKey {
				return extra, u
			}

			extra = append(extra, u)
		default:
			return extra, nil
		}
	}

	return extra, nil
}

func (q *Queue) execBatch(shard string, batch []*writeUnit) error {
	var err error

	for attempt := 0; attempt <= q.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := q.opts.RetryBackoff << (attempt - 1)

			select {
			case <-time.After(backoff):
			case <-q.baseCtx.Done():
				return ErrQueueClosed
			}
		}

		err = pgx.BeginFunc(q.baseCtx, q.db.Pool, func(tx pgx.Tx) error {
			for _, u := range batch {
				if unitErr := u.fn(q.baseCtx, tx); unitErr != nil {
					return unitErr
				}
			}

			return nil
		})

		code, retryable := retryableCode(err)
		if !retryable {
			return err
		}

		observability.QueueWriteRetries.WithLabelValues(code).Inc()
		q.db.Logger.Warn().Str("shard", shard).Str("code", code).Int("attempt", attempt+1).Msg("Retrying conflicted write")
	}

	return fmt.Errorf("%w: %v", ErrDeadlockRetryExhausted, err)
}

// retryableCode reports whether the error is a transient lock conflict
// worth retrying in a fresh transaction.
func retryableCode(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}

	switch pgErr.Code {
	case sqlstateDeadlockDetected, sqlstateSerialization, sqlstateLockNotAvailable:
		return pgErr.Code, true
	}

	return "", false
}
