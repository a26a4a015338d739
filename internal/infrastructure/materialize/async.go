package materialize

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/lllypuk/estately/internal/domain/event"
)

const (
	defaultAsyncWorkers = 4
	defaultAsyncBuffer  = 1024
)

// ErrDispatchOverflow is recorded on repair tasks of commits the async buffer could not hold.
var ErrDispatchOverflow = errors.New("materialization buffer full")

type dispatchJob struct {
	ctx           context.Context
	streamID      string
	aggregateType string
	events        []event.DomainEvent
}

// AsyncDispatcher runs Dispatcher off the command path. Streams are sharded
// over a fixed set of workers by stream ID, so commits of one stream are
// materialized in the order they were dispatched. A commit that finds its
// shard full, or arrives after Close, is parked in the repair queue.
type AsyncDispatcher struct {
	inner  *Dispatcher
	shards []chan dispatchJob
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncDispatcher starts workers goroutines, each with a buffer of buffer commits.
func NewAsyncDispatcher(inner *Dispatcher, workers, buffer int) *AsyncDispatcher {
	if workers <= 0 {
		workers = defaultAsyncWorkers
	}
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}

	a := &AsyncDispatcher{
		inner:  inner,
		shards: make([]chan dispatchJob, workers),
		logger: inner.logger,
	}
	for i := range a.shards {
		a.shards[i] = make(chan dispatchJob, buffer)
		a.wg.Add(1)
		go a.work(a.shards[i])
	}
	return a
}

// Dispatch implements eventsourcing.Dispatcher. It never blocks.
func (a *AsyncDispatcher) Dispatch(ctx context.Context, streamID, aggregateType string, events []event.DomainEvent) {
	ctx = context.WithoutCancel(ctx)

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.park(ctx, streamID, aggregateType, events)
		return
	}
	select {
	case a.shard(streamID) <- dispatchJob{ctx: ctx, streamID: streamID, aggregateType: aggregateType, events: events}:
	default:
		a.park(ctx, streamID, aggregateType, events)
	}
}

// Pending returns the number of commits waiting for a worker.
func (a *AsyncDispatcher) Pending() int {
	n := 0
	for _, ch := range a.shards {
		n += len(ch)
	}
	return n
}

// Close stops accepting commits and waits until the buffered ones are
// materialized or ctx is done.
func (a *AsyncDispatcher) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		for _, ch := range a.shards {
			close(ch)
		}
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.logger.WarnContext(ctx, "materialization drain interrupted", slog.Int("pending", a.Pending()))
		return ctx.Err()
	}
}

func (a *AsyncDispatcher) work(jobs <-chan dispatchJob) {
	defer a.wg.Done()
	for job := range jobs {
		a.inner.Dispatch(job.ctx, job.streamID, job.aggregateType, job.events)
	}
}

func (a *AsyncDispatcher) shard(streamID string) chan dispatchJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(streamID))
	return a.shards[h.Sum32()%uint32(len(a.shards))]
}

// park hands every sink of the commit to the repair queue.
func (a *AsyncDispatcher) park(ctx context.Context, streamID, aggregateType string, events []event.DomainEvent) {
	projector, sinks := a.inner.route(aggregateType)
	if projector == nil || len(sinks) == 0 {
		return
	}
	a.logger.WarnContext(ctx, "materialization buffer full, parking commit",
		slog.String("stream_id", streamID),
		slog.String("aggregate_type", aggregateType),
		slog.Int("version", lastVersion(events)),
	)
	for _, sink := range sinks {
		a.inner.enqueueRepair(ctx, aggregateType, streamID, sink.Name(), lastVersion(events), ErrDispatchOverflow)
	}
}
