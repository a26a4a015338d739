package payment_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/application/eventsourcing"
	apppayment "github.com/lllypuk/estately/internal/application/payment"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/domain/payment"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// immediateRetry retries without waiting and stops once ctx is done.
type immediateRetry struct {
	max int
}

func (r immediateRetry) Do(ctx context.Context, _ string, op func(context.Context) error) (int, error) {
	var err error
	for attempt := 1; attempt <= r.max; attempt++ {
		if err = op(ctx); err == nil {
			return attempt, nil
		}
		if apppayment.IsPermanent(err) {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
	}
	return r.max, fmt.Errorf("%w: %w", appcore.ErrRetriesExhausted, err)
}

// fakeProvider is scripted through its hooks; unset hooks succeed.
type fakeProvider struct {
	initiateCalls atomic.Int32
	verifyCalls   atomic.Int32
	refundCalls   atomic.Int32

	initiate func(call int) (apppayment.InitiateResponse, error)
	verify   func(call int) (apppayment.VerifyResponse, error)
	refund   func(call int, amount int64) (apppayment.RefundResponse, error)

	mu         sync.Mutex
	refundKeys []string
}

func (p *fakeProvider) RefundKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.refundKeys)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Initiate(_ context.Context, req apppayment.InitiateRequest) (apppayment.InitiateResponse, error) {
	call := int(p.initiateCalls.Add(1))
	if p.initiate != nil {
		return p.initiate(call)
	}
	return apppayment.InitiateResponse{Accepted: true, ProviderRef: "ref-" + req.PaymentID}, nil
}

func (p *fakeProvider) Verify(_ context.Context, providerRef string) (apppayment.VerifyResponse, error) {
	call := int(p.verifyCalls.Add(1))
	if p.verify != nil {
		return p.verify(call)
	}
	return apppayment.VerifyResponse{Status: apppayment.VerifySucceeded, ProviderTransactionID: "tx-" + providerRef}, nil
}

func (p *fakeProvider) Refund(ctx context.Context, _ string, amount int64) (apppayment.RefundResponse, error) {
	call := int(p.refundCalls.Add(1))
	p.mu.Lock()
	p.refundKeys = append(p.refundKeys, apppayment.IdempotencyKey(ctx))
	p.mu.Unlock()
	if p.refund != nil {
		return p.refund(call, amount)
	}
	return apppayment.RefundResponse{Accepted: true, RefundRef: fmt.Sprintf("rr-%d", call)}, nil
}

// memoryIndex is a PaymentIndex fed by the command handler's dispatcher.
type memoryIndex struct {
	mu        sync.Mutex
	entries   map[string]apppayment.IndexEntry
	projector *eventsourcing.Projector[payment.State]
	hidden    atomic.Int32
}

func (i *memoryIndex) Dispatch(ctx context.Context, streamID, _ string, _ []event.DomainEvent) {
	snap, err := i.projector.Project(ctx, streamID)
	if err != nil {
		return
	}
	_ = i.Upsert(ctx, apppayment.EntryFromState(snap.State, snap.Version))
}

func (i *memoryIndex) Upsert(_ context.Context, entry apppayment.IndexEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if current, ok := i.entries[entry.PaymentID]; ok && current.Version >= entry.Version {
		return nil
	}
	i.entries[entry.PaymentID] = entry
	return nil
}

// FindByProviderRef misses the first hidden lookups to simulate index lag.
func (i *memoryIndex) FindByProviderRef(_ context.Context, ref string) (apppayment.IndexEntry, error) {
	if i.hidden.Load() > 0 {
		i.hidden.Add(-1)
		return apppayment.IndexEntry{}, apppayment.ErrIndexEntryNotFound
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, e := range i.entries {
		if e.ProviderRef == ref {
			return e, nil
		}
	}
	return apppayment.IndexEntry{}, apppayment.ErrIndexEntryNotFound
}

func (i *memoryIndex) OverdueBefore(_ context.Context, now time.Time, limit int) ([]string, error) {
	return i.collect(limit, func(e apppayment.IndexEntry) bool {
		return e.Status.InFlight() && !now.Before(e.ExpiresAt)
	}), nil
}

func (i *memoryIndex) WithPendingRefunds(_ context.Context, limit int) ([]string, error) {
	return i.collect(limit, func(e apppayment.IndexEntry) bool { return e.PendingRefunds > 0 }), nil
}

func (i *memoryIndex) collect(limit int, match func(apppayment.IndexEntry) bool) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var ids []string
	for _, e := range i.entries {
		if match(e) && len(ids) < limit {
			ids = append(ids, e.PaymentID)
		}
	}
	slices.Sort(ids)
	return ids
}

type memoryDedupe struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (d *memoryDedupe) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[key], nil
}

func (d *memoryDedupe) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = true
	return nil
}

type fixture struct {
	store      *eventstore.InMemoryEventStore
	provider   *fakeProvider
	clock      *clock
	index      *memoryIndex
	dedupe     *memoryDedupe
	saga       *apppayment.Saga
	reconciler *apppayment.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := eventstore.NewInMemoryEventStore()
	f := &fixture{
		store:    store,
		provider: &fakeProvider{},
		clock:    newClock(),
		index: &memoryIndex{
			entries:   make(map[string]apppayment.IndexEntry),
			projector: eventsourcing.NewProjector[payment.State](store, payment.Definition{}),
		},
		dedupe: &memoryDedupe{keys: make(map[string]bool)},
	}

	handler := eventsourcing.NewCommandHandler[payment.State](store, payment.Definition{},
		eventsourcing.WithDispatcher(f.index),
		eventsourcing.WithMaxAttempts(50),
	)
	providers := apppayment.NewProviderRegistry(map[payment.Method]apppayment.ProviderAdapter{
		payment.MethodMobileMoney: f.provider,
		payment.MethodCard:        f.provider,
	})
	f.saga = apppayment.NewSaga(handler, providers, immediateRetry{max: 3},
		apppayment.WithClock(f.clock.Now),
		apppayment.WithIndex(f.index),
		apppayment.WithFeePolicy(apppayment.PercentageFees{
			PlatformBPS:   150,
			ProcessingBPS: 100,
			ProviderFlat:  map[payment.Method]int64{payment.MethodMobileMoney: 30},
		}),
	)
	f.reconciler = apppayment.NewReconciler(f.saga, f.index, f.dedupe, immediateRetry{max: 3}, nil)
	return f
}

func (f *fixture) initiate(t *testing.T, amount int64) apppayment.Result {
	t.Helper()
	res, err := f.saga.Initiate(context.Background(), apppayment.InitiateCommand{
		Amount:   amount,
		Currency: "KES",
		Method:   payment.MethodMobileMoney,
		PayerID:  "usr-1",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) eventTypes(t *testing.T, paymentID string) []string {
	t.Helper()
	events, err := f.store.LoadEvents(context.Background(), paymentID)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType())
	}
	return types
}

func count(types []string, eventType string) int {
	n := 0
	for _, t := range types {
		if t == eventType {
			n++
		}
	}
	return n
}
