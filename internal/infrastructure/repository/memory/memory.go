// Package memory holds process-local read side stores for mock mode and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
	"github.com/lllypuk/estately/internal/application/query"
	"github.com/lllypuk/estately/internal/domain/payment"
)

// PaymentIndex is an in-memory apppayment.PaymentIndex.
type PaymentIndex struct {
	mu      sync.RWMutex
	entries map[string]apppayment.IndexEntry
}

// NewPaymentIndex creates an empty index.
func NewPaymentIndex() *PaymentIndex {
	return &PaymentIndex{entries: make(map[string]apppayment.IndexEntry)}
}

// Upsert implements apppayment.PaymentIndex.
func (i *PaymentIndex) Upsert(_ context.Context, entry apppayment.IndexEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if current, ok := i.entries[entry.PaymentID]; ok && current.Version >= entry.Version {
		return nil
	}
	i.entries[entry.PaymentID] = entry
	return nil
}

// FindByProviderRef implements apppayment.PaymentIndex.
func (i *PaymentIndex) FindByProviderRef(_ context.Context, providerRef string) (apppayment.IndexEntry, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	for _, entry := range i.entries {
		if entry.ProviderRef == providerRef {
			return entry, nil
		}
	}
	return apppayment.IndexEntry{}, fmt.Errorf("%w: %s", apppayment.ErrIndexEntryNotFound, providerRef)
}

// OverdueBefore implements apppayment.PaymentIndex.
func (i *PaymentIndex) OverdueBefore(_ context.Context, now time.Time, limit int) ([]string, error) {
	return i.collect(limit, func(e apppayment.IndexEntry) bool {
		return e.Status.InFlight() && !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
	}), nil
}

// WithPendingRefunds implements apppayment.PaymentIndex.
func (i *PaymentIndex) WithPendingRefunds(_ context.Context, limit int) ([]string, error) {
	return i.collect(limit, func(e apppayment.IndexEntry) bool {
		return e.PendingRefunds > 0
	}), nil
}

// collect returns matching IDs, the earliest horizon first.
func (i *PaymentIndex) collect(limit int, match func(apppayment.IndexEntry) bool) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var due []apppayment.IndexEntry
	for _, entry := range i.entries {
		if match(entry) {
			due = append(due, entry)
		}
	}
	slices.SortFunc(due, func(a, b apppayment.IndexEntry) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return strings.Compare(a.PaymentID, b.PaymentID)
	})

	ids := make([]string, 0, len(due))
	for _, entry := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, entry.PaymentID)
	}
	return ids
}

type readModel struct {
	version int
	state   json.RawMessage
	order   int
}

// ReadModels stores read models as JSON documents keyed by aggregate type and stream.
type ReadModels struct {
	mu     sync.RWMutex
	models map[string]map[string]readModel
	seq    int
}

// NewReadModels creates an empty store.
func NewReadModels() *ReadModels {
	return &ReadModels{models: make(map[string]map[string]readModel)}
}

// Upsert stores state unless a newer version is already stored.
func (r *ReadModels) Upsert(_ context.Context, aggregateType, streamID string, version int, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode read model: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.models[aggregateType]
	if !ok {
		byID = make(map[string]readModel)
		r.models[aggregateType] = byID
	}
	current, exists := byID[streamID]
	if exists && current.version >= version {
		return nil
	}
	order := current.order
	if !exists {
		r.seq++
		order = r.seq
	}
	byID[streamID] = readModel{version: version, state: data, order: order}
	return nil
}

// List implements query.Lister, newest streams first.
func (r *ReadModels) List(_ context.Context, aggregateType string, offset, limit int) ([]query.View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type item struct {
		id string
		readModel
	}
	items := make([]item, 0, len(r.models[aggregateType]))
	for id, m := range r.models[aggregateType] {
		items = append(items, item{id: id, readModel: m})
	}
	slices.SortFunc(items, func(a, b item) int { return b.order - a.order })

	views := make([]query.View, 0)
	for idx, it := range items {
		if idx < offset {
			continue
		}
		if len(views) == limit {
			break
		}
		var state map[string]any
		if err := json.Unmarshal(it.state, &state); err != nil {
			return nil, fmt.Errorf("failed to decode read model %s: %w", it.id, err)
		}
		views = append(views, query.View{Type: aggregateType, ID: it.id, Version: it.version, State: state})
	}
	return views, nil
}

// Version returns the stored version of a stream, 0 when absent.
func (r *ReadModels) Version(aggregateType, streamID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[aggregateType][streamID].version
}

// FeeLedger books fee settlements once per key.
type FeeLedger struct {
	mu      sync.Mutex
	entries map[string]payment.Fees
}

// NewFeeLedger creates an empty ledger.
func NewFeeLedger() *FeeLedger {
	return &FeeLedger{entries: make(map[string]payment.Fees)}
}

// Settle implements materialize.FeeSettler.
func (l *FeeLedger) Settle(_ context.Context, key string, p payment.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[key]; !ok {
		l.entries[key] = p.Fees
	}
	return nil
}

// Settled returns the number of settlements booked.
func (l *FeeLedger) Settled() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
