package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/domain/event"
)

// AssertEventPublished checks that event of specific type was published
func AssertEventPublished(t *testing.T, events []event.DomainEvent, eventType string) event.DomainEvent {
	t.Helper()

	for _, evt := range events {
		if evt.EventType() == eventType {
			return evt
		}
	}

	t.Fatalf("Expected event of type %q, but it was not found. Got %d events", eventType, len(events))
	return nil
}

// AssertEventTypes checks the exact sequence of event types.
func AssertEventTypes(t *testing.T, events []event.DomainEvent, expected ...string) {
	t.Helper()

	got := make([]string, 0, len(events))
	for _, evt := range events {
		got = append(got, evt.EventType())
	}
	require.Equal(t, expected, got)
}

// AssertStream checks that events form one stream: same aggregate, versions
// 1..n without gaps, timestamps non-decreasing.
func AssertStream(t *testing.T, events []event.DomainEvent, aggregateType, streamID string) {
	t.Helper()

	var prev time.Time
	for i, evt := range events {
		require.Equal(t, aggregateType, evt.AggregateType(), "event %d", i)
		require.Equal(t, streamID, evt.AggregateID(), "event %d", i)
		require.Equal(t, i+1, evt.Version(), "event %d", i)
		if ts := evt.OccurredAt(); !prev.IsZero() {
			assert.False(t, ts.Before(prev), "event %d occurred before its predecessor", i)
		}
		prev = evt.OccurredAt()
	}
}

// AssertTimeApproximatelyEqual checks that two times differ by at most delta.
func AssertTimeApproximatelyEqual(t *testing.T, expected, actual time.Time, delta time.Duration, msgAndArgs ...any) {
	t.Helper()

	diff := actual.Sub(expected)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, delta, msgAndArgs...)
}
