package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 2, MaxWait: time.Minute}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(sampleEvent("miss"))
	hub.Emit(sampleEvent("hit"))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesPartialBatchAfterWait(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatch: 10, MaxWait: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(sampleEvent("hit"))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)

	hub.Emit(sampleEvent("fallback"))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatch: 100, MaxWait: time.Minute}, sink)

	hub.Emit(sampleEvent("miss"))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.Batches(), 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent("hit"))
	require.Len(t, sink.Batches(), 1)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent("hit"))
	hub.Emit(sampleEvent("hit"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.Dropped())
}

func TestHubIgnoresInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatch: 1}, sink)
	hub.Emit(Event{Mode: ModeAPI, Outcome: "hit"})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent("hit"))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		evt  Event
		ok   bool
	}{
		{name: "valid", evt: sampleEvent("hit"), ok: true},
		{name: "missing ts", evt: Event{Mode: ModeAPI, Outcome: "hit"}},
		{name: "unknown mode", evt: Event{TS: time.Now(), Mode: "batch", Outcome: "hit"}},
		{name: "missing outcome", evt: Event{TS: time.Now(), Mode: ModeProxy}},
		{name: "negative duration", evt: Event{TS: time.Now(), Mode: ModeProxy, Outcome: "hit", Dur: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.evt.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestSavingsRatio(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 0.9, Event{OriginalBytes: 1000, RenderedBytes: 100}.SavingsRatio(), 1e-9)
	require.Zero(t, Event{OriginalBytes: 0, RenderedBytes: 100}.SavingsRatio())
	require.Zero(t, Event{OriginalBytes: 100, RenderedBytes: 400}.SavingsRatio())
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(outcome string) Event {
	return Event{
		RequestID: "req-1",
		TS:        time.Now(),
		Mode:      ModeAPI,
		Outcome:   outcome,
		Host:      "example.com",
	}
}
