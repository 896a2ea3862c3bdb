package streaming

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishSubscribe_StrictSequence(t *testing.T) {
	f := New(0, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := f.Subscribe(ctx, "q1", "sub1", 0)

	f.Publish("q1", KindStarted, nil)
	f.Publish("q1", KindStepStarted, nil)
	f.Publish("q1", KindFinalContent, "done")

	var seen []Event
	for i := 0; i < 3; i++ {
		seen = append(seen, <-events)
	}

	require.Len(t, seen, 3)
	var lastSeq int64 = -1
	for _, ev := range seen {
		assert.Greater(t, ev.Seq, lastSeq)
		lastSeq = ev.Seq
	}
	assert.Equal(t, KindFinalContent, seen[2].Kind)
}

func TestSubscribe_ReplaysAfterTerminal(t *testing.T) {
	f := New(0, 0, testLogger())
	f.Publish("q2", KindFinalContent, "ok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := f.Subscribe(ctx, "q2", "late-sub", 0)

	select {
	case ev, ok := <-events:
		require.True(t, ok)
		assert.Equal(t, KindFinalContent, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected replayed terminal event")
	}

	// subscriber should disconnect (channel closes) right after replay.
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected channel to close after terminal replay")
	}
}

func TestCancel_IsIdempotentAndEmitsOnce(t *testing.T) {
	f := New(0, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := f.Subscribe(ctx, "q3", "sub1", 0)

	f.Cancel("q3", "user requested")
	f.Cancel("q3", "user requested")

	select {
	case ev := <-events:
		assert.Equal(t, KindCancelled, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected cancelled event")
	}

	select {
	case <-f.CancelSignal("q3"):
	default:
		t.Fatal("expected cancel signal to be closed")
	}
}

func TestTwoSubscribers_SeeSameBoundaryEvents(t *testing.T) {
	f := New(0, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := f.Subscribe(ctx, "q4", "a", 0)
	b := f.Subscribe(ctx, "q4", "b", 0)

	f.Publish("q4", KindStepStarted, "s1")
	f.Publish("q4", KindStepEnded, "s1")
	f.Publish("q4", KindFinalContent, "ok")

	drain := func(ch <-chan Event) []Kind {
		var kinds []Kind
		for i := 0; i < 3; i++ {
			kinds = append(kinds, (<-ch).Kind)
		}
		return kinds
	}

	assert.Equal(t, drain(a), drain(b))
}
