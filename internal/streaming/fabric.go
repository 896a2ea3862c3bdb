// Package streaming implements the Streaming Fabric (SPEC_FULL.md §4.I): a
// per-queryId topic delivering ordered, deduplicated events to every
// subscriber, with cancellation and a bounded replay window for reconnects.
// Delivery is single-process, in-memory channel fan-out (SPEC_FULL.md §11
// domain stack) — there is no cross-process broker here, unlike the
// teacher's Postgres-NOTIFY event bus, since the core has no multi-replica
// requirement of its own.
package streaming

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind is a wire event kind (SPEC_FULL.md §6).
type Kind string

const (
	KindStarted        Kind = "started"
	KindStage          Kind = "stage"
	KindStepStarted    Kind = "step_started"
	KindStepProgress   Kind = "step_progress"
	KindStepEnded      Kind = "step_ended"
	KindPartialContent Kind = "partial_content"
	KindFinalContent   Kind = "final_content"
	KindMetrics        Kind = "metrics"
	KindCancelled      Kind = "cancelled"
	KindError          Kind = "error"
)

func (k Kind) terminal() bool {
	return k == KindFinalContent || k == KindCancelled || k == KindError
}

// Terminal reports whether k ends a query's stream, for consumers that stop
// reading once the query reaches a terminal event.
func (k Kind) Terminal() bool { return k.terminal() }

func (k Kind) boundary() bool {
	return k == KindStepStarted || k == KindStepEnded || k.terminal()
}

// Event is one entry in a queryId's ordered sequence.
type Event struct {
	QueryID   string
	Seq       int64
	Kind      Kind
	Payload   any
	Timestamp time.Time
}

const (
	defaultReplayEvents = 256
	defaultReplayWindow = 2 * time.Minute
	subscriberBuffer    = 64
)

type subscriber struct {
	id     string
	ch     chan Event
	cursor int64
}

type topic struct {
	mu        sync.Mutex
	queryID   string
	nextSeq   int64
	events    []Event // bounded replay buffer, oldest first
	subs      map[string]*subscriber
	cancelled bool
	cancelCh  chan struct{}
	terminal  bool
}

// Fabric owns every live topic. One Fabric instance is shared process-wide;
// the Orchestrator creates a topic implicitly on the first Publish for a
// queryId and the Fabric drops it once its terminal event has been
// delivered and the replay window has elapsed.
type Fabric struct {
	mu     sync.Mutex
	topics map[string]*topic

	replayEvents int
	replayWindow time.Duration
	log          *slog.Logger
}

// New constructs a Fabric. replayEvents/replayWindow bound the reconnect
// replay buffer per topic (SPEC_FULL.md §4.I: "last W events or T seconds,
// whichever is smaller"); zero values fall back to sane defaults.
func New(replayEvents int, replayWindow time.Duration, log *slog.Logger) *Fabric {
	if replayEvents <= 0 {
		replayEvents = defaultReplayEvents
	}
	if replayWindow <= 0 {
		replayWindow = defaultReplayWindow
	}
	return &Fabric{topics: make(map[string]*topic), replayEvents: replayEvents, replayWindow: replayWindow, log: log}
}

func (f *Fabric) topicFor(queryID string) *topic {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topics[queryID]
	if !ok {
		t = &topic{queryID: queryID, subs: make(map[string]*subscriber), cancelCh: make(chan struct{})}
		f.topics[queryID] = t
	}
	return t
}

// Publish appends an event to queryId's topic and fans it out to every
// current subscriber. step_progress events are dropped (coalesced) for any
// subscriber whose channel is full; every other kind, including terminal and
// step boundary events, blocks briefly rather than drop (SPEC_FULL.md §4.I
// backpressure policy).
func (f *Fabric) Publish(queryID string, kind Kind, payload any) Event {
	t := f.topicFor(queryID)

	t.mu.Lock()
	ev := Event{QueryID: queryID, Seq: t.nextSeq, Kind: kind, Payload: payload, Timestamp: time.Now()}
	t.nextSeq++
	t.events = append(t.events, ev)
	if len(t.events) > f.replayEvents {
		t.events = t.events[len(t.events)-f.replayEvents:]
	}
	cutoff := ev.Timestamp.Add(-f.replayWindow)
	for len(t.events) > 0 && t.events[0].Timestamp.Before(cutoff) {
		t.events = t.events[1:]
	}
	if kind.terminal() {
		t.terminal = true
	}
	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		f.deliver(s, ev)
	}

	if kind.terminal() {
		go f.expireAfter(queryID, f.replayWindow)
	}
	return ev
}

func (f *Fabric) deliver(s *subscriber, ev Event) {
	if ev.Kind == KindStepProgress {
		select {
		case s.ch <- ev:
		default:
			f.log.Warn("dropping coalesced event for slow subscriber", "query_id", ev.QueryID, "subscriber", s.id, "kind", ev.Kind)
		}
		return
	}
	select {
	case s.ch <- ev:
	case <-time.After(5 * time.Second):
		f.log.Warn("subscriber channel stalled on boundary event, dropping connection", "query_id", ev.QueryID, "subscriber", s.id)
		f.Unsubscribe(ev.QueryID, s.id)
	}
}

func (f *Fabric) expireAfter(queryID string, d time.Duration) {
	time.Sleep(d)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.topics, queryID)
}

// Subscribe attaches a subscriber to queryId's topic, replaying any buffered
// events with Seq >= sinceSeq (sinceSeq=0 for a fresh subscription) before
// delivering live events. The returned channel is closed only when the topic
// had already reached its terminal event at subscription time, once that
// replay is sent; otherwise it stays open, and ctx being done (or Unsubscribe)
// only stops delivery to it. Callers stop reading on ctx or on a terminal
// event, and must drain it meanwhile to avoid the dispatch goroutine's sends
// blocking on the "wait 5s, then drop" path above.
func (f *Fabric) Subscribe(ctx context.Context, queryID, subscriberID string, sinceSeq int64) <-chan Event {
	t := f.topicFor(queryID)
	out := make(chan Event, subscriberBuffer)

	t.mu.Lock()
	var replay []Event
	for _, ev := range t.events {
		if ev.Seq >= sinceSeq {
			replay = append(replay, ev)
		}
	}
	s := &subscriber{id: subscriberID, ch: out, cursor: sinceSeq}
	t.subs[subscriberID] = s
	alreadyTerminal := t.terminal
	t.mu.Unlock()

	go func() {
		for _, ev := range replay {
			select {
			case out <- ev:
			case <-ctx.Done():
				f.Unsubscribe(queryID, subscriberID)
				return
			}
		}
		if alreadyTerminal {
			// SPEC_FULL.md §8: a subscriber attaching after the terminal event
			// receives it immediately, then disconnects.
			f.Unsubscribe(queryID, subscriberID)
			close(out)
			return
		}
		<-ctx.Done()
		f.Unsubscribe(queryID, subscriberID)
	}()

	return out
}

// Unsubscribe detaches a subscriber. A disconnect never cancels the query
// (SPEC_FULL.md §4.I); it only stops delivery to that subscriber.
func (f *Fabric) Unsubscribe(queryID, subscriberID string) {
	f.mu.Lock()
	t, ok := f.topics[queryID]
	f.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	if s, ok := t.subs[subscriberID]; ok {
		delete(t.subs, s.id)
	}
	t.mu.Unlock()
}

// Cancel sets queryId's cancel signal and publishes a cancelled terminal
// event to every subscriber. Idempotent: a second call is a no-op.
func (f *Fabric) Cancel(queryID, reason string) {
	t := f.topicFor(queryID)
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	close(t.cancelCh)
	t.mu.Unlock()

	f.Publish(queryID, KindCancelled, map[string]string{"queryId": queryID, "reason": reason})
}

// CancelSignal returns a channel closed when Cancel(queryId) is called, for
// the Orchestrator/Plan Executor to select on alongside context deadlines.
func (f *Fabric) CancelSignal(queryID string) <-chan struct{} {
	return f.topicFor(queryID).cancelCh
}
