package logstream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) Deliver(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Message
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func TestHub_SubscribeSendsBacklogThenLive(t *testing.T) {
	ring := NewRingBuffer(10)
	hub := NewHub(func(string) []Line { return ring.Snapshot() })

	hub.Publish("bot1", ring.Append(NewLine(LevelInfo, "old 1")))
	hub.Publish("bot1", ring.Append(NewLine(LevelInfo, "old 2")))

	obs := &recorder{}
	hub.Register(obs)
	hub.Subscribe(obs, "bot1")
	require.Equal(t, []string{"old 1", "old 2"}, obs.texts())

	hub.Publish("bot1", ring.Append(NewLine(LevelError, "live")))
	hub.Publish("bot2", NewLine(LevelInfo, "other bot"))
	require.Equal(t, []string{"old 1", "old 2", "live"}, obs.texts())

	last := obs.msgs[2]
	require.Equal(t, "log", last.Type)
	require.Equal(t, "bot1", last.BotID)
	require.Equal(t, LevelError, last.Level)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	ring := NewRingBuffer(10)
	hub := NewHub(func(string) []Line { return ring.Snapshot() })
	obs := &recorder{}

	hub.Subscribe(obs, "bot1")
	hub.Publish("bot1", ring.Append(NewLine(LevelInfo, "one")))
	hub.Unsubscribe(obs, "bot1")
	hub.Publish("bot1", ring.Append(NewLine(LevelInfo, "two")))
	require.Equal(t, []string{"one"}, obs.texts())

	obs.reset()
	hub.Subscribe(obs, "bot1")
	hub.Publish("bot1", ring.Append(NewLine(LevelInfo, "three")))
	require.Equal(t, []string{"one", "two", "three"}, obs.texts())
}

func TestHub_NoDuplicateWhenLineAlreadyInBacklog(t *testing.T) {
	ring := NewRingBuffer(10)
	hub := NewHub(func(string) []Line { return ring.Snapshot() })
	obs := &recorder{}

	// appended but not yet published when the observer subscribes
	l := ring.Append(NewLine(LevelInfo, "in flight"))
	hub.Subscribe(obs, "bot1")
	hub.Publish("bot1", l)

	require.Equal(t, []string{"in flight"}, obs.texts())
}

func TestHub_LinesPublishedDuringSnapshotAreQueued(t *testing.T) {
	ring := NewRingBuffer(10)
	ring.Append(NewLine(LevelInfo, "backlog"))
	var hub *Hub
	hub = NewHub(func(string) []Line {
		snap := ring.Snapshot()
		// a line produced after the snapshot but before the observer goes live
		hub.Publish("bot1", ring.Append(NewLine(LevelInfo, "racing")))
		hub.Publish("bot1", NewLine(LevelWarn, "supervisor event"))
		return snap
	})
	obs := &recorder{}
	hub.Subscribe(obs, "bot1")

	require.Equal(t, []string{"backlog", "racing", "supervisor event"}, obs.texts())
}

func TestHub_UnregisterDropsAllSubscriptions(t *testing.T) {
	hub := NewHub(nil)
	obs := &recorder{}
	hub.Register(obs)
	hub.Subscribe(obs, "a")
	hub.Subscribe(obs, "b")
	require.Equal(t, 1, hub.Count())

	hub.Unregister(obs)
	hub.Publish("a", NewLine(LevelInfo, "x"))
	hub.Publish("b", NewLine(LevelInfo, "y"))
	require.Empty(t, obs.texts())
	require.Equal(t, 0, hub.Count())
}

func TestTee(t *testing.T) {
	a, b := NewHub(nil), NewHub(nil)
	ra, rb := &recorder{}, &recorder{}
	a.Subscribe(ra, "x")
	b.Subscribe(rb, "x")

	Tee(a, nil, b).Publish("x", NewLine(LevelInfo, "hello"))
	require.Equal(t, []string{"hello"}, ra.texts())
	require.Equal(t, []string{"hello"}, rb.texts())
	Discard.Publish("x", NewLine(LevelInfo, "ignored"))
}

func TestHub_RegisteredObserverOnlyGetsSubscribedBots(t *testing.T) {
	hub := NewHub(nil)
	idle, watcher := &recorder{}, &recorder{}
	hub.Register(idle)
	hub.Register(watcher)
	hub.Subscribe(watcher, "bot1")

	hub.Publish("bot1", NewLine(LevelInfo, "for bot1"))
	hub.Publish("bot2", NewLine(LevelInfo, "for bot2"))

	require.Empty(t, idle.texts())
	require.Equal(t, []string{"for bot1"}, watcher.texts())
}
