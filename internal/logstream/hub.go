package logstream

import (
	"sync"
)

// Message is the frame sent to observers: {type:"log", botId, message, level}.
type Message struct {
	Type    string `json:"type"`
	BotID   string `json:"botId"`
	Message string `json:"message"`
	Level   Level  `json:"level"`
}

func newMessage(botID string, l Line) Message {
	return Message{Type: "log", BotID: botID, Message: l.Message, Level: l.Level}
}

// Observer receives messages from a Hub. Deliver is called with the hub lock held and
// must not block.
type Observer interface {
	Deliver(Message)
}

// BacklogFunc returns the buffered lines of a bot, oldest first.
type BacklogFunc func(botID string) []Line

type subscription struct {
	live    bool
	pending []Line
	cutoff  uint64 // highest Seq already sent as backlog
}

// Hub tracks connected observers and their per-bot subscriptions.
// Subscribing sends the bot's backlog before any live line for it.
type Hub struct {
	mu        sync.Mutex
	backlog   BacklogFunc
	observers map[Observer]map[string]*subscription
}

func NewHub(backlog BacklogFunc) *Hub {
	return &Hub{
		backlog:   backlog,
		observers: make(map[Observer]map[string]*subscription),
	}
}

// SetBacklog wires the backlog source after construction; the supervisor and the hub
// depend on each other.
func (h *Hub) SetBacklog(fn BacklogFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backlog = fn
}

func (h *Hub) Register(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o]; !ok {
		h.observers[o] = make(map[string]*subscription)
	}
}

// Unregister drops the observer and all of its subscriptions.
func (h *Hub) Unregister(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.observers, o)
}

// Count returns the number of registered observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Subscribe delivers the current backlog of botID to o and then registers o for live
// lines. Subscribing again replays the backlog.
func (h *Hub) Subscribe(o Observer, botID string) {
	h.mu.Lock()
	subs, ok := h.observers[o]
	if !ok {
		subs = make(map[string]*subscription)
		h.observers[o] = subs
	}
	sub := &subscription{}
	subs[botID] = sub
	backlog := h.backlog
	h.mu.Unlock()

	// backlog 回调不在 hub 锁内执行，避免和 Publish 的调用方形成锁环
	var snap []Line
	if backlog != nil {
		snap = backlog(botID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if cur := h.observers[o]; cur == nil || cur[botID] != sub {
		return // unsubscribed or resubscribed meanwhile
	}
	for _, l := range snap {
		o.Deliver(newMessage(botID, l))
		if l.Seq > sub.cutoff {
			sub.cutoff = l.Seq
		}
	}
	for _, l := range sub.pending {
		if sub.fresh(l) {
			o.Deliver(newMessage(botID, l))
		}
	}
	sub.pending = nil
	sub.live = true
}

func (h *Hub) Unsubscribe(o Observer, botID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.observers[o]; subs != nil {
		delete(subs, botID)
	}
}

// Publish implements Sink.
func (h *Hub) Publish(botID string, l Line) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for o, subs := range h.observers {
		sub := subs[botID]
		if sub == nil {
			continue
		}
		if !sub.live {
			sub.pending = append(sub.pending, l)
			continue
		}
		if sub.fresh(l) {
			o.Deliver(newMessage(botID, l))
		}
	}
}

// fresh reports whether l was not part of the backlog already sent.
func (s *subscription) fresh(l Line) bool {
	return l.Seq == 0 || l.Seq > s.cutoff
}
