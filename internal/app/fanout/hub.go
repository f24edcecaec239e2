// Package fanout propagates room state to subscribers: one logical channel
// per room, full snapshot first, then ordered incremental updates.
package fanout

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultBuffer = 64

type Hub struct {
	mu       sync.RWMutex
	channels map[domain.RoomID]*channel
	buffer   int
	policy   Policy
	nextSub  atomic.Uint64
}

type channel struct {
	room domain.RoomID

	mu   sync.Mutex
	seq  uint64
	rows map[rowKey]Row
	subs map[uint64]*subscriber
}

type subscriber struct {
	id      uint64
	handler Handler
	queue   chan Message
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once

	// guarded by channel.mu
	stale   bool
	evicted bool
}

func NewHub(buffer int, policy Policy) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	if policy == nil {
		policy = SimplePolicy{Action: Resync}
	}
	return &Hub{
		channels: make(map[domain.RoomID]*channel),
		buffer:   buffer,
		policy:   policy,
	}
}

// Publish records ch as the latest version of its row and queues it for
// every subscriber of room. The channel is created on first use.
func (h *Hub) Publish(room domain.RoomID, ch domain.Change) {
	h.mu.RLock()
	c, ok := h.channels[room]
	if ok {
		c.publish(h, ch)
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.channelLocked(room).publish(h, ch)
}

// Open makes sure the channel exists and fills in seed rows it does not
// already hold. Rows published earlier always win over the seed.
func (h *Hub) Open(room domain.RoomID, seed ...domain.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.channelLocked(room)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range seed {
		if ch.Deleted {
			continue
		}
		k := keyOf(ch)
		if _, ok := c.rows[k]; ok {
			continue
		}
		c.seq++
		c.rows[k] = Row{Change: ch, Version: c.seq}
	}
}

// Subscribe registers handler on room. The handler first receives a full
// snapshot, then every update in channel order, from one goroutine.
func (h *Hub) Subscribe(room domain.RoomID, handler Handler) (unsubscribe func()) {
	s := &subscriber{
		id:      h.nextSub.Add(1),
		handler: handler,
		queue:   make(chan Message, h.buffer),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	c := h.channelLocked(room)
	c.mu.Lock()
	s.queue <- c.snapshotLocked()
	c.subs[s.id] = s
	n := len(c.subs)
	c.mu.Unlock()
	h.mu.Unlock()

	log.Debug().Str("module", "fanout").Str("room", string(room)).Uint64("sub", s.id).Int("subscribers", n).Msg("subscribed")
	go s.run(c)

	return func() {
		c.mu.Lock()
		delete(c.subs, s.id)
		c.mu.Unlock()
		s.stop()
		log.Debug().Str("module", "fanout").Str("room", string(room)).Uint64("sub", s.id).Msg("unsubscribed")
	}
}

// Snapshot returns the current materialized view of room.
func (h *Hub) Snapshot(room domain.RoomID) Message {
	h.mu.RLock()
	c, ok := h.channels[room]
	h.mu.RUnlock()
	if !ok {
		return Message{Type: TypeSnapshot, Room: room}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (h *Hub) SubscriberCount(room domain.RoomID) int {
	h.mu.RLock()
	c, ok := h.channels[room]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close drops the channel of room when nobody is subscribed.
func (h *Hub) Close(room domain.RoomID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.channels[room]
	if !ok {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) > 0 {
		return false
	}
	delete(h.channels, room)
	return true
}

// Shutdown evicts every subscriber of every room.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, c := range h.channels {
		c.mu.Lock()
		for id, s := range c.subs {
			s.evicted = true
			s.signal()
			delete(c.subs, id)
		}
		c.mu.Unlock()
		delete(h.channels, room)
	}
}

func (h *Hub) channelLocked(room domain.RoomID) *channel {
	c, ok := h.channels[room]
	if !ok {
		c = &channel{
			room: room,
			rows: make(map[rowKey]Row),
			subs: make(map[uint64]*subscriber),
		}
		h.channels[room] = c
	}
	return c
}

func (c *channel) publish(h *Hub, ch domain.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	row := Row{Change: ch, Version: c.seq}
	if ch.Deleted {
		delete(c.rows, keyOf(ch))
	} else {
		c.rows[keyOf(ch)] = row
	}
	msg := Message{Type: TypeUpdate, Room: c.room, Version: c.seq, Rows: []Row{row}}
	for _, s := range c.subs {
		c.deliverLocked(h, s, msg)
	}
}

func (c *channel) deliverLocked(h *Hub, s *subscriber, msg Message) {
	if s.stale || s.evicted {
		return
	}
	select {
	case s.queue <- msg:
		return
	default:
	}
	action := h.policy.OnBackpressure(c.room, s.id)
	log.Warn().Str("module", "fanout").Str("room", string(c.room)).Uint64("sub", s.id).Str("action", action.String()).Msg("subscriber queue full")
	switch action {
	case DropUpdate:
	case Disconnect:
		s.evicted = true
		delete(c.subs, s.id)
		s.signal()
	default:
		s.stale = true
		s.signal()
	}
}

func (c *channel) snapshotLocked() Message {
	rows := make([]Row, 0, len(c.rows))
	for _, r := range c.rows {
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b Row) int {
		if n := cmp.Compare(a.Kind, b.Kind); n != 0 {
			return n
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return Message{Type: TypeSnapshot, Room: c.room, Version: c.seq, Rows: rows}
}

// recover is called by the subscriber goroutine after a wake signal.
// It reports false once the subscriber must stop.
func (c *channel) recover(s *subscriber) (*Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.evicted {
		return &Message{Type: TypeEvicted, Room: c.room, Version: c.seq}, false
	}
	if !s.stale {
		return nil, true
	}
	for drained := false; !drained; {
		select {
		case <-s.queue:
		default:
			drained = true
		}
	}
	s.stale = false
	snap := c.snapshotLocked()
	return &snap, true
}

func (s *subscriber) run(c *channel) {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.queue:
			s.handler(m)
		case <-s.wake:
			m, ok := c.recover(s)
			if m != nil {
				s.handler(*m)
			}
			if !ok {
				s.stop()
				return
			}
		}
	}
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}
