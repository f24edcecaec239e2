package fanout

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
)

const testRoom domain.RoomID = "room-1"

type collector struct {
	ch chan Message
}

func newCollector() *collector { return &collector{ch: make(chan Message, 256)} }

func (c *collector) handle(m Message) { c.ch <- m }

func (c *collector) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func seatChange(u string, mic domain.MicStatus) domain.Change {
	return domain.SeatChange(domain.ParticipantSeat{RoomID: testRoom, UserID: domain.UserID(u), Role: domain.RoleListener, MicStatus: mic})
}

func TestSubscribeDeliversSnapshotThenUpdates(t *testing.T) {
	t.Parallel()
	h := NewHub(8, nil)
	h.Publish(testRoom, seatChange("a", domain.MicNone))
	h.Publish(testRoom, seatChange("b", domain.MicNone))

	c := newCollector()
	unsubscribe := h.Subscribe(testRoom, c.handle)
	defer unsubscribe()

	snap := c.next(t)
	if snap.Type != TypeSnapshot || len(snap.Rows) != 2 || snap.Version != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Rows[0].Key != "a" || snap.Rows[1].Key != "b" {
		t.Errorf("snapshot order = %s, %s", snap.Rows[0].Key, snap.Rows[1].Key)
	}

	h.Publish(testRoom, seatChange("a", domain.MicRequested))
	h.Publish(testRoom, domain.SeatRemoved("b"))

	u1 := c.next(t)
	u2 := c.next(t)
	if u1.Type != TypeUpdate || u1.Version != 3 || u1.Rows[0].Key != "a" {
		t.Errorf("first update = %+v", u1)
	}
	if u2.Version != 4 || !u2.Rows[0].Deleted {
		t.Errorf("second update = %+v", u2)
	}

	again := h.Snapshot(testRoom)
	if len(again.Rows) != 1 || again.Rows[0].Version != 3 {
		t.Errorf("snapshot after delete = %+v", again)
	}
}

func TestOpenSeedNeverOverridesPublishedRows(t *testing.T) {
	t.Parallel()
	h := NewHub(4, nil)
	fresh := domain.StatsChange(domain.RoomLiveStats{RoomID: testRoom, ListenerCount: 7})
	stale := domain.StatsChange(domain.RoomLiveStats{RoomID: testRoom, ListenerCount: 1})
	h.Publish(testRoom, fresh)
	h.Open(testRoom, stale, seatChange("x", domain.MicNone))

	snap := h.Snapshot(testRoom)
	if len(snap.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(snap.Rows))
	}
	for _, r := range snap.Rows {
		if r.Kind == domain.KindStats && r.Data.(domain.RoomLiveStats).ListenerCount != 7 {
			t.Errorf("stats row overwritten by seed: %+v", r.Data)
		}
	}
}

// blockingCollector parks inside its first call until release is closed.
type blockingCollector struct {
	*collector
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingCollector() *blockingCollector {
	return &blockingCollector{
		collector: newCollector(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (b *blockingCollector) handle(m Message) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	b.collector.handle(m)
}

func TestSlowSubscriberIsResynced(t *testing.T) {
	t.Parallel()
	h := NewHub(1, SimplePolicy{Action: Resync})
	b := newBlockingCollector()
	unsubscribe := h.Subscribe(testRoom, b.handle)
	defer unsubscribe()
	<-b.entered

	for i := range 5 {
		h.Publish(testRoom, seatChange(fmt.Sprintf("u%d", i), domain.MicNone))
	}
	close(b.release)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-b.ch:
			if m.Type == TypeSnapshot && m.Version == 5 {
				if len(m.Rows) != 5 {
					t.Errorf("resync snapshot rows = %d, want 5", len(m.Rows))
				}
				return
			}
		case <-deadline:
			t.Fatal("no resync snapshot delivered")
		}
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	t.Parallel()
	h := NewHub(1, SimplePolicy{Action: Disconnect})
	b := newBlockingCollector()
	h.Subscribe(testRoom, b.handle)
	<-b.entered

	h.Publish(testRoom, seatChange("a", domain.MicNone))
	h.Publish(testRoom, seatChange("b", domain.MicNone))
	if n := h.SubscriberCount(testRoom); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
	close(b.release)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-b.ch:
			if m.Type == TypeEvicted {
				return
			}
		case <-deadline:
			t.Fatal("no eviction delivered")
		}
	}
}

func TestCloseKeepsChannelsWithSubscribers(t *testing.T) {
	t.Parallel()
	h := NewHub(4, nil)
	c := newCollector()
	unsubscribe := h.Subscribe(testRoom, c.handle)
	if h.Close(testRoom) {
		t.Fatal("Close succeeded with a live subscriber")
	}
	unsubscribe()
	if !h.Close(testRoom) {
		t.Fatal("Close failed on idle channel")
	}
	if snap := h.Snapshot(testRoom); len(snap.Rows) != 0 {
		t.Errorf("closed channel still has rows: %+v", snap)
	}
}

func TestShutdownEvictsSubscribers(t *testing.T) {
	t.Parallel()
	h := NewHub(4, nil)
	c := newCollector()
	h.Subscribe(testRoom, c.handle)
	if m := c.next(t); m.Type != TypeSnapshot {
		t.Fatalf("first message = %s", m.Type)
	}
	h.Shutdown()
	if m := c.next(t); m.Type != TypeEvicted {
		t.Errorf("after shutdown got %s, want evicted", m.Type)
	}
}

func TestCursorDropsOlderVersions(t *testing.T) {
	t.Parallel()
	cur := NewCursor()
	row := func(key string, v uint64) Row {
		return Row{Change: domain.Change{Kind: domain.KindSeat, Key: key}, Version: v}
	}
	cur.Apply(Message{Type: TypeSnapshot, Rows: []Row{row("a", 5), row("b", 2)}})

	tests := []struct {
		row  Row
		want int
	}{
		{row("a", 4), 0},
		{row("a", 5), 1},
		{row("a", 6), 1},
		{row("a", 5), 0},
		{row("b", 3), 1},
		{row("c", 1), 1},
	}
	for _, tt := range tests {
		got := cur.Apply(Message{Type: TypeUpdate, Rows: []Row{tt.row}})
		if len(got) != tt.want {
			t.Errorf("Apply(%s@%d) kept %d rows, want %d", tt.row.Key, tt.row.Version, len(got), tt.want)
		}
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]BackpressureAction{"": Resync, "resync": Resync, "drop": DropUpdate, "disconnect": Disconnect} {
		got, err := ParseAction(raw)
		if err != nil || got != want {
			t.Errorf("ParseAction(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseAction("kick"); err == nil {
		t.Error("ParseAction(kick) succeeded")
	}
}
