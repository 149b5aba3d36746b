package ledger

import (
	"sync"
	"sync/atomic"
)

// Event is a typed log payload emitted by a contract.
type Event interface {
	EventName() string
}

// Log is a committed event. (TxHash, Index) identifies it uniquely; Seq is
// its position in the chain-wide log history.
type Log struct {
	Seq       uint64  `json:"seq"`
	TxHash    Hash    `json:"tx_hash"`
	Index     uint    `json:"log_index"`
	Height    uint64  `json:"height"`
	Timestamp uint64  `json:"timestamp"`
	Contract  Address `json:"contract"`
	Event     Event   `json:"event"`
}

// Name returns the event name.
func (l Log) Name() string { return l.Event.EventName() }

// Subscription receives committed logs. Delivery never blocks the chain:
// when the buffer is full the log is dropped and counted, and the consumer
// is expected to recover with Chain.LogsSince.
type Subscription struct {
	C       <-chan Log
	ch      chan Log
	id      uint64
	hub     *hub
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped returns how many logs could not be delivered.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.id)
		close(s.ch)
	})
}

type hub struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]*Subscription
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*Subscription)}
}

func (h *hub) add(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	ch := make(chan Log, buffer)
	s := &Subscription{C: ch, ch: ch, id: h.next, hub: h}
	h.subs[s.id] = s
	return s
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *hub) publish(logs []Log) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		for _, l := range logs {
			select {
			case s.ch <- l:
			default:
				s.dropped.Add(1)
			}
		}
	}
}
