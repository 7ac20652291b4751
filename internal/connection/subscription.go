package connection

import (
	"sync"
	"sync/atomic"

	"github.com/rickgao/wstool/internal/model"
)

// Subscription delivers frames received on one subscriber connection.
//
// Delivery is best effort: when the buffer is full the frame is dropped
// for this subscription only and counted in Dropped. The channel is closed
// when the subscription is cancelled or the connection terminates.
type Subscription struct {
	id     uint64
	ch     chan model.Message
	owner  *fanout
	drops  atomic.Uint64
	closed sync.Once
}

// Messages returns the delivery channel.
func (s *Subscription) Messages() <-chan model.Message {
	return s.ch
}

// Dropped returns how many frames were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.drops.Load()
}

// Close cancels the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closed.Do(func() { s.owner.remove(s.id) })
}

// fanout copies inbound frames to every live Subscription of a connection.
type fanout struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	done   bool
}

func newFanout() *fanout {
	return &fanout{subs: make(map[uint64]*Subscription)}
}

func (f *fanout) subscribe(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = 64
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return nil, ErrNotConnected
	}

	f.nextID++
	sub := &Subscription{
		id:    f.nextID,
		ch:    make(chan model.Message, buffer),
		owner: f,
	}
	f.subs[sub.id] = sub
	return sub, nil
}

// publish never blocks the receive loop.
func (f *fanout) publish(msg model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		select {
		case sub.ch <- msg:
		default:
			sub.drops.Add(1)
		}
	}
}

func (f *fanout) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sub, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(sub.ch)
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub.ch)
	}
	f.done = true
}
