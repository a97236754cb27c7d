package store

import (
	"sync"
	"sync/atomic"
)

// feedBuffer bounds how many unconsumed writes a subscriber may queue.
const feedBuffer = 256

type feedSubscriber struct {
	ch       chan Document
	overflow chan struct{}
	once     sync.Once
}

func (s *feedSubscriber) markOverflow() {
	s.once.Do(func() { close(s.overflow) })
}

// feed fans committed writes out to subscriptions.
type feed struct {
	subscribers map[uint64]*feedSubscriber
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func newFeed() *feed {
	return &feed{
		subscribers: make(map[uint64]*feedSubscriber),
	}
}

func (f *feed) subscribe() (uint64, *feedSubscriber) {
	id := f.nextID.Add(1)
	sub := &feedSubscriber{
		ch:       make(chan Document, feedBuffer),
		overflow: make(chan struct{}),
	}

	f.mu.Lock()
	f.subscribers[id] = sub
	f.mu.Unlock()

	return id, sub
}

func (f *feed) unsubscribe(id uint64) {
	f.mu.Lock()
	if sub, ok := f.subscribers[id]; ok {
		close(sub.ch)
		delete(f.subscribers, id)
	}
	f.mu.Unlock()
}

// publish never blocks; a subscriber whose buffer is full is flagged as lagged.
func (f *feed) publish(doc Document) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, sub := range f.subscribers {
		select {
		case sub.ch <- doc:
		default:
			sub.markOverflow()
		}
	}
}

func (f *feed) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subscribers {
		close(sub.ch)
		delete(f.subscribers, id)
	}
}
