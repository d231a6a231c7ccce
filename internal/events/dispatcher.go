package events

import (
	"context"
	"sync"
)

const defaultBufferSize = 16

// Dispatcher fans events out to in-process subscribers keyed by branch id. Slow subscribers miss
// events instead of blocking publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a stream for one branch. The stream is released when ctx ends or the
// returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, branchID string) (<-chan Event, func()) {
	if branchID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	entry := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(branchID, entry)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(branchID, entry.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return entry.stream, cleanup
}

func (d *Dispatcher) Publish(event Event) {
	if event.BranchID == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	registered := d.subscribers[event.BranchID]
	if len(registered) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(registered))
	for _, entry := range registered {
		copies = append(copies, entry)
	}
	d.mu.RUnlock()
	for _, entry := range copies {
		select {
		case entry.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(branchID string, entry *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[branchID]; !ok {
		d.subscribers[branchID] = make(map[int64]*subscriber)
	}
	d.subscribers[branchID][entry.id] = entry
}

func (d *Dispatcher) unregister(branchID string, subscriberID int64) {
	d.mu.Lock()
	registered := d.subscribers[branchID]
	if registered != nil {
		delete(registered, subscriberID)
		if len(registered) == 0 {
			delete(d.subscribers, branchID)
		}
	}
	d.mu.Unlock()
}
