package notes

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/metrics"
)

// ChangeKind labels the write that produced a change event.
type ChangeKind string

const (
	ChangeKindCreated ChangeKind = "created"
	ChangeKindUpdated ChangeKind = "updated"
	ChangeKindStarred ChangeKind = "starred"
	ChangeKindDeleted ChangeKind = "deleted"
)

// ChangeEvent describes a committed write to the note store. An empty NoteID stands for
// writes to several notes that were coalesced into one event.
type ChangeEvent struct {
	Kind   ChangeKind
	NoteID string
}

// Touches reports whether the event may have changed the note with the given id.
func (e ChangeEvent) Touches(noteID string) bool {
	return e.NoteID == "" || e.NoteID == noteID
}

func (e ChangeEvent) merge(later ChangeEvent) ChangeEvent {
	if e.NoteID != later.NoteID {
		later.NoteID = ""
	}
	return later
}

// ChangeFeed fans committed writes out to watchers. Each subscriber holds at most one
// pending event; later events are merged into the pending one since watchers only
// use them as an invalidation signal.
type ChangeFeed struct {
	mu          sync.RWMutex
	subscribers map[int64]*feedSubscriber
	nextID      int64
}

type feedSubscriber struct {
	id     int64
	stream chan ChangeEvent
}

// NewChangeFeed constructs an empty feed.
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{
		subscribers: make(map[int64]*feedSubscriber),
	}
}

// Subscribe registers a watcher until ctx is cancelled or cleanup is called.
func (f *ChangeFeed) Subscribe(ctx context.Context) (<-chan ChangeEvent, func()) {
	subscriber := &feedSubscriber{
		stream: make(chan ChangeEvent, 1),
	}
	f.mu.Lock()
	f.nextID++
	subscriber.id = f.nextID
	f.subscribers[subscriber.id] = subscriber
	f.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			f.unregister(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish notifies every subscriber without blocking.
func (f *ChangeFeed) Publish(event ChangeEvent) {
	metrics.TrackStoreChange(string(event.Kind))
	f.mu.RLock()
	copies := make([]*feedSubscriber, 0, len(f.subscribers))
	for _, subscriber := range f.subscribers {
		copies = append(copies, subscriber)
	}
	f.mu.RUnlock()
	for _, subscriber := range copies {
		subscriber.offer(event)
	}
}

func (s *feedSubscriber) offer(event ChangeEvent) {
	for {
		select {
		case s.stream <- event:
			return
		default:
		}
		select {
		case pending := <-s.stream:
			event = pending.merge(event)
		default:
		}
	}
}

// SubscriberCount reports the number of registered watchers.
func (f *ChangeFeed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

func (f *ChangeFeed) unregister(subscriberID int64) {
	f.mu.Lock()
	delete(f.subscribers, subscriberID)
	f.mu.Unlock()
}
