package sync

import (
	"sync"
	"time"

	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
)

// NotificationKind identifies what a Notification reports.
type NotificationKind string

const (
	NoteRecordChanged     NotificationKind = "record_changed"
	NoteSyncStarted       NotificationKind = "sync_started"
	NoteSyncCompleted     NotificationKind = "sync_completed"
	NoteSyncFailed        NotificationKind = "sync_failed"
	NoteStateChanged      NotificationKind = "state_changed"
	NoteConflict          NotificationKind = "conflict_detected"
	NoteQueueEntryDropped NotificationKind = "queue_entry_dropped"
)

// Notification is one observer event. Fields beyond Kind and At are set
// according to Kind.
type Notification struct {
	Kind   NotificationKind
	At     time.Time
	Type   models.RecordType // RecordChanged, Conflict, QueueEntryDropped
	Change events.ChangeKind // RecordChanged
	Record *models.Record    // RecordChanged, Conflict (local copy), QueueEntryDropped
	State  State             // StateChanged
	Result *CycleResult      // SyncCompleted
	Err    error             // SyncFailed, QueueEntryDropped
}

// Broker fans notifications out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the notification.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
	closed bool
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Notification)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notification, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers n to every subscriber with buffer space.
func (b *Broker) Publish(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Close unregisters and closes every subscriber.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
