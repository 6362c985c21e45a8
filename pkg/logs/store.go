package logs

import "sync"

// subscriberBuffer is the per-subscriber live channel capacity. A subscriber
// that falls more than this many entries behind has its tail dropped.
const subscriberBuffer = 256

// DroppedTailMarker is the content of the System entry queued for a
// subscriber whose live channel overflowed.
const DroppedTailMarker = "subscriber lagging; dropped tail of live event stream"

// Store is an append-only, in-memory buffer of normalized entries with live
// fan-out. The writers are the agent binding and its read tasks; any number of
// consumers read, either via snapshots or live subscriptions. The Store is
// shared by reference and outlives the agent that writes it.
type Store struct {
	mu      sync.Mutex
	entries []Entry
	subs    map[*subscriber]struct{}
	dropped int
	closed  bool
}

type subscriber struct {
	ch     chan Entry
	lagged bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[*subscriber]struct{})}
}

// Append adds an entry to the buffer and delivers it to live subscribers.
// Delivery is non-blocking: a subscriber whose channel is full is detached
// with a trailing System marker instead of stalling the producer.
// Appending to a closed store reopens the stream: a session's store is
// closed at the end of each execution and written again by the next one.
func (s *Store) Append(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	s.entries = append(s.entries, entry)

	for sub := range s.subs {
		if sub.lagged {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			// Live channel full: detach the subscriber rather than stall
			// the producer. The marker cannot be queued inline, so a
			// detached sender delivers it after the subscriber drains,
			// then closes the subscription.
			sub.lagged = true
			s.dropped++
			delete(s.subs, sub)
			go func(sub *subscriber, marker Entry) {
				sub.ch <- marker
				close(sub.ch)
			}(sub, NewEntry(EntrySystem, DroppedTailMarker, entry.AgentType))
		}
	}
}

// Subscribe returns a channel that first replays the current buffer, then
// delivers live entries in append order. The channel closes when the store
// is closed or the subscriber falls too far behind (after a System marker).
func (s *Store) Subscribe() <-chan Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Entry, len(s.entries)+subscriberBuffer)
	for _, entry := range s.entries {
		ch <- entry
	}
	if s.closed {
		close(ch)
		return ch
	}
	s.subs[&subscriber{ch: ch}] = struct{}{}
	return ch
}

// SnapshotAndSubscribe returns a copy of the current buffer plus a live-only
// subscription that begins immediately after the snapshot.
func (s *Store) SnapshotAndSubscribe() ([]Entry, <-chan Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := append([]Entry(nil), s.entries...)
	ch := make(chan Entry, subscriberBuffer)
	if s.closed {
		close(ch)
		return snapshot, ch
	}
	s.subs[&subscriber{ch: ch}] = struct{}{}
	return snapshot, ch
}

// Entries returns a copy of the current buffer.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// EntriesSince returns a copy of the buffer starting at index.
func (s *Store) EntriesSince(index int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= len(s.entries) {
		return nil
	}
	return append([]Entry(nil), s.entries[index:]...)
}

// Len returns the number of buffered entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// DroppedSubscribers returns how many subscribers have been detached for
// falling behind the live stream.
func (s *Store) DroppedSubscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close signals that the current writer has no further entries. Live
// subscriber channels are closed so consumers can drain and stop; the buffer
// stays readable and a later execution may resume appending. Idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
}

// AddSystem appends a System entry.
func (s *Store) AddSystem(content, agentType string) {
	s.Append(NewEntry(EntrySystem, content, agentType))
}

// AddOutput appends an Output entry.
func (s *Store) AddOutput(content, agentType string) {
	s.Append(NewEntry(EntryOutput, content, agentType))
}

// AddError appends an Error entry with the given kind.
func (s *Store) AddError(kind ErrorKind, content, agentType string) {
	s.Append(ErrorEntry(kind, content, agentType))
}
