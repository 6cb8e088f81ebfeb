package intake

import "sync"

// conversationLocks serializes turns per conversation id. Two concurrent
// submissions against the same conversation would otherwise interleave
// message appends and double-evaluate completion.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for a conversation id and returns the unlock
// function. Entries are reference-counted so the registry does not grow with
// every conversation ever seen.
func (l *conversationLocks) Lock(conversationID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[conversationID]
	if !ok {
		entry = &lockEntry{}
		l.locks[conversationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}
}
