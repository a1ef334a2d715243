package channel

import (
	"encoding/json"

	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

// Handler receives the raw payload of a server pushed event.
type Handler func(payload json.RawMessage)

type subscriptionEntry struct {
	id      int
	key     string
	handler Handler
}

// Subscription is the handle returned by Subscribe. Unsubscribe is idempotent.
type Subscription struct {
	m    *Manager
	kind matchdto.EventKind
	id   int
}

func (s *Subscription) Kind() matchdto.EventKind { return s.kind }

func (s *Subscription) Unsubscribe() {
	if s == nil || s.m == nil {
		return
	}
	s.m.removeSubscription(s.kind, s.id)
}

// Subscribe registers h for kind under key. Registering the same (kind, key)
// again swaps the handler and returns the existing handle, so a caller that
// re-subscribes after a reconnect never receives an event twice.
func (m *Manager) Subscribe(kind matchdto.EventKind, key string, h Handler) *Subscription {
	m.subM.Lock()
	defer m.subM.Unlock()
	for i, e := range m.subs[kind] {
		if e.key == key {
			m.subs[kind][i].handler = h
			return &Subscription{m: m, kind: kind, id: e.id}
		}
	}
	m.nextSubID++
	id := m.nextSubID
	m.subs[kind] = append(m.subs[kind], subscriptionEntry{id: id, key: key, handler: h})
	return &Subscription{m: m, kind: kind, id: id}
}

func (m *Manager) removeSubscription(kind matchdto.EventKind, id int) {
	m.subM.Lock()
	defer m.subM.Unlock()
	list := m.subs[kind]
	for i, e := range list {
		if e.id == id {
			m.subs[kind] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(m.subs[kind]) == 0 {
		delete(m.subs, kind)
	}
}

// SubscriberCount returns how many handlers are registered for kind.
func (m *Manager) SubscriberCount(kind matchdto.EventKind) int {
	m.subM.RLock()
	defer m.subM.RUnlock()
	return len(m.subs[kind])
}

func (m *Manager) handlersFor(kind matchdto.EventKind) []subscriptionEntry {
	m.subM.RLock()
	defer m.subM.RUnlock()
	list := m.subs[kind]
	out := make([]subscriptionEntry, len(list))
	copy(out, list)
	return out
}
