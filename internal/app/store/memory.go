package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process implementation of MessageStore and PresenceStore.
// It backs development runs (DATABASE_URL=memory) and the test suite.
// All methods are safe for concurrent use.
type Memory struct {
	mu           sync.RWMutex
	messages     []Message
	nextID       int64
	presence     map[string]PresenceEntry
	historyLimit int
}

// NewMemory returns an empty in-memory store. historyLimit caps PublicHistory
// to the most recent N messages; zero means unbounded.
func NewMemory(historyLimit int) *Memory {
	return &Memory{
		nextID:       1,
		presence:     make(map[string]PresenceEntry),
		historyLimit: historyLimit,
	}
}

// Append implements MessageStore.
func (m *Memory) Append(ctx context.Context, msg Message) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ID = m.nextID
	m.nextID++
	m.messages = append(m.messages, msg)

	return msg.ID, nil
}

// PublicHistory implements MessageStore.
func (m *Memory) PublicHistory(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Message
	for _, msg := range m.messages {
		if !msg.Private {
			out = append(out, msg)
		}
	}

	if m.historyLimit > 0 && len(out) > m.historyLimit {
		out = out[len(out)-m.historyLimit:]
	}

	return out, nil
}

// PrivateHistory implements MessageStore.
func (m *Memory) PrivateHistory(ctx context.Context, a, b string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Message
	for _, msg := range m.messages {
		if !msg.Private {
			continue
		}
		if (msg.Sender == a && msg.Receiver == b) || (msg.Sender == b && msg.Receiver == a) {
			out = append(out, msg)
		}
	}

	return out, nil
}

// Upsert implements PresenceStore.
func (m *Memory) Upsert(ctx context.Context, identity, label string, seenAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.presence[identity] = PresenceEntry{
		Identity: identity,
		Label:    label,
		LastSeen: seenAt,
	}

	return nil
}

// ListActive implements PresenceStore. Entries are returned sorted by
// identity for a stable snapshot order.
func (m *Memory) ListActive(ctx context.Context) ([]PresenceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PresenceEntry, 0, len(m.presence))
	for _, entry := range m.presence {
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity < out[j].Identity
	})

	return out, nil
}
