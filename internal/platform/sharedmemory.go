package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a shared memory key does not exist.
	ErrNotFound = errors.New("shared memory: key not found")
	// ErrNotReady is returned when a Wait deadline elapses before the
	// producing agent has written the key.
	ErrNotReady = errors.New("shared memory: dependency not ready")
)

// Metadata travels with every shared memory write so consumers can tell which
// agent produced an entry.
type Metadata struct {
	AgentID string `json:"agent_id,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Entry is a stored shared memory record.
type Entry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	AgentID  string          `json:"agent_id,omitempty"`
	Type     string          `json:"type,omitempty"`
	StoredAt time.Time       `json:"stored_at"`
}

// Decode unmarshals the entry value into out.
func (e Entry) Decode(out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal(e.Value, out)
}

// SharedMemory is the coordination store agents communicate through. Keys are
// logical names ("source_discovery"); implementations prepend the shared
// namespace prefix. Wait is the coordination barrier: it blocks until the key
// exists or the bounded timeout elapses with ErrNotReady.
type SharedMemory interface {
	Store(ctx context.Context, key string, value any, meta Metadata) error
	Retrieve(ctx context.Context, key string) (Entry, error)
	Wait(ctx context.Context, key string, timeout time.Duration) (Entry, error)
}

const defaultNamespace = "shared_"

func namespaced(namespace, key string) string {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return namespace + key
}

// MemorySharedMemory is a process-local SharedMemory used by tests and
// one-shot runs.
type MemorySharedMemory struct {
	mu        sync.RWMutex
	namespace string
	poll      time.Duration
	entries   map[string]Entry
}

func NewMemorySharedMemory(namespace string, poll time.Duration) *MemorySharedMemory {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &MemorySharedMemory{
		namespace: namespace,
		poll:      poll,
		entries:   make(map[string]Entry),
	}
}

func (m *MemorySharedMemory) Store(ctx context.Context, key string, value any, meta Metadata) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[namespaced(m.namespace, key)] = Entry{
		Key:      key,
		Value:    raw,
		AgentID:  meta.AgentID,
		Type:     meta.Type,
		StoredAt: time.Now(),
	}
	return nil
}

func (m *MemorySharedMemory) Retrieve(ctx context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[namespaced(m.namespace, key)]
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return entry, nil
}

func (m *MemorySharedMemory) Wait(ctx context.Context, key string, timeout time.Duration) (Entry, error) {
	return pollWait(ctx, m, key, timeout, m.poll)
}

// pollWait implements the barrier on top of Retrieve for backends without
// native blocking reads.
func pollWait(ctx context.Context, mem SharedMemory, key string, timeout, poll time.Duration) (Entry, error) {
	deadline := time.Now().Add(timeout)
	for {
		entry, err := mem.Retrieve(ctx, key)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Entry{}, err
		}
		if time.Now().After(deadline) {
			return Entry{}, fmt.Errorf("waiting for %s after %s: %w", key, timeout, ErrNotReady)
		}
		select {
		case <-time.After(poll):
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}
