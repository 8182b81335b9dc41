package guard

import (
	"context"
	"sync"
	"time"
)

type memoryWindow struct {
	count     int
	windowEnd time.Time
}

type memoryToken struct {
	hash      string
	expiresAt time.Time
}

// MemoryStore is the dev-mode backend: a fixed-window counter and token map
// guarded by one mutex. State resets with the process.
type MemoryStore struct {
	Now func() time.Time

	mu      sync.Mutex
	windows map[string]*memoryWindow
	tokens  map[string]memoryToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:     func() time.Time { return time.Now().UTC() },
		windows: make(map[string]*memoryWindow),
		tokens:  make(map[string]memoryToken),
	}
}

func (m *MemoryStore) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := m.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || now.After(w.windowEnd) {
		m.windows[key] = &memoryWindow{count: 1, windowEnd: now.Add(window)}
		return true, 0, nil
	}
	w.count++
	if w.count > max {
		retry := w.windowEnd.Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return false, retry, nil
	}
	return true, 0, nil
}

func (m *MemoryStore) SetToken(ctx context.Context, key, hash string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = memoryToken{hash: hash, expiresAt: m.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) ConsumeToken(ctx context.Context, key, hash string) (ConsumeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[key]
	if !ok || m.Now().After(token.expiresAt) {
		delete(m.tokens, key)
		return ConsumeMissing, nil
	}
	if token.hash != hash {
		return ConsumeMismatch, nil
	}
	delete(m.tokens, key)
	return ConsumeOK, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
