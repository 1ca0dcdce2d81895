package store

import "sync"

// Memory is an in-process KV used by tests and as a fallback when no durable
// backend is configured.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) PutSync(key, value string) error {
	return m.Put(key, value)
}

func (m *Memory) Update(key string, fn func(current string, found bool) (string, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, found := m.values[key]
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	m.values[key] = next
	return nil
}
