package registry

import (
	"context"
	"sync"
)

// Memory хранит состояния в памяти процесса. Подходит только для одного экземпляра.
type Memory struct {
	mu      sync.Mutex
	entries map[Key]string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]string)}
}

func (m *Memory) Set(_ context.Context, key Key, value string) error {
	m.mu.Lock()
	m.entries[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key Key) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *Memory) Has(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Take(_ context.Context, key Key) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	return v, ok, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
