package cache

import (
	"sort"
	"sync"
)

type MemStorage struct {
	mutex       *sync.RWMutex
	generations map[string]map[string][]byte
	closed      bool
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		mutex:       &sync.RWMutex{},
		generations: make(map[string]map[string][]byte),
	}
}

func (m *MemStorage) Open(name string) (Cache, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.generations[name]; !ok {
		m.generations[name] = make(map[string][]byte)
	}
	return memCache{name: name, m: m}, nil
}

func (m *MemStorage) Has(name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.generations[name]
	return ok, nil
}

func (m *MemStorage) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.generations))
	for name := range m.generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStorage) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.generations[name]
	delete(m.generations, name)
	return ok, nil
}

func (m *MemStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}

type memCache struct {
	name string
	m    *MemStorage
}

func (c memCache) Name() string {
	return c.name
}

func (c memCache) Get(key string) ([]byte, bool, error) {
	c.m.mutex.RLock()
	defer c.m.mutex.RUnlock()
	bytes, ok := c.m.generations[c.name][key]
	return bytes, ok, nil
}

func (c memCache) Put(key string, bytes []byte) error {
	c.m.mutex.Lock()
	defer c.m.mutex.Unlock()
	if c.m.closed {
		return ErrClosed
	}
	gen, ok := c.m.generations[c.name]
	if !ok {
		gen = make(map[string][]byte)
		c.m.generations[c.name] = gen
	}
	stored := make([]byte, len(bytes))
	copy(stored, bytes)
	gen[key] = stored
	return nil
}

func (c memCache) Keys() ([]string, error) {
	c.m.mutex.RLock()
	defer c.m.mutex.RUnlock()
	keys := make([]string, 0, len(c.m.generations[c.name]))
	for key := range c.m.generations[c.name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c memCache) Purge(key string) error {
	c.m.mutex.Lock()
	defer c.m.mutex.Unlock()
	delete(c.m.generations[c.name], key)
	return nil
}
