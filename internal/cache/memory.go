package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemorySize = 1024

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process LRU Provider.
type Memory struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

var _ Provider = (*Memory)(nil)

// NewMemory creates a Memory provider holding at most size keys.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = defaultMemorySize
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, errors.Wrap(err, "create lru")
	}
	return &Memory{lru: c, now: time.Now}, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.lru.Remove(key)
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set stores value; a non-positive ttl never expires.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
