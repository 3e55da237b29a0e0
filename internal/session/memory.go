package session

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore implementa Store en memoria. Útil para desarrollo y testing.
type memoryStore struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewMemory crea un Store en memoria con el TTL de sesión dado.
func NewMemory(ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &memoryStore{
		c:   gocache.New(ttl, time.Minute),
		ttl: ttl,
	}
}

func noteKey(sessionID, key string) string {
	return sessionID + "/" + key
}

func (m *memoryStore) GetNote(ctx context.Context, sessionID, key string) (string, error) {
	v, ok := m.c.Get(noteKey(sessionID, key))
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *memoryStore) SetNote(ctx context.Context, sessionID, key, value string) error {
	m.c.Set(noteKey(sessionID, key), value, m.ttl)
	return nil
}

func (m *memoryStore) Discard(ctx context.Context, sessionID string) error {
	prefix := sessionID + "/"
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			m.c.Delete(k)
		}
	}
	return nil
}

func (m *memoryStore) Ping(ctx context.Context) error { return nil }

func (m *memoryStore) Close() error { return nil }
