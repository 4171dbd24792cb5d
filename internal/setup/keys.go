package setup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cicareteam/callcore/internal/store"
)

const sessionKeyTTL = 15 * time.Minute

// KeyManager caches the account session key used to decrypt routing
// payloads. The key is fetched lazily and refetched after expiry.
type KeyManager struct {
	client *Client

	mu    sync.Mutex
	cache *store.Expiring[string, string]
}

const cacheSlot = "session-key"

func NewKeyManager(client *Client) *KeyManager {
	return &KeyManager{
		client: client,
		cache:  store.NewExpiring[string, string](time.Minute),
	}
}

// SessionKey returns the cached key or fetches a fresh one. Concurrent
// callers share a single fetch.
func (m *KeyManager) SessionKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.cache.Get(cacheSlot); ok {
		return key, nil
	}

	var resp struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := m.client.get(ctx, "session-key", &resp); err != nil {
		return "", fmt.Errorf("fetch session key: %w", err)
	}
	if resp.SessionKey == "" {
		return "", fmt.Errorf("%w: empty session key", ErrBadPayload)
	}
	m.cache.Put(cacheSlot, resp.SessionKey, sessionKeyTTL)
	return resp.SessionKey, nil
}

// Invalidate drops the cached key, forcing a refetch on next use.
func (m *KeyManager) Invalidate() {
	m.mu.Lock()
	m.cache.Delete(cacheSlot)
	m.mu.Unlock()
}

func (m *KeyManager) Close() {
	m.cache.Close()
}
