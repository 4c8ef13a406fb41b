package session

import (
	"context"
	"sort"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// KV is the key/value persistence surface behind the Store.
// Implementations: MemoryKV (single instance), redis.KV (shared), Namespaced (per client view).
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemoryKV keeps values in process memory without TTL
type MemoryKV struct {
	cache *gocache.Cache
}

// NewMemoryKV creates an empty in-memory KV
func NewMemoryKV() *MemoryKV {
	// 만료는 Store가 값 안에서 관리하므로 캐시 TTL은 사용하지 않음
	return &MemoryKV{cache: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the value for key
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

// Set stores value under key
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.cache.Set(key, value, gocache.NoExpiration)
	return nil
}

// Delete removes key
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Keys lists keys with the given prefix in sorted order
func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range m.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Namespaced prefixes every key so several clients can share one backing KV
type Namespaced struct {
	inner  KV
	prefix string
}

// NewNamespaced returns a view of inner under "<namespace>:"
func NewNamespaced(inner KV, namespace string) *Namespaced {
	return &Namespaced{inner: inner, prefix: namespace + ":"}
}

// Get returns the value for key inside the namespace
func (n *Namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

// Set stores value under key inside the namespace
func (n *Namespaced) Set(ctx context.Context, key, value string) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

// Delete removes key inside the namespace
func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.prefix+key)
}

// Keys lists namespace keys with the prefix stripped
func (n *Namespaced) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := n.inner.Keys(ctx, n.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, n.prefix)
	}
	return keys, nil
}

// Purge deletes every key in the namespace
func (n *Namespaced) Purge(ctx context.Context) error {
	keys, err := n.Keys(ctx, "")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := n.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
