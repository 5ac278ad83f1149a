// Package settings holds the local side of a roaming store: the tagged setting
// values, ordered composites, and the cache that maps keys to values.
//
// The cache is created lazily. Until the first write, Create or a non-empty
// sync it is absent, which is different from empty; every read path treats an
// absent cache as "no keys" instead of failing.
//
// Cache is also the shared default implementation of the key and composite
// operations. Store variants embed it and override only what they need (for
// example, to push to a remote after each write).
//
// Cache is not safe for concurrent mutation. Callers that share one across
// goroutines must synchronize externally.
package settings

import (
	"sort"

	"github.com/steveyegge/roam/internal/serializer"
)

// Reader is the read side used by the typed helpers.
type Reader interface {
	Serializer() serializer.Serializer
	Lookup(key string) (Value, bool)
	LookupSub(compositeKey, key string) (string, bool)
}

// Writer is the write side used by the typed helpers.
type Writer interface {
	Serializer() serializer.Serializer
	Put(key string, v Value)
	PutComposite(compositeKey string, entries map[string]string)
}

// Cache maps top-level keys to values.
type Cache struct {
	values     map[string]Value
	serializer serializer.Serializer
}

// NewCache returns an absent cache. A nil serializer selects the default.
func NewCache(s serializer.Serializer) *Cache {
	if s == nil {
		s = serializer.Default()
	}
	return &Cache{serializer: s}
}

// Serializer returns the serializer shared by this cache.
func (c *Cache) Serializer() serializer.Serializer {
	return c.serializer
}

// Materialized reports whether the cache exists (possibly empty).
func (c *Cache) Materialized() bool {
	return c.values != nil
}

// Init materializes an empty cache if it is absent.
func (c *Cache) Init() {
	if c.values == nil {
		c.values = make(map[string]Value)
	}
}

// Reset returns the cache to the absent state.
func (c *Cache) Reset() {
	c.values = nil
}

// Len returns the number of keys (0 when absent).
func (c *Cache) Len() int {
	return len(c.values)
}

// Keys returns the keys in sorted order.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeyExists reports whether key is present. False when the cache is absent.
func (c *Cache) KeyExists(key string) bool {
	_, ok := c.values[key]
	return ok
}

// SubKeyExists reports whether compositeKey holds a composite containing key.
func (c *Cache) SubKeyExists(compositeKey, key string) bool {
	_, ok := c.LookupSub(compositeKey, key)
	return ok
}

// Lookup returns the value stored under key.
func (c *Cache) Lookup(key string) (Value, bool) {
	v, ok := c.values[key]
	return v, ok
}

// LookupSub returns the serialized text of a composite entry.
func (c *Cache) LookupSub(compositeKey, key string) (string, bool) {
	v, ok := c.values[compositeKey]
	if !ok || v.Kind() != KindComposite || v.Composite() == nil {
		return "", false
	}
	return v.Composite().Get(key)
}

// Put stores a value, materializing the cache.
func (c *Cache) Put(key string, v Value) {
	c.Init()
	c.values[key] = v
}

// PutComposite upserts entries into the composite at compositeKey, creating
// the composite (and the cache) when missing. A non-composite value already at
// compositeKey is replaced. New sub-keys are inserted in sorted order so the
// result does not depend on map iteration.
func (c *Cache) PutComposite(compositeKey string, entries map[string]string) {
	c.Init()

	var composite *Composite
	if existing, ok := c.values[compositeKey]; ok && existing.Kind() == KindComposite && existing.Composite() != nil {
		composite = existing.Composite()
	} else {
		composite = NewComposite()
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		composite.Set(k, entries[k])
	}

	c.values[compositeKey] = CompositeValue(composite)
}

// AddIfAbsent stores v only if key is not present. It reports whether v was stored.
func (c *Cache) AddIfAbsent(key string, v Value) bool {
	c.Init()
	if _, ok := c.values[key]; ok {
		return false
	}
	c.values[key] = v
	return true
}

// Remove deletes a key. It reports whether the key was present.
func (c *Cache) Remove(key string) bool {
	if _, ok := c.values[key]; !ok {
		return false
	}
	delete(c.values, key)
	return true
}

// RemoveSub deletes one entry of the composite at compositeKey. The composite
// itself stays, even when it becomes empty.
func (c *Cache) RemoveSub(compositeKey, key string) bool {
	v, ok := c.values[compositeKey]
	if !ok || v.Kind() != KindComposite || v.Composite() == nil || !v.Composite().Has(key) {
		return false
	}
	v.Composite().Remove(key)
	return true
}

// Snapshot returns a deep copy of the values, or nil when the cache is absent.
func (c *Cache) Snapshot() map[string]Value {
	if c.values == nil {
		return nil
	}
	out := make(map[string]Value, len(c.values))
	for k, v := range c.values {
		out[k] = v.clone()
	}
	return out
}

// Replace materializes the cache with a copy of values.
func (c *Cache) Replace(values map[string]Value) {
	c.values = make(map[string]Value, len(values))
	for k, v := range values {
		c.values[k] = v.clone()
	}
}

// Document renders the cache as the remote document.
// An absent cache renders as an empty object.
func (c *Cache) Document() ([]byte, error) {
	if c.values == nil {
		return []byte("{}"), nil
	}
	return EncodeDocument(c.values)
}
