// Package cache provides an in-memory TTL response cache with LRU eviction.
//
// Entries are keyed by the logical API call (method identity plus normalized
// argument values) and grouped into categories that map to fixed
// expirations, so semi-static catalog lookups outlive volatile playback or
// search state. Expired entries are purged lazily on lookup; capacity is
// enforced on insert by evicting the least recently used entry.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bbye98/minim/internal/shared"
)

// Category identifies how quickly a class of responses goes stale.
type Category int

const (
	// Static covers catalog metadata that effectively never changes.
	Static Category = iota
	// Daily covers values refreshed on a daily cadence (charts, editorial).
	Daily
	// Popularity covers slowly drifting rankings.
	Popularity
	// User covers per-account state (library, profile).
	User
	// Playback covers now-playing and queue state.
	Playback
	// Search covers query results.
	Search
)

// TTL returns the fixed expiration for the category.
func (c Category) TTL() time.Duration {
	switch c {
	case Static, Daily:
		return 24 * time.Hour
	case Popularity:
		return 6 * time.Hour
	case User:
		return 5 * time.Minute
	case Playback:
		return time.Minute
	case Search:
		return 30 * time.Second
	default:
		return time.Minute
	}
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Cache is a TTL + LRU response cache. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	entries  map[string]*list.Element
	now      func() time.Time
}

// DefaultCapacity bounds a cache constructed with a non-positive capacity.
const DefaultCapacity = 1024

// New creates a Cache holding at most capacity entries.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the live value for key, touching its recency. Expired entries
// are purged and reported as a miss, indistinguishable from absence.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	ent := elem.Value.(*entry)
	if !c.now().Before(ent.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil, false
	}

	c.order.MoveToFront(elem)
	return ent.value, true
}

// Put stores value under key with the category's TTL, evicting the least
// recently used entry first when the cache is at capacity.
func (c *Cache) Put(key string, value any, category Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(category.TTL())

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*entry).key)
		}
	}

	c.entries[key] = c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
}

// Invalidate removes every entry whose key starts with prefix. An empty
// prefix clears the cache.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix == "" {
		c.order.Init()
		c.entries = make(map[string]*list.Element)
		return
	}

	for key, elem := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(elem)
			delete(c.entries, key)
		}
	}
}

// Len reports the number of entries, including any not yet lazily expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Key derives a deterministic cache key from a method identity and its
// argument values in call order. Arguments are normalized before hashing so
// semantically equal calls collide: an ID passed as int and as its decimal
// string produce the same key.
//
// The method name is kept as a plain prefix so Invalidate can target all
// cached results of one method.
func Key(method string, args ...any) string {
	h := sha256.New()
	for _, arg := range args {
		h.Write([]byte(normalizeArg(arg)))
		h.Write([]byte{0})
	}
	return method + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

func normalizeArg(arg any) string {
	switch v := arg.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = normalizeArg(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseIDList normalizes resource IDs into a canonical comma-joined string
// and reports how many IDs it contains. Accepted shapes: a string (possibly
// comma-delimited), an int or int64, a []string, an []int, or an []any mixing
// those scalars. limit <= 0 means unbounded.
//
// This is the single entry point for ID normalization; no other code branches
// on ID input shape.
func ParseIDList(input any, limit int) (string, int, error) {
	var ids []string

	switch v := input.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				ids = append(ids, part)
			}
		}
	case int:
		ids = []string{strconv.Itoa(v)}
	case int64:
		ids = []string{strconv.FormatInt(v, 10)}
	case []string:
		for _, id := range v {
			id = strings.TrimSpace(id)
			if id != "" {
				ids = append(ids, id)
			}
		}
	case []int:
		for _, id := range v {
			ids = append(ids, strconv.Itoa(id))
		}
	case []any:
		for _, item := range v {
			switch id := item.(type) {
			case string:
				ids = append(ids, strings.TrimSpace(id))
			case int:
				ids = append(ids, strconv.Itoa(id))
			case int64:
				ids = append(ids, strconv.FormatInt(id, 10))
			default:
				return "", 0, fmt.Errorf("%w: unsupported ID element type %T", shared.ErrInvalidArgument, item)
			}
		}
	default:
		return "", 0, fmt.Errorf("%w: unsupported ID input type %T", shared.ErrInvalidArgument, input)
	}

	if len(ids) == 0 {
		return "", 0, fmt.Errorf("%w: at least one ID must be specified", shared.ErrMissingArgument)
	}
	if limit > 0 && len(ids) > limit {
		return "", 0, fmt.Errorf(
			"%w: a maximum of %d IDs can be sent in one request", shared.ErrInvalidArgument, limit,
		)
	}

	return strings.Join(ids, ","), len(ids), nil
}
