// Package prepared implements the name↔SQL mapping for server-side prepared
// statements, bounded by an LRU eviction policy (spec.md §4.E). It is a pure
// data structure: it has no knowledge of the backend connection or the
// pipeline. The engine owns issuing PREPARE/DEALLOCATE through the pipeline
// (via its flush helper) and only consults this cache for name lookups,
// insertions, and the set of entries an insertion evicted.
package prepared

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultStatementLimit is used when a non-positive limit is configured.
const DefaultStatementLimit = 100

// Eviction describes one entry the cache dropped as a side effect of an
// Insert once the bound was reached. The caller is responsible for issuing
// DEALLOCATE for Name.
type Eviction struct {
	Fingerprint string
	Name        string
}

// Cache maps a SQL fingerprint to the server-side prepared statement name it
// was given, bounded to StatementLimit entries with LRU eviction.
//
// Cache is not safe for concurrent use from multiple goroutines without
// external synchronization — in practice it is only ever touched from inside
// the owning Engine's mutex, same as every other piece of per-connection
// state (spec.md §5).
type Cache struct {
	lru   *lru.Cache[string, string]
	limit int
	seq   int

	// pendingEvictions accumulates evictions reported by the underlying
	// LRU's synchronous eviction callback during the Insert call currently
	// in progress.
	pendingEvictions []Eviction
}

// New returns a Cache bounded to limit entries. A non-positive limit falls
// back to DefaultStatementLimit.
func New(limit int) (*Cache, error) {
	if limit <= 0 {
		limit = DefaultStatementLimit
	}
	c := &Cache{limit: limit}

	l, err := lru.NewWithEvict[string, string](limit, func(fingerprint, name string) {
		c.pendingEvictions = append(c.pendingEvictions, Eviction{Fingerprint: fingerprint, Name: name})
	})
	if err != nil {
		return nil, fmt.Errorf("prepared: new cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Lookup returns the prepared statement name for fingerprint, touching LRU
// recency on hit.
func (c *Cache) Lookup(fingerprint string) (string, bool) {
	return c.lru.Get(fingerprint)
}

// NextName allocates the next server-side prepared statement name. Names are
// never reused within a Cache's lifetime, even across evictions, so a stale
// in-flight EXECUTE referencing an evicted name can never collide with a
// newly prepared statement.
func (c *Cache) NextName() string {
	c.seq++
	return fmt.Sprintf("pg_pipe_stmt_%d", c.seq)
}

// Insert adds fingerprint→name, evicting the least-recently-used entry if
// the cache is at StatementLimit. It returns every entry evicted as a direct
// result of this call (zero or one, since Insert adds exactly one entry and
// the LRU is bounded by a fixed capacity).
func (c *Cache) Insert(fingerprint, name string) []Eviction {
	c.pendingEvictions = c.pendingEvictions[:0]
	c.lru.Add(fingerprint, name)
	out := append([]Eviction(nil), c.pendingEvictions...)
	c.pendingEvictions = c.pendingEvictions[:0]
	return out
}

// Remove drops fingerprint from the cache and returns the name it had — used
// by the cache-expiry retry. Anything the underlying LRU reports for the
// removal through its eviction callback is discarded by the next Insert, so
// a removed entry is never returned as an Eviction and the engine issues no
// DEALLOCATE for it.
func (c *Cache) Remove(fingerprint string) (name string, ok bool) {
	name, ok = c.lru.Peek(fingerprint)
	c.lru.Remove(fingerprint)
	return name, ok
}

// Len returns the number of entries currently cached. Testable property 5
// requires this to never exceed StatementLimit.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Limit returns the configured StatementLimit.
func (c *Cache) Limit() int {
	return c.limit
}
