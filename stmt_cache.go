package graphorm

import (
	"container/list"
	"context"
	"database/sql"
	"sync"
)

// StmtCache is an LRU cache of prepared statements keyed by SQL text.
// Evicted statements are closed once the last borrower releases them.
// It is safe for concurrent use.
type StmtCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*stmtEntry
	lru      *list.List
}

type stmtEntry struct {
	query    string
	stmt     *sql.Stmt
	element  *list.Element
	borrowed int
	evicted  bool
}

// NewStmtCache creates a cache holding at most capacity statements.
// A capacity of 0 or less defaults to 100.
func NewStmtCache(capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &StmtCache{
		capacity: capacity,
		items:    make(map[string]*stmtEntry),
		lru:      list.New(),
	}
}

// Prepare returns the cached statement for query, preparing it on db when
// missing. The release func must be called once the statement is no longer used.
func (c *StmtCache) Prepare(ctx context.Context, db *sql.DB, query string) (*sql.Stmt, func(), error) {
	if stmt, release := c.Get(query); stmt != nil {
		return stmt, release, nil
	} else if release != nil {
		release()
	}

	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	shared, release := c.PutAndGet(query, stmt)
	return shared, release, nil
}

// Get borrows a cached statement. It returns nil, nil on a miss.
func (c *StmtCache) Get(query string) (*sql.Stmt, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[query]
	if !ok {
		return nil, nil
	}
	c.lru.MoveToFront(entry.element)
	entry.borrowed++
	return entry.stmt, c.releaser(entry)
}

// Put stores stmt for query without borrowing it.
func (c *StmtCache) Put(query string, stmt *sql.Stmt) {
	_, release := c.PutAndGet(query, stmt)
	release()
}

// PutAndGet stores stmt and borrows it in one step, so it cannot be
// evicted in between. A statement already cached for query is replaced.
func (c *StmtCache) PutAndGet(query string, stmt *sql.Stmt) (*sql.Stmt, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[query]; ok {
		c.evict(old)
	}
	if len(c.items) >= c.capacity {
		if back := c.lru.Back(); back != nil {
			c.evict(back.Value.(*stmtEntry))
		}
	}

	entry := &stmtEntry{query: query, stmt: stmt, borrowed: 1}
	entry.element = c.lru.PushFront(entry)
	c.items[query] = entry
	return stmt, c.releaser(entry)
}

func (c *StmtCache) releaser(entry *stmtEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.borrowed--
			if entry.evicted && entry.borrowed == 0 {
				entry.close()
			}
		})
	}
}

// evict must be called with mu held.
func (c *StmtCache) evict(entry *stmtEntry) {
	c.lru.Remove(entry.element)
	delete(c.items, entry.query)
	entry.evicted = true
	if entry.borrowed == 0 {
		entry.close()
	}
}

func (e *stmtEntry) close() {
	if e.stmt != nil {
		_ = e.stmt.Close()
	}
}

// Clear evicts every statement.
func (c *StmtCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.items {
		c.evict(entry)
	}
}

// Close clears the cache.
func (c *StmtCache) Close() error {
	c.Clear()
	return nil
}

// Len returns the number of cached statements.
func (c *StmtCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
