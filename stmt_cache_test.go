package graphorm

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
)

func TestStmtCache_Concurrency(t *testing.T) {
	cache := NewStmtCache(50)
	var wg sync.WaitGroup

	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			query := fmt.Sprintf("SELECT * FROM parents WHERE id = %d", id%100)

			// nil statements are enough to exercise the bookkeeping
			cache.Put(query, nil)
			_, release := cache.Get(query)
			if release != nil {
				release()
			}
		}(i)
	}

	wg.Wait()

	if cache.Len() > 50 {
		t.Errorf("cache capacity exceeded: got %d, expected <= 50", cache.Len())
	}
}

func TestStmtCache_GetAndPut(t *testing.T) {
	cache := NewStmtCache(100)
	cache.Put("SELECT 1", nil)

	stmt, release := cache.Get("SELECT 1")
	if release == nil {
		t.Fatal("expected release function, got nil")
	}
	if stmt != nil {
		t.Error("expected nil stmt (since we put nil)")
	}
	release()
	// releasing twice is harmless
	release()

	stmt2, release2 := cache.Get("SELECT 2")
	if release2 != nil || stmt2 != nil {
		t.Error("expected a miss for an unknown query")
	}
}

func TestStmtCache_Eviction(t *testing.T) {
	cache := NewStmtCache(2)
	cache.Put("Q1", nil)
	cache.Put("Q2", nil)

	// Q1 becomes most recently used
	if _, release := cache.Get("Q1"); release != nil {
		release()
	}
	cache.Put("Q3", nil)

	if cache.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", cache.Len())
	}
	if _, release := cache.Get("Q2"); release != nil {
		t.Error("expected Q2 to be evicted")
	}
	if _, release := cache.Get("Q1"); release == nil {
		t.Error("expected Q1 to survive")
	} else {
		release()
	}
}

func TestStmtCache_Clear(t *testing.T) {
	cache := NewStmtCache(0)
	cache.Put("Q1", nil)
	cache.Put("Q2", nil)

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("expected length 0 after Clear, got %d", cache.Len())
	}
	if err := cache.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}

func TestStmtCache_PrepareReuses(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cache := NewStmtCache(10)
	ctx := context.Background()

	first, release1, err := cache.Prepare(ctx, db, "SELECT 1")
	if err != nil {
		t.Fatal(err)
	}
	second, release2, err := cache.Prepare(ctx, db, "SELECT 1")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the prepared statement to be reused")
	}
	release1()
	release2()

	var n int
	if err := first.QueryRow().Scan(&n); err != nil || n != 1 {
		t.Errorf("expected the cached statement to stay usable, got %d, %v", n, err)
	}

	if _, _, err := cache.Prepare(ctx, db, "SELEC nothing"); err == nil {
		t.Error("expected a prepare error for invalid SQL")
	}
	cache.Clear()
}
