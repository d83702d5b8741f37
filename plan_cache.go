package graphorm

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// planCache caches join plans. Keys are in the format "root|guard|guard"
// where each part is the id the cache interned for that reflect.Type, so
// distinct types sharing a qualified name never share a plan. Concurrent
// misses on the same key share one build.
type planCache struct {
	plans  sync.Map
	flight singleflight.Group
	ids    sync.Map // reflect.Type -> uint64
	nextID atomic.Uint64
}

func newPlanCache() *planCache {
	return &planCache{}
}

func (c *planCache) typeID(t reflect.Type) uint64 {
	if id, ok := c.ids.Load(t); ok {
		return id.(uint64)
	}
	id, _ := c.ids.LoadOrStore(t, c.nextID.Add(1))
	return id.(uint64)
}

func (c *planCache) key(root reflect.Type, guard []reflect.Type) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(c.typeID(root), 10))
	for _, g := range guard {
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatUint(c.typeID(g), 10))
	}
	return sb.String()
}

func (c *planCache) load(key string) (*JoinPlan, bool) {
	if cached, ok := c.plans.Load(key); ok {
		return cached.(*JoinPlan), true
	}
	return nil, false
}

// loadOrBuild returns the cached plan for key, building it at most once
// among concurrent callers.
func (c *planCache) loadOrBuild(key string, build func() (*JoinPlan, error)) (*JoinPlan, error) {
	if p, ok := c.load(key); ok {
		return p, nil
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if p, ok := c.load(key); ok {
			return p, nil
		}
		p, err := build()
		if err != nil {
			return nil, err
		}
		c.plans.Store(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*JoinPlan), nil
}

// ClearPlanCache drops every cached join plan of the registry.
func (r *Registry) ClearPlanCache() {
	r.plans.plans.Clear()
}
