package index

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// shardedMap is a string-keyed map split across independently locked
// shards, so writers on one key do not block readers of another.
type shardedMap[V any] struct {
	shards [shardCount]mapShard[V]
}

type mapShard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

func newShardedMap[V any]() *shardedMap[V] {
	s := &shardedMap[V]{}
	for i := range s.shards {
		s.shards[i].m = make(map[string]V)
	}
	return s
}

func (s *shardedMap[V]) shard(key string) *mapShard[V] {
	return &s.shards[xxhash.Sum64String(key)%shardCount]
}

func (s *shardedMap[V]) get(key string) (V, bool) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.m[key]
	return v, ok
}

func (s *shardedMap[V]) set(key string, v V) {
	sh := s.shard(key)
	sh.mu.Lock()
	sh.m[key] = v
	sh.mu.Unlock()
}

func (s *shardedMap[V]) delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

// update applies fn to the current value under the shard's write lock.
// If fn returns keep=false the key is removed.
func (s *shardedMap[V]) update(key string, fn func(old V, exists bool) (V, bool)) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	old, exists := sh.m[key]
	if v, keep := fn(old, exists); keep {
		sh.m[key] = v
	} else {
		delete(sh.m, key)
	}
}

// each calls fn for every entry, one shard at a time under its read lock.
// fn must not call back into the map.
func (s *shardedMap[V]) each(fn func(key string, v V)) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, v := range sh.m {
			fn(k, v)
		}
		sh.mu.RUnlock()
	}
}

func (s *shardedMap[V]) len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

func (s *shardedMap[V]) clear() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.m = make(map[string]V)
		sh.mu.Unlock()
	}
}

// pathLocks serializes mutations of the same path without a global lock.
type pathLocks struct {
	stripes [shardCount]sync.Mutex
}

func (p *pathLocks) lock(path string) func() {
	mu := &p.stripes[xxhash.Sum64String(path)%shardCount]
	mu.Lock()
	return mu.Unlock
}
