package syncutil

import (
	"hash/fnv"
	"sync"
)

// ShardedMutex is a fixed pool of mutexes keyed by string. Memory stays
// bounded no matter how many session ids pass through; two keys hashing to
// the same shard simply serialize.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for key and returns the unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%256]
}
