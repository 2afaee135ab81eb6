// Package ratelimit gates request volume per client identity and route.
//
// Counters live behind the Store interface so the process can run with a
// sharded in-memory log or share state through Redis across replicas.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Decision is the outcome of one Hit.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store records a hit for key and reports whether it fits within limit
// hits per window ending at now.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

const shardCount = 32

type slidingLog struct {
	hits   []time.Time
	window time.Duration
}

func (l *slidingLog) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.hits) && !l.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.hits = append(l.hits[:0], l.hits[i:]...)
	}
}

type shard struct {
	mu   sync.Mutex
	logs map[string]*slidingLog
}

// MemoryStore is a sharded sliding-log store. Each shard has its own lock so
// unrelated identities never contend.
type MemoryStore struct {
	shards [shardCount]shard
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].logs = make(map[string]*slidingLog)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, ok := sh.logs[key]
	if !ok {
		l = &slidingLog{window: window}
		sh.logs[key] = l
	}
	l.window = window
	l.prune(now)

	if len(l.hits) >= limit {
		retry := l.hits[0].Add(window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	l.hits = append(l.hits, now)
	return Decision{Allowed: true, Remaining: limit - len(l.hits)}, nil
}

// Sweep drops logs with no hits inside their window and returns how many
// were evicted.
func (s *MemoryStore) Sweep(now time.Time) int {
	evicted := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, l := range sh.logs {
			l.prune(now)
			if len(l.hits) == 0 {
				delete(sh.logs, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Len is the number of tracked keys.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.logs)
		sh.mu.Unlock()
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration, now func() time.Time) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(now())
			}
		}
	}()
}
