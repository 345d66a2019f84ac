package ratelimit

import (
	"container/list"
	"sync"
)

// Keyed hands out one TokenBucket per key (typically a client address) and
// keeps at most maxKeys buckets, evicting the least recently used.
type Keyed struct {
	clock   Clock
	rate    int64
	burst   int64
	maxKeys int
	onEvict func(key string)

	mu      sync.Mutex
	buckets map[string]*keyedEntry
	lru     *list.List
}

type keyedEntry struct {
	bucket *TokenBucket
	elem   *list.Element
}

type KeyedConfig struct {
	// PerSecond is the steady-state refill rate per key. <= 0 disables
	// limiting entirely.
	PerSecond int
	// Burst is the bucket capacity. Defaults to PerSecond.
	Burst int
	// MaxKeys bounds retained buckets. Defaults to 1024.
	MaxKeys int
	// OnEvict runs outside the lock once per evicted key.
	OnEvict func(key string)
}

func NewKeyed(clock Clock, cfg KeyedConfig) *Keyed {
	if clock == nil {
		clock = RealClock{}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.PerSecond
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	return &Keyed{
		clock:   clock,
		rate:    int64(cfg.PerSecond),
		burst:   int64(burst),
		maxKeys: maxKeys,
		onEvict: cfg.OnEvict,
		buckets: make(map[string]*keyedEntry),
		lru:     list.New(),
	}
}

// Allow consumes one token from key's bucket.
func (k *Keyed) Allow(key string) bool {
	if k == nil || k.rate <= 0 {
		return true
	}
	return k.bucket(key).Allow(1)
}

func (k *Keyed) bucket(key string) *TokenBucket {
	var evicted string

	k.mu.Lock()
	if e, ok := k.buckets[key]; ok {
		k.lru.MoveToFront(e.elem)
		k.mu.Unlock()
		return e.bucket
	}
	if len(k.buckets) >= k.maxKeys {
		if back := k.lru.Back(); back != nil {
			evicted = back.Value.(string)
			k.lru.Remove(back)
			delete(k.buckets, evicted)
		}
	}
	b := NewTokenBucket(k.clock, k.burst, k.rate)
	k.buckets[key] = &keyedEntry{bucket: b, elem: k.lru.PushFront(key)}
	k.mu.Unlock()

	if evicted != "" && k.onEvict != nil {
		k.onEvict(evicted)
	}
	return b
}

func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
