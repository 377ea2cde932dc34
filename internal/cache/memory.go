package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryClient is the single-process Client and PubSub.
type MemoryClient struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	maxEntries int

	subMu sync.Mutex
	subs  map[string]map[int]chan []byte
	seq   int

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// NewMemoryClient creates a cache holding at most maxEntries snapshots.
// When full, the entry closest to expiry is evicted.
func NewMemoryClient(maxEntries int) *MemoryClient {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c := &MemoryClient{
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
		subs:       make(map[string]map[int]chan []byte),
		stop:       make(chan struct{}),
	}
	go c.expireLoop(time.Minute)
	return c
}

func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		c.evictSoonestLocked()
	}
	c.entries[key] = cacheEntry{
		value:     append([]byte(nil), value...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *MemoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Publish hands message to every current subscriber of channel without
// blocking; full subscriber buffers drop it.
func (c *MemoryClient) Publish(_ context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs[channel] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber on channel. The returned function
// unregisters it and closes the channel.
func (c *MemoryClient) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	c.subMu.Lock()
	id := c.seq
	c.seq++
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[int]chan []byte)
	}
	c.subs[channel][id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs[channel], id)
			if len(c.subs[channel]) == 0 {
				delete(c.subs, channel)
			}
			close(ch)
			c.subMu.Unlock()
		})
	}, nil
}

// Close stops the expiry loop.
func (c *MemoryClient) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryClient) evictSoonestLocked() {
	var (
		victim string
		soon   time.Time
	)
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soon) {
			victim, soon = k, e.expiresAt
		}
	}
	delete(c.entries, victim)
}

// removeExpired drops entries that expired before now.
func (c *MemoryClient) removeExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *MemoryClient) expireLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.removeExpired(now)
		}
	}
}
