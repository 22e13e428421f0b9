// Package devicecache caches the known endpoints of remote devices. The
// tunnel layer consults it before falling back to an SN call, and SN
// ping/call responses refresh it.
package devicecache

import (
	"context"
	"sync"
	"time"
)

// Record is one device's cached reachability: the endpoints last
// observed for it and when that observation expires.
type Record struct {
	DeviceId  string
	Endpoints []string
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Cache is the process-wide device cache.
type Cache struct {
	mu      sync.RWMutex
	records map[string]*Record
	ttl     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a cache whose entries live for ttl, with a background
// cleanup loop. Call Close to stop the loop.
func New(ttl time.Duration) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		records: make(map[string]*Record),
		ttl:     ttl,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop(ctx)
	return c
}

// Put records a device's endpoints, refreshing the expiry.
func (c *Cache) Put(deviceId string, endpoints []string) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[deviceId] = &Record{
		DeviceId:  deviceId,
		Endpoints: append([]string(nil), endpoints...),
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// Get returns a device's endpoints if a live record exists.
func (c *Cache) Get(deviceId string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[deviceId]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, false
	}
	return append([]string(nil), rec.Endpoints...), true
}

// Remove drops a device's record, e.g. after repeated send failures
// prove the cached endpoints stale.
func (c *Cache) Remove(deviceId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, deviceId)
}

// Len returns the number of records, live or not yet reaped.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Close stops the cleanup loop.
func (c *Cache) Close() {
	c.cancel()
	<-c.done
}

func (c *Cache) cleanupLoop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for id, rec := range c.records {
				if now.After(rec.ExpiresAt) {
					delete(c.records, id)
				}
			}
			c.mu.Unlock()
		}
	}
}
