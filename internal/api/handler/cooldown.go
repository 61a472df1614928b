package handler

import (
	"sync"
	"time"
)

// Cooldown rate-limits expensive bulk endpoints. Each key may fire once per
// window; further calls are refused with the time left.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Try records an invocation of key if its cooldown has expired. When the key
// is still cooling down it returns the remaining duration and false.
func (c *Cooldown) Try(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.last[key]; ok {
		if remaining := c.window - now.Sub(last); remaining > 0 {
			return remaining, false
		}
	}
	c.last[key] = now
	return 0, true
}
