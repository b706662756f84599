package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	clientTTL     = 5 * time.Minute
	sweepInterval = 3 * time.Minute
)

// Limiter throttles the public citation API per client IP. Each IP gets its
// own token bucket; buckets for IPs not seen within clientTTL are swept.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a per-IP limiter allowing rps requests per second with
// the given burst. The sweep goroutine stops when ctx is cancelled.
func NewLimiter(ctx context.Context, rps float64, burst int) *Limiter {
	l := &Limiter{
		clients: make(map[string]*client),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go l.sweep(ctx)
	return l
}

// Allow reports whether a request from ip should be permitted, creating a
// fresh bucket for first-time clients.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{bucket: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.bucket.Allow()
}

func (l *Limiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, c := range l.clients {
				if time.Since(c.lastSeen) >= clientTTL {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}
