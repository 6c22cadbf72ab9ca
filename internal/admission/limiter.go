package admission

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimitExceeded means the client address already holds the maximum
// number of concurrent realtime connections.
var ErrLimitExceeded = errors.New("connection limit exceeded for address")

// Limiter caps concurrent realtime connections per client address.
// Acquire must perform no state mutation when it rejects.
type Limiter interface {
	Acquire(ctx context.Context, addr string) error
	Release(ctx context.Context, addr string)
}

// NewLimiter returns a redis-backed limiter when redisURL is set so the cap
// holds across replicas, otherwise a process-local one.
func NewLimiter(redisURL string, max int, ttl time.Duration) (Limiter, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewLocalLimiter(max, ttl), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisLimiter(redis.NewClient(opts), max, ttl), nil
}

// ClientIP derives the client address for admission accounting: first entry
// of X-Forwarded-For, then X-Real-IP, then the transport peer address. The
// "unknown" sentinel keeps unresolvable clients admissible as one bucket
// rather than blocked outright.
func ClientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first := fwd
		if idx := strings.Index(fwd, ","); idx >= 0 {
			first = fwd[:idx]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}
