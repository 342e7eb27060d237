package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/asksudo-go/internal/logging"
)

// Per-client defaults for the POST routes. Each accepted request may start an
// ingestion or spend an embedding call, so the budget is small.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
)

// limiterIdleTTL is how long a client's bucket survives without traffic.
const limiterIdleTTL = 5 * time.Minute

// clientBucket is one caller's token bucket.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a token bucket per client IP. Buckets idle for longer
// than limiterIdleTTL are swept once a minute.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket

	rps   rate.Limit
	burst int

	// rejected counts requests answered with 429. May be nil.
	rejected prometheus.Counter
	log      *slog.Logger
	now      func() time.Time
}

// newRateLimiter builds a rateLimiter and starts its sweeper. The returned
// stop function ends the sweeper; it must be called exactly once.
func newRateLimiter(rps float64, burst int, rejected prometheus.Counter, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[string]*clientBucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		rejected: rejected,
		log:      log,
		now:      time.Now,
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rl.sweep()
			}
		}
	}()

	return rl, func() { close(stop) }
}

func (rl *rateLimiter) bucket(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[client] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// sweep drops buckets that have been idle for limiterIdleTTL.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	for client, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, client)
		}
	}
}

// size reports the number of tracked clients.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// middleware answers 429 with a Retry-After (whole seconds until the next
// token) once a client has spent its burst.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		res := rl.bucket(client).ReserveN(rl.now(), 1)

		var wait time.Duration
		if res.OK() {
			wait = res.DelayFrom(rl.now())
		} else {
			wait = time.Second
		}
		if wait == 0 {
			next.ServeHTTP(w, r)
			return
		}
		res.CancelAt(rl.now())

		if rl.rejected != nil {
			rl.rejected.Inc()
		}
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("client", client),
			slog.String("path", r.URL.Path),
			slog.Duration("retry_after", wait),
		)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// retryAfterSeconds rounds d up to whole seconds, at least 1.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// clientIP is the peer address without its port. X-Forwarded-For is not
// trusted: the API is called service to service, not through a shared proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
