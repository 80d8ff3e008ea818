package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(t *testing.T, rps float64, burst int) (*RateLimiter, *time.Time) {
	t.Helper()
	now := time.Date(2024, 3, 28, 10, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(rps, burst)
	limiter.now = func() time.Time { return now }
	t.Cleanup(limiter.Stop)
	return limiter, &now
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows the burst then blocks", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, 3)

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow("client1"), "request %d should be allowed", i+1)
		}
		assert.False(t, limiter.Allow("client1"))
	})

	t.Run("separate buckets per key", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, 2)

		assert.True(t, limiter.Allow("clientA"))
		assert.True(t, limiter.Allow("clientA"))
		assert.False(t, limiter.Allow("clientA"))

		assert.True(t, limiter.Allow("clientB"))
		assert.True(t, limiter.Allow("clientB"))
	})

	t.Run("refills over time", func(t *testing.T) {
		limiter, now := newTestLimiter(t, 2, 2)

		assert.True(t, limiter.Allow("client3"))
		assert.True(t, limiter.Allow("client3"))
		assert.False(t, limiter.Allow("client3"))

		*now = now.Add(time.Second)
		assert.True(t, limiter.Allow("client3"))
	})

	t.Run("remaining reflects consumption", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, 5)

		assert.Equal(t, 5, limiter.Remaining("client4"))
		limiter.Allow("client4")
		limiter.Allow("client4")
		assert.Equal(t, 3, limiter.Remaining("client4"))
	})

	t.Run("concurrent access", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, 100)

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0
		for i := 0; i < 150; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if limiter.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 100, allowed)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("keys by actor", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, 1)
		first := payroll.Actor{ID: uuid.New()}
		second := payroll.Actor{ID: uuid.New()}

		build := func(actor payroll.Actor) *gin.Engine {
			router := gin.New()
			router.Use(Actor(ActorConfig{Resolver: staticResolver{actor: actor}}), RateLimit(limiter))
			router.POST("/documents/generate", func(c *gin.Context) { c.Status(http.StatusAccepted) })
			return router
		}

		w := httptest.NewRecorder()
		build(first).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/documents/generate", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

		w = httptest.NewRecorder()
		build(first).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/documents/generate", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_RATE_LIMITED")
		assert.Equal(t, "1", w.Header().Get("Retry-After"))

		w = httptest.NewRecorder()
		build(second).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/documents/generate", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("falls back to client ip", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, 1)
		router := gin.New()
		router.Use(RateLimit(limiter))
		router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.1.2.3:5556"
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}

func TestRateLimitByKey(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 2)
	router := gin.New()
	router.Use(RateLimitByKey(limiter, func(c *gin.Context) string {
		return c.GetHeader("X-Client")
	}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Client", "batch-runner")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
