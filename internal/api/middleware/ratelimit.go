package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// checkBudgetKey names the single bucket shared by all callers.
const checkBudgetKey = "update-check"

// NewRateLimiter returns middleware allowing requests per period, with period
// a duration string such as "1m" or "1h". Every caller draws from one budget
// because each request it guards reaches the licensing service.
func NewRateLimiter(requests int64, period string) (gin.HandlerFunc, error) {
	if requests <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", requests)
	}
	duration, err := time.ParseDuration(period)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit period %q: %w", period, err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("rate limit period must be positive, got %s", duration)
	}

	instance := limiter.New(memory.NewStore(), limiter.Rate{
		Period: duration,
		Limit:  requests,
	})

	return mgin.NewMiddleware(instance,
		mgin.WithKeyGetter(func(*gin.Context) string { return checkBudgetKey }),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "update check limit reached, try again later",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limiter unavailable"})
		}),
	), nil
}
