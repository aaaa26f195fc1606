package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck pings Redis.
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddPipelineCheck reports unhealthy once the media pipeline's frame loop
// has stopped.
func (h *HealthChecker) AddPipelineCheck(running func() bool, interval, timeout time.Duration) {
	h.AddCheck("pipeline", func(ctx context.Context) (bool, error) {
		if !running() {
			return false, fmt.Errorf("frame loop is not running")
		}
		return true, nil
	}, interval, timeout)
}

// AddSessionCheck is a readiness check: the compositor is only ready while
// its session is connected.
func (h *HealthChecker) AddSessionCheck(connected func() bool, interval, timeout time.Duration) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		if !connected() {
			return false, fmt.Errorf("session not connected")
		}
		return true, nil
	}, interval, timeout)
}
