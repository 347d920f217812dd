package cache

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Collectors for the cache layer. Labels are bounded: cache is the service
// name, op the logical operation, cmd the redis command name.
var (
	lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache read attempts by service and result (hit, miss, error, skipped).",
		},
		[]string{"cache", "op", "result"},
	)

	fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_fallbacks_total",
			Help: "Reads served from the persistent store instead of the cache.",
		},
		[]string{"cache", "op"},
	)

	writeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_write_failures_total",
			Help: "Swallowed failures of best-effort cache writes and invalidations.",
		},
		[]string{"cache", "op"},
	)

	breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_breaker_open",
			Help: "1 while the named circuit breaker is open.",
		},
		[]string{"breaker"},
	)

	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_breaker_transitions_total",
			Help: "Circuit breaker state changes by target state.",
		},
		[]string{"breaker", "to"},
	)

	redisUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_up",
			Help: "1 when the last redis health check succeeded.",
		},
	)

	redisLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_command_duration_seconds",
			Help:    "Latency of redis commands and pipelines.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"cmd"},
	)

	redisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Redis command failures by command and kind (timeout, connection, other).",
		},
		[]string{"cmd", "kind"},
	)
)

func init() {
	prometheus.MustRegister(lookups, fallbacks, writeFailures, breakerOpen, breakerTransitions, redisUp, redisLat, redisErrors)
}

// metricsHook instruments every command the client sends. redis.Nil is a
// normal reply and is not counted as an error.
type metricsHook struct{}

var _ redis.Hook = metricsHook{}

func (metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			redisErrors.WithLabelValues("dial", classifyRedisError(err)).Inc()
		}
		return conn, err
	}
}

func (metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		name := cmd.Name()
		redisLat.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil && !errors.Is(err, redis.Nil) {
			redisErrors.WithLabelValues(name, classifyRedisError(err)).Inc()
		}
		return err
	}
}

func (metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		redisLat.WithLabelValues("pipeline").Observe(time.Since(start).Seconds())
		if err != nil && !errors.Is(err, redis.Nil) {
			redisErrors.WithLabelValues("pipeline", classifyRedisError(err)).Inc()
		}
		return err
	}
}

// classifyRedisError buckets an error for the redis_errors_total kind label.
func classifyRedisError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return "timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "refused"),
		strings.Contains(msg, "broken pipe"), strings.Contains(msg, "closed"),
		strings.Contains(msg, "eof"):
		return "connection"
	}
	return "other"
}
