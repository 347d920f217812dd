package cache

import "errors"

var (
	// ErrCacheMiss signals an expected absence (empty window, unresolved id,
	// missing key). It is counted by the breaker like a backend failure but
	// logged at debug level.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable is returned when the backend is disabled or failed
	// its last health check.
	ErrCacheUnavailable = errors.New("cache unavailable")
)
