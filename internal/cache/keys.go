package cache

import "fmt"

// RateLimitKey returns the counter key for a client within a window.
// window is the window start in unix seconds.
func RateLimitKey(client string, window int64) string {
	return fmt.Sprintf("scrapejobs:ratelimit:%s:%d", client, window)
}
