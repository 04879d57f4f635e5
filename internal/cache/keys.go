package cache

import (
	"fmt"
)

// QueueKey is the Redis list holding queued job IDs in FIFO order.
const QueueKey = "analysis:queue"

func JobKey(jobID string) string {
	return fmt.Sprintf("analysis:job:%s", jobID)
}

func QueuePayloadKey(jobID string) string {
	return fmt.Sprintf("analysis:queue:payload:%s", jobID)
}

// RateLimitKey scopes a counter to a limiter class and a client identity.
func RateLimitKey(class, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", class, client)
}
