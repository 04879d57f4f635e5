package analysis

import (
	"fmt"
	"math"
)

// Estimate returns the advisory wait in seconds for a job submitted behind
// depth queued jobs, each assumed to take cost seconds. The result is rounded
// to one decimal place.
func Estimate(depth int, cost float64) float64 {
	if depth < 0 {
		depth = 0
	}
	return math.Round(float64(depth+1)*cost*10) / 10
}

// FormatWait renders an estimate the way clients display it, e.g. "2.4 sec".
func FormatWait(seconds float64) string {
	return fmt.Sprintf("%.1f sec", seconds)
}
