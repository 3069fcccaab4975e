package engine

import "time"

// Estimate predicts how long an operation over rows1 and rows2 rows will
// take. Throughput drops on large inputs.
func Estimate(rows1, rows2 int64, op Operation) time.Duration {
	total := rows1 + rows2

	var rate float64
	switch op {
	case RemoveMatches, KeepMatches:
		rate = 100000
	case CommonValues, UniqueValues:
		rate = 80000
	default:
		rate = 50000
	}
	if total > 100000 {
		rate *= 0.8
	}
	if total > 500000 {
		rate *= 0.6
	}

	d := time.Duration(float64(total) / rate * float64(time.Second))
	return max(d, time.Second)
}
