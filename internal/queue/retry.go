package queue

import (
	"math"
	"time"

	"github.com/riverqueue/river/rivertype"
)

// RetryPolicy schedules retries with exponential backoff from a fixed
// base delay: base * 2^(attempt-1). All failures consume an attempt
// identically; transient vs permanent is not distinguished.
type RetryPolicy struct {
	Base time.Duration
}

// NextRetry implements river.ClientRetryPolicy.
func (p RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	base := p.Base
	if base <= 0 {
		base = 5 * time.Second
	}
	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	return time.Now().Add(delay)
}
