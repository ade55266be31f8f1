package webhook

import "time"

// MaxRetries is the retry budget of a record
const MaxRetries = 3

var retryDelayMinutes = []int{1, 5, 15}

// RetryDelay returns the backoff applied after a failure of a record that had
// already been retried retryCount times
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(retryDelayMinutes) {
		retryCount = len(retryDelayMinutes) - 1
	}
	return time.Duration(retryDelayMinutes[retryCount]) * time.Minute
}
