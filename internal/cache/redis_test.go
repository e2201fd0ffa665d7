package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"binportal/internal/models"
)

func TestNextAttempt(t *testing.T) {
	cases := []struct {
		name           string
		retryCount     int
		wantDeadLetter bool
		wantRetryCount int
	}{
		{"first retry", 0, false, 1},
		{"second retry", 1, false, 2},
		{"last retry", 2, false, 3},
		{"retries exhausted", 3, true, 3},
		{"past the limit", 4, true, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &models.QueueMessage{
				RequestID:  "req-1",
				RetryCount: tc.retryCount,
			}

			got := nextAttempt(msg)

			assert.Equal(t, tc.wantDeadLetter, got)
			assert.Equal(t, tc.wantRetryCount, msg.RetryCount)
			if !tc.wantDeadLetter {
				assert.WithinDuration(t, time.Now().UTC(), msg.LastEnqueued, time.Minute)
			} else {
				// Exhausted messages keep their history untouched.
				assert.True(t, msg.LastEnqueued.IsZero())
			}
		})
	}
}
