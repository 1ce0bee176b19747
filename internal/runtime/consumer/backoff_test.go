package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 30 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{1000, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, b.Delay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	assert.Equal(t, DefaultBackoffBase, b.Delay(1))
	assert.Equal(t, DefaultBackoffMax, b.Delay(10))

	inverted := Backoff{Base: time.Second, Max: time.Millisecond}
	assert.Equal(t, time.Second, inverted.Delay(3))
}
