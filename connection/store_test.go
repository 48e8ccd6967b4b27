package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLSeconds(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want int64
	}{
		{"no expiry sentinel", time.Duration(-1), -1},
		{"missing key sentinel", time.Duration(-2), -2},
		{"whole seconds", 90 * time.Second, 90},
		{"sub-second rounds down", 1500 * time.Millisecond, 1},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ttlSeconds(tt.in))
		})
	}
}
