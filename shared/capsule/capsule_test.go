package capsule

import (
	"testing"
	"time"
)

func TestCapsuleTTL(t *testing.T) {
	tests := []struct {
		class string
		want  time.Duration
	}{
		{TTLBreaking, 5 * time.Minute},
		{TTLVolatile, 30 * time.Minute},
		{TTLStable, 6 * time.Hour},
		{"", 30 * time.Minute},
		{"unknown", 30 * time.Minute},
	}
	for _, tt := range tests {
		c := &Capsule{TTLClass: tt.class}
		if got := c.TTL(); got != tt.want {
			t.Errorf("TTL(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}
