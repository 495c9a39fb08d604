package engine

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		attempt int
		want    time.Duration
	}{
		{"first attempt", 2 * time.Second, time.Minute, 1, 2 * time.Second},
		{"second attempt doubles", 2 * time.Second, time.Minute, 2, 4 * time.Second},
		{"fourth attempt", 2 * time.Second, time.Minute, 4, 16 * time.Second},
		{"capped", 2 * time.Second, time.Minute, 10, time.Minute},
		{"huge attempt stays capped", time.Second, time.Hour, 200, time.Hour},
		{"zero attempt treated as first", time.Second, time.Minute, 0, time.Second},
		{"no cap", time.Second, 0, 3, 4 * time.Second},
		{"zero base", 0, time.Minute, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Backoff(tt.base, tt.max, tt.attempt); got != tt.want {
				t.Errorf("Backoff(%v, %v, %d) = %v, want %v", tt.base, tt.max, tt.attempt, got, tt.want)
			}
		})
	}
}
