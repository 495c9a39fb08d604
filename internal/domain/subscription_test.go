package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SubscriptionState
		want     bool
	}{
		{StateUnsubscribed, StatePending, true},
		{StateUnsubscribed, StateActive, false},
		{StatePending, StateActive, true},
		{StateActive, StateExpiring, true},
		{StateExpiring, StateActive, true},
		{StateExpiring, StateFailed, true},
		{StateActive, StateFailed, false},
		{StateFailed, StateUnsubscribed, true},
		{StateFailed, StatePending, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestLeaseDueBy(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(30 * time.Second)

	sub := ChannelSubscription{LeaseExpiresAt: &expiry}
	if !sub.LeaseDueBy(now, 60*time.Second) {
		t.Error("lease expiring in 30s should be due with a 60s margin")
	}
	if sub.LeaseDueBy(now, 10*time.Second) {
		t.Error("lease expiring in 30s should not be due with a 10s margin")
	}
	if !(ChannelSubscription{}).LeaseDueBy(now, 0) {
		t.Error("subscription without a lease should always be due")
	}
}

func TestTransientError_Is(t *testing.T) {
	err := Transient("fetch video", 429, errors.New("quota"))
	if !errors.Is(err, ErrTransient) {
		t.Error("TransientError should match ErrTransient")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("TransientError should not match ErrNotFound")
	}

	te := &TransientError{Op: "x", RetryAfter: 5 * time.Second, Err: errors.New("slow down")}
	if got := RetryAfterHint(te); got != 5*time.Second {
		t.Errorf("RetryAfterHint = %v, want 5s", got)
	}
}
