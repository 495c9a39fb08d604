package domain

import (
	"time"
)

type SubscriptionState string

const (
	StateUnsubscribed SubscriptionState = "unsubscribed"
	StatePending      SubscriptionState = "pending"
	StateActive       SubscriptionState = "active"
	StateExpiring     SubscriptionState = "expiring"
	StateFailed       SubscriptionState = "failed"
)

// ChannelSubscription is the lease a channel holds against the hub.
// RenewalAttempts and NextAttemptAt carry the retry state of the current
// renewal cycle.
type ChannelSubscription struct {
	ChannelID       string            `json:"channel_id"`
	ChannelName     string            `json:"channel_name"`
	TopicURL        string            `json:"topic_url"`
	HubURL          string            `json:"hub_url"`
	Secret          string            `json:"-"`
	State           SubscriptionState `json:"state"`
	LeaseExpiresAt  *time.Time        `json:"lease_expires_at,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	RenewalAttempts int               `json:"renewal_attempts"`
	NextAttemptAt   *time.Time        `json:"next_attempt_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

var transitions = map[SubscriptionState][]SubscriptionState{
	StateUnsubscribed: {StatePending},
	StatePending:      {StateActive, StateFailed, StateUnsubscribed},
	StateActive:       {StateActive, StateExpiring, StateUnsubscribed},
	StateExpiring:     {StateActive, StateFailed, StateUnsubscribed},
	StateFailed:       {StatePending, StateActive, StateExpiring, StateUnsubscribed},
}

// CanTransition reports whether the state machine allows moving from one
// state to another.
func CanTransition(from, to SubscriptionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LeaseDueBy reports whether the lease has to be renewed at now given a
// renewal margin. A subscription without a lease is always due.
func (s ChannelSubscription) LeaseDueBy(now time.Time, margin time.Duration) bool {
	if s.LeaseExpiresAt == nil {
		return true
	}
	return !now.Before(s.LeaseExpiresAt.Add(-margin))
}

type ChannelConfig struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Secret string `yaml:"secret,omitempty" json:"-"`
}
