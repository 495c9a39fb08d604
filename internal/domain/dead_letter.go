package domain

import (
	"time"
)

type DeadLetter struct {
	ID         string     `json:"id"`
	VideoID    string     `json:"video_id"`
	ChannelID  string     `json:"channel_id"`
	Origin     Origin     `json:"origin"`
	Attempts   int        `json:"attempts"`
	LastError  *string    `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy *string    `json:"resolved_by,omitempty"`
}
