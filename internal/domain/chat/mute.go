package chat

import (
	"context"
	"time"
)

// MuteState is the moderation record for a user
type MuteState struct {
	IsMuted   bool       `json:"is_muted"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Expired reports whether an active mute has a deadline that has passed
func (m MuteState) Expired(now time.Time) bool {
	return m.IsMuted && m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// MuteRepository reads and writes mute records keyed by user id
type MuteRepository interface {
	// GetMuteState returns nil when the user has no mute record
	GetMuteState(ctx context.Context, userID string) (*MuteState, error)

	// PutMuteState stores the mute record, replacing any previous one
	PutMuteState(ctx context.Context, userID string, state MuteState) error
}
