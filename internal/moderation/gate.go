package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/pkg/logger"
)

// Gate decides whether the session user may send messages. The mute record
// is read from the store before every send; the last record read stands in
// when the store is unavailable.
type Gate struct {
	userID string
	repo   chat.MuteRepository
	clock  clockwork.Clock
	logger *logger.Logger

	mu    sync.Mutex
	state chat.MuteState
	// lapsed is the deadline of a record already expired locally. The
	// store keeps returning that record until a moderator replaces it.
	lapsed *time.Time
}

// NewGate creates a gate for a user. Without a repository the gate only
// knows what SetState applies.
func NewGate(userID string, repo chat.MuteRepository, clk clockwork.Clock, log *logger.Logger) *Gate {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Gate{
		userID: userID,
		repo:   repo,
		clock:  clk,
		logger: log.WithComponent("moderation_gate").WithUserID(userID),
	}
}

// Refresh reloads the mute record from the store
func (g *Gate) Refresh(ctx context.Context) error {
	if g.repo == nil {
		return nil
	}

	state, err := g.repo.GetMuteState(ctx, g.userID)
	if err != nil {
		g.logger.Warn("Failed to load mute state", zap.Error(err))
		return err
	}
	if state == nil {
		state = &chat.MuteState{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.applyLocked(*state)
	return nil
}

// SetState applies a mute record as a fresh one
func (g *Gate) SetState(state chat.MuteState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lapsed = nil
	g.applyLocked(state)
}

func (g *Gate) applyLocked(state chat.MuteState) {
	if state.IsMuted && state.ExpiresAt != nil && g.lapsed != nil && state.ExpiresAt.Equal(*g.lapsed) {
		state.IsMuted = false
	} else if state.IsMuted {
		g.lapsed = nil
	}

	if state.IsMuted != g.state.IsMuted {
		g.logger.Debug("Mute state applied", zap.Bool("muted", state.IsMuted))
	}
	g.state = state
}

// State returns the current mute record
func (g *Gate) State() chat.MuteState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CanSend reports whether sending is permitted under the record already
// loaded, along with the reason when it is not
func (g *Gate) CanSend() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.IsMuted {
		return true, ""
	}

	if g.state.Expired(g.clock.Now()) {
		g.state.IsMuted = false
		g.lapsed = g.state.ExpiresAt
		g.logger.Info("Mute expired, sending re-enabled",
			zap.Timep("expired_at", g.state.ExpiresAt),
		)
		return true, ""
	}

	return false, denyReason(g.state)
}

// Permit reads the current mute record and returns a
// SEND_REJECTED_MODERATION error when sending is not allowed
func (g *Gate) Permit(ctx context.Context) error {
	if err := g.Refresh(ctx); err != nil {
		g.logger.Debug("Deciding on the last known mute state")
	}

	ok, reason := g.CanSend()
	if ok {
		return nil
	}
	return shared.NewDomainError(shared.ErrCodeSendRejectedModeration, reason)
}
func denyReason(state chat.MuteState) string {
	msg := "You are muted"
	if state.ExpiresAt != nil {
		msg = fmt.Sprintf("You are muted until %s", state.ExpiresAt.Format("2006-01-02 15:04 MST"))
	}
	if state.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, state.Reason)
	}
	return msg
}
