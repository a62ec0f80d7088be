package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/pkg/logger"
)

type mockMuteRepository struct {
	mock.Mock
}

func (m *mockMuteRepository) GetMuteState(ctx context.Context, userID string) (*chat.MuteState, error) {
	args := m.Called(ctx, userID)
	if s := args.Get(0); s != nil {
		return s.(*chat.MuteState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMuteRepository) PutMuteState(ctx context.Context, userID string, state chat.MuteState) error {
	return m.Called(ctx, userID, state).Error(0)
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestGate_NotMuted(t *testing.T) {
	gate := NewGate("u1", nil, clockwork.NewFakeClockAt(epoch), logger.NewNop())
	assert.NoError(t, gate.Permit(context.Background()))
}

func TestGate_IndefiniteMute(t *testing.T) {
	gate := NewGate("u1", nil, clockwork.NewFakeClockAt(epoch), logger.NewNop())
	gate.SetState(chat.MuteState{IsMuted: true, Reason: "spam"})

	ok, reason := gate.CanSend()
	assert.False(t, ok)
	assert.Equal(t, "You are muted: spam", reason)

	err := gate.Permit(context.Background())
	require.Error(t, err)
	assert.True(t, shared.IsCode(err, shared.ErrCodeSendRejectedModeration))
}

func TestGate_FutureExpiryDenies(t *testing.T) {
	clk := clockwork.NewFakeClockAt(epoch)
	gate := NewGate("u1", nil, clk, logger.NewNop())
	expires := epoch.Add(10 * time.Minute)
	gate.SetState(chat.MuteState{IsMuted: true, ExpiresAt: &expires})

	ok, reason := gate.CanSend()
	assert.False(t, ok)
	assert.Contains(t, reason, "You are muted until 2024-05-01 12:10")

	clk.Advance(10 * time.Minute)
	ok, _ = gate.CanSend()
	assert.False(t, ok, "expiry instant itself is still muted")

	clk.Advance(time.Second)
	ok, _ = gate.CanSend()
	assert.True(t, ok)
}

func TestGate_ExpiredMuteFlipsOnce(t *testing.T) {
	gate := NewGate("u1", nil, clockwork.NewFakeClockAt(epoch), logger.NewNop())
	expired := epoch.Add(-time.Minute)
	gate.SetState(chat.MuteState{IsMuted: true, ExpiresAt: &expired})

	require.NoError(t, gate.Permit(context.Background()))
	assert.False(t, gate.State().IsMuted)

	// stays open without consulting the deadline again
	require.NoError(t, gate.Permit(context.Background()))

	// a fresh record from the store re-arms the gate
	gate.SetState(chat.MuteState{IsMuted: true})
	assert.Error(t, gate.Permit(context.Background()))
}

func TestGate_Refresh(t *testing.T) {
	ctx := context.Background()
	repo := &mockMuteRepository{}
	repo.On("GetMuteState", mock.Anything, "u1").Return(&chat.MuteState{IsMuted: true}, nil).Once()
	repo.On("GetMuteState", mock.Anything, "u1").Return(nil, nil).Once()
	repo.On("GetMuteState", mock.Anything, "u1").Return(nil, errors.New("down")).Once()

	gate := NewGate("u1", repo, clockwork.NewFakeClockAt(epoch), logger.NewNop())

	require.NoError(t, gate.Refresh(ctx))
	assert.True(t, gate.State().IsMuted)

	require.NoError(t, gate.Refresh(ctx))
	assert.False(t, gate.State().IsMuted)

	assert.Error(t, gate.Refresh(ctx))
	assert.False(t, gate.State().IsMuted, "failed refresh keeps the last known state")

	repo.AssertExpectations(t)
}

func TestGate_PermitReadsStoreEverySend(t *testing.T) {
	ctx := context.Background()
	repo := &mockMuteRepository{}
	repo.On("GetMuteState", mock.Anything, "u1").Return(nil, nil).Once()
	repo.On("GetMuteState", mock.Anything, "u1").Return(&chat.MuteState{IsMuted: true, Reason: "spam"}, nil).Once()
	repo.On("GetMuteState", mock.Anything, "u1").Return(nil, errors.New("down")).Once()
	repo.On("GetMuteState", mock.Anything, "u1").Return(&chat.MuteState{}, nil).Once()

	gate := NewGate("u1", repo, clockwork.NewFakeClockAt(epoch), logger.NewNop())

	assert.NoError(t, gate.Permit(ctx))

	err := gate.Permit(ctx)
	require.Error(t, err, "mute written mid-session applies to the next send")
	assert.True(t, shared.IsCode(err, shared.ErrCodeSendRejectedModeration))

	assert.Error(t, gate.Permit(ctx), "store outage falls back to the last record read")
	assert.NoError(t, gate.Permit(ctx))

	repo.AssertExpectations(t)
}

func TestGate_StoredExpiredRecordFlipsOnce(t *testing.T) {
	ctx := context.Background()
	expired := epoch.Add(-time.Minute)
	renewed := epoch.Add(time.Hour)

	repo := &mockMuteRepository{}
	repo.On("GetMuteState", mock.Anything, "u1").Return(&chat.MuteState{IsMuted: true, ExpiresAt: &expired}, nil).Twice()
	repo.On("GetMuteState", mock.Anything, "u1").Return(&chat.MuteState{IsMuted: true, ExpiresAt: &renewed}, nil).Once()

	gate := NewGate("u1", repo, clockwork.NewFakeClockAt(epoch), logger.NewNop())

	require.NoError(t, gate.Permit(ctx))
	assert.False(t, gate.State().IsMuted)

	// the store still holds the lapsed record
	require.NoError(t, gate.Permit(ctx))
	assert.False(t, gate.State().IsMuted)

	// a moderator replaced it
	assert.Error(t, gate.Permit(ctx))
	assert.True(t, gate.State().IsMuted)

	repo.AssertExpectations(t)
}
