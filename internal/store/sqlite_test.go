// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers agent/instance/battle CRUD, event ordering, history, cascade deletes

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAgent(green bool) *Agent {
	a := &Agent{
		ID:        uuid.New().String(),
		Alias:     "agent-" + uuid.New().String()[:8],
		CreatedAt: time.Now(),
	}
	if green {
		a.IsGreen = true
		a.ParticipantRequirements = []ParticipantRequirement{
			{Role: "opponent", Name: "red_agent", Required: true},
		}
	} else {
		rating := 1000
		a.Rating = &rating
	}
	return a
}

func TestSQLiteStore_AgentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := testAgent(false)
	agent.BattleTimeout = 90 * time.Second
	require.NoError(t, s.CreateAgent(ctx, agent))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.Alias, got.Alias)
	assert.False(t, got.IsGreen)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 1000, *got.Rating)
	assert.Equal(t, 90*time.Second, got.BattleTimeout)
	assert.Empty(t, got.ParticipantRequirements)

	byAlias, err := s.GetAgentByAlias(ctx, agent.Alias)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, byAlias.ID)
}

func TestSQLiteStore_GreenAgentHasNilRating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := testAgent(true)
	require.NoError(t, s.CreateAgent(ctx, agent))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, got.IsGreen)
	assert.Nil(t, got.Rating)
	require.Len(t, got.ParticipantRequirements, 1)
	assert.Equal(t, "red_agent", got.ParticipantRequirements[0].Name)
	assert.True(t, got.ParticipantRequirements[0].Required)
}

func TestSQLiteStore_DuplicateAliasRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := testAgent(false)
	require.NoError(t, s.CreateAgent(ctx, agent))

	dup := testAgent(false)
	dup.Alias = agent.Alias
	err := s.CreateAgent(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateAlias)
}

func TestSQLiteStore_GetAgentNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateAgentStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := testAgent(false)
	require.NoError(t, s.CreateAgent(ctx, agent))

	agent.Stats = AgentStats{Wins: 3, Losses: 1, Draws: 1, Total: 5}
	rating := 1030
	agent.Rating = &rating
	require.NoError(t, s.UpdateAgent(ctx, agent))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stats.Wins)
	assert.Equal(t, 5, got.Stats.Total)
	assert.Equal(t, 1030, *got.Rating)
	assert.InDelta(t, 0.6, got.Stats.WinRate(), 0.0001)
}

func TestSQLiteStore_InstanceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := testAgent(false)
	require.NoError(t, s.CreateAgent(ctx, agent))

	inst := &AgentInstance{
		ID:          uuid.New().String(),
		AgentID:     agent.ID,
		AgentURL:    "http://agent.example:9000",
		LauncherURL: "http://agent.example:9001",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.CreateInstance(ctx, inst))

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, got.Locked)
	assert.False(t, got.Ready)

	got.Locked = true
	got.LockedBy = "battle-1"
	got.Ready = true
	require.NoError(t, s.UpdateInstance(ctx, got))

	got, err = s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, got.Locked)
	assert.Equal(t, "battle-1", got.LockedBy)
	assert.True(t, got.Ready)

	list, err := s.ListInstancesByAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteStore_DeleteAgentCascadesInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := testAgent(false)
	require.NoError(t, s.CreateAgent(ctx, agent))
	inst := &AgentInstance{
		ID:          uuid.New().String(),
		AgentID:     agent.ID,
		AgentURL:    "http://a",
		LauncherURL: "http://b",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.CreateInstance(ctx, inst))

	require.NoError(t, s.DeleteAgent(ctx, agent.ID))

	_, err := s.GetAgent(ctx, agent.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetInstance(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_BattleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	battle := &Battle{
		ID:           uuid.New().String(),
		GreenAgentID: "green-1",
		Opponents:    []Opponent{{AgentID: "red-1", Name: "red_agent"}},
		Config:       map[string]any{"rounds": float64(3)},
		State:        BattlePending,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.CreateBattle(ctx, battle))

	got, err := s.GetBattle(ctx, battle.ID)
	require.NoError(t, err)
	assert.Equal(t, BattlePending, got.State)
	require.Len(t, got.Opponents, 1)
	assert.Equal(t, "red_agent", got.Opponents[0].Name)
	assert.Equal(t, float64(3), got.Config["rounds"])
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.Result)

	now := time.Now()
	got.State = BattleFinished
	got.StartedAt = &now
	got.FinishedAt = &now
	got.Result = &BattleResult{Winner: "red_agent", Message: "done", ReportedBy: "green-1", Timestamp: now}
	require.NoError(t, s.UpdateBattle(ctx, got))

	got, err = s.GetBattle(ctx, battle.ID)
	require.NoError(t, err)
	assert.Equal(t, BattleFinished, got.State)
	assert.True(t, got.State.Terminal())
	require.NotNil(t, got.Result)
	assert.Equal(t, "red_agent", got.Result.Winner)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
}

func TestSQLiteStore_EventsKeepAppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	battle := &Battle{
		ID:           uuid.New().String(),
		GreenAgentID: "green-1",
		Opponents:    []Opponent{},
		State:        BattleRunning,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.CreateBattle(ctx, battle))

	// Deliberately out-of-order timestamps; append order must win.
	base := time.Now()
	for i, offset := range []time.Duration{0, -time.Minute, time.Minute} {
		ev := &Event{
			ID:         uuid.New().String(),
			BattleID:   battle.ID,
			Timestamp:  base.Add(offset),
			Message:    []string{"first", "second", "third"}[i],
			ReportedBy: "green-1",
		}
		require.NoError(t, s.AppendEvent(ctx, ev))
	}

	events, err := s.ListEvents(ctx, battle.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "first", events[0].Message)
	assert.Equal(t, "second", events[1].Message)
	assert.Equal(t, "third", events[2].Message)
}

func TestSQLiteStore_HistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := testAgent(false)
	require.NoError(t, s.CreateAgent(ctx, agent))

	final := 1015
	entry := &BattleHistoryEntry{
		ID:           uuid.New().String(),
		AgentID:      agent.ID,
		BattleID:     "battle-1",
		Timestamp:    time.Now(),
		Result:       HistoryWin,
		RatingDelta:  15,
		FinalRating:  &final,
		Opponents:    []string{"blue_agent"},
		GreenAgentID: "green-1",
	}
	require.NoError(t, s.AppendHistory(ctx, entry))

	entries, err := s.ListHistory(ctx, agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, HistoryWin, entries[0].Result)
	assert.Equal(t, 15, entries[0].RatingDelta)
	require.NotNil(t, entries[0].FinalRating)
	assert.Equal(t, 1015, *entries[0].FinalRating)
	assert.Equal(t, []string{"blue_agent"}, entries[0].Opponents)
}

func TestSQLiteStore_HistoryNilFinalRatingForGreen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := testAgent(true)
	require.NoError(t, s.CreateAgent(ctx, agent))

	entry := &BattleHistoryEntry{
		ID:           uuid.New().String(),
		AgentID:      agent.ID,
		BattleID:     "battle-1",
		Timestamp:    time.Now(),
		Result:       HistoryDraw,
		GreenAgentID: agent.ID,
	}
	require.NoError(t, s.AppendHistory(ctx, entry))

	entries, err := s.ListHistory(ctx, agent.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].FinalRating)
}
