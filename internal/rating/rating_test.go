// ABOUTME: Tests for the fixed-delta rating engine
// ABOUTME: Covers delta law, winner resolution order, green rating invariant, error bookkeeping

package rating

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/arena/internal/store"
)

type fixture struct {
	engine *Engine
	store  store.Store
	green  *store.Agent
	red    *store.Agent
	blue   *store.Agent
	battle *store.Battle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	green := &store.Agent{
		ID:      uuid.New().String(),
		Alias:   "judge",
		IsGreen: true,
		ParticipantRequirements: []store.ParticipantRequirement{
			{Role: "opponent", Name: "red_agent", Required: true},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateAgent(ctx, green))

	red := newRatedAgent(t, s, "red")
	blue := newRatedAgent(t, s, "blue")

	battle := &store.Battle{
		ID:           uuid.New().String(),
		GreenAgentID: green.ID,
		Opponents: []store.Opponent{
			{AgentID: red.ID, Name: "red_agent"},
			{AgentID: blue.ID, Name: "blue_agent"},
		},
		State:     store.BattleRunning,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateBattle(ctx, battle))

	return &fixture{engine: New(s, nil), store: s, green: green, red: red, blue: blue, battle: battle}
}

func newRatedAgent(t *testing.T, s store.Store, alias string) *store.Agent {
	t.Helper()
	rating := 1000
	a := &store.Agent{
		ID:        uuid.New().String(),
		Alias:     alias,
		Rating:    &rating,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateAgent(context.Background(), a))
	return a
}

func (f *fixture) reload(t *testing.T, id string) *store.Agent {
	t.Helper()
	a, err := f.store.GetAgent(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestApplyResult_WinnerByName(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.ApplyResult(context.Background(), f.battle, "red_agent"))

	red := f.reload(t, f.red.ID)
	assert.Equal(t, 1015, *red.Rating)
	assert.Equal(t, 1, red.Stats.Wins)
	assert.Equal(t, 1, red.Stats.Total)

	blue := f.reload(t, f.blue.ID)
	assert.Equal(t, 985, *blue.Rating)
	assert.Equal(t, 1, blue.Stats.Losses)

	green := f.reload(t, f.green.ID)
	assert.Nil(t, green.Rating)
	assert.Equal(t, 1, green.Stats.Losses)
	assert.Equal(t, 1, green.Stats.Total)
}

func TestApplyResult_WinnerByAgentID(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.ApplyResult(context.Background(), f.battle, f.blue.ID))

	assert.Equal(t, 1015, *f.reload(t, f.blue.ID).Rating)
	assert.Equal(t, 985, *f.reload(t, f.red.ID).Rating)
}

func TestApplyResult_WinnerByAlias(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.ApplyResult(context.Background(), f.battle, "Blue"))

	assert.Equal(t, 1015, *f.reload(t, f.blue.ID).Rating)
}

func TestApplyResult_AgentIDBeatsName(t *testing.T) {
	f := newFixture(t)

	// Register an opponent whose declared name collides with another
	// participant's agent ID; the ID match must win.
	ctx := context.Background()
	battle := f.battle
	battle.Opponents[1].Name = f.red.ID
	require.NoError(t, f.store.UpdateBattle(ctx, battle))

	require.NoError(t, f.engine.ApplyResult(ctx, battle, f.red.ID))
	assert.Equal(t, 1015, *f.reload(t, f.red.ID).Rating)
	assert.Equal(t, 985, *f.reload(t, f.blue.ID).Rating)
}

func TestApplyResult_Draw(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.ApplyResult(context.Background(), f.battle, "draw"))

	for _, id := range []string{f.red.ID, f.blue.ID} {
		a := f.reload(t, id)
		assert.Equal(t, 1000, *a.Rating)
		assert.Equal(t, 1, a.Stats.Draws)
		assert.Equal(t, 1, a.Stats.Total)
	}
	green := f.reload(t, f.green.ID)
	assert.Equal(t, 1, green.Stats.Draws)
	assert.Nil(t, green.Rating)
}

func TestApplyResult_UnresolvableWinnerIsDraw(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.ApplyResult(context.Background(), f.battle, "nobody-knows"))

	red := f.reload(t, f.red.ID)
	assert.Equal(t, 1000, *red.Rating)
	assert.Equal(t, 1, red.Stats.Draws)
}

func TestApplyResult_GreenAgentSentinel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.ApplyResult(context.Background(), f.battle, "green_agent"))

	green := f.reload(t, f.green.ID)
	assert.Nil(t, green.Rating)
	assert.Equal(t, 1, green.Stats.Wins)

	// Opponents lose rating; the green winner gains none.
	assert.Equal(t, 985, *f.reload(t, f.red.ID).Rating)
	assert.Equal(t, 985, *f.reload(t, f.blue.ID).Rating)
}

func TestApplyResult_HistoryWritten(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.ApplyResult(context.Background(), f.battle, "red_agent"))

	entries, err := f.store.ListHistory(context.Background(), f.red.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.HistoryWin, entries[0].Result)
	assert.Equal(t, Delta, entries[0].RatingDelta)
	require.NotNil(t, entries[0].FinalRating)
	assert.Equal(t, 1015, *entries[0].FinalRating)
	assert.Equal(t, f.battle.ID, entries[0].BattleID)
	assert.Equal(t, f.green.ID, entries[0].GreenAgentID)
	assert.Contains(t, entries[0].Opponents, "blue_agent")

	greenEntries, err := f.store.ListHistory(context.Background(), f.green.ID, 0)
	require.NoError(t, err)
	require.Len(t, greenEntries, 1)
	assert.Nil(t, greenEntries[0].FinalRating)
	assert.Equal(t, 0, greenEntries[0].RatingDelta)
}

func TestRecordError_IncrementsOnlyErrorsAndTotal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.RecordError(context.Background(), f.battle))

	for _, id := range []string{f.green.ID, f.red.ID, f.blue.ID} {
		a := f.reload(t, id)
		assert.Equal(t, 1, a.Stats.Errors)
		assert.Equal(t, 1, a.Stats.Total)
		assert.Equal(t, 0, a.Stats.Wins+a.Stats.Losses+a.Stats.Draws)
	}
	assert.Equal(t, 1000, *f.reload(t, f.red.ID).Rating)

	entries, err := f.store.ListHistory(context.Background(), f.red.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.HistoryError, entries[0].Result)
}

func TestStatsSumEqualsTotalAfterMixedBattles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.ApplyResult(ctx, f.battle, "red_agent"))
	require.NoError(t, f.engine.ApplyResult(ctx, f.battle, "draw"))
	require.NoError(t, f.engine.RecordError(ctx, f.battle))

	for _, id := range []string{f.green.ID, f.red.ID, f.blue.ID} {
		a := f.reload(t, id)
		sum := a.Stats.Wins + a.Stats.Losses + a.Stats.Draws + a.Stats.Errors
		assert.Equal(t, a.Stats.Total, sum, "agent %s", a.Alias)
		assert.Equal(t, 3, a.Stats.Total)
	}
}
