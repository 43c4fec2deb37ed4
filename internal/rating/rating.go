// ABOUTME: Fixed-delta competitive rating engine and per-agent battle statistics
// ABOUTME: Applies win/loss/draw results and error bookkeeping at battle finalization

package rating

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentarena/arena/internal/store"
)

// Delta is the fixed rating adjustment applied to non-green winners and losers.
const Delta = 15

// Winner sentinels accepted by the result boundary.
const (
	WinnerDraw  = "draw"
	WinnerGreen = "green_agent"
)

// Engine updates agent ratings, statistics, and history at battle
// finalization. Only the engine mutates these fields.
type Engine struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a rating engine. Pass nil logger for default.
func New(s store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		logger: logger.With("component", "rating"),
	}
}

// participants loads the green agent and every opponent of a battle.
func (e *Engine) participants(ctx context.Context, battle *store.Battle) ([]*store.Agent, error) {
	ids := make([]string, 0, len(battle.Opponents)+1)
	ids = append(ids, battle.GreenAgentID)
	for _, opp := range battle.Opponents {
		ids = append(ids, opp.AgentID)
	}

	agents := make([]*store.Agent, 0, len(ids))
	for _, id := range ids {
		agent, err := e.store.GetAgent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading participant %s: %w", id, err)
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// resolveWinner maps a reported winner string to the winning agent's ID.
// Resolution order: exact agent_id, exact opponent name/role, the
// draw/green_agent sentinels, then agent alias. An unresolvable winner is
// treated as a draw rather than an error.
func (e *Engine) resolveWinner(battle *store.Battle, agents []*store.Agent, winner string) string {
	for _, a := range agents {
		if a.ID == winner {
			return a.ID
		}
	}

	for _, opp := range battle.Opponents {
		if opp.Name == winner {
			return opp.AgentID
		}
	}

	switch strings.ToLower(winner) {
	case WinnerDraw:
		return ""
	case WinnerGreen:
		return battle.GreenAgentID
	}

	for _, a := range agents {
		if strings.EqualFold(a.Alias, winner) {
			return a.ID
		}
	}

	e.logger.Warn("unresolvable winner treated as draw", "battle_id", battle.ID, "winner", winner)
	return ""
}

// ApplyResult applies a battle outcome to every participant. The green agent
// is included for audit purposes but its rating stays nil forever. An empty
// or unresolvable winner records a draw for everyone.
func (e *Engine) ApplyResult(ctx context.Context, battle *store.Battle, winner string) error {
	agents, err := e.participants(ctx, battle)
	if err != nil {
		return err
	}

	winnerID := ""
	if winner != "" {
		winnerID = e.resolveWinner(battle, agents, winner)
	}

	for _, agent := range agents {
		delta := 0
		var result string
		switch {
		case winnerID == "":
			agent.Stats.Draws++
			result = store.HistoryDraw
		case agent.ID == winnerID:
			agent.Stats.Wins++
			delta = Delta
			result = store.HistoryWin
		default:
			agent.Stats.Losses++
			delta = -Delta
			result = store.HistoryLoss
		}
		agent.Stats.Total++

		if !agent.IsGreen && agent.Rating != nil && delta != 0 {
			updated := *agent.Rating + delta
			agent.Rating = &updated
		}
		if agent.IsGreen {
			// Green agents never compete for rating; the delta is audit-only.
			delta = 0
		}

		if err := e.store.UpdateAgent(ctx, agent); err != nil {
			return fmt.Errorf("updating agent %s: %w", agent.ID, err)
		}
		if err := e.appendHistory(ctx, battle, agent, result, delta); err != nil {
			return err
		}

		e.logger.Debug("result applied",
			"battle_id", battle.ID,
			"agent_id", agent.ID,
			"result", result,
			"delta", delta)
	}

	return nil
}

// RecordError increments the error and total counters for every participant
// of a battle that aborted before a winner could be determined. No rating
// delta is applied.
func (e *Engine) RecordError(ctx context.Context, battle *store.Battle) error {
	agents, err := e.participants(ctx, battle)
	if err != nil {
		return err
	}

	for _, agent := range agents {
		agent.Stats.Errors++
		agent.Stats.Total++
		if err := e.store.UpdateAgent(ctx, agent); err != nil {
			return fmt.Errorf("updating agent %s: %w", agent.ID, err)
		}
		if err := e.appendHistory(ctx, battle, agent, store.HistoryError, 0); err != nil {
			return err
		}
	}

	e.logger.Debug("error recorded", "battle_id", battle.ID, "participants", len(agents))
	return nil
}

// appendHistory writes one audit-trail entry for an agent.
func (e *Engine) appendHistory(ctx context.Context, battle *store.Battle, agent *store.Agent, result string, delta int) error {
	opponents := make([]string, 0, len(battle.Opponents))
	for _, opp := range battle.Opponents {
		if opp.AgentID != agent.ID {
			opponents = append(opponents, opp.Name)
		}
	}

	entry := &store.BattleHistoryEntry{
		ID:           uuid.New().String(),
		AgentID:      agent.ID,
		BattleID:     battle.ID,
		Timestamp:    time.Now(),
		Result:       result,
		RatingDelta:  delta,
		FinalRating:  agent.Rating,
		Opponents:    opponents,
		GreenAgentID: battle.GreenAgentID,
	}
	if err := e.store.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("appending history for %s: %w", agent.ID, err)
	}
	return nil
}
