// ABOUTME: Store interface and data types for arena persistence
// ABOUTME: Defines Agent, AgentInstance, Battle, Event structs and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAlias is returned when registering an agent whose alias is taken
var ErrDuplicateAlias = errors.New("alias already registered")

// BattleState represents the lifecycle state of a battle.
type BattleState string

// Battle lifecycle states. Transitions are monotonic except cancelled,
// which is only reachable from pending/queued.
const (
	BattlePending   BattleState = "pending"
	BattleQueued    BattleState = "queued"
	BattleRunning   BattleState = "running"
	BattleFinished  BattleState = "finished"
	BattleError     BattleState = "error"
	BattleCancelled BattleState = "cancelled"
)

// Terminal reports whether s is a terminal state. A battle in a terminal
// state accepts no further writes other than event appends for audit.
func (s BattleState) Terminal() bool {
	return s == BattleFinished || s == BattleError || s == BattleCancelled
}

// Battle result outcomes recorded in an agent's history.
const (
	HistoryWin   = "win"
	HistoryLoss  = "loss"
	HistoryDraw  = "draw"
	HistoryError = "error"
)

// ParticipantRequirement is a named role a green agent's battles must or may fill.
type ParticipantRequirement struct {
	Role     string `json:"role"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// AgentStats holds per-agent battle counters. Wins+Losses+Draws+Errors == Total
// is maintained by the rating engine.
type AgentStats struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
	Errors int `json:"errors"`
	Total  int `json:"total"`
}

// Rate returns n as a fraction of the total, or 0 for an empty record.
func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// WinRate returns the fraction of battles won.
func (s AgentStats) WinRate() float64 { return rate(s.Wins, s.Total) }

// LossRate returns the fraction of battles lost.
func (s AgentStats) LossRate() float64 { return rate(s.Losses, s.Total) }

// DrawRate returns the fraction of battles drawn.
func (s AgentStats) DrawRate() float64 { return rate(s.Draws, s.Total) }

// ErrorRate returns the fraction of battles that ended in an error.
func (s AgentStats) ErrorRate() float64 { return rate(s.Errors, s.Total) }

// MarshalJSON includes the derived rates alongside the raw counters.
func (s AgentStats) MarshalJSON() ([]byte, error) {
	type counters AgentStats
	return json.Marshal(struct {
		counters
		WinRate   float64 `json:"win_rate"`
		LossRate  float64 `json:"loss_rate"`
		DrawRate  float64 `json:"draw_rate"`
		ErrorRate float64 `json:"error_rate"`
	}{counters(s), s.WinRate(), s.LossRate(), s.DrawRate(), s.ErrorRate()})
}

// Agent is the durable identity of a registered agent.
// Green agents coordinate battles and never hold a competitive rating
// (Rating stays nil); non-green agents start at rating 1000.
type Agent struct {
	ID                      string                   `json:"id"`
	Alias                   string                   `json:"alias"`
	IsHosted                bool                     `json:"is_hosted"`
	IsGreen                 bool                     `json:"is_green"`
	ParticipantRequirements []ParticipantRequirement `json:"participant_requirements,omitempty"`
	Rating                  *int                     `json:"rating"`
	Stats                   AgentStats               `json:"stats"`
	BattleTimeout           time.Duration            `json:"battle_timeout,omitempty"` // 0 means use the configured default
	CreatedAt               time.Time                `json:"created_at"`
}

// AgentInstance is one reachable deployment of an Agent. A hosted agent may
// own several instances; a remote agent has exactly one, created at
// registration. Locked and Ready are mutated only by the battle queue and the
// readiness boundary, and return to (false, false) when a battle terminates.
type AgentInstance struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	AgentURL    string    `json:"agent_url"`
	LauncherURL string    `json:"launcher_url"`
	Locked      bool      `json:"locked"`
	LockedBy    string    `json:"locked_by,omitempty"` // battle ID holding the lock, empty when free
	Ready       bool      `json:"ready"`
	CreatedAt   time.Time `json:"created_at"`
}

// Opponent names a participating agent and the role it fills in a battle.
type Opponent struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// BattleResult is the outcome reported through the result boundary or the
// timeout supervisor. Set at most once per battle.
type BattleResult struct {
	Winner     string    `json:"winner"`
	Message    string    `json:"message"`
	ReportedBy string    `json:"reported_by"`
	Timestamp  time.Time `json:"timestamp"`
}

// Battle is one orchestrated competition between a green agent and its
// opponents.
type Battle struct {
	ID           string         `json:"id"`
	GreenAgentID string         `json:"green_agent_id"`
	Opponents    []Opponent     `json:"opponents"`
	Config       map[string]any `json:"config,omitempty"`
	State        BattleState    `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Error        string         `json:"error,omitempty"`
	Result       *BattleResult  `json:"result,omitempty"`
}

// Event is one append-only interact_history entry for a battle.
type Event struct {
	ID         string    `json:"id"`
	BattleID   string    `json:"battle_id"`
	Timestamp  time.Time `json:"timestamp"`
	IsResult   bool      `json:"is_result"`
	Message    string    `json:"message"`
	ReportedBy string    `json:"reported_by"`
	Detail     string    `json:"detail,omitempty"`
	Winner     string    `json:"winner,omitempty"`
}

// BattleHistoryEntry is one audit-trail row per agent per battle.
type BattleHistoryEntry struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	BattleID     string    `json:"battle_id"`
	Timestamp    time.Time `json:"timestamp"`
	Result       string    `json:"result"` // win, loss, draw, error
	RatingDelta  int       `json:"rating_delta"`
	FinalRating  *int      `json:"final_rating"`
	Opponents    []string  `json:"opponents,omitempty"`
	GreenAgentID string    `json:"green_agent_id"`
}

// Store defines the interface for agent and battle persistence
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByAlias(ctx context.Context, alias string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	DeleteAgent(ctx context.Context, id string) error // cascades to instances

	// Instances
	CreateInstance(ctx context.Context, inst *AgentInstance) error
	GetInstance(ctx context.Context, id string) (*AgentInstance, error)
	ListInstancesByAgent(ctx context.Context, agentID string) ([]*AgentInstance, error)
	UpdateInstance(ctx context.Context, inst *AgentInstance) error

	// Battles
	CreateBattle(ctx context.Context, battle *Battle) error
	GetBattle(ctx context.Context, id string) (*Battle, error)
	ListBattles(ctx context.Context) ([]*Battle, error)
	UpdateBattle(ctx context.Context, battle *Battle) error

	// Battle events (append-only interact history)
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, battleID string) ([]*Event, error)

	// Per-agent battle history (audit trail)
	AppendHistory(ctx context.Context, entry *BattleHistoryEntry) error
	ListHistory(ctx context.Context, agentID string, limit int) ([]*BattleHistoryEntry, error)

	// Close releases any resources held by the store
	Close() error
}
