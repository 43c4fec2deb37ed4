// ABOUTME: Agent directory managing registration, lookup, and readiness of agents
// ABOUTME: Validates green agent requirements and remote agent reachability

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentarena/arena/internal/remote"
	"github.com/agentarena/arena/internal/store"
)

// InitialRating is assigned to every non-green agent at registration.
const InitialRating = 1000

// Registration errors
var (
	// ErrAgentUnreachable is returned when a non-green agent's capability
	// card cannot be fetched at registration time.
	ErrAgentUnreachable = errors.New("agent unreachable")

	// ErrInvalidGreenAgentConfig is returned when a green agent declares no
	// participant requirements.
	ErrInvalidGreenAgentConfig = errors.New("green agent must declare at least one participant requirement")

	// ErrAgentInBattle is returned when deleting an agent referenced by a
	// battle that has not reached a terminal state.
	ErrAgentInBattle = errors.New("agent is referenced by an active battle")
)

// RegisterRequest carries the fields needed to register a new agent.
type RegisterRequest struct {
	Alias                   string
	IsHosted                bool
	IsGreen                 bool
	AgentURL                string
	LauncherURL             string
	ParticipantRequirements []store.ParticipantRequirement
	BattleTimeout           time.Duration
}

// Registry is the durable directory of agents and their instances.
type Registry struct {
	store  store.Store
	client remote.Client
	logger *slog.Logger
}

// New creates a registry. Pass nil logger for default.
func New(s store.Store, client remote.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		client: client,
		logger: logger.With("component", "registry"),
	}
}

// Register validates and persists a new agent, creating its instance record.
// Green agents must declare at least one participant requirement; non-green
// agents must serve a reachable capability card. Non-green agents start at
// InitialRating; green agents never hold a rating.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*store.Agent, error) {
	if req.IsGreen && len(req.ParticipantRequirements) == 0 {
		return nil, ErrInvalidGreenAgentConfig
	}

	if !req.IsGreen {
		if _, err := r.client.FetchCapabilities(ctx, req.AgentURL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAgentUnreachable, err)
		}
	}

	agent := &store.Agent{
		ID:                      uuid.New().String(),
		Alias:                   req.Alias,
		IsHosted:                req.IsHosted,
		IsGreen:                 req.IsGreen,
		ParticipantRequirements: req.ParticipantRequirements,
		BattleTimeout:           req.BattleTimeout,
		CreatedAt:               time.Now(),
	}
	if !req.IsGreen {
		rating := InitialRating
		agent.Rating = &rating
	}

	if err := r.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	// Remote (non-hosted) agents get exactly one instance at registration.
	// Hosted agents scale out through separate instance creation.
	inst := &store.AgentInstance{
		ID:          uuid.New().String(),
		AgentID:     agent.ID,
		AgentURL:    req.AgentURL,
		LauncherURL: req.LauncherURL,
		CreatedAt:   time.Now(),
	}
	if err := r.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("creating instance: %w", err)
	}

	r.logger.Info("agent registered",
		"agent_id", agent.ID,
		"alias", agent.Alias,
		"green", agent.IsGreen,
		"hosted", agent.IsHosted)
	return agent, nil
}

// Get retrieves an agent by ID.
func (r *Registry) Get(ctx context.Context, agentID string) (*store.Agent, error) {
	return r.store.GetAgent(ctx, agentID)
}

// List returns all registered agents.
func (r *Registry) List(ctx context.Context) ([]*store.Agent, error) {
	return r.store.ListAgents(ctx)
}

// ListInstances returns the instances owned by an agent.
func (r *Registry) ListInstances(ctx context.Context, agentID string) ([]*store.AgentInstance, error) {
	return r.store.ListInstancesByAgent(ctx, agentID)
}

// UpdateAlias changes an agent's alias.
func (r *Registry) UpdateAlias(ctx context.Context, agentID, alias string) (*store.Agent, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	agent.Alias = alias
	if err := r.store.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// SetReady flips the ready flag on all of the agent's instances. It is the
// boundary consumed by the agent's launcher sidecar once a reset completes.
func (r *Registry) SetReady(ctx context.Context, agentID string, ready bool) error {
	instances, err := r.store.ListInstancesByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return store.ErrNotFound
	}

	for _, inst := range instances {
		inst.Ready = ready
		if err := r.store.UpdateInstance(ctx, inst); err != nil {
			return fmt.Errorf("updating instance %s: %w", inst.ID, err)
		}
	}

	r.logger.Debug("agent readiness updated", "agent_id", agentID, "ready", ready)
	return nil
}

// Delete removes an agent and its instances. Deletion is rejected while the
// agent is referenced by any battle that has not reached a terminal state.
func (r *Registry) Delete(ctx context.Context, agentID string) error {
	if _, err := r.store.GetAgent(ctx, agentID); err != nil {
		return err
	}

	battles, err := r.store.ListBattles(ctx)
	if err != nil {
		return fmt.Errorf("listing battles: %w", err)
	}
	for _, b := range battles {
		if b.State.Terminal() {
			continue
		}
		if b.GreenAgentID == agentID {
			return ErrAgentInBattle
		}
		for _, opp := range b.Opponents {
			if opp.AgentID == agentID {
				return ErrAgentInBattle
			}
		}
	}

	if err := r.store.DeleteAgent(ctx, agentID); err != nil {
		return err
	}

	r.logger.Info("agent deleted", "agent_id", agentID)
	return nil
}
