// ABOUTME: HTTP API handlers for the agent directory and battle lifecycle
// ABOUTME: Includes the result callback sink remote agents post battle outcomes to

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentarena/arena/internal/battle"
	"github.com/agentarena/arena/internal/registry"
	"github.com/agentarena/arena/internal/store"
)

// registerAgentRequest is the JSON request body for POST /agents.
type registerAgentRequest struct {
	Alias                   string                         `json:"alias"`
	IsHosted                bool                           `json:"is_hosted"`
	IsGreen                 bool                           `json:"is_green"`
	AgentURL                string                         `json:"agent_url"`
	LauncherURL             string                         `json:"launcher_url"`
	ParticipantRequirements []store.ParticipantRequirement `json:"participant_requirements,omitempty"`
	BattleTimeout           string                         `json:"battle_timeout,omitempty"`
}

// updateAgentRequest is the JSON request body for PUT /agents/{id}.
// Exactly the supplied fields are applied: alias renames the agent, ready
// flips readiness on all of its instances.
type updateAgentRequest struct {
	Alias *string `json:"alias,omitempty"`
	Ready *bool   `json:"ready,omitempty"`
}

// createBattleRequest is the JSON request body for POST /battles.
type createBattleRequest struct {
	GreenAgentID string           `json:"green_agent_id"`
	Opponents    []store.Opponent `json:"opponents"`
	Config       map[string]any   `json:"config,omitempty"`
}

// createBattleResponse is the JSON response for POST /battles.
type createBattleResponse struct {
	Battle        *store.Battle `json:"battle"`
	QueuePosition int           `json:"queue_position"`
}

// battleEventRequest is the JSON body remote agents POST to the battle
// callback URL: either a log entry or, with is_result set, the outcome.
type battleEventRequest struct {
	IsResult   bool   `json:"is_result"`
	Message    string `json:"message"`
	ReportedBy string `json:"reported_by"`
	Detail     string `json:"detail,omitempty"`
	Winner     string `json:"winner,omitempty"`
}

// sendJSONError writes a JSON error response with the given status code.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response body with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /health/ready requests. Readiness requires the
// store to answer a query.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListAgents(r.Context()); err != nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleAgents handles GET /agents (list) and POST /agents (register).
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agents, err := s.registry.List(r.Context())
		if err != nil {
			s.logger.Error("listing agents", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		s.writeJSON(w, http.StatusOK, agents)

	case http.MethodPost:
		var req registerAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Alias == "" {
			s.sendJSONError(w, http.StatusBadRequest, "alias is required")
			return
		}

		var timeout time.Duration
		if req.BattleTimeout != "" {
			var err error
			timeout, err = time.ParseDuration(req.BattleTimeout)
			if err != nil {
				s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid battle_timeout: %v", err))
				return
			}
		}

		agent, err := s.registry.Register(r.Context(), registry.RegisterRequest{
			Alias:                   req.Alias,
			IsHosted:                req.IsHosted,
			IsGreen:                 req.IsGreen,
			AgentURL:                req.AgentURL,
			LauncherURL:             req.LauncherURL,
			ParticipantRequirements: req.ParticipantRequirements,
			BattleTimeout:           timeout,
		})
		if err != nil {
			s.sendRegistrationError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, agent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// sendRegistrationError maps registration failures to status codes.
func (s *Server) sendRegistrationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrDuplicateAlias):
		s.sendJSONError(w, http.StatusConflict, "alias already registered")
	case errors.Is(err, registry.ErrInvalidGreenAgentConfig):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrAgentUnreachable):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("registering agent", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleAgentRoutes handles /agents/{id} and /agents/{id}/history.
func (s *Server) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/agents/")
	agentID, sub, _ := strings.Cut(rest, "/")
	if agentID == "" {
		s.sendJSONError(w, http.StatusNotFound, "agent id required")
		return
	}

	switch sub {
	case "":
		s.handleAgent(w, r, agentID)
	case "history":
		s.handleAgentHistory(w, r, agentID)
	default:
		s.sendJSONError(w, http.StatusNotFound, "unknown route")
	}
}

// handleAgent handles GET, PUT, and DELETE on /agents/{id}.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request, agentID string) {
	switch r.Method {
	case http.MethodGet:
		agent, err := s.registry.Get(r.Context(), agentID)
		if err != nil {
			s.sendAgentError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, agent)

	case http.MethodPut:
		var req updateAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Alias == nil && req.Ready == nil {
			s.sendJSONError(w, http.StatusBadRequest, "nothing to update")
			return
		}

		if req.Ready != nil {
			if err := s.registry.SetReady(r.Context(), agentID, *req.Ready); err != nil {
				s.sendAgentError(w, err)
				return
			}
		}

		agent, err := s.registry.Get(r.Context(), agentID)
		if err != nil {
			s.sendAgentError(w, err)
			return
		}
		if req.Alias != nil {
			agent, err = s.registry.UpdateAlias(r.Context(), agentID, *req.Alias)
			if err != nil {
				s.sendAgentError(w, err)
				return
			}
		}
		s.writeJSON(w, http.StatusOK, agent)

	case http.MethodDelete:
		if err := s.registry.Delete(r.Context(), agentID); err != nil {
			if errors.Is(err, registry.ErrAgentInBattle) {
				s.sendJSONError(w, http.StatusConflict, err.Error())
				return
			}
			s.sendAgentError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAgentHistory handles GET /agents/{id}/history requests.
func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := s.registry.Get(r.Context(), agentID); err != nil {
		s.sendAgentError(w, err)
		return
	}

	entries, err := s.store.ListHistory(r.Context(), agentID, 0)
	if err != nil {
		s.logger.Error("listing history", "agent_id", agentID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []*store.BattleHistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// sendAgentError maps agent lookup failures to status codes.
func (s *Server) sendAgentError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	s.logger.Error("agent operation failed", "error", err)
	s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// handleBattles handles GET /battles (list) and POST /battles (create).
func (s *Server) handleBattles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		battles, err := s.store.ListBattles(r.Context())
		if err != nil {
			s.logger.Error("listing battles", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if battles == nil {
			battles = []*store.Battle{}
		}
		s.writeJSON(w, http.StatusOK, battles)

	case http.MethodPost:
		var req createBattleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.GreenAgentID == "" {
			s.sendJSONError(w, http.StatusBadRequest, "green_agent_id is required")
			return
		}

		b, position, err := s.queue.Create(r.Context(), battle.CreateRequest{
			GreenAgentID: req.GreenAgentID,
			Opponents:    req.Opponents,
			Config:       req.Config,
		})
		if err != nil {
			s.sendBattleError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, createBattleResponse{Battle: b, QueuePosition: position})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleBattleRoutes handles /battles/{id} and /battles/{id}/events.
func (s *Server) handleBattleRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/battles/")
	battleID, sub, _ := strings.Cut(rest, "/")
	if battleID == "" {
		s.sendJSONError(w, http.StatusNotFound, "battle id required")
		return
	}

	switch sub {
	case "":
		s.handleBattle(w, r, battleID)
	case "events":
		s.handleBattleEvents(w, r, battleID)
	default:
		s.sendJSONError(w, http.StatusNotFound, "unknown route")
	}
}

// handleBattle handles GET (status), POST (event/result sink), and DELETE
// (cancel) on /battles/{id}.
func (s *Server) handleBattle(w http.ResponseWriter, r *http.Request, battleID string) {
	switch r.Method {
	case http.MethodGet:
		b, err := s.store.GetBattle(r.Context(), battleID)
		if err != nil {
			s.sendBattleError(w, err)
			return
		}
		if b.State == store.BattleQueued {
			s.writeJSON(w, http.StatusOK, createBattleResponse{
				Battle:        b,
				QueuePosition: s.queue.Position(battleID),
			})
			return
		}
		s.writeJSON(w, http.StatusOK, b)

	case http.MethodPost:
		var req battleEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.IsResult && req.Winner == "" {
			s.sendJSONError(w, http.StatusBadRequest, "winner is required on a result")
			return
		}

		err := s.queue.HandleResult(r.Context(), battleID, &store.Event{
			IsResult:   req.IsResult,
			Message:    req.Message,
			ReportedBy: req.ReportedBy,
			Detail:     req.Detail,
			Winner:     req.Winner,
		})
		if err != nil {
			s.sendBattleError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)

	case http.MethodDelete:
		if err := s.queue.Cancel(r.Context(), battleID); err != nil {
			s.sendBattleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleBattleEvents handles GET /battles/{id}/events requests, returning
// the battle's full interact history in append order.
func (s *Server) handleBattleEvents(w http.ResponseWriter, r *http.Request, battleID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := s.store.GetBattle(r.Context(), battleID); err != nil {
		s.sendBattleError(w, err)
		return
	}

	events, err := s.store.ListEvents(r.Context(), battleID)
	if err != nil {
		s.logger.Error("listing events", "battle_id", battleID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

// sendBattleError maps battle operation failures to status codes.
func (s *Server) sendBattleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "battle not found")
	case errors.Is(err, battle.ErrAgentNotFound):
		s.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, battle.ErrNotGreenAgent),
		errors.Is(err, battle.ErrInvalidParticipants):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, battle.ErrAlreadyFinalized):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, battle.ErrBattleNotRunning),
		errors.Is(err, battle.ErrNotCancellable):
		s.sendJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("battle operation failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}
