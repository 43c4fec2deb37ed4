// ABOUTME: FIFO battle queue with a single-consumer worker and strict lifecycle
// ABOUTME: Drives validate, lock, reset, readiness, notify and exactly-once finalization

package battle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentarena/arena/internal/broadcast"
	"github.com/agentarena/arena/internal/config"
	"github.com/agentarena/arena/internal/rating"
	"github.com/agentarena/arena/internal/remote"
	"github.com/agentarena/arena/internal/store"
)

// Reporter names recorded on engine-generated events.
const (
	reporterOrchestrator = "orchestrator"
	reporterSupervisor   = "timeout_supervisor"
)

// CreateRequest carries the fields needed to admit a new battle.
type CreateRequest struct {
	GreenAgentID string
	Opponents    []store.Opponent
	Config       map[string]any
}

// Queue admits battles, serializes their processing through a single
// background worker, and owns the only code paths allowed to move a battle
// into a terminal state.
type Queue struct {
	store       store.Store
	client      remote.Client
	rating      *rating.Engine
	broadcaster *broadcast.Broadcaster
	cfg         config.BattleConfig
	callbackURL string
	logger      *slog.Logger

	// mu guards pending. The worker pops and Cancel rebuilds under the
	// same lock, so a battle is either in the queue or being processed,
	// never both.
	mu      sync.Mutex
	pending []string
	wake    chan struct{}

	// finalizeMu serializes every terminal write (result, timeout, failure)
	// so exactly one finalize wins the race.
	finalizeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a battle queue. callbackURL is the externally reachable
// base URL remote agents use to post results back. Pass nil logger for
// default.
func NewQueue(s store.Store, client remote.Client, ratingEngine *rating.Engine, b *broadcast.Broadcaster, cfg config.BattleConfig, callbackURL string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:       s,
		client:      client,
		rating:      ratingEngine,
		broadcaster: b,
		cfg:         cfg,
		callbackURL: strings.TrimSuffix(callbackURL, "/"),
		logger:      logger.With("component", "battle-queue"),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the single background worker.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.run()
}

// Close stops the worker and waits for it to drain the in-flight battle.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

// Create validates and admits a new battle. Validation failures are
// surfaced synchronously; the battle is never queued. On success the battle
// is enqueued and its 1-based queue position returned.
func (q *Queue) Create(ctx context.Context, req CreateRequest) (*store.Battle, int, error) {
	green, err := q.store.GetAgent(ctx, req.GreenAgentID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: green agent %s", ErrAgentNotFound, req.GreenAgentID)
	}
	if !green.IsGreen {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotGreenAgent, req.GreenAgentID)
	}

	for _, opp := range req.Opponents {
		if _, err := q.store.GetAgent(ctx, opp.AgentID); err != nil {
			return nil, 0, fmt.Errorf("%w: opponent %s", ErrAgentNotFound, opp.AgentID)
		}
	}

	if err := validateParticipants(green.ParticipantRequirements, req.Opponents); err != nil {
		return nil, 0, err
	}

	battle := &store.Battle{
		ID:           uuid.New().String(),
		GreenAgentID: req.GreenAgentID,
		Opponents:    req.Opponents,
		Config:       req.Config,
		State:        store.BattlePending,
		CreatedAt:    time.Now(),
	}
	if err := q.store.CreateBattle(ctx, battle); err != nil {
		return nil, 0, fmt.Errorf("creating battle: %w", err)
	}

	position, err := q.submit(ctx, battle)
	if err != nil {
		return nil, 0, err
	}

	if battles, err := q.store.ListBattles(ctx); err == nil {
		q.broadcaster.PublishSnapshot(battles)
	}

	q.logger.Info("battle admitted",
		"battle_id", battle.ID,
		"green_agent_id", battle.GreenAgentID,
		"opponents", len(battle.Opponents),
		"queue_position", position)
	return battle, position, nil
}

// validateParticipants checks the opponent list against the green agent's
// declared requirements: every required role must be filled and every
// opponent must fill a declared role.
func validateParticipants(reqs []store.ParticipantRequirement, opponents []store.Opponent) error {
	names := make(map[string]bool, len(opponents))
	for _, opp := range opponents {
		names[opp.Name] = true
	}

	declared := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		declared[r.Name] = true
		if r.Required && !names[r.Name] {
			return fmt.Errorf("%w: missing required participant %q", ErrInvalidParticipants, r.Name)
		}
	}
	for _, opp := range opponents {
		if !declared[opp.Name] {
			return fmt.Errorf("%w: undeclared participant %q", ErrInvalidParticipants, opp.Name)
		}
	}
	return nil
}

// submit moves a pending battle into the FIFO queue and wakes the worker.
func (q *Queue) submit(ctx context.Context, battle *store.Battle) (int, error) {
	battle.State = store.BattleQueued
	if err := q.store.UpdateBattle(ctx, battle); err != nil {
		return 0, fmt.Errorf("queueing battle: %w", err)
	}

	q.mu.Lock()
	q.pending = append(q.pending, battle.ID)
	position := len(q.pending)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return position, nil
}

// Position returns a battle's 1-based position in the queue, or 0 if the
// battle is not queued.
func (q *Queue) Position(battleID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.pending {
		if id == battleID {
			return i + 1
		}
	}
	return 0
}

// Cancel removes a battle from the queue before processing starts. Only
// pending and queued battles are cancellable; forcibly cancelling a running
// battle is unsupported.
func (q *Queue) Cancel(ctx context.Context, battleID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	battle, err := q.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}

	inQueue := false
	rebuilt := q.pending[:0]
	for _, id := range q.pending {
		if id == battleID {
			inQueue = true
			continue
		}
		rebuilt = append(rebuilt, id)
	}

	switch battle.State {
	case store.BattlePending:
		// Admitted but not yet queued; nothing to remove.
	case store.BattleQueued:
		if !inQueue {
			// Already popped by the worker.
			return ErrNotCancellable
		}
	default:
		return ErrNotCancellable
	}
	q.pending = rebuilt

	now := time.Now()
	battle.State = store.BattleCancelled
	battle.FinishedAt = &now
	if err := q.store.UpdateBattle(ctx, battle); err != nil {
		return fmt.Errorf("cancelling battle: %w", err)
	}

	q.broadcaster.PublishDelta(battle)
	q.logger.Info("battle cancelled", "battle_id", battleID)
	return nil
}

// run is the single consumer loop draining the FIFO queue.
func (q *Queue) run() {
	defer q.wg.Done()
	q.logger.Info("battle worker started")

	for {
		select {
		case <-q.ctx.Done():
			q.logger.Info("battle worker stopped")
			return
		case <-q.wake:
		}

		for {
			battleID, ok := q.pop()
			if !ok {
				break
			}
			q.process(q.ctx, battleID)
		}
	}
}

// pop removes the head of the queue.
func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	return id, true
}

// process drives one battle through lock, reset, readiness, and start
// notification. Every failure short-circuits into the error terminal state
// with all previously locked instances released.
func (q *Queue) process(ctx context.Context, battleID string) {
	battle, err := q.store.GetBattle(ctx, battleID)
	if err != nil {
		q.logger.Error("loading battle", "battle_id", battleID, "error", err)
		return
	}
	if battle.State != store.BattleQueued {
		q.logger.Warn("skipping battle in unexpected state", "battle_id", battleID, "state", battle.State)
		return
	}

	now := time.Now()
	battle.State = store.BattleRunning
	battle.StartedAt = &now
	if err := q.store.UpdateBattle(ctx, battle); err != nil {
		q.logger.Error("marking battle running", "battle_id", battleID, "error", err)
		return
	}
	q.broadcaster.PublishDelta(battle)
	q.logger.Info("battle processing", "battle_id", battleID)

	// Resolve all participants: green first, opponents in declared order.
	type participant struct {
		agent    *store.Agent
		instance *store.AgentInstance
		name     string
	}
	participants := make([]participant, 0, len(battle.Opponents)+1)

	green, err := q.store.GetAgent(ctx, battle.GreenAgentID)
	if err != nil {
		q.fail(ctx, battleID, fmt.Sprintf("agent not found: %s", battle.GreenAgentID))
		return
	}
	participants = append(participants, participant{agent: green, name: "green_agent"})
	for _, opp := range battle.Opponents {
		agent, err := q.store.GetAgent(ctx, opp.AgentID)
		if err != nil {
			q.fail(ctx, battleID, fmt.Sprintf("agent not found: %s", opp.AgentID))
			return
		}
		participants = append(participants, participant{agent: agent, name: opp.Name})
	}

	// Lock one instance per participant.
	for i := range participants {
		p := &participants[i]
		inst, err := q.lockInstance(ctx, battleID, p.agent.ID)
		if err != nil {
			q.fail(ctx, battleID, fmt.Sprintf("locking agent %s: %v", p.agent.Alias, err))
			return
		}
		p.instance = inst
	}

	// Reset every participant; any failure aborts before the battle starts.
	for _, p := range participants {
		ok := q.client.ResetAgent(ctx, p.instance.LauncherURL, p.agent.ID, map[string]any{
			"battle_id": battleID,
		})
		if !ok {
			q.fail(ctx, battleID, fmt.Sprintf("reset failed for agent %s", p.agent.Alias))
			return
		}
	}

	// Wait for every instance to report ready.
	instanceIDs := make([]string, len(participants))
	for i, p := range participants {
		instanceIDs[i] = p.instance.ID
	}
	if err := q.awaitReady(ctx, instanceIDs); err != nil {
		q.fail(ctx, battleID, fmt.Sprintf("AgentsNotReady: readiness not reported within %s", q.cfg.ReadyTimeout))
		return
	}

	// Supervise the battle deadline from this point on.
	timeout := green.BattleTimeout
	if timeout == 0 {
		timeout = q.cfg.Timeout
	}
	q.wg.Add(1)
	go q.supervise(battleID, timeout)

	// Kick off the battle: the green agent receives the structured start
	// message; opponents get best-effort informational notifications.
	opponentURLs := make(map[string]string, len(battle.Opponents))
	for _, p := range participants[1:] {
		opponentURLs[p.name] = p.instance.AgentURL
	}
	startMsg := map[string]any{
		"type":         "battle_start",
		"battle_id":    battleID,
		"opponents":    opponentURLs,
		"callback_url": q.callbackURL + "/battles/" + battleID,
		"config":       battle.Config,
	}
	answer, err := q.client.SendMessage(ctx, participants[0].instance.AgentURL, startMsg, q.cfg.MessageTimeout)
	if err != nil || strings.TrimSpace(answer.Text) == "" {
		q.fail(ctx, battleID, "NotifyFailed: green agent did not acknowledge battle start")
		return
	}

	for _, p := range participants[1:] {
		infoMsg := map[string]any{
			"type":         "battle_info",
			"battle_id":    battleID,
			"role":         p.name,
			"callback_url": q.callbackURL + "/battles/" + battleID,
		}
		if _, err := q.client.SendMessage(ctx, p.instance.AgentURL, infoMsg, q.cfg.MessageTimeout); err != nil {
			q.logger.Warn("opponent notification failed",
				"battle_id", battleID, "agent_id", p.agent.ID, "error", err)
		}
	}

	q.appendEvent(ctx, battleID, &store.Event{
		Message:    "battle started",
		ReportedBy: reporterOrchestrator,
	})
	q.logger.Info("battle started", "battle_id", battleID, "timeout", timeout)
}

// lockInstance finds an unlocked instance of the agent and locks it for the
// given battle.
func (q *Queue) lockInstance(ctx context.Context, battleID, agentID string) (*store.AgentInstance, error) {
	instances, err := q.store.ListInstancesByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		if inst.Locked {
			continue
		}
		inst.Locked = true
		inst.LockedBy = battleID
		if err := q.store.UpdateInstance(ctx, inst); err != nil {
			return nil, err
		}
		return inst, nil
	}
	return nil, fmt.Errorf("no available instance")
}

// awaitReady polls the instances' ready flags until all are true or the
// ready timeout elapses.
func (q *Queue) awaitReady(ctx context.Context, instanceIDs []string) error {
	deadline := time.Now().Add(q.cfg.ReadyTimeout)
	ticker := time.NewTicker(q.cfg.ReadyPollInterval)
	defer ticker.Stop()

	for {
		allReady := true
		for _, id := range instanceIDs {
			inst, err := q.store.GetInstance(ctx, id)
			if err != nil {
				return err
			}
			if !inst.Ready {
				allReady = false
				break
			}
		}
		if allReady {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ready timeout after %s", q.cfg.ReadyTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// supervise enforces the battle deadline. It sleeps for the full timeout,
// re-reads the battle, and finalizes as a draw only if the battle is still
// running; a battle already finalized through the result boundary makes
// this a no-op.
func (q *Queue) supervise(battleID string, timeout time.Duration) {
	defer q.wg.Done()

	select {
	case <-q.ctx.Done():
		return
	case <-time.After(timeout):
	}

	err := q.finalizeResult(q.ctx, battleID, rating.WinnerDraw, "timeout", reporterSupervisor, true)
	switch err {
	case nil:
		q.logger.Info("battle timed out", "battle_id", battleID, "timeout", timeout)
	case ErrAlreadyFinalized, ErrBattleNotRunning:
		// Lost the race to the result boundary.
	default:
		q.logger.Error("timeout finalize failed", "battle_id", battleID, "error", err)
	}
}

// HandleResult is the boundary sink for result and log events posted by
// remote agents. Log events append to the interact history; a result event
// additionally finalizes the battle, racing against the timeout supervisor
// for the single terminal write.
func (q *Queue) HandleResult(ctx context.Context, battleID string, event *store.Event) error {
	if !event.IsResult {
		q.finalizeMu.Lock()
		defer q.finalizeMu.Unlock()

		battle, err := q.store.GetBattle(ctx, battleID)
		if err != nil {
			return err
		}
		if battle.State.Terminal() {
			return ErrAlreadyFinalized
		}
		event.BattleID = battleID
		q.appendEventLocked(ctx, event)
		return nil
	}

	return q.finalizeResult(ctx, battleID, event.Winner, event.Message, event.ReportedBy, true)
}

// finalizeResult performs the single permitted terminal write for a battle
// outcome: re-check state under the finalize lock, apply the rating engine
// exactly once, persist the result, and release every participant instance.
func (q *Queue) finalizeResult(ctx context.Context, battleID, winner, message, reportedBy string, appendEvent bool) error {
	q.finalizeMu.Lock()
	defer q.finalizeMu.Unlock()

	battle, err := q.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}
	if battle.State.Terminal() {
		return ErrAlreadyFinalized
	}
	if battle.State != store.BattleRunning {
		return ErrBattleNotRunning
	}

	if appendEvent {
		q.appendEventLocked(ctx, &store.Event{
			BattleID:   battleID,
			IsResult:   true,
			Message:    message,
			ReportedBy: reportedBy,
			Winner:     winner,
		})
	}

	if err := q.rating.ApplyResult(ctx, battle, winner); err != nil {
		return fmt.Errorf("applying result: %w", err)
	}

	now := time.Now()
	battle.State = store.BattleFinished
	battle.FinishedAt = &now
	battle.Result = &store.BattleResult{
		Winner:     winner,
		Message:    message,
		ReportedBy: reportedBy,
		Timestamp:  now,
	}
	if err := q.store.UpdateBattle(ctx, battle); err != nil {
		return fmt.Errorf("persisting result: %w", err)
	}

	q.releaseParticipants(ctx, battle)
	q.broadcaster.PublishDelta(battle)
	q.logger.Info("battle finished", "battle_id", battleID, "winner", winner)
	return nil
}

// fail moves a battle into the error terminal state, records error
// bookkeeping for every participant, and releases all locked instances.
func (q *Queue) fail(ctx context.Context, battleID, message string) {
	q.finalizeMu.Lock()
	defer q.finalizeMu.Unlock()

	battle, err := q.store.GetBattle(ctx, battleID)
	if err != nil {
		q.logger.Error("loading battle for failure", "battle_id", battleID, "error", err)
		return
	}
	if battle.State.Terminal() {
		return
	}

	now := time.Now()
	battle.State = store.BattleError
	battle.Error = message
	battle.FinishedAt = &now
	if err := q.store.UpdateBattle(ctx, battle); err != nil {
		q.logger.Error("persisting battle failure", "battle_id", battleID, "error", err)
		return
	}

	q.appendEventLocked(ctx, &store.Event{
		BattleID:   battleID,
		Message:    message,
		ReportedBy: reporterOrchestrator,
	})

	if err := q.rating.RecordError(ctx, battle); err != nil {
		q.logger.Error("recording error stats", "battle_id", battleID, "error", err)
	}

	q.releaseParticipants(ctx, battle)
	q.broadcaster.PublishDelta(battle)
	q.logger.Warn("battle failed", "battle_id", battleID, "error", message)
}

// releaseParticipants returns every instance this battle locked to
// (unlocked, not ready), including on error paths. Instances locked by a
// different battle are untouched.
func (q *Queue) releaseParticipants(ctx context.Context, battle *store.Battle) {
	agentIDs := make([]string, 0, len(battle.Opponents)+1)
	agentIDs = append(agentIDs, battle.GreenAgentID)
	for _, opp := range battle.Opponents {
		agentIDs = append(agentIDs, opp.AgentID)
	}

	for _, agentID := range agentIDs {
		instances, err := q.store.ListInstancesByAgent(ctx, agentID)
		if err != nil {
			q.logger.Error("listing instances for release", "agent_id", agentID, "error", err)
			continue
		}
		for _, inst := range instances {
			if inst.LockedBy != battle.ID {
				continue
			}
			inst.Locked = false
			inst.LockedBy = ""
			inst.Ready = false
			if err := q.store.UpdateInstance(ctx, inst); err != nil {
				q.logger.Error("releasing instance", "instance_id", inst.ID, "error", err)
			}
		}
	}
}

// appendEvent persists and broadcasts one interact-history event.
func (q *Queue) appendEvent(ctx context.Context, battleID string, event *store.Event) {
	q.finalizeMu.Lock()
	defer q.finalizeMu.Unlock()
	event.BattleID = battleID
	q.appendEventLocked(ctx, event)
}

// appendEventLocked persists and broadcasts an event. Caller holds finalizeMu.
func (q *Queue) appendEventLocked(ctx context.Context, event *store.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := q.store.AppendEvent(ctx, event); err != nil {
		q.logger.Error("appending event", "battle_id", event.BattleID, "error", err)
		return
	}
	q.broadcaster.PublishLog(event.BattleID, event)
}
