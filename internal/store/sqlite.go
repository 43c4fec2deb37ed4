// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/instance/battle persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id                TEXT PRIMARY KEY,
			alias             TEXT NOT NULL UNIQUE,
			is_hosted         INTEGER NOT NULL DEFAULT 0,
			is_green          INTEGER NOT NULL DEFAULT 0,
			requirements_json TEXT,
			rating            INTEGER,
			wins              INTEGER NOT NULL DEFAULT 0,
			losses            INTEGER NOT NULL DEFAULT 0,
			draws             INTEGER NOT NULL DEFAULT 0,
			errors            INTEGER NOT NULL DEFAULT 0,
			total             INTEGER NOT NULL DEFAULT 0,
			battle_timeout_ms INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_alias ON agents(alias);

		CREATE TABLE IF NOT EXISTS agent_instances (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			agent_url    TEXT NOT NULL,
			launcher_url TEXT NOT NULL,
			locked       INTEGER NOT NULL DEFAULT 0,
			locked_by    TEXT NOT NULL DEFAULT '',
			ready        INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_instances_agent ON agent_instances(agent_id);

		CREATE TABLE IF NOT EXISTS battles (
			id             TEXT PRIMARY KEY,
			green_agent_id TEXT NOT NULL,
			opponents_json TEXT NOT NULL,
			config_json    TEXT,
			state          TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			started_at     TEXT,
			finished_at    TEXT,
			error          TEXT NOT NULL DEFAULT '',
			result_json    TEXT,

			CHECK (state IN ('pending', 'queued', 'running', 'finished', 'error', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_battles_state ON battles(state);
		CREATE INDEX IF NOT EXISTS idx_battles_created ON battles(created_at);

		CREATE TABLE IF NOT EXISTS battle_events (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			battle_id   TEXT NOT NULL REFERENCES battles(id) ON DELETE CASCADE,
			timestamp   TEXT NOT NULL,
			is_result   INTEGER NOT NULL DEFAULT 0,
			message     TEXT NOT NULL,
			reported_by TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			winner      TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_events_battle ON battle_events(battle_id, seq);

		CREATE TABLE IF NOT EXISTS battle_history (
			id             TEXT PRIMARY KEY,
			agent_id       TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			battle_id      TEXT NOT NULL,
			timestamp      TEXT NOT NULL,
			result         TEXT NOT NULL,
			rating_delta   INTEGER NOT NULL DEFAULT 0,
			final_rating   INTEGER,
			opponents_json TEXT,
			green_agent_id TEXT NOT NULL,

			CHECK (result IN ('win', 'loss', 'draw', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_history_agent ON battle_history(agent_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// formatTime encodes a timestamp for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime decodes a stored timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// CreateAgent inserts a new agent.
// Returns ErrDuplicateAlias if the alias is already registered.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	reqJSON, err := marshalJSON(agent.ParticipantRequirements)
	if err != nil {
		return fmt.Errorf("encoding requirements: %w", err)
	}

	query := `
		INSERT INTO agents (id, alias, is_hosted, is_green, requirements_json, rating,
			wins, losses, draws, errors, total, battle_timeout_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Alias,
		agent.IsHosted,
		agent.IsGreen,
		reqJSON,
		nullableInt(agent.Rating),
		agent.Stats.Wins,
		agent.Stats.Losses,
		agent.Stats.Draws,
		agent.Stats.Errors,
		agent.Stats.Total,
		agent.BattleTimeout.Milliseconds(),
		formatTime(agent.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAlias
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "alias", agent.Alias, "green", agent.IsGreen)
	return nil
}

const agentColumns = `id, alias, is_hosted, is_green, requirements_json, rating,
	wins, losses, draws, errors, total, battle_timeout_ms, created_at`

// scanAgent reads one agent row.
func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	var reqJSON sql.NullString
	var rating sql.NullInt64
	var timeoutMs int64
	var createdAt string

	err := row.Scan(
		&a.ID,
		&a.Alias,
		&a.IsHosted,
		&a.IsGreen,
		&reqJSON,
		&rating,
		&a.Stats.Wins,
		&a.Stats.Losses,
		&a.Stats.Draws,
		&a.Stats.Errors,
		&a.Stats.Total,
		&timeoutMs,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	if reqJSON.Valid && reqJSON.String != "" {
		if err := json.Unmarshal([]byte(reqJSON.String), &a.ParticipantRequirements); err != nil {
			return nil, fmt.Errorf("decoding requirements: %w", err)
		}
	}
	if rating.Valid {
		r := int(rating.Int64)
		a.Rating = &r
	}
	a.BattleTimeout = time.Duration(timeoutMs) * time.Millisecond
	a.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// GetAgentByAlias retrieves an agent by its alias.
func (s *SQLiteStore) GetAgentByAlias(ctx context.Context, alias string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE alias = ?`, alias)
	return scanAgent(row)
}

// ListAgents returns all registered agents ordered by registration time.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent writes the full agent record back.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	reqJSON, err := marshalJSON(agent.ParticipantRequirements)
	if err != nil {
		return fmt.Errorf("encoding requirements: %w", err)
	}

	query := `
		UPDATE agents
		SET alias = ?, is_hosted = ?, is_green = ?, requirements_json = ?, rating = ?,
			wins = ?, losses = ?, draws = ?, errors = ?, total = ?, battle_timeout_ms = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		agent.Alias,
		agent.IsHosted,
		agent.IsGreen,
		reqJSON,
		nullableInt(agent.Rating),
		agent.Stats.Wins,
		agent.Stats.Losses,
		agent.Stats.Draws,
		agent.Stats.Errors,
		agent.Stats.Total,
		agent.BattleTimeout.Milliseconds(),
		agent.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}
	return requireRowAffected(result)
}

// DeleteAgent removes an agent and, via foreign key cascade, its instances
// and history entries.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return requireRowAffected(result)
}

// CreateInstance inserts a new agent instance.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *AgentInstance) error {
	query := `
		INSERT INTO agent_instances (id, agent_id, agent_url, launcher_url, locked, locked_by, ready, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		inst.ID,
		inst.AgentID,
		inst.AgentURL,
		inst.LauncherURL,
		inst.Locked,
		inst.LockedBy,
		inst.Ready,
		formatTime(inst.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting instance: %w", err)
	}

	s.logger.Debug("created instance", "id", inst.ID, "agent_id", inst.AgentID)
	return nil
}

// scanInstance reads one instance row.
func scanInstance(row interface{ Scan(...any) error }) (*AgentInstance, error) {
	var inst AgentInstance
	var createdAt string

	err := row.Scan(
		&inst.ID,
		&inst.AgentID,
		&inst.AgentURL,
		&inst.LauncherURL,
		&inst.Locked,
		&inst.LockedBy,
		&inst.Ready,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning instance: %w", err)
	}

	inst.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &inst, nil
}

const instanceColumns = `id, agent_id, agent_url, launcher_url, locked, locked_by, ready, created_at`

// GetInstance retrieves an instance by ID.
func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*AgentInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM agent_instances WHERE id = ?`, id)
	return scanInstance(row)
}

// ListInstancesByAgent returns all instances owned by an agent.
func (s *SQLiteStore) ListInstancesByAgent(ctx context.Context, agentID string) ([]*AgentInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM agent_instances WHERE agent_id = ? ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying instances: %w", err)
	}
	defer rows.Close()

	var instances []*AgentInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// UpdateInstance writes the instance record back.
func (s *SQLiteStore) UpdateInstance(ctx context.Context, inst *AgentInstance) error {
	query := `
		UPDATE agent_instances
		SET agent_url = ?, launcher_url = ?, locked = ?, locked_by = ?, ready = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		inst.AgentURL,
		inst.LauncherURL,
		inst.Locked,
		inst.LockedBy,
		inst.Ready,
		inst.ID,
	)
	if err != nil {
		return fmt.Errorf("updating instance: %w", err)
	}
	return requireRowAffected(result)
}

// CreateBattle inserts a new battle.
func (s *SQLiteStore) CreateBattle(ctx context.Context, battle *Battle) error {
	oppJSON, err := json.Marshal(battle.Opponents)
	if err != nil {
		return fmt.Errorf("encoding opponents: %w", err)
	}
	cfgJSON, err := marshalJSON(battle.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	query := `
		INSERT INTO battles (id, green_agent_id, opponents_json, config_json, state,
			created_at, started_at, finished_at, error, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		battle.ID,
		battle.GreenAgentID,
		string(oppJSON),
		cfgJSON,
		string(battle.State),
		formatTime(battle.CreatedAt),
		nullableTime(battle.StartedAt),
		nullableTime(battle.FinishedAt),
		battle.Error,
		nil,
	)
	if err != nil {
		return fmt.Errorf("inserting battle: %w", err)
	}

	s.logger.Debug("created battle", "id", battle.ID, "green_agent_id", battle.GreenAgentID)
	return nil
}

const battleColumns = `id, green_agent_id, opponents_json, config_json, state,
	created_at, started_at, finished_at, error, result_json`

// scanBattle reads one battle row.
func scanBattle(row interface{ Scan(...any) error }) (*Battle, error) {
	var b Battle
	var oppJSON string
	var cfgJSON, resultJSON sql.NullString
	var state, createdAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(
		&b.ID,
		&b.GreenAgentID,
		&oppJSON,
		&cfgJSON,
		&state,
		&createdAt,
		&startedAt,
		&finishedAt,
		&b.Error,
		&resultJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning battle: %w", err)
	}

	if err := json.Unmarshal([]byte(oppJSON), &b.Opponents); err != nil {
		return nil, fmt.Errorf("decoding opponents: %w", err)
	}
	if cfgJSON.Valid && cfgJSON.String != "" {
		if err := json.Unmarshal([]byte(cfgJSON.String), &b.Config); err != nil {
			return nil, fmt.Errorf("decoding config: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		b.Result = &BattleResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), b.Result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
	}

	b.State = BattleState(state)
	b.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if b.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if b.FinishedAt, err = parseNullableTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}
	return &b, nil
}

// GetBattle retrieves a battle by ID.
func (s *SQLiteStore) GetBattle(ctx context.Context, id string) (*Battle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+battleColumns+` FROM battles WHERE id = ?`, id)
	return scanBattle(row)
}

// ListBattles returns all battles ordered by creation time.
func (s *SQLiteStore) ListBattles(ctx context.Context) ([]*Battle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+battleColumns+` FROM battles ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying battles: %w", err)
	}
	defer rows.Close()

	var battles []*Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, err
		}
		battles = append(battles, b)
	}
	return battles, rows.Err()
}

// UpdateBattle writes the battle record back.
func (s *SQLiteStore) UpdateBattle(ctx context.Context, battle *Battle) error {
	oppJSON, err := json.Marshal(battle.Opponents)
	if err != nil {
		return fmt.Errorf("encoding opponents: %w", err)
	}
	cfgJSON, err := marshalJSON(battle.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	var resultJSON any
	if battle.Result != nil {
		data, err := json.Marshal(battle.Result)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		resultJSON = string(data)
	}

	query := `
		UPDATE battles
		SET opponents_json = ?, config_json = ?, state = ?, started_at = ?, finished_at = ?,
			error = ?, result_json = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(oppJSON),
		cfgJSON,
		string(battle.State),
		nullableTime(battle.StartedAt),
		nullableTime(battle.FinishedAt),
		battle.Error,
		resultJSON,
		battle.ID,
	)
	if err != nil {
		return fmt.Errorf("updating battle: %w", err)
	}
	return requireRowAffected(result)
}

// AppendEvent appends one interact-history event for a battle.
// Events are ordered by insertion, not by their timestamps.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO battle_events (id, battle_id, timestamp, is_result, message, reported_by, detail, winner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.BattleID,
		formatTime(event.Timestamp),
		event.IsResult,
		event.Message,
		event.ReportedBy,
		event.Detail,
		event.Winner,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// ListEvents returns a battle's events in append order.
func (s *SQLiteStore) ListEvents(ctx context.Context, battleID string) ([]*Event, error) {
	query := `
		SELECT id, battle_id, timestamp, is_result, message, reported_by, detail, winner
		FROM battle_events
		WHERE battle_id = ?
		ORDER BY seq
	`

	rows, err := s.db.QueryContext(ctx, query, battleID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &e.BattleID, &ts, &e.IsResult, &e.Message, &e.ReportedBy, &e.Detail, &e.Winner); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// AppendHistory appends one per-agent audit trail entry.
func (s *SQLiteStore) AppendHistory(ctx context.Context, entry *BattleHistoryEntry) error {
	oppJSON, err := marshalJSON(entry.Opponents)
	if err != nil {
		return fmt.Errorf("encoding opponents: %w", err)
	}

	query := `
		INSERT INTO battle_history (id, agent_id, battle_id, timestamp, result,
			rating_delta, final_rating, opponents_json, green_agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.AgentID,
		entry.BattleID,
		formatTime(entry.Timestamp),
		entry.Result,
		entry.RatingDelta,
		nullableInt(entry.FinalRating),
		oppJSON,
		entry.GreenAgentID,
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// ListHistory returns an agent's battle history, most recent first.
// A limit of 0 returns all entries.
func (s *SQLiteStore) ListHistory(ctx context.Context, agentID string, limit int) ([]*BattleHistoryEntry, error) {
	query := `
		SELECT id, agent_id, battle_id, timestamp, result, rating_delta, final_rating, opponents_json, green_agent_id
		FROM battle_history
		WHERE agent_id = ?
		ORDER BY timestamp DESC
	`
	args := []any{agentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []*BattleHistoryEntry
	for rows.Next() {
		var e BattleHistoryEntry
		var ts string
		var finalRating sql.NullInt64
		var oppJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.AgentID, &e.BattleID, &ts, &e.Result,
			&e.RatingDelta, &finalRating, &oppJSON, &e.GreenAgentID); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if finalRating.Valid {
			r := int(finalRating.Int64)
			e.FinalRating = &r
		}
		if oppJSON.Valid && oppJSON.String != "" {
			if err := json.Unmarshal([]byte(oppJSON.String), &e.Opponents); err != nil {
				return nil, fmt.Errorf("decoding opponents: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// marshalJSON encodes v as JSON, mapping empty values to NULL.
func marshalJSON(v any) (any, error) {
	switch val := v.(type) {
	case []ParticipantRequirement:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// nullableInt maps a *int to a driver value.
func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullableTime maps a *time.Time to a driver value.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseNullableTime decodes an optional stored timestamp.
func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// requireRowAffected maps a zero-row update/delete to ErrNotFound.
func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
