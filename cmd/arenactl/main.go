// ABOUTME: Operator CLI for the arena server
// ABOUTME: Lists agents and battles, creates and cancels battles over the HTTP API

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"

	"github.com/agentarena/arena/internal/store"
)

// clientConfig is the arenactl TOML configuration.
type clientConfig struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
}

// getClientConfigPath returns the path to the arenactl config file.
// Priority: ARENACTL_CONFIG env var > XDG_CONFIG_HOME/arena/arenactl.toml > ~/.config/arena/arenactl.toml
func getClientConfigPath() string {
	if envPath := os.Getenv("ARENACTL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "arenactl.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "arena", "arenactl.toml")
}

// loadClientConfig reads the TOML config, falling back to defaults when the
// file does not exist.
func loadClientConfig() (*clientConfig, error) {
	cfg := &clientConfig{ServerURL: "http://localhost:8080"}

	path := getClientConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8080"
	}
	cfg.ServerURL = strings.TrimSuffix(cfg.ServerURL, "/")
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	c := &client{cfg: cfg, http: &http.Client{Timeout: 30 * time.Second}}

	switch os.Args[1] {
	case "agents":
		err = c.listAgents(ctx)
	case "battles":
		err = c.listBattles(ctx)
	case "battle":
		if len(os.Args) < 3 {
			err = fmt.Errorf("usage: arenactl battle <id>")
		} else {
			err = c.showBattle(ctx, os.Args[2])
		}
	case "create":
		err = c.createBattle(ctx, os.Args[2:])
	case "cancel":
		if len(os.Args) < 3 {
			err = fmt.Errorf("usage: arenactl cancel <id>")
		} else {
			err = c.cancelBattle(ctx, os.Args[2])
		}
	case "health":
		err = c.health(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: arenactl <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  agents                              List registered agents")
	fmt.Println("  battles                             List battles")
	fmt.Println("  battle <id>                         Show one battle")
	fmt.Println("  create --green ID --opponent N=ID   Queue a battle")
	fmt.Println("  cancel <id>                         Cancel a queued battle")
	fmt.Println("  health                              Check server health")
}

type client struct {
	cfg  *clientConfig
	http *http.Client
}

// do issues one API request, decoding the JSON response into out when the
// status is 2xx and surfacing the server's error message otherwise.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.ServerURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) listAgents(ctx context.Context) error {
	var agents []*store.Agent
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &agents); err != nil {
		return err
	}

	if len(agents) == 0 {
		fmt.Println("no agents registered")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, a := range agents {
		cyan.Printf("%-20s", a.Alias)
		if a.IsGreen {
			color.New(color.FgGreen).Print(" green ")
		} else if a.Rating != nil {
			fmt.Printf(" %5d ", *a.Rating)
		} else {
			fmt.Print("   -   ")
		}
		fmt.Printf(" %dW/%dL/%dD/%dE", a.Stats.Wins, a.Stats.Losses, a.Stats.Draws, a.Stats.Errors)
		gray.Printf("  %s\n", a.ID)
	}
	return nil
}

// battleLine prints one battle summary row.
func battleLine(b *store.Battle) {
	stateColor := color.New(color.FgHiBlack)
	switch b.State {
	case store.BattleRunning:
		stateColor = color.New(color.FgCyan)
	case store.BattleFinished:
		stateColor = color.New(color.FgGreen)
	case store.BattleError:
		stateColor = color.New(color.FgRed)
	case store.BattleQueued:
		stateColor = color.New(color.FgYellow)
	}

	stateColor.Printf("%-10s", b.State)
	fmt.Printf(" %s", b.ID)
	if b.Result != nil {
		fmt.Printf("  winner=%s", b.Result.Winner)
	}
	if b.Error != "" {
		color.New(color.FgRed).Printf("  %s", b.Error)
	}
	fmt.Println()
}

func (c *client) listBattles(ctx context.Context) error {
	var battles []*store.Battle
	if err := c.do(ctx, http.MethodGet, "/battles", nil, &battles); err != nil {
		return err
	}

	if len(battles) == 0 {
		fmt.Println("no battles")
		return nil
	}
	for _, b := range battles {
		battleLine(b)
	}
	return nil
}

func (c *client) showBattle(ctx context.Context, id string) error {
	var b store.Battle
	if err := c.do(ctx, http.MethodGet, "/battles/"+id, nil, &b); err != nil {
		return err
	}
	battleLine(&b)

	var events []*store.Event
	if err := c.do(ctx, http.MethodGet, "/battles/"+id+"/events", nil, &events); err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	for _, ev := range events {
		gray.Printf("  %s ", ev.Timestamp.Format("15:04:05"))
		if ev.IsResult {
			color.New(color.FgGreen).Print("[result] ")
		}
		fmt.Printf("%s", ev.Message)
		if ev.ReportedBy != "" {
			gray.Printf("  (%s)", ev.ReportedBy)
		}
		fmt.Println()
	}
	return nil
}

func (c *client) createBattle(ctx context.Context, args []string) error {
	var greenID string
	var opponents []store.Opponent

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--green":
			if i+1 >= len(args) {
				return fmt.Errorf("--green requires a value")
			}
			greenID = args[i+1]
			i++
		case args[i] == "--opponent":
			if i+1 >= len(args) {
				return fmt.Errorf("--opponent requires NAME=AGENT_ID")
			}
			name, agentID, ok := strings.Cut(args[i+1], "=")
			if !ok {
				return fmt.Errorf("--opponent expects NAME=AGENT_ID, got %q", args[i+1])
			}
			opponents = append(opponents, store.Opponent{AgentID: agentID, Name: name})
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if greenID == "" {
		return fmt.Errorf("--green is required")
	}

	body := map[string]any{
		"green_agent_id": greenID,
		"opponents":      opponents,
	}
	var created struct {
		Battle        *store.Battle `json:"battle"`
		QueuePosition int           `json:"queue_position"`
	}
	if err := c.do(ctx, http.MethodPost, "/battles", body, &created); err != nil {
		return err
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("battle %s queued at position %d\n", created.Battle.ID, created.QueuePosition)
	return nil
}

func (c *client) cancelBattle(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/battles/"+id, nil, nil); err != nil {
		return err
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("battle %s cancelled\n", id)
	return nil
}

func (c *client) health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return err
	}
	fmt.Println("healthy")
	return nil
}
