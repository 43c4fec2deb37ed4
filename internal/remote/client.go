// ABOUTME: HTTP client for talking to remote battle agents and their launchers
// ABOUTME: Fetches capability cards, sends reset commands, and aggregates streamed answers

package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for remote agent calls.
var (
	// ErrUnreachable is returned when an agent's capability card cannot be fetched.
	ErrUnreachable = errors.New("agent unreachable")

	// ErrTimeout is returned when a streamed message produces no complete
	// answer before the deadline.
	ErrTimeout = errors.New("remote call timed out")
)

// CapabilityPath is the well-known path serving an agent's capability card.
const CapabilityPath = "/.well-known/agent-card.json"

// TimeoutMessage is the synthetic answer text substituted when a streamed
// call times out. Partial output accumulated before the deadline is
// discarded; callers receive this message instead.
const TimeoutMessage = "[Timeout] agent did not respond in time"

// Skill describes one capability advertised by an agent.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Capabilities is the capability card served by an agent at CapabilityPath.
type Capabilities struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url,omitempty"`
	Skills      []Skill `json:"skills,omitempty"`
}

// Answer is the aggregated result of a streamed message exchange.
type Answer struct {
	Text    string
	Elapsed time.Duration
}

// Client is the protocol surface the orchestrator uses to drive remote
// agents. Remote agents are unreliable; every call is bounded by a timeout
// and ResetAgent reports failure as a value rather than an error so the
// caller can always make forward progress.
type Client interface {
	FetchCapabilities(ctx context.Context, baseURL string) (*Capabilities, error)
	ResetAgent(ctx context.Context, launcherURL, agentID string, extra map[string]any) bool
	SendMessage(ctx context.Context, agentURL string, payload any, timeout time.Duration) (*Answer, error)
}

// HTTPClient implements Client over plain HTTP(S).
type HTTPClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a client. Pass nil logger for default.
func NewHTTPClient(logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		httpClient: &http.Client{},
		logger:     logger.With("component", "remote-client"),
	}
}

// FetchCapabilities retrieves the capability card from the agent's
// well-known path. Any transport, status, or decode failure is reported as
// ErrUnreachable.
func (c *HTTPClient) FetchCapabilities(ctx context.Context, baseURL string) (*Capabilities, error) {
	url := strings.TrimSuffix(baseURL, "/") + CapabilityPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrUnreachable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: capability fetch returned %d", ErrUnreachable, resp.StatusCode)
	}

	var caps Capabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil, fmt.Errorf("%w: decoding capability card: %v", ErrUnreachable, err)
	}

	return &caps, nil
}

// resetRequest is the JSON body POSTed to a launcher's /reset endpoint.
type resetRequest struct {
	AgentID string         `json:"agent_id"`
	Extra   map[string]any `json:"extra_args,omitempty"`
}

// ResetAgent asks the agent's launcher sidecar to reset the agent process.
// Returns false on any non-2xx response or transport failure. Reset failure
// is a recoverable, reportable condition for the orchestrator, not a crash.
func (c *HTTPClient) ResetAgent(ctx context.Context, launcherURL, agentID string, extra map[string]any) bool {
	body, err := json.Marshal(resetRequest{AgentID: agentID, Extra: extra})
	if err != nil {
		c.logger.Error("encoding reset request", "agent_id", agentID, "error", err)
		return false
	}

	url := strings.TrimSuffix(launcherURL, "/") + "/reset"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("building reset request", "agent_id", agentID, "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("reset call failed", "agent_id", agentID, "launcher_url", launcherURL, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("reset rejected", "agent_id", agentID, "status", resp.StatusCode)
		return false
	}

	c.logger.Debug("agent reset", "agent_id", agentID)
	return true
}

// streamEvent is one server-sent event emitted by an agent while answering.
// Two kinds carry answer text: artifact-update (final-answer fragments) and
// status-update (interim narration).
type streamEvent struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// SendMessage opens a server-streamed request against the agent's inference
// endpoint, accumulates text chunks in arrival order, and returns the joined
// trimmed answer with the elapsed time.
//
// If the deadline expires before the stream completes, ErrTimeout is
// returned together with a synthetic TimeoutMessage answer; any partial text
// accumulated before the deadline is discarded.
func (c *HTTPClient) SendMessage(ctx context.Context, agentURL string, payload any, timeout time.Duration) (*Answer, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agentURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return c.timeoutAnswer(agentURL, start)
		}
		return nil, fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("message endpoint returned %d", resp.StatusCode)
	}

	chunks, err := c.readStream(resp)
	if err != nil {
		if ctx.Err() != nil {
			return c.timeoutAnswer(agentURL, start)
		}
		return nil, fmt.Errorf("reading answer stream: %w", err)
	}

	text := strings.TrimSpace(strings.Join(chunks, "\n"))
	elapsed := time.Since(start)
	c.logger.Debug("message answered", "agent_url", agentURL, "chunks", len(chunks), "elapsed", elapsed)

	return &Answer{Text: text, Elapsed: elapsed}, nil
}

// readStream consumes the SSE body, collecting answer text in arrival order.
func (c *HTTPClient) readStream(resp *http.Response) ([]string, error) {
	var chunks []string

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Debug("skipping malformed stream event", "error", err)
			continue
		}

		switch ev.Kind {
		case "artifact-update", "status-update":
			if ev.Text != "" {
				chunks = append(chunks, ev.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return chunks, nil
}

// timeoutAnswer builds the synthetic timeout answer.
func (c *HTTPClient) timeoutAnswer(agentURL string, start time.Time) (*Answer, error) {
	elapsed := time.Since(start)
	c.logger.Warn("message timed out", "agent_url", agentURL, "elapsed", elapsed)
	return &Answer{Text: TimeoutMessage, Elapsed: elapsed}, ErrTimeout
}
