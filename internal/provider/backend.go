package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mfalcier/conclave/internal/config"
)

// BackendName identifies a registered model backend.
type BackendName string

const (
	// BackendCommand shells out to a model CLI in one-shot print mode.
	BackendCommand BackendName = "command"
	// BackendReplay replays a scripted transcript, for offline runs and
	// demos.
	BackendReplay BackendName = "replay"
)

// ErrUnknownBackend is returned when the configured backend is unregistered.
var ErrUnknownBackend = fmt.Errorf("unknown provider backend")

// Factory builds a Client from configuration.
type Factory func(cfg config.ProviderConfig) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[BackendName]Factory{}
)

// RegisterBackend makes a backend available to NewFromConfig. Later
// registrations under the same name win, which lets tests substitute
// backends.
func RegisterBackend(name BackendName, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// NewFromConfig builds a Client for the configured backend.
func NewFromConfig(cfg config.ProviderConfig) (Client, error) {
	registryMu.RLock()
	f, ok := registry[BackendName(cfg.Backend)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	return f(cfg)
}

func init() {
	RegisterBackend(BackendCommand, newCommandClient)
	RegisterBackend(BackendReplay, newReplayClient)
}

// commandClient bridges to a model CLI. Each Stream runs one process in
// print mode with the rendered conversation on stdin; stdout becomes a
// single text delta. Tool-call deltas are not produced by this backend.
type commandClient struct {
	cfg config.ProviderConfig
}

func newCommandClient(cfg config.ProviderConfig) (Client, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("command backend requires provider.command")
	}
	return &commandClient{cfg: cfg}, nil
}

func (c *commandClient) Stream(ctx context.Context, req Request) (Stream, error) {
	args := []string{"-p"}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	cmd.Stdin = strings.NewReader(renderPrompt(req.Messages))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%s: %w: %s", c.cfg.Command, err, detail)
		}
		return nil, fmt.Errorf("%s: %w", c.cfg.Command, err)
	}

	return &memoryStream{events: []StreamEvent{
		TextDelta{Text: stdout.String()},
		Done{Reason: "end_turn"},
	}}, nil
}

// renderPrompt flattens a conversation into the plain-text form one-shot
// CLIs accept.
func renderPrompt(msgs []Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(strings.ToUpper(string(m.Role)))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// replayPass is one scripted pass in a replay transcript.
type replayPass struct {
	Text      string `json:"text"`
	ToolCalls []struct {
		ID   string          `json:"id"`
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	} `json:"tool_calls"`
	StopReason string `json:"stop_reason"`
}

// replayClient replays a JSON transcript of passes in order. When passes
// run out, the last one repeats.
type replayClient struct {
	mu     sync.Mutex
	passes []replayPass
	served int
}

func newReplayClient(cfg config.ProviderConfig) (Client, error) {
	if cfg.ReplayFile == "" {
		return nil, fmt.Errorf("replay backend requires provider.replay_file")
	}
	data, err := os.ReadFile(cfg.ReplayFile)
	if err != nil {
		return nil, fmt.Errorf("reading replay transcript: %w", err)
	}
	var passes []replayPass
	if err := json.Unmarshal(data, &passes); err != nil {
		return nil, fmt.Errorf("parsing replay transcript: %w", err)
	}
	if len(passes) == 0 {
		return nil, fmt.Errorf("replay transcript %s is empty", cfg.ReplayFile)
	}
	return &replayClient{passes: passes}, nil
}

// NewReplayClient builds a replay client directly from passes, bypassing
// the transcript file. Used by tests and demo wiring.
func NewReplayClient(raw []byte) (Client, error) {
	var passes []replayPass
	if err := json.Unmarshal(raw, &passes); err != nil {
		return nil, fmt.Errorf("parsing replay transcript: %w", err)
	}
	if len(passes) == 0 {
		return nil, fmt.Errorf("replay transcript is empty")
	}
	return &replayClient{passes: passes}, nil
}

func (c *replayClient) Stream(ctx context.Context, req Request) (Stream, error) {
	c.mu.Lock()
	idx := c.served
	if idx >= len(c.passes) {
		idx = len(c.passes) - 1
	}
	c.served++
	pass := c.passes[idx]
	c.mu.Unlock()

	var events []StreamEvent
	if pass.Text != "" {
		events = append(events, TextDelta{Text: pass.Text})
	}
	for i, call := range pass.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("replay-%d-%d", idx, i)
		}
		events = append(events, ToolCallDelta{
			Index:         i,
			ID:            id,
			Name:          call.Name,
			ArgumentDelta: string(call.Args),
		})
	}
	reason := pass.StopReason
	if reason == "" {
		reason = "end_turn"
		if len(pass.ToolCalls) > 0 {
			reason = "tool_use"
		}
	}
	events = append(events, Done{Reason: reason})

	return &memoryStream{events: events}, nil
}

// CompleterFromClient adapts a streaming Client to the advisory Completer
// contract by draining one stream into a string.
func CompleterFromClient(c Client) Completer {
	return &drainCompleter{client: c}
}

type drainCompleter struct {
	client Client
}

func (d *drainCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	s, err := d.client.Stream(ctx, Request{
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	defer s.Close()

	var sb strings.Builder
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if td, ok := ev.(TextDelta); ok {
			sb.WriteString(td.Text)
		}
	}
}

// memoryStream yields a fixed event sequence then io.EOF.
type memoryStream struct {
	mu     sync.Mutex
	events []StreamEvent
	pos    int
}

func (s *memoryStream) Recv() (StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *memoryStream) Close() error { return nil }
