package provider

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mfalcier/conclave/internal/config"
)

func drain(t *testing.T, s Stream) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatal(err)
		}
		events = append(events, ev)
	}
}

func TestNewFromConfigUnknownBackend(t *testing.T) {
	_, err := NewFromConfig(config.ProviderConfig{Backend: "nonsense"})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("err = %v, want ErrUnknownBackend", err)
	}
}

func TestCommandBackendRequiresCommand(t *testing.T) {
	_, err := NewFromConfig(config.ProviderConfig{Backend: "command"})
	if err == nil {
		t.Fatal("empty command accepted")
	}
}

func TestReplayBackendFromFile(t *testing.T) {
	transcript := `[
		{"text": "plan first"},
		{"tool_calls": [{"id": "c1", "name": "write_file", "args": {"path": "a.go"}}]}
	]`
	path := filepath.Join(t.TempDir(), "transcript.json")
	if err := os.WriteFile(path, []byte(transcript), 0o644); err != nil {
		t.Fatal(err)
	}

	client, err := NewFromConfig(config.ProviderConfig{Backend: "replay", ReplayFile: path})
	if err != nil {
		t.Fatal(err)
	}

	// First stream: the text pass.
	s, err := client.Stream(t.Context(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, s)
	if len(events) != 2 {
		t.Fatalf("events = %d, want text + done", len(events))
	}
	if td, ok := events[0].(TextDelta); !ok || td.Text != "plan first" {
		t.Errorf("first event = %#v", events[0])
	}
	if d, ok := events[1].(Done); !ok || d.Reason != "end_turn" {
		t.Errorf("terminal event = %#v", events[1])
	}

	// Second stream: the tool-call pass, with an inferred stop reason.
	s, err = client.Stream(t.Context(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	events = drain(t, s)
	if len(events) != 2 {
		t.Fatalf("events = %d, want call + done", len(events))
	}
	call, ok := events[0].(ToolCallDelta)
	if !ok || call.Name != "write_file" || call.ID != "c1" {
		t.Errorf("call event = %#v", events[0])
	}
	if d := events[1].(Done); d.Reason != "tool_use" {
		t.Errorf("stop reason = %q, want tool_use", d.Reason)
	}

	// Exhausted transcripts repeat the final pass.
	s, _ = client.Stream(t.Context(), Request{})
	events = drain(t, s)
	if _, ok := events[0].(ToolCallDelta); !ok {
		t.Errorf("repeated pass = %#v", events[0])
	}
}

func TestReplayBackendRejectsEmptyTranscript(t *testing.T) {
	if _, err := NewReplayClient([]byte(`[]`)); err == nil {
		t.Error("empty transcript accepted")
	}
	if _, err := NewReplayClient([]byte(`{broken`)); err == nil {
		t.Error("malformed transcript accepted")
	}
}

func TestRenderPrompt(t *testing.T) {
	got := renderPrompt([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
	})
	want := "SYSTEM: be brief\n\nUSER: hello\n\n"
	if got != want {
		t.Errorf("renderPrompt = %q, want %q", got, want)
	}
}
