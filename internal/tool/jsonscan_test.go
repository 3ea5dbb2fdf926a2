package tool

import "testing"

func TestComplete(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     bool
	}{
		{"empty", "", false},
		{"whitespace only", "  \n\t", false},
		{"flat object", `{"path": "a.go"}`, true},
		{"nested object", `{"edit": {"path": "a.go", "lines": [1, 2]}}`, true},
		{"deeply nested", `{"a": {"b": {"c": [{"d": 1}]}}}`, true},
		{"premature truncation", `{"path": "a.go"`, false},
		{"truncated mid key", `{"pa`, false},
		{"truncated inside nested array", `{"lines": [1, 2`, false},
		{"open string", `{"path": "a.g`, false},
		{"brace inside string", `{"cmd": "echo {"}`, true},
		{"bracket inside string", `{"cmd": "ls ]["}`, true},
		{"escaped quote inside string", `{"text": "say \"hi\""}`, true},
		{"escaped backslash then close", `{"dir": "C:\\"}`, true},
		{"dangling escape", `{"text": "a\`, false},
		{"array payload", `[1, 2, 3]`, true},
		{"bare string", `"done"`, true},
		{"bare number", `42`, true},
		{"bare bool", `true`, true},
		{"bare garbage", `nope`, false},
		{"unbalanced close", `}`, false},
		{"close before open", `}{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Complete(tt.fragment); got != tt.want {
				t.Errorf("Complete(%q) = %v, want %v", tt.fragment, got, tt.want)
			}
		})
	}
}

func TestMend(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     string
		ok       bool
	}{
		{"already valid", `{"a": 1}`, `{"a": 1}`, true},
		{"missing brace", `{"a": 1`, `{"a": 1}`, true},
		{"missing nested closers", `{"a": {"b": [1, 2`, `{"a": {"b": [1, 2]}}`, true},
		{"open string", `{"path": "a.go`, `{"path": "a.go"}`, true},
		{"trailing comma", `{"a": 1,`, `{"a": 1}`, true},
		{"dangling escape", `{"text": "a\`, `{"text": "a\\"}`, true},
		{"empty", "", "", false},
		{"hopeless", `{"a": : :`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Mend(tt.fragment)
			if ok != tt.ok {
				t.Fatalf("Mend(%q) ok = %v, want %v", tt.fragment, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Mend(%q) = %q, want %q", tt.fragment, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		result string
		want   Outcome
	}{
		{"file written", OutcomeSuccess},
		{"", OutcomeSuccess},
		{"Error: no such file", OutcomeError},
		{"  Error opening handle", OutcomeError},
		{"HALT: repository corrupted", OutcomeHalt},
		{"HALT:disk full", OutcomeHalt},
		{"An Error occurred", OutcomeSuccess}, // prefix only, not substring
	}

	for _, tt := range tests {
		if got := Classify(tt.result); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.result, got, tt.want)
		}
	}
}

func TestResolveTargetOrGlobal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"path field", `{"path": "pkg/a.go"}`, "pkg/a.go"},
		{"file field", `{"file": "b.go"}`, "b.go"},
		{"file_path field", `{"file_path": "c.go"}`, "c.go"},
		{"no scoping field", `{"command": "go vet ./..."}`, "GLOBAL"},
		{"invalid payload", `not json`, "GLOBAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveTargetOrGlobal([]byte(tt.input)); got != tt.want {
				t.Errorf("ResolveTargetOrGlobal(%s) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
