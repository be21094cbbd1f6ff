package cli

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	output, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version command should return nil error, got %v", err)
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines of output, got %d: %q", len(lines), output)
	}
	if !strings.HasPrefix(lines[0], "postsync version ") {
		t.Errorf("first line should start with 'postsync version ', got %q", lines[0])
	}
	for i, label := range []string{"commit:", "built:", "go:"} {
		line := lines[i+1]
		if !strings.HasPrefix(line, "  "+label) {
			t.Errorf("line %d = %q, want indented %q", i+2, line, label)
		}
	}

	for _, want := range []string{Version, Commit, BuildDate, runtime.Version()} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q, got %q", want, output)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	output, err := runCLI(t, "--version")
	if err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !strings.Contains(output, "postsync") || !strings.Contains(output, Version) {
		t.Errorf("unexpected --version output %q", output)
	}
}

func TestGlobalFlagsRecognized(t *testing.T) {
	tests := map[string][]string{
		"verbose flag":   {"--verbose", "version"},
		"debug flag":     {"--debug", "version"},
		"no-color flag":  {"--no-color", "version"},
		"combined flags": {"--verbose", "--no-color", "version"},
		"short config":   {"-c", "elsewhere.toml", "version"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := runCLI(t, args...); err != nil {
				t.Errorf("Run(%v) error = %v", args, err)
			}
		})
	}
}

func TestVersionCommandDefinition(t *testing.T) {
	cmd := versionCommand()
	if cmd.Name != "version" {
		t.Errorf("command name = %q, want %q", cmd.Name, "version")
	}
	if !strings.Contains(cmd.Usage, "version") {
		t.Errorf("usage should mention version, got %q", cmd.Usage)
	}
	if cmd.Action == nil {
		t.Error("command should have an action function")
	}
}
