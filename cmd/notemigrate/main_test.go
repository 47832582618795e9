package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/notemigrate/internal/config"
	"github.com/ehr/notemigrate/internal/domain/tracker"
	"github.com/ehr/notemigrate/internal/menu"
)

// ---------------------------------------------------------------------------
// Command tree
// ---------------------------------------------------------------------------

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"migrate", "start-new"},
		{"migrate", "re-run"},
		{"info"},
		{"providers", "fetch"},
		{"index", "rebuild"},
		{"execute"},
		{"db", "migrate"},
		{"db", "status"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd == root {
			t.Errorf("command %v not registered: %v", path, err)
		}
	}
}

func TestExecuteCmd_RejectsExtraArgs(t *testing.T) {
	cmd := executeCmd()
	if err := cmd.Args(cmd, []string{"new", "stats"}); err == nil {
		t.Error("expected an error for two actions")
	}
	if err := cmd.Args(cmd, []string{"new"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		arg  string
		want menu.Action
	}{
		{"new", menu.ActionNew},
		{"reinsert", menu.ActionReinsert},
		{"delete", menu.ActionDelete},
		{"stats", menu.ActionStats},
		{"empty", menu.ActionEmpty},
	}
	for _, tt := range tests {
		got, err := parseAction(tt.arg)
		if err != nil {
			t.Fatalf("parseAction(%q): %v", tt.arg, err)
		}
		if got != tt.want {
			t.Errorf("parseAction(%q) = %v, want %v", tt.arg, got, tt.want)
		}
		if got.Command() != tt.arg {
			t.Errorf("%v.Command() = %q, want %q", got, got.Command(), tt.arg)
		}
	}

	if _, err := parseAction("EMPTY"); err == nil {
		t.Error("actions are case-sensitive")
	}
}

// ---------------------------------------------------------------------------
// Logger
// ---------------------------------------------------------------------------

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{LogLevel: "WARN", LogFormat: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, `"component":"test"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected structured JSON, got %s", out)
	}
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{LogLevel: "loud"}, &buf)
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %s, want info", logger.GetLevel())
	}
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{LogLevel: "debug", LogFormat: "console"}, &buf)
	logger.Debug().Msg("readable")

	if strings.Contains(buf.String(), `"message"`) {
		t.Errorf("console format should not emit JSON: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "readable") {
		t.Errorf("message missing: %s", buf.String())
	}
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

func TestPrintExecuteReport(t *testing.T) {
	var buf bytes.Buffer
	printExecuteReport(&buf, &tracker.ExecuteReport{
		Mode:      tracker.ModeNew,
		Total:     4,
		Succeeded: 3,
		Failed:    1,
		Errors:    []tracker.StatementError{{Index: 2, NoteID: "n2", Error: "duplicate key", Statement: "INSERT ..."}},
	})

	out := buf.String()
	for _, want := range []string{"Execution (new)", "success rate:      75.0%", "#2 note n2: duplicate key"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStats_Empty(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, &tracker.Stats{})
	if strings.TrimSpace(buf.String()) != "Executed notes: 0" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

// ---------------------------------------------------------------------------
// Aborted runs
// ---------------------------------------------------------------------------

func TestRunMigration_MissingCredentialsPrintsSummary(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	results := filepath.Join(dir, "results.json")
	t.Setenv("DATABASE_URL", "postgres://localhost/notes")
	t.Setenv("ADRA_BASE_URL", "https://api.example.test")
	t.Setenv("ADRA_USERNAME", "")
	t.Setenv("ADRA_PASSWORD", "")
	t.Setenv("RESULTS_FILE", results)
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	err := runMigration(cmd, false)
	if err == nil || !strings.Contains(err.Error(), "ADRA_USERNAME") {
		t.Fatalf("expected credentials error, got %v", err)
	}
	if !strings.Contains(out.String(), "Run aborted: ADRA_USERNAME and ADRA_PASSWORD are required") {
		t.Errorf("summary missing abort reason:\n%s", out.String())
	}

	data, readErr := os.ReadFile(results)
	if readErr != nil {
		t.Fatalf("results file not written: %v", readErr)
	}
	if !strings.Contains(string(data), "ADRA_USERNAME and ADRA_PASSWORD are required") {
		t.Errorf("results file missing the error: %s", data)
	}
}

func TestAbortRun_CorruptResultsFileUntouched(t *testing.T) {
	results := filepath.Join(t.TempDir(), "results.json")
	if err := os.WriteFile(results, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cause := errors.New("database unreachable")
	if err := abortRun(&out, zerolog.Nop(), results, cause); err != cause {
		t.Fatalf("abortRun returned %v, want the cause", err)
	}
	if !strings.Contains(out.String(), "Run aborted: database unreachable") {
		t.Errorf("summary missing abort reason:\n%s", out.String())
	}
	if strings.Contains(out.String(), "See ") {
		t.Errorf("should not point at an unsaved run log:\n%s", out.String())
	}

	data, _ := os.ReadFile(results)
	if string(data) != "{not json" {
		t.Errorf("corrupt results file was rewritten: %s", data)
	}
}
