package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
agent:
  name: vercade
  identity: You are a friendly regular in this server.
llm:
  model: anthropic/claude-sonnet-4-5
`

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q", path, got)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/vercade.yaml"); err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}

func TestFindConfig_NothingFound(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := FindConfig("")
	if !errors.Is(err, ErrNoConfigFile) {
		t.Fatalf("FindConfig(\"\") err = %v, want ErrNoConfigFile", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Schedule.IdleInterval != DefaultIdleInterval {
		t.Errorf("IdleInterval = %v, want %v", cfg.Schedule.IdleInterval, DefaultIdleInterval)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.Providers.Ollama.URL != "http://localhost:11434" {
		t.Errorf("Ollama URL = %q", cfg.Providers.Ollama.URL)
	}
	if cfg.Schedule.FollowUp.Probability != 0 {
		t.Errorf("follow-up should default to disabled, got %g", cfg.Schedule.FollowUp.Probability)
	}
	if cfg.LLM.Temperature != nil {
		t.Errorf("Temperature = %v, want nil", *cfg.LLM.Temperature)
	}
}

func TestLoad_ExpandsEnvInFile(t *testing.T) {
	t.Setenv("TEST_DISCORD_SECRET", "s3cret")
	cfg, err := Load(writeConfig(t, minimalYAML+"discord:\n  token: ${TEST_DISCORD_SECRET}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "s3cret" {
		t.Errorf("Discord.Token = %q, want s3cret", cfg.Discord.Token)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VERCADE_NAME", "override")
	t.Setenv("VERCADE_SCHEDULE_INTERVAL", "15m")
	t.Setenv("VERCADE_LLM_TEMPERATURE", "0.7")
	t.Setenv("VERCADE_LLM_REASONING_EFFORT", "low")
	t.Setenv("MCP_PATH", "/etc/vercade/mcp.json")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Name != "override" {
		t.Errorf("Name = %q, want override", cfg.Agent.Name)
	}
	if cfg.Schedule.IdleInterval != 15*time.Minute {
		t.Errorf("IdleInterval = %v, want 15m", cfg.Schedule.IdleInterval)
	}
	if cfg.LLM.Temperature == nil || *cfg.LLM.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", cfg.LLM.Temperature)
	}
	if cfg.LLM.ReasoningEffort != "low" {
		t.Errorf("ReasoningEffort = %q", cfg.LLM.ReasoningEffort)
	}
	if cfg.MCP.Path != "/etc/vercade/mcp.json" {
		t.Errorf("MCP.Path = %q", cfg.MCP.Path)
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("VERCADE_NAME", "vercade")
	t.Setenv("VERCADE_IDENTITY", "identity")
	t.Setenv("VERCADE_LLM", "ollama/qwen3:8b")
	t.Setenv("VERCADE_SCHEDULE_INTERVAL", "off")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Schedule.IdleInterval != 0 {
		t.Errorf("IdleInterval = %v, want disabled", cfg.Schedule.IdleInterval)
	}
}

func TestLoad_InvalidInterval(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+"schedule:\n  interval: 3x\n"))
	if err == nil {
		t.Fatal("expected error for interval 3x")
	}
	if !strings.Contains(err.Error(), "schedule.interval") {
		t.Errorf("error %q should name schedule.interval", err)
	}
}

func TestValidate_ReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Schedule.FollowUp.Probability = 2
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"agent.name", "agent.identity", "llm.model", "log level", "probability"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidate_FollowUpBounds(t *testing.T) {
	cfg := Default()
	cfg.Agent = AgentConfig{Name: "v", Identity: "i"}
	cfg.LLM.Model = "m"
	cfg.Schedule.FollowUp.MinDelay = 10 * time.Minute
	cfg.Schedule.FollowUp.MaxDelay = time.Minute
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when min_delay exceeds max_delay")
	}
}

func TestValidate_ModelProvider(t *testing.T) {
	tests := []struct {
		model   string
		wantErr bool
	}{
		{"gpt-4o", false},
		{"anthropic/claude-sonnet-4-5", false},
		{"ollama/library/qwen3", false},
		{"mistral/large", true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			cfg := Default()
			cfg.Agent = AgentConfig{Name: "v", Identity: "i"}
			cfg.LLM.Model = tt.model
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
