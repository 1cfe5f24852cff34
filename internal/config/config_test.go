package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "chatia.yaml", `
llm:
  providers:
    anthropic:
      api_key: test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("version = %d", cfg.Version)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("default provider = %q", cfg.LLM.DefaultProvider)
	}
	if cfg.Session.Driver != "memory" || cfg.Session.Locker.Backend != "local" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Tools.IntentTTL != 10*time.Minute {
		t.Errorf("intent ttl = %v", cfg.Tools.IntentTTL)
	}
	if got := cfg.LLM.Profiles["analytical"].Timeout; got != time.Minute {
		t.Errorf("analytical timeout = %v", got)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "chatia.yaml", `
session:
  driver: memory
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "unknown driver",
			content: `
session:
  driver: mysql
`,
			want: "session.driver",
		},
		{
			name: "sqlite without dsn",
			content: `
session:
  driver: sqlite
`,
			want: "session.dsn",
		},
		{
			name: "default provider not configured",
			content: `
llm:
  default_provider: openai
  providers:
    anthropic: {}
`,
			want: "default_provider",
		},
		{
			name: "unknown profile",
			content: `
llm:
  profiles:
    creative:
      timeout: 10s
`,
			want: "llm.profiles",
		},
		{
			name: "redis locker without addr",
			content: `
session:
  locker:
    backend: redis
`,
			want: "session.locker.redis.addr",
		},
		{
			name: "bad janitor schedule",
			content: `
session:
  janitor:
    enabled: true
    schedule: "every now and then"
`,
			want: "session.janitor.schedule",
		},
		{
			name: "unknown mode",
			content: `
policy:
  mode_triggers:
    "modo pirata": pirate
`,
			want: "policy.mode_triggers",
		},
		{
			name: "sampling rate out of range",
			content: `
observability:
  tracing:
    sampling_rate: 2
`,
			want: "sampling_rate",
		},
		{
			name: "newer version",
			content: `
version: 99
`,
			want: "newer than this build",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "chatia.yaml", tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CHATIA_TEST_KEY", "sk-test")
	path := writeConfig(t, "chatia.yaml", `
llm:
  providers:
    anthropic:
      api_key: ${CHATIA_TEST_KEY}
      default_model: ${CHATIA_TEST_MODEL:-claude-test}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.LLM.Providers["anthropic"]
	if p.APIKey != "sk-test" || p.DefaultModel != "claude-test" {
		t.Errorf("provider = %+v", p)
	}
}

func TestLoadExpandsEnvIntoIncludesAndNumbers(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("conversation:\n  fallback_text: base\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATIA_TEST_BASE", "base.yaml")
	t.Setenv("CHATIA_TEST_HISTORY", "12")
	main := filepath.Join(dir, "chatia.yaml")
	if err := os.WriteFile(main, []byte(`
$include: ${CHATIA_TEST_BASE}
conversation:
  max_history: ${CHATIA_TEST_HISTORY}
`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Conversation.FallbackText != "base" || cfg.Conversation.MaxHistory != 12 {
		t.Errorf("conversation = %+v", cfg.Conversation)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "chatia.json5", `{
  // comments are allowed
  session: { driver: "sqlite", dsn: "chatia.db", cache_ttl: "2s" },
  tools: { intent_ttl: "5m", timeouts: { lookup_status: "3s" } },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Driver != "sqlite" || cfg.Session.CacheTTL != 2*time.Second {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Tools.IntentTTL != 5*time.Minute || cfg.Tools.Timeouts["lookup_status"] != 3*time.Second {
		t.Errorf("tools = %+v", cfg.Tools)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(`
conversation:
  fallback_text: base
  max_history: 4
`), 0o600); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "chatia.yaml")
	if err := os.WriteFile(main, []byte(`
$include: base.yaml
conversation:
  max_history: 8
`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Conversation.FallbackText != "base" || cfg.Conversation.MaxHistory != 8 {
		t.Errorf("conversation = %+v", cfg.Conversation)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	os.WriteFile(a, []byte("$include: b.yaml\n"), 0o600)
	os.WriteFile(b, []byte("$include: a.yaml\n"), 0o600)
	if _, err := Load(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("err = %v, want include cycle", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate: %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, _ := schema["properties"].(map[string]any)
	for _, key := range []string{"llm", "session", "tools", "policy", "conversation", "logging", "observability"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema lacks %q", key)
		}
	}
}
