package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alertdesk/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alertdesk.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, ``))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Service.Name != "alertdesk" || cfg.Service.Mode != ServiceModeSingle {
		t.Fatalf("unexpected service defaults %+v", cfg.Service)
	}
	if !cfg.Log.Console.Enabled || cfg.Log.Console.Level != "info" || cfg.Log.Console.Format != "line" {
		t.Fatalf("unexpected console defaults %+v", cfg.Log.Console)
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Fatalf("unexpected http listen %q", cfg.HTTP.Listen)
	}
	if cfg.SweepInterval() != 5*time.Minute {
		t.Fatalf("unexpected sweep interval %v", cfg.SweepInterval())
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Fatalf("unexpected cache TTL %v", cfg.CacheTTL())
	}
	if cfg.NATS.Ingest.Enabled {
		t.Fatalf("single mode must disable NATS ingest")
	}
}

func TestLoadNATSMode(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
[service]
mode = "nats"

[nats]
url = [" nats://a:4222 ", "nats://a:4222", "nats://b:4222"]

[nats.ingest]
enabled = true
workers = 4
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Service.Mode != ServiceModeNATS {
		t.Fatalf("unexpected mode %q", cfg.Service.Mode)
	}
	if len(cfg.NATS.URL) != 2 || cfg.NATS.URL[0] != "nats://a:4222" {
		t.Fatalf("URLs must be trimmed and deduplicated: %v", cfg.NATS.URL)
	}
	if cfg.NATS.AlertBucket != "alerts" || cfg.NATS.CounterBucket != "counters" {
		t.Fatalf("unexpected bucket defaults %+v", cfg.NATS)
	}
	if cfg.NATS.Ingest.Subject != "alertdesk.reports" || cfg.NATS.Ingest.Workers != 4 {
		t.Fatalf("unexpected ingest settings %+v", cfg.NATS.Ingest)
	}
	if cfg.NATS.Ingest.AckWaitSec != 30 || cfg.NATS.Ingest.MaxDeliver != -1 {
		t.Fatalf("unexpected ingest defaults %+v", cfg.NATS.Ingest)
	}
}

func TestLoadSeedRules(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
[rule.overspeed-burst]
source_type = "OVERSPEEDING"
name = "Repeated overspeeding"
priority = 1

[rule.overspeed-burst.conditions]
escalate_if_count = 3
window_mins = 60

[rule.doc-renewed]
source_type = "DOCUMENT_EXPIRY"
priority = 2

[rule.doc-renewed.conditions]
auto_close_if = "document_valid"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.Rule) != 2 {
		t.Fatalf("expected 2 seed rules, got %d", len(cfg.Rule))
	}
	// Sorted by rule ID.
	if cfg.Rule[0].RuleID != "doc-renewed" || cfg.Rule[1].RuleID != "overspeed-burst" {
		t.Fatalf("unexpected rule order %+v", cfg.Rule)
	}
	if cfg.Rule[0].Name != "doc-renewed" {
		t.Fatalf("omitted name must fall back to rule ID, got %q", cfg.Rule[0].Name)
	}

	rule, err := cfg.Rule[1].ToRule(time.Date(2025, 11, 9, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("to rule: %v", err)
	}
	if rule.SourceType != domain.SourceOverspeeding || !rule.IsActive {
		t.Fatalf("unexpected domain rule %+v", rule)
	}
	if rule.Conditions.EscalateIfCount != 3 || rule.Conditions.WindowMins != 60 {
		t.Fatalf("unexpected conditions %+v", rule.Conditions)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "http without secret",
			body: "[http]\nenabled = true\n[[http.users]]\nname = \"admin\"\npassword_hash = \"x\"\nrole = \"ADMIN\"\n",
			want: "jwt_secret",
		},
		{
			name: "http without users",
			body: "[http]\nenabled = true\njwt_secret = \"s\"\n",
			want: "at least one user",
		},
		{
			name: "bad role",
			body: "[http]\nenabled = true\njwt_secret = \"s\"\n[[http.users]]\nname = \"admin\"\npassword_hash = \"x\"\nrole = \"ROOT\"\n",
			want: "unsupported role",
		},
		{
			name: "bad log level",
			body: "[log.console]\nenabled = true\nlevel = \"verbose\"\n",
			want: "log.console.level",
		},
		{
			name: "file sink without path",
			body: "[log.file]\nenabled = true\n",
			want: "log.file.path",
		},
		{
			name: "rule without clauses",
			body: "[rule.empty]\nsource_type = \"SAFETY\"\n",
			want: "at least one clause",
		},
		{
			name: "rule with bad source",
			body: "[rule.bad]\nsource_type = \"UNKNOWN\"\n[rule.bad.conditions]\nexpire_after_mins = 30\n",
			want: "source_type",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "[service]\nmoode = \"single\"\n"))
	if err == nil {
		t.Fatalf("unknown field must be rejected")
	}
}
