package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"alertdesk/internal/domain"
)

const (
	defaultServiceName   = "alertdesk"
	defaultHTTPListen    = ":8080"
	defaultTokenTTLMins  = 60
	defaultNATSURL       = "nats://127.0.0.1:4222"
	defaultAlertBucket   = "alerts"
	defaultRuleBucket    = "rules"
	defaultSweepBucket   = "sweeps"
	defaultCounterBucket = "counters"
	defaultNATSSubject   = "alertdesk.reports"
	defaultNATSStream    = "ALERTDESK_REPORTS"
	defaultNATSConsumer  = "alertdesk-ingest"
	defaultNATSGroup     = "alertdesk-workers"
	defaultNATSWorkers   = 1
	defaultAckWaitSec    = 30
	defaultNackDelayMS   = 1000
	defaultMaxDeliver    = -1
	defaultMaxAckPending = 2048
	defaultSweepSeconds  = 300
	defaultCacheSeconds  = 300

	// ServiceModeNATS keeps NATS-backed store/ingest settings.
	ServiceModeNATS = "nats"
	// ServiceModeSingle keeps single-instance mode without NATS dependencies.
	ServiceModeSingle = "single"

	// RoleAdmin may manage rules and users.
	RoleAdmin = "ADMIN"
	// RoleOperator may create and resolve alerts.
	RoleOperator = "OPERATOR"
	// RoleViewer has read-only access.
	RoleViewer = "VIEWER"
)

// Config holds service runtime settings and seed rules.
// Params: TOML sections decoded from one file.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Log     LogConfig     `toml:"log"`
	HTTP    HTTPConfig    `toml:"http"`
	NATS    NATSConfig    `toml:"nats"`
	Sweep   SweepConfig   `toml:"sweep"`
	Cache   CacheConfig   `toml:"cache"`
	Rule    []RuleConfig  `toml:"rule"`
}

// rawConfig mirrors the TOML model before normalization.
// Params: decoded sections with `[rule.<id>]` tables as a map.
// Returns: raw rule map keyed by rule ID.
type rawConfig struct {
	Service ServiceConfig            `toml:"service"`
	Log     LogConfig                `toml:"log"`
	HTTP    HTTPConfig               `toml:"http"`
	NATS    NATSConfig               `toml:"nats"`
	Sweep   SweepConfig              `toml:"sweep"`
	Cache   CacheConfig              `toml:"cache"`
	Rule    map[string]rawRuleConfig `toml:"rule"`
}

// rawRuleConfig stores one rule body from a `[rule.<id>]` table.
// Params: rule fields except the top-level key-derived ID.
// Returns: intermediate rule body used for normalization.
type rawRuleConfig struct {
	SourceType  string                `toml:"source_type"`
	Name        string                `toml:"name"`
	Description string                `toml:"description"`
	Priority    int                   `toml:"priority"`
	Disabled    bool                  `toml:"disabled"`
	Conditions  domain.RuleConditions `toml:"conditions"`
}

// ServiceConfig contains process-level settings.
// Params: name and backend mode.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name string `toml:"name"`
	Mode string `toml:"mode"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// HTTPConfig configures the API server and its authentication.
// Params: listen address, JWT settings, and static users.
// Returns: HTTP surface behavior.
type HTTPConfig struct {
	Enabled      bool         `toml:"enabled"`
	Listen       string       `toml:"listen"`
	JWTSecret    string       `toml:"jwt_secret"`
	TokenTTLMins int          `toml:"token_ttl_mins"`
	Users        []UserConfig `toml:"users"`
}

// UserConfig defines one static API user.
// Params: username, bcrypt password hash, and role.
// Returns: credential entry checked at login.
type UserConfig struct {
	Name         string `toml:"name"`
	PasswordHash string `toml:"password_hash"`
	Role         string `toml:"role"`
}

// NATSConfig contains JetStream KV store and ingest settings.
// Params: connection URLs, bucket names, and subscriber policy.
// Returns: NATS backend options used in nats mode.
type NATSConfig struct {
	URL                []string         `toml:"url"`
	AlertBucket        string           `toml:"alert_bucket"`
	RuleBucket         string           `toml:"rule_bucket"`
	SweepBucket        string           `toml:"sweep_bucket"`
	CounterBucket      string           `toml:"counter_bucket"`
	AllowCreateBuckets bool             `toml:"allow_create_buckets"`
	Ingest             NATSIngestConfig `toml:"ingest"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: enable flag plus worker/ack/redelivery policy.
// Returns: NATS ingest behavior; routing keys are runtime-fixed.
type NATSIngestConfig struct {
	Enabled       bool   `toml:"enabled"`
	Subject       string `toml:"-"`
	Stream        string `toml:"-"`
	ConsumerName  string `toml:"-"`
	DeliverGroup  string `toml:"-"`
	Workers       int    `toml:"workers"`
	AckWaitSec    int    `toml:"ack_wait_sec"`
	NackDelayMS   int    `toml:"nack_delay_ms"`
	MaxDeliver    int    `toml:"max_deliver"`
	MaxAckPending int    `toml:"max_ack_pending"`
}

// SweepConfig controls the auto-close scheduler.
// Params: tick interval in seconds.
// Returns: sweep cadence.
type SweepConfig struct {
	IntervalSec int `toml:"interval_sec"`
}

// CacheConfig controls the rule cache.
// Params: snapshot TTL in seconds.
// Returns: cache staleness bound.
type CacheConfig struct {
	TTLSec int `toml:"ttl_sec"`
}

// RuleConfig describes one seed rule from configuration.
// Params: rule ID from the table key plus rule body fields.
// Returns: rule definition created at startup when absent.
type RuleConfig struct {
	RuleID      string
	SourceType  string
	Name        string
	Description string
	Priority    int
	Disabled    bool
	Conditions  domain.RuleConditions
}

// Load reads, normalizes, and validates one TOML config file.
// Params: config file path from --config-file.
// Returns: validated config or load/validation error.
func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, errors.New("--config-file must be provided")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	var raw rawConfig
	decoder := toml.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}

	cfg := Config{
		Service: raw.Service,
		Log:     raw.Log,
		HTTP:    raw.HTTP,
		NATS:    raw.NATS,
		Sweep:   raw.Sweep,
		Cache:   raw.Cache,
		Rule:    normalizeRules(raw.Rule),
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalizeRules converts the `[rule.<id>]` map into a sorted slice.
// Params: raw rule map keyed by rule ID.
// Returns: rule list ordered by rule ID for deterministic seeding.
func normalizeRules(raw map[string]rawRuleConfig) []RuleConfig {
	out := make([]RuleConfig, 0, len(raw))
	for id, body := range raw {
		name := strings.TrimSpace(body.Name)
		if name == "" {
			name = id
		}
		out = append(out, RuleConfig{
			RuleID:      id,
			SourceType:  body.SourceType,
			Name:        name,
			Description: body.Description,
			Priority:    body.Priority,
			Disabled:    body.Disabled,
			Conditions:  body.Conditions,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// NormalizeServiceMode maps raw mode input to a supported mode.
// Params: raw mode string from config.
// Returns: single mode unless nats is requested explicitly.
func NormalizeServiceMode(raw string) string {
	if strings.ToLower(strings.TrimSpace(raw)) == ServiceModeNATS {
		return ServiceModeNATS
	}
	return ServiceModeSingle
}

// SweepInterval returns the sweep cadence as a duration.
// Params: none.
// Returns: configured interval (defaults applied at load).
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalSec) * time.Second
}

// CacheTTL returns the rule cache TTL as a duration.
// Params: none.
// Returns: configured TTL (defaults applied at load).
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// TokenTTL returns the JWT lifetime as a duration.
// Params: none.
// Returns: configured lifetime (defaults applied at load).
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.HTTP.TokenTTLMins) * time.Minute
}

// ToRule converts one seed rule into its domain form.
// Params: creation timestamp.
// Returns: domain rule or source-type validation error.
func (r RuleConfig) ToRule(now time.Time) (domain.Rule, error) {
	source, err := domain.ParseSourceType(r.SourceType)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("rule %q: %w", r.RuleID, err)
	}
	return domain.Rule{
		RuleID:      r.RuleID,
		SourceType:  source,
		Name:        r.Name,
		Description: r.Description,
		Conditions:  r.Conditions,
		IsActive:    !r.Disabled,
		Priority:    r.Priority,
		CreatedAt:   now,
	}, nil
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		cfg.HTTP.Listen = defaultHTTPListen
	}
	if cfg.HTTP.TokenTTLMins <= 0 {
		cfg.HTTP.TokenTTLMins = defaultTokenTTLMins
	}

	if cfg.Service.Mode == ServiceModeSingle {
		// Single mode always disables NATS-dependent paths regardless of user flags.
		cfg.NATS.Ingest.Enabled = false
	} else {
		cfg.NATS.URL = normalizeNATSURLs(cfg.NATS.URL)
		if len(cfg.NATS.URL) == 0 {
			cfg.NATS.URL = []string{defaultNATSURL}
		}
		if strings.TrimSpace(cfg.NATS.AlertBucket) == "" {
			cfg.NATS.AlertBucket = defaultAlertBucket
		}
		if strings.TrimSpace(cfg.NATS.RuleBucket) == "" {
			cfg.NATS.RuleBucket = defaultRuleBucket
		}
		if strings.TrimSpace(cfg.NATS.SweepBucket) == "" {
			cfg.NATS.SweepBucket = defaultSweepBucket
		}
		if strings.TrimSpace(cfg.NATS.CounterBucket) == "" {
			cfg.NATS.CounterBucket = defaultCounterBucket
		}
		cfg.NATS.Ingest.Subject = defaultNATSSubject
		cfg.NATS.Ingest.Stream = defaultNATSStream
		cfg.NATS.Ingest.ConsumerName = defaultNATSConsumer
		cfg.NATS.Ingest.DeliverGroup = defaultNATSGroup
		if cfg.NATS.Ingest.Workers <= 0 {
			cfg.NATS.Ingest.Workers = defaultNATSWorkers
		}
		if cfg.NATS.Ingest.AckWaitSec <= 0 {
			cfg.NATS.Ingest.AckWaitSec = defaultAckWaitSec
		}
		if cfg.NATS.Ingest.NackDelayMS <= 0 {
			cfg.NATS.Ingest.NackDelayMS = defaultNackDelayMS
		}
		if cfg.NATS.Ingest.MaxDeliver == 0 {
			cfg.NATS.Ingest.MaxDeliver = defaultMaxDeliver
		}
		if cfg.NATS.Ingest.MaxAckPending <= 0 {
			cfg.NATS.Ingest.MaxAckPending = defaultMaxAckPending
		}
	}

	if cfg.Sweep.IntervalSec <= 0 {
		cfg.Sweep.IntervalSec = defaultSweepSeconds
	}
	if cfg.Cache.TTLSec <= 0 {
		cfg.Cache.TTLSec = defaultCacheSeconds
	}
}

// normalizeNATSURLs trims and deduplicates connection URLs.
// Params: raw URL list from config.
// Returns: cleaned list preserving first-seen order.
func normalizeNATSURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}

// validateConfig validates the normalized snapshot.
// Params: cfg after applyDefaults.
// Returns: first validation error found.
func validateConfig(cfg Config) error {
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		if strings.TrimSpace(cfg.HTTP.JWTSecret) == "" {
			return errors.New("http.jwt_secret is required when http is enabled")
		}
		if len(cfg.HTTP.Users) == 0 {
			return errors.New("http.users must define at least one user")
		}
		seen := make(map[string]struct{}, len(cfg.HTTP.Users))
		for _, user := range cfg.HTTP.Users {
			if strings.TrimSpace(user.Name) == "" {
				return errors.New("http.users entries require name")
			}
			if _, ok := seen[user.Name]; ok {
				return fmt.Errorf("http.users has duplicate name %q", user.Name)
			}
			seen[user.Name] = struct{}{}
			if strings.TrimSpace(user.PasswordHash) == "" {
				return fmt.Errorf("http.users %q requires password_hash", user.Name)
			}
			switch user.Role {
			case RoleAdmin, RoleOperator, RoleViewer:
			default:
				return fmt.Errorf("http.users %q has unsupported role %q", user.Name, user.Role)
			}
		}
	}

	seenRules := make(map[string]struct{}, len(cfg.Rule))
	for _, rule := range cfg.Rule {
		if _, ok := seenRules[rule.RuleID]; ok {
			return fmt.Errorf("rule %q defined twice", rule.RuleID)
		}
		seenRules[rule.RuleID] = struct{}{}
		seed, err := rule.ToRule(time.Time{})
		if err != nil {
			return err
		}
		if err := seed.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.RuleID, err)
		}
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}
