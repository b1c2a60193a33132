// Package config loads and validates the runtime configuration. Files are
// YAML or JSON5, may pull in shared fragments via $include, and have
// ${VAR} environment references expanded before parsing. A MENAGERIE_*
// environment override beats anything in the file.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	HTTP    HTTPConfig    `yaml:"http"`
	Discord DiscordConfig `yaml:"discord"`
	LLM     LLMConfig     `yaml:"llm"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Agents  []AgentConfig `yaml:"agents"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// HTTPConfig configures the operational listener (metrics, health, status).
type HTTPConfig struct {
	Addr string `yaml:"addr" envconfig:"HTTP_ADDR"`
}

type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token" envconfig:"DISCORD_BOT_TOKEN"`
	// GuildIDs limits the engine to specific guilds; empty means all.
	GuildIDs []string `yaml:"guild_ids"`
	// UseWebhooks sends agent messages through per-channel webhooks so each
	// persona gets its own name and avatar.
	UseWebhooks bool `yaml:"use_webhooks"`
}

type LLMConfig struct {
	DefaultProvider string         `yaml:"default_provider"`
	Anthropic       ProviderConfig `yaml:"anthropic"`
	OpenAI          ProviderConfig `yaml:"openai"`
}

type ProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// EngineConfig groups the tuning knobs of the conversation engine.
type EngineConfig struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Attention    AttentionConfig    `yaml:"attention"`
	Cooldown     CooldownConfig     `yaml:"cooldown"`
	Decision     DecisionConfig     `yaml:"decision"`
	Respond      RespondConfig      `yaml:"respond"`
	// MaxChannelsPerAgent caps concurrent channel memberships per agent.
	MaxChannelsPerAgent int `yaml:"max_channels_per_agent"`
	// ModelRotationSpec schedules random model reselection across the
	// roster (cron form). Empty disables rotation.
	ModelRotationSpec string `yaml:"model_rotation_spec"`
}

type OrchestratorConfig struct {
	TickInterval            time.Duration `yaml:"tick_interval"`
	ActivityWindow          time.Duration `yaml:"activity_window"`
	RecentWindow            int           `yaml:"recent_window"`
	SaturationWindow        int           `yaml:"saturation_window"`
	MaxDispatchesPerChannel int           `yaml:"max_dispatches_per_channel"`
	MentionTopK             int           `yaml:"mention_top_k"`
	MemberBoost             float64       `yaml:"member_boost"`
	DecayInterval           time.Duration `yaml:"decay_interval"`
	RotationSpec            string        `yaml:"rotation_spec"`
	RotationStale           time.Duration `yaml:"rotation_stale"`
	RotationBatch           int           `yaml:"rotation_batch"`
	WatchdogInterval        time.Duration `yaml:"watchdog_interval"`
	IdleThreshold           time.Duration `yaml:"idle_threshold"`
	SweepSpec               string        `yaml:"sweep_spec"`
	SettleGrace             time.Duration `yaml:"settle_grace"`
}

type AttentionConfig struct {
	DecayStep     float64       `yaml:"decay_step"`
	MentionBudget int           `yaml:"mention_budget"`
	MentionTTL    time.Duration `yaml:"mention_ttl"`
}

type CooldownConfig struct {
	Human    time.Duration `yaml:"human"`
	Bot      time.Duration `yaml:"bot"`
	EntryTTL time.Duration `yaml:"entry_ttl"`
}

type DecisionConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	ContextWindow int           `yaml:"context_window"`
	BotRunLength  int           `yaml:"bot_run_length"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

type RespondConfig struct {
	ContextWindow int           `yaml:"context_window"`
	MaxTokens     int           `yaml:"max_tokens"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

type StorageConfig struct {
	// SnapshotPath is the SQLite file holding engine state snapshots.
	SnapshotPath string `yaml:"snapshot_path" envconfig:"SNAPSHOT_PATH"`
	// RosterPath is the SQLite file holding the agent roster. Empty keeps
	// the roster in memory, seeded from the agents section.
	RosterPath string `yaml:"roster_path" envconfig:"ROSTER_PATH"`
	// SnapshotSpec schedules periodic snapshots (cron form).
	SnapshotSpec string `yaml:"snapshot_spec"`
	// ProbeSpec schedules the snapshot-database health probe (cron form).
	ProbeSpec string `yaml:"probe_spec"`
}

// AgentConfig seeds one agent into the roster at startup.
type AgentConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Tag         string `yaml:"tag"`
	Description string `yaml:"description"`
	AvatarURL   string `yaml:"avatar_url"`
	Model       string `yaml:"model"`
}

// Load reads, merges, overrides, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := envconfig.Process("menagerie", cfg); err != nil {
		return nil, fmt.Errorf("config: apply environment overrides: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8600"
	}
	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = "anthropic"
	}
	if c.Storage.SnapshotSpec == "" {
		c.Storage.SnapshotSpec = "@every 1m"
	}
	if c.Storage.ProbeSpec == "" {
		c.Storage.ProbeSpec = "@every 30s"
	}
}

// Validate rejects configurations the engine cannot run with. Component
// knobs left at zero fall back to the component defaults and are not
// validated here.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q is not one of text, json", c.Log.Format)
	}

	switch c.LLM.DefaultProvider {
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("config: llm.default_provider is anthropic but llm.anthropic.api_key is empty")
		}
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("config: llm.default_provider is openai but llm.openai.api_key is empty")
		}
	default:
		return fmt.Errorf("config: llm.default_provider %q is not one of anthropic, openai", c.LLM.DefaultProvider)
	}

	if c.Discord.Enabled && c.Discord.BotToken == "" {
		return fmt.Errorf("config: discord.enabled requires discord.bot_token")
	}

	seen := map[string]bool{}
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agents[%d].id is required", i)
		}
		if a.Name == "" {
			return fmt.Errorf("config: agent %s has no name", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate agent id %s", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}
