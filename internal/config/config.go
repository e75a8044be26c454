// Package config loads server settings from a YAML file and the environment.
// Environment variables always win over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfigDir returns the default configuration directory (~/.config/agentmail).
func GlobalConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "agentmail")
}

// DefaultConfigFile returns the default settings file path. The
// AGENT_MAIL_CONFIG environment variable overrides it.
func DefaultConfigFile() string {
	if p := os.Getenv("AGENT_MAIL_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(GlobalConfigDir(), "config.yaml")
}

// HTTPSettings configures the HTTP front of the MCP server.
type HTTPSettings struct {
	Host                          string  `yaml:"host"`         // bind address (default 127.0.0.1)
	Port                          int     `yaml:"port"`         // listen port (default 8765)
	BearerToken                   string  `yaml:"bearer_token"` // required on non-local requests when set
	JWTSecret                     string  `yaml:"jwt_secret"`   // optional HS256 secret; JWTs accepted alongside the bearer token
	AllowLocalhostUnauthenticated bool    `yaml:"allow_localhost_unauthenticated"`
	RateLimitEnabled              bool    `yaml:"rate_limit_enabled"`
	RateLimitRPS                  float64 `yaml:"rate_limit_rps"`   // sustained requests/second per caller
	RateLimitBurst                int     `yaml:"rate_limit_burst"` // burst allowance per caller
	RedisURL                      string  `yaml:"redis_url"`        // share rate-limit buckets across replicas when set
}

// LLMSettings configures the optional summarization overlay. The server is
// fully functional with Enabled=false; summaries then fall back to
// deterministic extraction.
type LLMSettings struct {
	Enabled        bool    `yaml:"enabled"`
	APIBase        string  `yaml:"api_base"` // OpenAI-compatible endpoint base
	APIKey         string  `yaml:"api_key"`
	DefaultModel   string  `yaml:"default_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// JanitorSettings controls the background maintenance loop.
type JanitorSettings struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"` // expired-claim sweep cadence (default 60)
	AckTTLSeconds        int `yaml:"ack_ttl_seconds"`        // nag about unacked ack_required mail after this; 0 disables
}

// Settings is the full server configuration.
type Settings struct {
	StorageRoot string `yaml:"storage_root"` // archives and index live under here
	LogFile     string `yaml:"log_file"`     // "" = default, "none"/"off" = stderr only

	ContactEnforcementEnabled bool `yaml:"contact_enforcement_enabled"`

	HTTP    HTTPSettings    `yaml:"http"`
	LLM     LLMSettings     `yaml:"llm"`
	Janitor JanitorSettings `yaml:"janitor"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		StorageRoot:               "",
		ContactEnforcementEnabled: true,
		HTTP: HTTPSettings{
			Host:                          "127.0.0.1",
			Port:                          8765,
			AllowLocalhostUnauthenticated: true,
			RateLimitRPS:                  10,
			RateLimitBurst:                30,
		},
		LLM: LLMSettings{
			Enabled:        false,
			APIBase:        "https://api.openai.com/v1",
			DefaultModel:   "gpt-5-mini",
			Temperature:    0.2,
			MaxTokens:      512,
			TimeoutSeconds: 30,
		},
		Janitor: JanitorSettings{
			SweepIntervalSeconds: 60,
			AckTTLSeconds:        0,
		},
	}
}

// Load reads settings from path (DefaultConfigFile when empty), layers them
// over the defaults, and applies environment overrides. A missing file is
// not an error; the defaults plus environment apply.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultConfigFile()
	}

	s := DefaultSettings()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults + env only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	s.applyEnv()
	return s, nil
}

func (s *Settings) applyEnv() {
	envString("STORAGE_ROOT", &s.StorageRoot)
	envString("LOG_FILE", &s.LogFile)
	envBool("CONTACT_ENFORCEMENT_ENABLED", &s.ContactEnforcementEnabled)

	envString("HTTP_HOST", &s.HTTP.Host)
	envInt("HTTP_PORT", &s.HTTP.Port)
	envString("HTTP_BEARER_TOKEN", &s.HTTP.BearerToken)
	envString("HTTP_JWT_SECRET", &s.HTTP.JWTSecret)
	envBool("HTTP_ALLOW_LOCALHOST_UNAUTHENTICATED", &s.HTTP.AllowLocalhostUnauthenticated)
	envBool("RATE_LIMIT_ENABLED", &s.HTTP.RateLimitEnabled)
	envFloat("RATE_LIMIT_RPS", &s.HTTP.RateLimitRPS)
	envInt("RATE_LIMIT_BURST", &s.HTTP.RateLimitBurst)
	envString("REDIS_URL", &s.HTTP.RedisURL)

	envBool("LLM_ENABLED", &s.LLM.Enabled)
	envString("LLM_API_BASE", &s.LLM.APIBase)
	envString("LLM_API_KEY", &s.LLM.APIKey)
	envString("LLM_DEFAULT_MODEL", &s.LLM.DefaultModel)
	envFloat("LLM_TEMPERATURE", &s.LLM.Temperature)
	envInt("LLM_MAX_TOKENS", &s.LLM.MaxTokens)

	envInt("ACK_TTL_SECONDS", &s.Janitor.AckTTLSeconds)
}

// StorageRootDir returns the expanded storage root. Archives live under
// <root>/projects/<slug>/repo and the relational index at <root>/index.sqlite3.
// Defaults to ~/.config/agentmail/storage so every agent on the machine
// shares one mail system regardless of working directory.
func (s *Settings) StorageRootDir() string {
	root := s.StorageRoot
	if root == "" {
		return filepath.Join(GlobalConfigDir(), "storage")
	}
	return expandHome(root)
}

// ProjectsDir returns the directory that holds one archive per project.
func (s *Settings) ProjectsDir() string {
	return filepath.Join(s.StorageRootDir(), "projects")
}

// IndexPath returns the SQLite index location.
func (s *Settings) IndexPath() string {
	return filepath.Join(s.StorageRootDir(), "index.sqlite3")
}

// Addr returns the host:port the HTTP server binds.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.HTTP.Host, s.HTTP.Port)
}

// LogFilePath returns the log file location, or "" when file logging is
// disabled ("none"/"off"). Unset defaults to agent-mail.log in the config dir.
func (s *Settings) LogFilePath() string {
	switch strings.ToLower(s.LogFile) {
	case "":
		return filepath.Join(GlobalConfigDir(), "agent-mail.log")
	case "none", "off":
		return ""
	}
	return expandHome(s.LogFile)
}

// SweepInterval returns the janitor cadence.
func (s *Settings) SweepInterval() time.Duration {
	secs := s.Janitor.SweepIntervalSeconds
	if secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// AckTTL returns how long an ack_required message may sit unacknowledged
// before the janitor nags, or 0 when escalation is disabled.
func (s *Settings) AckTTL() time.Duration {
	if s.Janitor.AckTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(s.Janitor.AckTTLSeconds) * time.Second
}

// LLMTimeout returns the per-request timeout for the summarization overlay.
func (s *Settings) LLMTimeout() time.Duration {
	if s.LLM.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.LLM.TimeoutSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}
