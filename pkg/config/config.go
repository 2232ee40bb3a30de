package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so exempt_user_ids can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Platform    PlatformConfig    `json:"platform"`
	Stream      StreamConfig      `json:"stream"`
	Provider    ProviderConfig    `json:"provider"`
	Rate        RateConfig        `json:"rate"`
	Memory      MemoryConfig      `json:"memory"`
	Dedup       DedupConfig       `json:"dedup"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Store       StoreConfig       `json:"store"`
	Agent       AgentConfig       `json:"agent"`
	LogLevel    string            `json:"log_level" env:"PERCH_LOG_LEVEL"`
}

type PlatformConfig struct {
	BaseURL               string `json:"base_url" env:"PERCH_PLATFORM_BASE_URL"`
	StreamURL             string `json:"stream_url" env:"PERCH_PLATFORM_STREAM_URL"`
	APIToken              string `json:"api_token" env:"PERCH_PLATFORM_API_TOKEN"`
	BotUserID             string `json:"bot_user_id" env:"PERCH_PLATFORM_BOT_USER_ID"`
	BotHandle             string `json:"bot_handle" env:"PERCH_PLATFORM_BOT_HANDLE"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" env:"PERCH_PLATFORM_REQUEST_TIMEOUT_SECONDS"`
	ProfileCacheSeconds   int    `json:"profile_cache_seconds" env:"PERCH_PLATFORM_PROFILE_CACHE_SECONDS"`
}

type StreamConfig struct {
	ReconnectDelaySeconds int `json:"reconnect_delay_seconds" env:"PERCH_STREAM_RECONNECT_DELAY_SECONDS"`
	MaxReconnectAttempts  int `json:"max_reconnect_attempts" env:"PERCH_STREAM_MAX_RECONNECT_ATTEMPTS"`
}

type ProviderConfig struct {
	APIKey         string  `json:"api_key" env:"PERCH_PROVIDER_API_KEY"`
	APIBase        string  `json:"api_base" env:"PERCH_PROVIDER_API_BASE"`
	Model          string  `json:"model" env:"PERCH_PROVIDER_MODEL"`
	MaxTokens      int     `json:"max_tokens" env:"PERCH_PROVIDER_MAX_TOKENS"`
	Temperature    float64 `json:"temperature" env:"PERCH_PROVIDER_TEMPERATURE"`
	TimeoutSeconds int     `json:"timeout_seconds" env:"PERCH_PROVIDER_TIMEOUT_SECONDS"`
}

type RateConfig struct {
	MaxPerWindow  int                 `json:"max_per_window" env:"PERCH_RATE_MAX_PER_WINDOW"`
	WindowMinutes int                 `json:"window_minutes" env:"PERCH_RATE_WINDOW_MINUTES"`
	ExemptUserIDs FlexibleStringSlice `json:"exempt_user_ids" env:"PERCH_RATE_EXEMPT_USER_IDS"`
}

type MemoryConfig struct {
	MaxPerUser          int `json:"max_per_user" env:"PERCH_MEMORY_MAX_PER_USER"`
	ProtectedImportance int `json:"protected_importance" env:"PERCH_MEMORY_PROTECTED_IMPORTANCE"`
	MaxRelevant         int `json:"max_relevant" env:"PERCH_MEMORY_MAX_RELEVANT"`
}

type DedupConfig struct {
	RetentionDays int `json:"retention_days" env:"PERCH_DEDUP_RETENTION_DAYS"`
}

type MaintenanceConfig struct {
	SweepCron string `json:"sweep_cron" env:"PERCH_MAINTENANCE_SWEEP_CRON"`
}

type StoreConfig struct {
	Path string `json:"path" env:"PERCH_STORE_PATH"`
}

type AgentConfig struct {
	SystemPrompt  string `json:"system_prompt" env:"PERCH_AGENT_SYSTEM_PROMPT"`
	SeedMessage   string `json:"seed_message" env:"PERCH_AGENT_SEED_MESSAGE"`
	FallbackReply string `json:"fallback_reply" env:"PERCH_AGENT_FALLBACK_REPLY"`
}

func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			RequestTimeoutSeconds: 15,
			ProfileCacheSeconds:   300,
		},
		Stream: StreamConfig{
			ReconnectDelaySeconds: 5,
			MaxReconnectAttempts:  10,
		},
		Provider: ProviderConfig{
			APIBase:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			MaxTokens:      1024,
			Temperature:    0.7,
			TimeoutSeconds: 60,
		},
		Rate: RateConfig{
			MaxPerWindow:  15,
			WindowMinutes: 60,
			ExemptUserIDs: FlexibleStringSlice{},
		},
		Memory: MemoryConfig{
			MaxPerUser:          200,
			ProtectedImportance: 7,
			MaxRelevant:         5,
		},
		Dedup: DedupConfig{
			RetentionDays: 7,
		},
		Maintenance: MaintenanceConfig{
			SweepCron: "*/10 * * * *",
		},
		Store: StoreConfig{
			Path: "~/.perch/perch.db",
		},
		Agent: AgentConfig{
			SystemPrompt:  "You are Perch, a helpful assistant living on a social platform. Keep replies short and conversational.",
			SeedMessage:   "",
			FallbackReply: "Sorry, I'm having trouble processing your message right now. Please try again in a bit.",
		},
		LogLevel: "info",
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// StorePath returns the sqlite database path with ~ expanded.
func (c *Config) StorePath() string {
	return expandHome(c.Store.Path)
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Platform.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.Rate.WindowMinutes) * time.Minute
}

func (c *Config) DedupRetention() time.Duration {
	return time.Duration(c.Dedup.RetentionDays) * 24 * time.Hour
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Stream.ReconnectDelaySeconds) * time.Second
}

func (c *Config) ProfileCacheTTL() time.Duration {
	return time.Duration(c.Platform.ProfileCacheSeconds) * time.Second
}

// IsExempt reports whether userID bypasses the message rate limit.
func (c *Config) IsExempt(userID string) bool {
	for _, id := range c.Rate.ExemptUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
