// Package config loads and validates process-wide settings from the
// environment. Settings are immutable after startup; the rest of the
// application receives them as a read-only value.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds all recognized environment configuration.
type Settings struct {
	// Infrastructure
	MongoURL string
	RedisURL string

	// Secrets
	JWTSecretKey string
	SecretKey    string

	// HTTP surface
	CORSOrigins  []string
	AllowedHosts []string

	// Upstream LLM (Saptiva, OpenAI-compatible)
	SaptivaBaseURL        string
	SaptivaAPIKey         string
	SaptivaConnectTimeout time.Duration
	SaptivaReadTimeout    time.Duration
	SaptivaTotalTimeout   time.Duration
	SaptivaForceMock      bool
	SaptivaAllowMockFallback bool

	// Prompt registry
	PromptRegistryPath      string
	EnableModelSystemPrompt bool

	// Feature gates
	DeepResearchKillSwitch bool

	// MCP
	MCPAdminUsers         []string
	ToolsServiceURL       string
	MaxToolPayloadKB      int
	ToolRateLimitPerMin   int
	ToolRateLimitPerHour  int

	// Rate limiting (HTTP surface)
	UserRateLimitPerHour int

	// Task manager
	TaskTTL             time.Duration
	TaskCleanupInterval time.Duration
}

// Load reads settings from the environment and validates them.
func Load() (*Settings, error) {
	s := &Settings{
		MongoURL:                 getEnv("MONGODB_URL", "mongodb://localhost:27017/copilotos"),
		RedisURL:                 getEnv("REDIS_URL", ""),
		JWTSecretKey:             os.Getenv("JWT_SECRET_KEY"),
		SecretKey:                os.Getenv("SECRET_KEY"),
		CORSOrigins:              parseList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		AllowedHosts:             parseList(getEnv("ALLOWED_HOSTS", "*")),
		SaptivaBaseURL:           getEnv("SAPTIVA_BASE_URL", "https://api.saptiva.com/v1"),
		SaptivaAPIKey:            os.Getenv("SAPTIVA_API_KEY"),
		SaptivaConnectTimeout:    getDuration("SAPTIVA_CONNECT_TIMEOUT", 10*time.Second),
		SaptivaReadTimeout:       getDuration("SAPTIVA_READ_TIMEOUT", 120*time.Second),
		SaptivaTotalTimeout:      getDuration("SAPTIVA_TOTAL_TIMEOUT", 30*time.Second),
		SaptivaForceMock:         getBool("SAPTIVA_FORCE_MOCK", false),
		SaptivaAllowMockFallback: getBool("SAPTIVA_ALLOW_MOCK_FALLBACK", false),
		PromptRegistryPath:       getEnv("PROMPT_REGISTRY_PATH", "./deploy/config/prompts.yaml"),
		EnableModelSystemPrompt:  getBool("ENABLE_MODEL_SYSTEM_PROMPT", true),
		DeepResearchKillSwitch:   getBool("DEEP_RESEARCH_KILL_SWITCH", true),
		MCPAdminUsers:            parseList(getEnv("MCP_ADMIN_USERS", "")),
		ToolsServiceURL:          getEnv("TOOLS_SERVICE_URL", "http://localhost:8200"),
		MaxToolPayloadKB:         getInt("MAX_TOOL_PAYLOAD_KB", 1024),
		ToolRateLimitPerMin:      getInt("TOOL_RATE_LIMIT_PER_MINUTE", 60),
		ToolRateLimitPerHour:     getInt("TOOL_RATE_LIMIT_PER_HOUR", 600),
		UserRateLimitPerHour:     getInt("USER_RATE_LIMIT_PER_HOUR", 1000),
		TaskTTL:                  getDuration("TASK_TTL", 24*time.Hour),
		TaskCleanupInterval:      getDuration("TASK_CLEANUP_INTERVAL", time.Hour),
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	slog.Info("Settings loaded",
		"cors_origins", len(s.CORSOrigins),
		"allowed_hosts", len(s.AllowedHosts),
		"saptiva_base_url", s.SaptivaBaseURL,
		"force_mock", s.SaptivaForceMock,
		"research_kill_switch", s.DeepResearchKillSwitch)

	return s, nil
}

func (s *Settings) validate() error {
	if s.JWTSecretKey == "" {
		return fmt.Errorf("%w: JWT_SECRET_KEY", ErrMissingRequiredField)
	}
	if len(s.SecretKey) < 32 {
		return fmt.Errorf("%w: SECRET_KEY must be at least 32 characters", ErrInvalidValue)
	}
	if s.SaptivaAPIKey == "" && !s.SaptivaForceMock {
		return fmt.Errorf("%w: SAPTIVA_API_KEY (or set SAPTIVA_FORCE_MOCK=true)", ErrMissingRequiredField)
	}
	return nil
}

// IsAdminUser reports whether the given username or email is in MCP_ADMIN_USERS.
func (s *Settings) IsAdminUser(identifier string) bool {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	for _, u := range s.MCPAdminUsers {
		if strings.ToLower(u) == identifier {
			return true
		}
	}
	return false
}

// parseList accepts either a JSON array or a comma-separated list.
func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			return out
		}
		// Fall through to CSV parsing on malformed JSON.
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Invalid boolean environment value, using default",
			"key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer environment value, using default",
			"key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

// getDuration parses either a Go duration ("30s") or bare seconds ("30").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("Invalid duration environment value, using default",
		"key", key, "value", raw, "default", defaultValue)
	return defaultValue
}
