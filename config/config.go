package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	// HTTP server configuration
	HTTP HTTPConfig

	// Conversation store backend
	Store StoreConfig

	// LLM backend configuration
	LLM LLMConfig

	// Agent turn configuration
	Agent AgentConfig

	// Directory of mission files (<id>.txt plus optional <id>.yaml metadata)
	MissionsPath string

	// Directory of spy profile YAML files
	SpiesPath string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Host string
	Port int
}

// StoreConfig selects and configures the conversation backend.
// Backend is one of "memory", "sqlite", "mongo".
type StoreConfig struct {
	Backend    string
	SQLitePath string
	MongoURI   string
}

// LLMConfig holds the chat completion backend settings
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// AgentConfig holds per-turn limits
type AgentConfig struct {
	MaxToolCalls int
	TurnTimeout  time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Host: getEnvString("DEBRIEF_HTTP_HOST", "0.0.0.0"),
			Port: getEnvInt("DEBRIEF_HTTP_PORT", 8000),
		},
		Store: StoreConfig{
			Backend:    getEnvString("DEBRIEF_STORE_BACKEND", "sqlite"),
			SQLitePath: getEnvString("DEBRIEF_SQLITE_PATH", "./debrief.db"),
			MongoURI:   getEnvString("DEBRIEF_MONGO_URI", "mongodb://localhost:27017"),
		},
		LLM: LLMConfig{
			APIKey:  getEnvString("DEBRIEF_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY")),
			BaseURL: getEnvString("DEBRIEF_OPENAI_BASE_URL", ""),
			Model:   getEnvString("DEBRIEF_OPENAI_MODEL", "gpt-4o-mini"),
		},
		Agent: AgentConfig{
			MaxToolCalls: getEnvInt("DEBRIEF_MAX_TOOL_CALLS", 2),
			TurnTimeout:  time.Duration(getEnvInt("DEBRIEF_TURN_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		MissionsPath: getEnvString("DEBRIEF_MISSIONS_PATH", "./missions"),
		SpiesPath:    getEnvString("DEBRIEF_SPIES_PATH", "./spies"),
	}

	switch cfg.Store.Backend {
	case "memory", "sqlite", "mongo":
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if cfg.Agent.MaxToolCalls < 1 || cfg.Agent.MaxToolCalls > 3 {
		return nil, fmt.Errorf("DEBRIEF_MAX_TOOL_CALLS must be between 1 and 3, got %d", cfg.Agent.MaxToolCalls)
	}

	return cfg, nil
}

// GetAddress returns the HTTP server address
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Helper functions for environment variables
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
