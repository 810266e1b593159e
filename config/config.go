// Package config provides configuration for the negotiation services.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for the broker and both counterparty services.
type Config struct {
	// Server settings
	BrokerPort int
	BuyerPort  int
	SellerPort int

	// Counterparty endpoints as seen from the broker
	BuyerURL  string
	SellerURL string

	// Negotiation turn budget
	TurnLimit int

	// Database
	DatabaseURL string

	// LLM settings (OpenAI-compatible endpoint)
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMTimeout     time.Duration

	// Counterparty transport timeouts. ConnectTimeout must stay below
	// AgentTimeout so a dead host fails fast.
	AgentTimeout   time.Duration
	ConnectTimeout time.Duration

	// Flat data files
	BuyerInventoryPath string
	SellerPricingPath  string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		BrokerPort:         getEnvInt("BROKER_PORT", 8100),
		BuyerPort:          getEnvInt("BUYER_PORT", 8101),
		SellerPort:         getEnvInt("SELLER_PORT", 8102),
		BuyerURL:           getEnv("BUYER_URL", "http://127.0.0.1:8101"),
		SellerURL:          getEnv("SELLER_URL", "http://127.0.0.1:8102"),
		TurnLimit:          getEnvInt("BROKER_TURN_LIMIT", 7),
		DatabaseURL:        getEnv("DATABASE_URL", "file:dealbroker.db?cache=shared&mode=rwc"),
		LLMBaseURL:         getEnv("LLM_BASE_URL", "https://api.groq.com/openai"),
		LLMAPIKey:          getEnv("LLM_API_KEY", ""),
		LLMModel:           getEnv("LLM_MODEL", "openai/gpt-oss-20b"),
		LLMTemperature:     getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMMaxTokens:       getEnvInt("LLM_MAX_TOKENS", 512),
		LLMTimeout:         time.Duration(getEnvInt("LLM_TIMEOUT_MS", 30000)) * time.Millisecond,
		AgentTimeout:       time.Duration(getEnvInt("AGENT_TIMEOUT_MS", 20000)) * time.Millisecond,
		ConnectTimeout:     time.Duration(getEnvInt("CONNECT_TIMEOUT_MS", 5000)) * time.Millisecond,
		BuyerInventoryPath: getEnv("BUYER_INVENTORY_PATH", "data/buyer_inventory.csv"),
		SellerPricingPath:  getEnv("SELLER_PRICING_PATH", "data/seller_pricing.csv"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
