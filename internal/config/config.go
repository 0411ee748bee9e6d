// Package config provides configuration types and loading for scriptdesk.
package config

import (
	"strings"
	"time"
)

// Config is the root configuration struct.
// Top-level groups: History, Store, Server, Kafka, Assistant, Identity, Log.
type Config struct {
	History   HistoryConfig   `json:"history"`
	Store     StoreConfig     `json:"store"`
	Server    ServerConfig    `json:"server"`
	Kafka     KafkaConfig     `json:"kafka"`
	Assistant AssistantConfig `json:"assistant"`
	Identity  IdentityConfig  `json:"identity"`
	Log       LogConfig       `json:"log"`
}

// ---------------------------------------------------------------------------
// History – in-memory cache bounds
// ---------------------------------------------------------------------------

// HistoryConfig bounds the chat history cache.
type HistoryConfig struct {
	MaxMessages int `json:"maxMessages" split_words:"true"`
	MaxEntries  int `json:"maxEntries" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Store – where chat history lives
// ---------------------------------------------------------------------------

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverHTTP   = "http"
	DriverMemory = "memory"
)

// StoreConfig selects and configures the history store.
type StoreConfig struct {
	Driver     string `json:"driver" split_words:"true"`
	Path       string `json:"path" split_words:"true"`
	BaseURL    string `json:"baseUrl" split_words:"true"`
	Token      string `json:"token" split_words:"true"`
	TimeoutSec int    `json:"timeoutSec" split_words:"true"`
}

// Timeout returns the request timeout of the HTTP driver.
func (c StoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ---------------------------------------------------------------------------
// Server – the history HTTP service
// ---------------------------------------------------------------------------

// ServerConfig configures `scriptdesk serve`.
type ServerConfig struct {
	Host      string `json:"host" split_words:"true"`
	Port      int    `json:"port" split_words:"true"`
	AuthToken string `json:"authToken" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Kafka – notification mirroring
// ---------------------------------------------------------------------------

// KafkaConfig configures the bus-to-Kafka sink.
type KafkaConfig struct {
	Enabled    bool   `json:"enabled" split_words:"true"`
	Brokers    string `json:"brokers" split_words:"true"`
	Topic      string `json:"topic" split_words:"true"`
	Source     string `json:"source" split_words:"true"`
	BufferSize int    `json:"bufferSize" split_words:"true"`
}

// BrokerList splits Brokers on commas.
func (c KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Assistant – chat backend
// ---------------------------------------------------------------------------

// AssistantConfig configures the assistant backend used by `scriptdesk chat`.
type AssistantConfig struct {
	Endpoint   string `json:"endpoint" split_words:"true"`
	Token      string `json:"token" split_words:"true"`
	TimeoutSec int    `json:"timeoutSec" split_words:"true"`
}

// Timeout returns the backend request timeout.
func (c AssistantConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ---------------------------------------------------------------------------
// Identity – CLI defaults
// ---------------------------------------------------------------------------

// IdentityConfig names the author and script CLI commands act on when no flag
// is given.
type IdentityConfig struct {
	UserID   string `json:"userId" split_words:"true"`
	ScriptID string `json:"scriptId" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `json:"level" split_words:"true"`
	Format string `json:"format" split_words:"true"` // "text" or "json"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		History: HistoryConfig{
			MaxMessages: 100,
			MaxEntries:  20,
		},
		Store: StoreConfig{
			Driver:     DriverSQLite,
			Path:       "~/.scriptdesk/history.db",
			TimeoutSec: 10,
		},
		Server: ServerConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18810,
		},
		Kafka: KafkaConfig{
			Enabled:    false,
			Brokers:    "localhost:9092",
			Topic:      "scriptdesk.events",
			Source:     "scriptdesk",
			BufferSize: 256,
		},
		Assistant: AssistantConfig{
			TimeoutSec: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
