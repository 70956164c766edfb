package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for LabSync
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Codec   CodecConfig   `yaml:"codec"`
	Serial  SerialConfig  `yaml:"serial"`
	Journal JournalConfig `yaml:"journal"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
}

// CodecConfig holds message generation defaults
type CodecConfig struct {
	SenderID     string `yaml:"sender_id"`
	ReceiverID   string `yaml:"receiver_id"`
	Version      string `yaml:"version"`
	ProcessingID string `yaml:"processing_id"`
	LineEnding   string `yaml:"line_ending"` // CR or CRLF
	FillDefaults bool   `yaml:"fill_defaults"`
	Framing      bool   `yaml:"framing"`
}

// SerialConfig holds the instrument serial line configuration
type SerialConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Port           string        `yaml:"port"`
	BaudRate       int           `yaml:"baud_rate"`
	DataBits       int           `yaml:"data_bits"`
	Parity         string        `yaml:"parity"` // N, E or O
	StopBits       int           `yaml:"stop_bits"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	LineTimeout    time.Duration `yaml:"line_timeout"`
	MaxRetransmits int           `yaml:"max_retransmits"`
}

// JournalConfig holds message journal configuration
type JournalConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries"`
}

// Load loads configuration from a YAML file. Sections absent from the file
// keep the values LoadFromEnv would produce.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := LoadFromEnv()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 3010),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Codec: CodecConfig{
			SenderID:     getEnv("ASTM_SENDER_ID", "IVD_DEVICE"),
			ReceiverID:   getEnv("ASTM_RECEIVER_ID", ""),
			Version:      getEnv("ASTM_VERSION", "E1394-97"),
			ProcessingID: getEnv("ASTM_PROCESSING_ID", "P"),
			LineEnding:   getEnv("ASTM_LINE_ENDING", "CR"),
			FillDefaults: getEnvBool("ASTM_FILL_DEFAULTS", false),
			Framing:      getEnvBool("ASTM_FRAMING", false),
		},
		Serial: SerialConfig{
			Enabled:        getEnvBool("SERIAL_ENABLED", false),
			Port:           getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
			BaudRate:       getEnvInt("SERIAL_BAUD_RATE", 9600),
			DataBits:       getEnvInt("SERIAL_DATA_BITS", 8),
			Parity:         getEnv("SERIAL_PARITY", "N"),
			StopBits:       getEnvInt("SERIAL_STOP_BITS", 1),
			ReadTimeout:    getEnvDuration("SERIAL_READ_TIMEOUT", 15*time.Second),
			LineTimeout:    getEnvDuration("SERIAL_LINE_TIMEOUT", 30*time.Second),
			MaxRetransmits: getEnvInt("SERIAL_MAX_RETRANSMITS", 6),
		},
		Journal: JournalConfig{
			Enabled:    getEnvBool("JOURNAL_ENABLED", true),
			MaxEntries: getEnvInt("JOURNAL_MAX_ENTRIES", 10000),
		},
	}
}

// Validate rejects values the codec and serial line cannot work with.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.Codec.LineEnding) {
	case "CR", "CRLF":
	default:
		return fmt.Errorf("codec.line_ending: unsupported value %q", c.Codec.LineEnding)
	}
	switch strings.ToUpper(c.Serial.Parity) {
	case "N", "E", "O":
	default:
		return fmt.Errorf("serial.parity: unsupported value %q", c.Serial.Parity)
	}
	if c.Serial.MaxRetransmits < 0 {
		return fmt.Errorf("serial.max_retransmits: must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
