package logging

import (
	"fmt"
	"strings"
)

// Config selects format, minimum level and destination
type Config struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

const (
	FormatPretty = "pretty"
	FormatJSONL  = "jsonl"
	FormatNone   = "none"
)

func DefaultConfig() Config {
	return Config{
		Format: FormatPretty,
		Level:  LevelWarn,
		Output: "stderr",
	}
}

// Validate rejects unknown formats and levels
func (c Config) Validate() error {
	switch c.Format {
	case "", FormatPretty, FormatJSONL, FormatNone:
	default:
		return fmt.Errorf("log format must be pretty, jsonl or none, got %q", c.Format)
	}
	switch strings.ToLower(c.Level) {
	case "", LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Level)
	}
	return nil
}

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

func levelPriority(level string) int {
	switch strings.ToLower(level) {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1 // default to info
	}
}
