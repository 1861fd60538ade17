package config

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for configuration validation
var (
	ErrConfigNotFound   = goerr.New("configuration file not found")
	ErrInvalidConfig    = goerr.New("invalid configuration")
	ErrEmptyPatterns    = goerr.New("authority patterns must not be empty")
	ErrRoundsOutOfRange = goerr.New("max rounds out of range")
	ErrInvalidThreshold = goerr.New("quality threshold must be in (0, 1]")
	ErrMissingAPIKey    = goerr.New("API key is required")
	ErrUnknownBackend   = goerr.New("unknown backend")
)

// Context keys for error values
const (
	ConfigPathKey = "config_path"
	SectionKey    = "section"
	FieldKey      = "field"
	BackendKey    = "backend"
)
