package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/service/authority"
	"github.com/secmon-lab/themis/pkg/usecase"
)

// Bounds accepted for research.max_rounds
const (
	MinRounds = 1
	MaxRounds = 10
)

// AppConfig represents the application configuration file
type AppConfig struct {
	Authority AuthorityConfig `toml:"authority"`
	Research  ResearchConfig  `toml:"research"`
	Memory    MemoryConfig    `toml:"memory"`
}

// AuthorityConfig lists URL fragments that mark official and academic sources
type AuthorityConfig struct {
	Official []string `toml:"official"`
	Academic []string `toml:"academic"`
}

// ResearchConfig holds deployment-wide research settings
type ResearchConfig struct {
	MaxRounds        int     `toml:"max_rounds"`
	FanOut           int     `toml:"fan_out"`
	ExtractCount     int     `toml:"extract_count"`
	QualityThreshold float64 `toml:"quality_threshold"`
	Jurisdiction     string  `toml:"jurisdiction"`
	// Country and Language are the search locale (gl and hl)
	Country  string `toml:"country"`
	Language string `toml:"language"`
}

// MemoryConfig bounds the conversation ledger
type MemoryConfig struct {
	SourceTTL        Duration `toml:"source_ttl"`
	MaxCachedSources int      `toml:"max_cached_sources"`
	MaxSearchHistory int      `toml:"max_search_history"`
	MaxHistory       int      `toml:"max_history"`
}

// Duration decodes TOML strings such as "24h"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return goerr.Wrap(err, "invalid duration", goerr.V("value", string(text)))
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultAppConfig returns the built-in configuration used when no file is given
func DefaultAppConfig() *AppConfig {
	defaults := usecase.DefaultResearchDefaults()
	return &AppConfig{
		Authority: AuthorityConfig{
			Official: append([]string{}, authority.DefaultOfficialPatterns...),
			Academic: append([]string{}, authority.DefaultAcademicPatterns...),
		},
		Research: ResearchConfig{
			MaxRounds:        defaults.MaxRounds,
			FanOut:           defaults.FanOut,
			ExtractCount:     defaults.ExtractCount,
			QualityThreshold: defaults.QualityThreshold,
			Jurisdiction:     defaults.Jurisdiction,
			Country:          "co",
			Language:         "es",
		},
		Memory: MemoryConfig{
			SourceTTL:        Duration{model.DefaultSourceCacheTTL},
			MaxCachedSources: model.DefaultMaxCachedSources,
			MaxSearchHistory: model.DefaultMaxSearchHistory,
			MaxHistory:       model.DefaultMaxHistory,
		},
	}
}

// Validate checks if the AppConfig is valid
func (a *AppConfig) Validate() error {
	if len(a.Authority.Official) == 0 {
		return goerr.Wrap(ErrEmptyPatterns, "official patterns are required", goerr.V(SectionKey, "authority"))
	}
	if len(a.Authority.Academic) == 0 {
		return goerr.Wrap(ErrEmptyPatterns, "academic patterns are required", goerr.V(SectionKey, "authority"))
	}
	for _, patterns := range [][]string{a.Authority.Official, a.Authority.Academic} {
		for _, p := range patterns {
			if strings.TrimSpace(p) == "" {
				return goerr.Wrap(ErrEmptyPatterns, "blank authority pattern", goerr.V(SectionKey, "authority"))
			}
		}
	}

	r := a.Research
	if r.MaxRounds < MinRounds || r.MaxRounds > MaxRounds {
		return goerr.Wrap(ErrRoundsOutOfRange, "invalid research config",
			goerr.V(FieldKey, "max_rounds"),
			goerr.V("value", r.MaxRounds))
	}
	if r.QualityThreshold <= 0 || r.QualityThreshold > 1 {
		return goerr.Wrap(ErrInvalidThreshold, "invalid research config",
			goerr.V(FieldKey, "quality_threshold"),
			goerr.V("value", r.QualityThreshold))
	}
	if r.FanOut < 1 {
		return goerr.Wrap(ErrInvalidConfig, "fan_out must be positive", goerr.V("value", r.FanOut))
	}
	if r.ExtractCount < 0 {
		return goerr.Wrap(ErrInvalidConfig, "extract_count must not be negative", goerr.V("value", r.ExtractCount))
	}

	m := a.Memory
	if m.SourceTTL.Duration < 0 || m.MaxCachedSources < 0 || m.MaxSearchHistory < 0 || m.MaxHistory < 0 {
		return goerr.Wrap(ErrInvalidConfig, "memory limits must not be negative", goerr.V(SectionKey, "memory"))
	}

	return nil
}

// LoadAppConfiguration loads the configuration from a TOML file. Keys absent
// from the file keep their built-in defaults. An empty path yields the defaults.
func LoadAppConfiguration(path string) (*AppConfig, error) {
	config := DefaultAppConfig()
	if path == "" {
		return config, nil
	}

	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(ErrConfigNotFound, "failed to read config file", goerr.V(ConfigPathKey, path))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, goerr.Wrap(err, "failed to parse TOML config", goerr.V(ConfigPathKey, path))
	}

	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return config, nil
}

// ResearchDefaults converts the research section for the use case layer
func (a *AppConfig) ResearchDefaults() usecase.ResearchDefaults {
	return usecase.ResearchDefaults{
		MaxRounds:        a.Research.MaxRounds,
		FanOut:           a.Research.FanOut,
		ExtractCount:     a.Research.ExtractCount,
		QualityThreshold: a.Research.QualityThreshold,
		Jurisdiction:     a.Research.Jurisdiction,
	}
}

// LedgerOptions converts the memory section for the use case layer
func (a *AppConfig) LedgerOptions() []usecase.LedgerOption {
	return []usecase.LedgerOption{
		usecase.WithSourceTTL(a.Memory.SourceTTL.Duration),
		usecase.WithMaxCachedSources(a.Memory.MaxCachedSources),
		usecase.WithMaxSearchHistory(a.Memory.MaxSearchHistory),
		usecase.WithMaxHistory(a.Memory.MaxHistory),
	}
}

// ClassifierOptions converts the authority section into classifier options
func (a *AppConfig) ClassifierOptions() []authority.Option {
	return []authority.Option{
		authority.WithOfficialPatterns(a.Authority.Official),
		authority.WithAcademicPatterns(a.Authority.Academic),
	}
}
