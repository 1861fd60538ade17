package config_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/themis/pkg/cli/config"
)

func TestConfigErrors_SentinelIdentification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		sentinelError error
		wantMatch     bool
	}{
		{
			name:          "ErrConfigNotFound can be identified",
			err:           goerr.Wrap(config.ErrConfigNotFound, "failed to load config"),
			sentinelError: config.ErrConfigNotFound,
			wantMatch:     true,
		},
		{
			name:          "ErrEmptyPatterns can be identified",
			err:           goerr.Wrap(config.ErrEmptyPatterns, "authority section"),
			sentinelError: config.ErrEmptyPatterns,
			wantMatch:     true,
		},
		{
			name:          "ErrRoundsOutOfRange can be identified",
			err:           goerr.Wrap(config.ErrRoundsOutOfRange, "research section"),
			sentinelError: config.ErrRoundsOutOfRange,
			wantMatch:     true,
		},
		{
			name:          "ErrInvalidThreshold can be identified",
			err:           goerr.Wrap(config.ErrInvalidThreshold, "research section"),
			sentinelError: config.ErrInvalidThreshold,
			wantMatch:     true,
		},
		{
			name:          "ErrMissingAPIKey can be identified",
			err:           goerr.Wrap(config.ErrMissingAPIKey, "search"),
			sentinelError: config.ErrMissingAPIKey,
			wantMatch:     true,
		},
		{
			name:          "different sentinel errors do not match",
			err:           goerr.Wrap(config.ErrConfigNotFound, "failed to load config"),
			sentinelError: config.ErrInvalidConfig,
			wantMatch:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Value(t, errors.Is(tt.err, tt.sentinelError)).Equal(tt.wantMatch)
		})
	}
}

func TestConfigErrors_ContextValues(t *testing.T) {
	err := goerr.Wrap(config.ErrUnknownBackend, "repository",
		goerr.V(config.BackendKey, "mongo"))

	var ge *goerr.Error
	gt.Bool(t, errors.As(err, &ge)).True()
	gt.Value(t, ge.Values()[config.BackendKey]).Equal(any("mongo"))
	gt.Bool(t, errors.Is(err, config.ErrUnknownBackend)).True()
}
