package cli

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/cli/config"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/service/authority"
	"github.com/secmon-lab/themis/pkg/usecase"
	"github.com/secmon-lab/themis/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// researchConfig groups the flags shared by the commands that run research
type researchConfig struct {
	configPath string
	llm        config.LLM
	search     config.Search
	repo       config.Repository
}

func (x *researchConfig) Flags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the TOML configuration file (built-in defaults when omitted)",
			Sources:     cli.EnvVars("THEMIS_CONFIG"),
			Destination: &x.configPath,
		},
	}
	flags = append(flags, x.llm.Flags()...)
	flags = append(flags, x.search.Flags()...)
	flags = append(flags, x.repo.Flags()...)
	return flags
}

// build wires the repository, model, search provider and use cases. The
// returned closer releases the repository.
func (x *researchConfig) build(ctx context.Context) (*usecase.UseCases, func(), error) {
	appCfg, err := config.LoadAppConfiguration(x.configPath)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to load configuration")
	}

	completer, embedder, err := x.llm.Configure(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure LLM")
	}

	provider, err := x.search.Configure(appCfg.Research.Country, appCfg.Research.Language)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure search provider")
	}

	repo, err := x.repo.Configure(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to initialize repository")
	}
	closer := func() {
		if err := repo.Close(); err != nil {
			logging.Default().Error("failed to close repository", "error", err.Error())
		}
	}

	logging.Default().LogAttrs(ctx, slog.LevelInfo, "Research configuration",
		slog.GroupAttrs("llm", x.llm.LogAttrs()...),
		slog.GroupAttrs("search", x.search.LogAttrs()...),
		slog.GroupAttrs("repository", x.repo.LogAttrs()...),
		slog.Any("research", appCfg.Research),
		slog.Any("memory", appCfg.Memory),
	)

	uc, err := newUseCases(appCfg, repo, completer, embedder, provider)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return uc, closer, nil
}

func newUseCases(appCfg *config.AppConfig, repo interfaces.Repository, completer interfaces.Completer, embedder interfaces.Embedder, provider interfaces.SourceProvider) (*usecase.UseCases, error) {
	classifierOpts := append(appCfg.ClassifierOptions(),
		authority.WithCompleter(completer),
		authority.WithSourceProvider(provider),
	)

	ledgerOpts := appCfg.LedgerOptions()
	if embedder != nil {
		ledgerOpts = append(ledgerOpts, usecase.WithEmbedder(embedder))
	}

	uc, err := usecase.New(repo, completer, provider,
		usecase.WithClassifier(authority.New(classifierOpts...)),
		usecase.WithResearchDefaults(appCfg.ResearchDefaults()),
		usecase.WithLedgerOptions(ledgerOpts...),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create use cases")
	}
	return uc, nil
}
