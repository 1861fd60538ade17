package usecase

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/service/authority"
	"github.com/secmon-lab/themis/pkg/service/factcheck"
	"github.com/secmon-lab/themis/pkg/service/verification"
)

type UseCases struct {
	repo        interfaces.Repository
	classifier  *authority.Classifier
	factChecker factcheck.Service
	defaults    ResearchDefaults
	ledgerOpts  []LedgerOption

	Ledger   *Ledger
	Research *ResearchUseCase
	Legal    *LegalUseCase
}

type Option func(*UseCases)

// WithClassifier replaces the default authority classifier
func WithClassifier(classifier *authority.Classifier) Option {
	return func(uc *UseCases) {
		uc.classifier = classifier
	}
}

// WithFactChecker replaces the default fact-check service
func WithFactChecker(factChecker factcheck.Service) Option {
	return func(uc *UseCases) {
		uc.factChecker = factChecker
	}
}

func WithResearchDefaults(defaults ResearchDefaults) Option {
	return func(uc *UseCases) {
		uc.defaults = defaults
	}
}

func WithLedgerOptions(opts ...LedgerOption) Option {
	return func(uc *UseCases) {
		uc.ledgerOpts = append(uc.ledgerOpts, opts...)
	}
}

func New(repo interfaces.Repository, completer interfaces.Completer, provider interfaces.SourceProvider, opts ...Option) (*UseCases, error) {
	if repo == nil {
		return nil, goerr.New("repository is required")
	}

	uc := &UseCases{
		repo:     repo,
		defaults: DefaultResearchDefaults(),
	}
	for _, opt := range opts {
		opt(uc)
	}

	if uc.classifier == nil {
		uc.classifier = authority.New(
			authority.WithCompleter(completer),
			authority.WithSourceProvider(provider),
		)
	}
	if uc.factChecker == nil {
		fc, err := factcheck.New(completer)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create fact-check service")
		}
		uc.factChecker = fc
	}

	gate, err := verification.New(uc.classifier, uc.factChecker)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create verification gate")
	}

	research, err := NewResearchUseCase(completer, provider, uc.classifier, gate, uc.factChecker)
	if err != nil {
		return nil, err
	}

	uc.Ledger = NewLedger(repo, uc.ledgerOpts...)
	uc.Research = research
	uc.Legal = NewLegalUseCase(completer, research, uc.Ledger, uc.defaults)

	return uc, nil
}
