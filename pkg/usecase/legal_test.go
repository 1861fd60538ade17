package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/usecase"
)

func TestRequiresLegalSearch(t *testing.T) {
	testCases := []struct {
		message string
		want    bool
	}{
		{message: sasQuestion, want: true},
		{message: "¿Cuál es el plazo de prescripción de una deuda?", want: true},
		{message: "LEY 100 DE 1993", want: true},
		{message: "Necesito revisar un contrato de arrendamiento", want: true},
		{message: "Hola, buenos días", want: false},
		{message: "Gracias por la ayuda", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.message, func(t *testing.T) {
			gt.Value(t, usecase.RequiresLegalSearch(tc.message)).Equal(tc.want)
		})
	}
}

func TestClassifyQuery(t *testing.T) {
	testCases := []struct {
		name       string
		message    string
		complexity types.Complexity
		mode       types.ResearchMode
	}{
		{
			name:       "short question",
			message:    "¿Qué es una tutela?",
			complexity: types.ComplexitySimple,
			mode:       types.ResearchModeReact,
		},
		{
			name:       "ordinary question",
			message:    sasQuestion,
			complexity: types.ComplexityMedium,
			mode:       types.ResearchModeIterative,
		},
		{
			name:       "article of a single law",
			message:    "¿Qué dice el artículo 5 de la Ley 1258 de 2008 sobre la constitución de sociedades?",
			complexity: types.ComplexityMedium,
			mode:       types.ResearchModeIterative,
		},
		{
			name:       "several instruments",
			message:    "Diferencias entre la Ley 1258 de 2008 y el Decreto 410 de 1971",
			complexity: types.ComplexityHigh,
			mode:       types.ResearchModeHybrid,
		},
		{
			name: "long question",
			message: "Tengo una empresa familiar constituida hace diez años como sociedad limitada y quisiera saber " +
				"qué pasos debo seguir para transformarla en una sociedad por acciones simplificada sin perder los contratos vigentes",
			complexity: types.ComplexityHigh,
			mode:       types.ResearchModeHybrid,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			complexity, mode := usecase.ClassifyQuery(tc.message)
			gt.Value(t, complexity).Equal(tc.complexity)
			gt.Value(t, mode).Equal(tc.mode)
		})
	}
}

func TestLegalUseCase_Ask(t *testing.T) {
	ctx := context.Background()
	completer := newScriptedCompleter()
	uc := newUseCases(t, completer, sasProvider())
	chatID, userID := types.NewChatID(), types.NewUserID()

	res := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: chatID, UserID: userID, Message: sasQuestion})

	gt.Bool(t, res.Success).True()
	gt.Value(t, res.Response).Equal(sasAnswer)
	gt.Value(t, res.Error).Equal("")
	gt.Value(t, res.Mode).Equal(types.ResearchModeIterative)
	gt.Value(t, res.Rounds).Equal(1)
	gt.Array(t, res.Sources).Length(2)
	gt.Array(t, res.Warnings).Length(0)
	gt.Bool(t, res.Verification.Passed).True()
	gt.Number(t, res.Quality).Greater(0.85)
	gt.Value(t, res.QueryHash).Equal(model.HashText(sasQuestion))
	gt.Value(t, res.ResponseHash).Equal(model.HashText(sasAnswer))
	gt.Value(t, completer.count(promptCorrect)).Equal(0)

	t.Run("ledger records the exchange", func(t *testing.T) {
		chatCtx := uc.Ledger.GetContext(ctx, chatID, userID)
		gt.Array(t, chatCtx.History).Length(2)
		gt.Value(t, chatCtx.History[0].Role).Equal(types.RoleUser)
		gt.Value(t, chatCtx.History[1].Content).Equal(sasAnswer)

		gt.Array(t, chatCtx.SearchHistory).Length(1)
		gt.Value(t, chatCtx.SearchHistory[0].ResultCount).Equal(2)
		gt.Value(t, chatCtx.SearchHistory[0].Mode).Equal(types.ResearchModeIterative)

		gt.Value(t, chatCtx.Metrics.TotalQueries).Equal(1)
		gt.Value(t, chatCtx.Metrics.SuccessfulQueries).Equal(1)
		gt.Value(t, chatCtx.Metrics.VerificationsPassed).Equal(1)
	})

	t.Run("verified sources are cached for similar questions", func(t *testing.T) {
		cached := uc.Ledger.GetCachedLegalSources(ctx, chatID, userID, "requisitos para constituir una SAS", 0)
		gt.Array(t, cached).Length(2)
		for _, d := range cached {
			gt.Bool(t, d.Verified).True()
			gt.Bool(t, d.IsOfficial()).True()
		}
	})
}

func TestLegalUseCase_AskFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("empty message", func(t *testing.T) {
		uc := newUseCases(t, newScriptedCompleter(), sasProvider())

		res := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: types.NewChatID(), UserID: types.NewUserID(), Message: "   "})
		gt.Bool(t, res.Success).False()
		gt.Value(t, res.Response).Equal(usecase.ApologyText)
		gt.String(t, res.Error).Contains(usecase.ErrEmptyMessage.Error())
	})

	t.Run("model failure returns the apology", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.query = func(int) (string, error) { return "", errors.New("gemini: quota exceeded") }
		provider := sasProvider()
		uc := newUseCases(t, completer, provider)
		chatID, userID := types.NewChatID(), types.NewUserID()

		res := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: chatID, UserID: userID, Message: sasQuestion})

		gt.Bool(t, res.Success).False()
		gt.Value(t, res.Response).Equal(usecase.ApologyText)
		gt.String(t, res.Error).Contains(usecase.ErrModelFailure.Error())
		gt.String(t, res.Error).Contains("gemini: quota exceeded")
		gt.Array(t, res.Sources).Length(0)
		gt.Array(t, res.Warnings).Length(0)
		gt.Array(t, provider.searched()).Length(0)

		chatCtx := uc.Ledger.GetContext(ctx, chatID, userID)
		gt.Array(t, chatCtx.History).Length(1)
		gt.Value(t, chatCtx.Metrics.TotalQueries).Equal(1)
		gt.Value(t, chatCtx.Metrics.SuccessfulQueries).Equal(0)
	})

	t.Run("synthesis failure keeps the cause", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.synthesize = func(int) (string, error) { return "", errors.New("gemini: context window exceeded") }
		uc := newUseCases(t, completer, sasProvider())

		res := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: types.NewChatID(), UserID: types.NewUserID(), Message: sasQuestion})

		gt.Bool(t, res.Success).False()
		gt.Value(t, res.Response).Equal(usecase.ApologyText)
		gt.String(t, res.Error).Contains(usecase.ErrSynthesisFailed.Error())
		gt.String(t, res.Error).Contains("gemini: context window exceeded")
	})

	t.Run("deadline is a failure, not a cancellation", func(t *testing.T) {
		dctx, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
		defer cancel()
		uc := newUseCases(t, newScriptedCompleter(), sasProvider())

		res := uc.Legal.Ask(dctx, usecase.AskInput{ChatID: types.NewChatID(), UserID: types.NewUserID(), Message: sasQuestion})

		gt.Bool(t, res.Success).False()
		gt.Value(t, res.Response).Equal(usecase.ApologyText)
		gt.String(t, res.Error).Contains("deadline exceeded")
	})

	t.Run("cancellation keeps completed rounds", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		completer := newScriptedCompleter()
		completer.evaluate = func(int) (string, error) { return insufficientJSON, nil }
		uc := newUseCases(t, completer, sasProvider())
		chatID, userID := types.NewChatID(), types.NewUserID()

		res := uc.Legal.Ask(cctx, usecase.AskInput{
			ChatID:  chatID,
			UserID:  userID,
			Message: sasQuestion,
			Progress: func(ev usecase.ProgressEvent) {
				if ev.Kind == usecase.ProgressRoundStarted && ev.Round == 2 {
					cancel()
				}
			},
		})

		gt.Bool(t, res.Success).False()
		gt.Value(t, res.Response).Equal(usecase.CancelledText)
		gt.String(t, res.Error).Contains("context canceled")

		chatCtx := uc.Ledger.GetContext(context.Background(), chatID, userID)
		gt.Array(t, chatCtx.SearchHistory).Length(1)
		gt.Value(t, chatCtx.Metrics.TotalQueries).Equal(1)
		gt.Value(t, chatCtx.Metrics.SuccessfulQueries).Equal(0)
	})
}

func TestLegalUseCase_DirectAnswer(t *testing.T) {
	ctx := context.Background()
	completer := newScriptedCompleter()
	provider := sasProvider()
	uc := newUseCases(t, completer, provider)
	chatID, userID := types.NewChatID(), types.NewUserID()

	res := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: chatID, UserID: userID, Message: "Hola, buenos días"})

	gt.Bool(t, res.Success).True()
	gt.Value(t, res.Response).Equal("¡Hola! ¿En qué puedo ayudarte?")
	gt.Value(t, res.Rounds).Equal(0)
	gt.Array(t, res.Sources).Length(0)
	gt.Value(t, completer.count(promptDirect)).Equal(1)
	gt.Value(t, completer.count(promptQuery)).Equal(0)
	gt.Array(t, provider.searched()).Length(0)

	system := completer.request(promptDirect, 0).SystemPrompt
	gt.String(t, system).Contains("## HISTORIAL DE CONVERSACIÓN RELEVANTE:")
	gt.String(t, system).Contains("Usuario: Hola, buenos días")
	gt.String(t, system).Contains("## PREFERENCIAS DEL USUARIO:")

	gt.Array(t, uc.Ledger.GetContext(ctx, chatID, userID).History).Length(2)

	t.Run("model failure", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.direct = func(int) (string, error) { return "", errors.New("connection reset") }
		uc := newUseCases(t, completer, sasProvider())

		res := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: types.NewChatID(), UserID: types.NewUserID(), Message: "Gracias por la ayuda"})
		gt.Bool(t, res.Success).False()
		gt.Value(t, res.Response).Equal(usecase.ApologyText)
	})
}

func TestLegalUseCase_Preferences(t *testing.T) {
	ctx := context.Background()

	t.Run("quality below the threshold adds a warning", func(t *testing.T) {
		uc := newUseCases(t, newScriptedCompleter(), sasProvider())
		chatID, userID := types.NewChatID(), types.NewUserID()

		prefs := model.DefaultUserPreferences()
		prefs.QualityThreshold = 0.99
		_, err := uc.Ledger.UpdatePreferences(ctx, chatID, userID, prefs)
		gt.NoError(t, err).Required()

		res := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: chatID, UserID: userID, Message: sasQuestion})
		gt.Bool(t, res.Success).True()

		var found bool
		for _, w := range res.Warnings {
			if strings.Contains(w, "por debajo del umbral configurado (99%)") {
				found = true
			}
		}
		gt.Bool(t, found).True()
	})

	t.Run("max search rounds caps the loop", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.evaluate = func(int) (string, error) { return insufficientJSON, nil }
		provider := &stubProvider{search: func(n int, _ string) ([]*model.Document, error) {
			return generalDocs(n, 3), nil
		}}
		uc := newUseCases(t, completer, provider)
		chatID, userID := types.NewChatID(), types.NewUserID()

		prefs := model.DefaultUserPreferences()
		prefs.MaxSearchRounds = 2
		_, err := uc.Ledger.UpdatePreferences(ctx, chatID, userID, prefs)
		gt.NoError(t, err).Required()

		res := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: chatID, UserID: userID, Message: sasQuestion})
		gt.Bool(t, res.Success).True()
		gt.Value(t, res.Rounds).Equal(2)
		gt.Array(t, provider.searched()).Length(2)
	})

	t.Run("fixed strategy when model decision is off", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.evaluate = func(int) (string, error) { return insufficientJSON, nil }
		provider := &stubProvider{search: func(n int, _ string) ([]*model.Document, error) {
			return generalDocs(n, 3), nil
		}}
		uc := newUseCases(t, completer, provider)
		chatID, userID := types.NewChatID(), types.NewUserID()

		prefs := model.DefaultUserPreferences()
		prefs.Strategy = types.ResearchModeReact
		prefs.EnableModelDecision = false
		_, err := uc.Ledger.UpdatePreferences(ctx, chatID, userID, prefs)
		gt.NoError(t, err).Required()

		res := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: chatID, UserID: userID, Message: sasQuestion})
		gt.Value(t, res.Mode).Equal(types.ResearchModeReact)
		gt.Value(t, res.Rounds).Equal(usecase.ReactMaxRounds)
	})

	t.Run("explicit hybrid mode consults the model on authority", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.hierarchy = func(int) (string, error) { return `{"evaluatedSources": []}`, nil }
		uc := newUseCases(t, completer, sasProvider())

		res := uc.Legal.Ask(ctx, usecase.AskInput{
			ChatID:  types.NewChatID(),
			UserID:  types.NewUserID(),
			Message: sasQuestion,
			Mode:    types.ResearchModeHybrid,
		})
		gt.Value(t, res.Mode).Equal(types.ResearchModeHybrid)
		gt.Value(t, completer.count(promptHierarchy)).Equal(1)
	})
}

func TestLegalUseCase_CachedSourcesSeedNextQuestion(t *testing.T) {
	ctx := context.Background()
	completer := newScriptedCompleter()
	provider := &stubProvider{
		search: func(n int, _ string) ([]*model.Document, error) {
			if n == 1 {
				return sasDocuments(), nil
			}
			return nil, nil
		},
		fetch: sasProvider().fetch,
	}
	uc := newUseCases(t, completer, provider)
	chatID, userID := types.NewChatID(), types.NewUserID()

	first := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: chatID, UserID: userID, Message: sasQuestion})
	gt.Bool(t, first.Success).True()

	// the search now returns nothing; the cached sources carry the answer
	second := uc.Legal.Ask(ctx, usecase.AskInput{ChatID: chatID, UserID: userID, Message: "¿Cuáles son los requisitos para constituir una SAS?"})
	gt.Bool(t, second.Success).True()
	gt.Value(t, second.Rounds).Equal(1)
	gt.Array(t, second.Sources).Length(2)
	gt.Bool(t, second.Verification.Passed).True()
}
