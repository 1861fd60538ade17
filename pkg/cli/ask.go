package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// cliUser owns conversations started from the terminal when no user is given
const cliUser = "usuario-cli"

var (
	progressColor = color.New(color.FgCyan, color.Faint)
	answerColor   = color.New(color.Reset)
	warningColor  = color.New(color.FgYellow)
	footerColor   = color.New(color.FgGreen)
	failureColor  = color.New(color.FgRed, color.Bold)
)

func cmdAsk() *cli.Command {
	var mode string
	var chatID string
	var userID string
	var researchCfg researchConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "Research mode [react|iter_research|hybrid] (chosen automatically when omitted)",
			Destination: &mode,
		},
		&cli.StringFlag{
			Name:        "chat-id",
			Usage:       "Continue an existing conversation",
			Sources:     cli.EnvVars("THEMIS_CHAT_ID"),
			Destination: &chatID,
		},
		&cli.StringFlag{
			Name:        "user-id",
			Usage:       "User that owns the conversation",
			Value:       cliUser,
			Sources:     cli.EnvVars("THEMIS_USER_ID"),
			Destination: &userID,
		},
	}
	flags = append(flags, researchCfg.Flags()...)

	return &cli.Command{
		Name:      "ask",
		Aliases:   []string{"a"},
		Usage:     "Research a legal question and print the verified answer",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return goerr.New("question is required")
			}

			input := usecase.AskInput{
				ChatID:  types.ChatIDFromExternal(chatID),
				UserID:  types.UserIDFromExternal(userID),
				Message: question,
			}
			if input.ChatID == "" {
				input.ChatID = types.NewChatID()
			}
			if mode != "" {
				m, err := types.ParseResearchMode(mode)
				if err != nil {
					return goerr.Wrap(err, "invalid mode", goerr.V("mode", mode))
				}
				input.Mode = m
			}
			input.Progress = func(ev usecase.ProgressEvent) {
				printProgress(os.Stderr, ev)
			}

			uc, closeRepo, err := researchCfg.build(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			res := uc.Legal.Ask(ctx, input)
			printResult(os.Stdout, res)
			if !res.Success {
				return goerr.New("research failed", goerr.V("error", res.Error))
			}

			_, _ = progressColor.Fprintf(os.Stderr, "chat ID: %s\n", input.ChatID)
			return nil
		},
	}
}

func printProgress(w io.Writer, ev usecase.ProgressEvent) {
	if ev.Round > 0 {
		_, _ = progressColor.Fprintf(w, "[%d] %s\n", ev.Round, ev.Message)
		return
	}
	_, _ = progressColor.Fprintln(w, ev.Message)
}

// printResult renders the answer followed by warnings and the sources footer
func printResult(w io.Writer, res *model.ResearchResult) {
	if !res.Success {
		_, _ = failureColor.Fprintln(w, res.Response)
		return
	}

	_, _ = fmt.Fprintln(w)
	_, _ = answerColor.Fprintln(w, res.Response)

	if len(res.Warnings) > 0 {
		_, _ = fmt.Fprintln(w)
		for _, warning := range res.Warnings {
			_, _ = warningColor.Fprintln(w, "⚠️ "+warning)
		}
	}

	if res.Rounds > 0 {
		_, _ = footerColor.Fprint(w, strings.TrimLeft(res.SourcesFooter(), "\n"))
	}
}
