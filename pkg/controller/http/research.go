package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/usecase"
	"github.com/secmon-lab/themis/pkg/utils/errutil"
	"github.com/secmon-lab/themis/pkg/utils/safe"
)

const (
	// anonymousUser owns conversations whose client sent no user ID
	anonymousUser = "usuario-anonimo"
	// chatIDHeader returns the conversation ID so clients can continue it
	chatIDHeader = "X-Chat-ID"

	maxRequestBytes = 1 << 20
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type researchRequest struct {
	Messages []chatMessage `json:"messages"`
	// Message is used when Messages holds no user turn
	Message string `json:"message"`
	ChatID  string `json:"chatId"`
	UserID  string `json:"userId"`
	Mode    string `json:"mode"`
}

// lastUserMessage returns the most recent user turn
func (req *researchRequest) lastUserMessage() string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == types.RoleUser.String() {
			return strings.TrimSpace(req.Messages[i].Content)
		}
	}
	return strings.TrimSpace(req.Message)
}

func (req *researchRequest) toInput() (usecase.AskInput, error) {
	message := req.lastUserMessage()
	if message == "" {
		return usecase.AskInput{}, goerr.New("no user message in request")
	}

	input := usecase.AskInput{
		ChatID:  types.ChatIDFromExternal(req.ChatID),
		UserID:  types.UserIDFromExternal(req.UserID),
		Message: message,
	}
	if input.ChatID == "" {
		input.ChatID = types.NewChatID()
	}
	if input.UserID == "" {
		input.UserID = types.UserIDFromExternal(anonymousUser)
	}
	if req.Mode != "" {
		mode, err := types.ParseResearchMode(req.Mode)
		if err != nil {
			return usecase.AskInput{}, goerr.Wrap(err, "invalid mode", goerr.V("mode", req.Mode))
		}
		input.Mode = mode
	}
	return input, nil
}

func decodeResearchRequest(w http.ResponseWriter, r *http.Request) (usecase.AskInput, error) {
	var req researchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		return usecase.AskInput{}, goerr.Wrap(err, "failed to decode research request")
	}
	return req.toInput()
}

// researchHandler answers with the complete research result as JSON
func researchHandler(uc LegalUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		input, err := decodeResearchRequest(w, r)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		res := uc.Ask(ctx, input)

		status := http.StatusOK
		if !res.Success {
			status = http.StatusInternalServerError
		}
		w.Header().Set(chatIDHeader, input.ChatID.String())
		writeJSON(ctx, w, status, res)
	}
}

// streamHandler writes progress lines while research runs, then the verified
// answer in word chunks followed by the sources footer. Nothing of the answer
// is written before verification finished.
func streamHandler(uc LegalUseCase, chunkDelay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		input, err := decodeResearchRequest(w, r)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set(chatIDHeader, input.ChatID.String())
		w.WriteHeader(http.StatusOK)

		input.Progress = func(ev usecase.ProgressEvent) {
			if ctx.Err() != nil {
				return
			}
			if safe.Write(ctx, w, []byte(progressLine(ev))) {
				safe.Flush(ctx, w)
			}
		}

		res := uc.Ask(ctx, input)
		if ctx.Err() != nil {
			return
		}

		if !safe.Write(ctx, w, []byte("\n")) {
			return
		}
		if !res.Success {
			safe.Write(ctx, w, []byte(res.Response))
			safe.Flush(ctx, w)
			return
		}

		if !streamWords(ctx, w, res.Response, chunkDelay) {
			return
		}

		var tail strings.Builder
		if len(res.Warnings) > 0 {
			tail.WriteString("\n\n")
			for _, warning := range res.Warnings {
				tail.WriteString("⚠️ " + warning + "\n")
			}
		}
		if res.Rounds > 0 {
			tail.WriteString(res.SourcesFooter())
		}
		safe.Write(ctx, w, []byte(tail.String()))
		safe.Flush(ctx, w)
	}
}

func progressLine(ev usecase.ProgressEvent) string {
	icon := "⏳"
	switch ev.Kind {
	case usecase.ProgressRoundStarted:
		icon = "🔍"
	case usecase.ProgressSearchResults:
		icon = "📚"
	case usecase.ProgressVerdict:
		icon = "🧭"
	case usecase.ProgressVerifying, usecase.ProgressCorrecting:
		icon = "✅"
	}
	return icon + " " + ev.Message + "\n"
}

// streamWords writes text word by word. It reports false when the client went away.
func streamWords(ctx context.Context, w http.ResponseWriter, text string, delay time.Duration) bool {
	words := strings.Split(text, " ")
	for i, word := range words {
		if ctx.Err() != nil {
			return false
		}
		if i < len(words)-1 {
			word += " "
		}
		if !safe.Write(ctx, w, []byte(word)) {
			return false
		}
		safe.Flush(ctx, w)

		if delay > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
	}
	return true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(ctx, w, data)
}
