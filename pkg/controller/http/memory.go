package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/usecase"
	"github.com/secmon-lab/themis/pkg/utils/errutil"
)

// chatKey reads the chat ID path parameter and the user_id query parameter
func chatKey(r *http.Request) (types.ChatID, types.UserID, error) {
	chatID := types.ChatIDFromExternal(chi.URLParam(r, "chatID"))
	if chatID == "" {
		return "", "", goerr.New("chat ID is required")
	}
	userID := types.UserIDFromExternal(r.URL.Query().Get("user_id"))
	if userID == "" {
		return "", "", goerr.New("user_id query parameter is required", goerr.V("chat_id", chatID))
	}
	return chatID, userID, nil
}

func memoryStatsHandler(uc MemoryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, userID, err := chatKey(r)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
			return
		}
		writeJSON(r.Context(), w, http.StatusOK, uc.GetAdvancedMemoryStats(r.Context(), chatID, userID))
	}
}

func clearMemoryHandler(uc MemoryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, userID, err := chatKey(r)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
			return
		}
		if err := uc.ClearChatMemory(r.Context(), chatID, userID); err != nil {
			errutil.HandleHTTP(r.Context(), w, err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func preferencesHandler(uc MemoryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		chatID, userID, err := chatKey(r)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		// omitted fields keep their defaults
		prefs := model.DefaultUserPreferences()
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&prefs); err != nil {
			errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to decode preferences"), http.StatusBadRequest)
			return
		}

		updated, err := uc.UpdatePreferences(ctx, chatID, userID, prefs)
		switch {
		case errors.Is(err, usecase.ErrInvalidPreferences):
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		case err != nil:
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(ctx, w, http.StatusOK, updated)
	}
}

func qualityHandler(uc MemoryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := types.UserIDFromExternal(chi.URLParam(r, "userID"))
		if userID == "" {
			errutil.HandleHTTP(r.Context(), w, goerr.New("user ID is required"), http.StatusBadRequest)
			return
		}
		writeJSON(r.Context(), w, http.StatusOK, uc.GetQualityMetrics(r.Context(), userID))
	}
}
