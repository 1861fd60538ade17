package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

type chatContextRepository struct {
	pool *pgxpool.Pool
}

// chatContextPayload is the JSONB column. History lives in chat_messages.
type chatContextPayload struct {
	SearchHistory []model.SearchRecord    `json:"search_history"`
	CachedSources []model.CachedSourceSet `json:"cached_sources"`
	Preferences   model.UserPreferences   `json:"preferences"`
	Metrics       model.QualityMetrics    `json:"metrics"`
}

func (r *chatContextRepository) Get(ctx context.Context, chatID types.ChatID, userID types.UserID) (*model.ChatContext, error) {
	if err := validateKey(chatID, userID); err != nil {
		return nil, err
	}

	const query = `
		SELECT payload, created_at, updated_at
		FROM chat_contexts
		WHERE chat_id = $1 AND user_id = $2`

	c := &model.ChatContext{ChatID: chatID, UserID: userID, History: []*model.Message{}}
	var raw []byte
	err := r.pool.QueryRow(ctx, query, chatID.String(), userID.String()).Scan(&raw, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "chat context not found",
				goerr.V("chat_id", chatID), goerr.V("user_id", userID))
		}
		return nil, goerr.Wrap(err, "failed to get chat context", goerr.V("chat_id", chatID))
	}

	if err := decodePayload(raw, c); err != nil {
		return nil, goerr.Wrap(err, "failed to decode chat context", goerr.V("chat_id", chatID))
	}
	return c, nil
}

func (r *chatContextRepository) Put(ctx context.Context, chatCtx *model.ChatContext) error {
	if chatCtx == nil {
		return goerr.New("chat context is nil")
	}
	if err := validateKey(chatCtx.ChatID, chatCtx.UserID); err != nil {
		return err
	}

	raw, err := json.Marshal(chatContextPayload{
		SearchHistory: chatCtx.SearchHistory,
		CachedSources: chatCtx.CachedSources,
		Preferences:   chatCtx.Preferences,
		Metrics:       chatCtx.Metrics,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to encode chat context", goerr.V("chat_id", chatCtx.ChatID))
	}

	const query = `
		INSERT INTO chat_contexts (chat_id, user_id, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chat_id, user_id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`

	if _, err := r.pool.Exec(ctx, query,
		chatCtx.ChatID.String(),
		chatCtx.UserID.String(),
		raw,
		chatCtx.CreatedAt,
		chatCtx.UpdatedAt,
	); err != nil {
		return goerr.Wrap(err, "failed to put chat context",
			goerr.V("chat_id", chatCtx.ChatID), goerr.V("user_id", chatCtx.UserID))
	}
	return nil
}

func (r *chatContextRepository) Delete(ctx context.Context, chatID types.ChatID, userID types.UserID) error {
	if err := validateKey(chatID, userID); err != nil {
		return err
	}

	const query = `DELETE FROM chat_contexts WHERE chat_id = $1 AND user_id = $2`
	if _, err := r.pool.Exec(ctx, query, chatID.String(), userID.String()); err != nil {
		return goerr.Wrap(err, "failed to delete chat context", goerr.V("chat_id", chatID))
	}
	return nil
}

func (r *chatContextRepository) ListByUser(ctx context.Context, userID types.UserID) ([]*model.ChatContext, error) {
	if err := userID.Validate(); err != nil {
		return nil, err
	}

	const query = `
		SELECT chat_id, payload, created_at, updated_at
		FROM chat_contexts
		WHERE user_id = $1
		ORDER BY updated_at DESC`

	rows, err := r.pool.Query(ctx, query, userID.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list chat contexts", goerr.V("user_id", userID))
	}
	defer rows.Close()

	var out []*model.ChatContext
	for rows.Next() {
		var chatID string
		var raw []byte
		c := &model.ChatContext{UserID: userID, History: []*model.Message{}}
		if err := rows.Scan(&chatID, &raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan chat context", goerr.V("user_id", userID))
		}
		c.ChatID = types.ChatID(chatID)
		if err := decodePayload(raw, c); err != nil {
			return nil, goerr.Wrap(err, "failed to decode chat context", goerr.V("chat_id", chatID))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate chat contexts", goerr.V("user_id", userID))
	}

	return out, nil
}

func decodePayload(raw []byte, c *model.ChatContext) error {
	var p chatContextPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	c.SearchHistory = p.SearchHistory
	c.CachedSources = p.CachedSources
	c.Preferences = p.Preferences
	c.Metrics = p.Metrics
	if c.SearchHistory == nil {
		c.SearchHistory = []model.SearchRecord{}
	}
	if c.CachedSources == nil {
		c.CachedSources = []model.CachedSourceSet{}
	}
	if c.Metrics.Modes == nil {
		c.Metrics.Modes = map[types.ResearchMode]model.ModeStats{}
	}
	return nil
}
