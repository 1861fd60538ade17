package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

type messageRepository struct {
	pool *pgxpool.Pool
}

func (r *messageRepository) Put(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return goerr.New("message is nil")
	}
	if err := validateKey(msg.ChatID, msg.UserID); err != nil {
		return err
	}
	if msg.ID == "" {
		return goerr.New("message ID is required")
	}

	const query = `
		INSERT INTO chat_messages (id, chat_id, user_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content`

	if _, err := r.pool.Exec(ctx, query,
		msg.ID.String(),
		msg.ChatID.String(),
		msg.UserID.String(),
		msg.Role.String(),
		msg.Content,
		msg.CreatedAt,
	); err != nil {
		return goerr.Wrap(err, "failed to put message", goerr.V("message_id", msg.ID))
	}
	return nil
}

func (r *messageRepository) List(ctx context.Context, chatID types.ChatID, userID types.UserID) ([]*model.Message, error) {
	if err := validateKey(chatID, userID); err != nil {
		return nil, err
	}

	const query = `
		SELECT id, role, content, created_at
		FROM chat_messages
		WHERE chat_id = $1 AND user_id = $2
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, chatID.String(), userID.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list messages", goerr.V("chat_id", chatID))
	}
	defer rows.Close()

	msgs := []*model.Message{}
	for rows.Next() {
		var id, role string
		msg := &model.Message{ChatID: chatID, UserID: userID}
		if err := rows.Scan(&id, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan message", goerr.V("chat_id", chatID))
		}
		msg.ID = types.MessageID(id)
		msg.Role = types.Role(role)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate messages", goerr.V("chat_id", chatID))
	}

	return msgs, nil
}

func (r *messageRepository) DeleteByChat(ctx context.Context, chatID types.ChatID, userID types.UserID) error {
	if err := validateKey(chatID, userID); err != nil {
		return err
	}

	const query = `DELETE FROM chat_messages WHERE chat_id = $1 AND user_id = $2`
	if _, err := r.pool.Exec(ctx, query, chatID.String(), userID.String()); err != nil {
		return goerr.Wrap(err, "failed to delete messages", goerr.V("chat_id", chatID))
	}
	return nil
}
