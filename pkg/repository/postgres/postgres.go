package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

// Postgres stores ledgers and messages in PostgreSQL through a pgx pool
type Postgres struct {
	pool        *pgxpool.Pool
	chatContext *chatContextRepository
	message     *messageRepository
}

var _ interfaces.Repository = &Postgres{}

// New connects to the database identified by dsn and verifies the connection
func New(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, goerr.New("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create postgres pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to ping postgres")
	}

	return &Postgres{
		pool:        pool,
		chatContext: &chatContextRepository{pool: pool},
		message:     &messageRepository{pool: pool},
	}, nil
}

func (p *Postgres) ChatContext() interfaces.ChatContextRepository {
	return p.chatContext
}

func (p *Postgres) Message() interfaces.MessageRepository {
	return p.message
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Migrate creates the tables and indexes used by the repository
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return goerr.Wrap(err, "failed to apply schema statement", goerr.V("statement", stmt))
		}
	}
	return nil
}

// Schema returns the DDL applied by Migrate
func Schema() []string {
	return append([]string{}, schema...)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_contexts (
		chat_id    UUID        NOT NULL,
		user_id    UUID        NOT NULL,
		payload    JSONB       NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (chat_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS chat_contexts_user_id_idx ON chat_contexts (user_id)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id         UUID        PRIMARY KEY,
		chat_id    UUID        NOT NULL,
		user_id    UUID        NOT NULL,
		role       TEXT        NOT NULL,
		content    TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chat_messages_chat_idx ON chat_messages (chat_id, user_id, created_at)`,
}

func validateKey(chatID types.ChatID, userID types.UserID) error {
	if err := chatID.Validate(); err != nil {
		return err
	}
	return userID.Validate()
}
