package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"google.golang.org/api/iterator"
)

// MessageCollection is the base collection name of chat messages
const MessageCollection = "chat_messages"

type messageDocument struct {
	ID        string    `firestore:"id"`
	ChatID    string    `firestore:"chat_id"`
	UserID    string    `firestore:"user_id"`
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	CreatedAt time.Time `firestore:"created_at"`
}

type messageRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newMessageRepository(client *firestore.Client) *messageRepository {
	return &messageRepository{client: client}
}

func (r *messageRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(collectionName(r.collectionPrefix, MessageCollection))
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

	doc := &messageDocument{
		ID:        string(msg.ID),
		ChatID:    string(msg.ChatID),
		UserID:    string(msg.UserID),
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if _, err := r.collection().Doc(doc.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put message", goerr.V("message_id", msg.ID))
	}
	return nil
}

func (r *messageRepository) query(chatID types.ChatID, userID types.UserID) firestore.Query {
	return r.collection().
		Where("chat_id", "==", string(chatID)).
		Where("user_id", "==", string(userID))
}

func (r *messageRepository) List(ctx context.Context, chatID types.ChatID, userID types.UserID) ([]*model.Message, error) {
	if err := validateKey(chatID, userID); err != nil {
		return nil, err
	}

	iter := r.query(chatID, userID).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	msgs := []*model.Message{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate messages", goerr.V("chat_id", chatID))
		}

		var doc messageDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode message", goerr.V("doc_id", snap.Ref.ID))
		}
		msgs = append(msgs, &model.Message{
			ID:        types.MessageID(doc.ID),
			ChatID:    types.ChatID(doc.ChatID),
			UserID:    types.UserID(doc.UserID),
			Role:      types.Role(doc.Role),
			Content:   doc.Content,
			CreatedAt: doc.CreatedAt,
		})
	}

	return msgs, nil
}

func (r *messageRepository) DeleteByChat(ctx context.Context, chatID types.ChatID, userID types.UserID) error {
	if err := validateKey(chatID, userID); err != nil {
		return err
	}

	iter := r.query(chatID, userID).Documents(ctx)
	defer iter.Stop()

	bw := r.client.BulkWriter(ctx)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to iterate messages", goerr.V("chat_id", chatID))
		}
		if _, err := bw.Delete(snap.Ref); err != nil {
			return goerr.Wrap(err, "failed to enqueue message deletion", goerr.V("doc_id", snap.Ref.ID))
		}
	}
	bw.End()

	return nil
}
