package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ChatContextCollection is the base collection name of ledger snapshots
const ChatContextCollection = "chat_contexts"

type chatContextDocument struct {
	ChatID        string                 `firestore:"chat_id"`
	UserID        string                 `firestore:"user_id"`
	SearchHistory []searchRecordDocument `firestore:"search_history"`
	CachedSources []cachedSetDocument    `firestore:"cached_sources"`
	Preferences   preferencesDocument    `firestore:"preferences"`
	Metrics       metricsDocument        `firestore:"metrics"`
	CreatedAt     time.Time              `firestore:"created_at"`
	UpdatedAt     time.Time              `firestore:"updated_at"`
}

type searchRecordDocument struct {
	Query              string    `firestore:"query"`
	ResultCount        int       `firestore:"result_count"`
	Quality            float64   `firestore:"quality"`
	Mode               string    `firestore:"mode"`
	VerificationPassed bool      `firestore:"verification_passed"`
	Timestamp          time.Time `firestore:"timestamp"`
}

type cachedSetDocument struct {
	Query     string             `firestore:"query"`
	Documents []sourceDocument   `firestore:"documents"`
	Embedding firestore.Vector64 `firestore:"embedding,omitempty"`
	CreatedAt time.Time          `firestore:"created_at"`
	LastUsed  time.Time          `firestore:"last_used"`
}

type sourceDocument struct {
	Title          string    `firestore:"title"`
	URL            string    `firestore:"url"`
	Snippet        string    `firestore:"snippet"`
	Content        string    `firestore:"content"`
	SourceType     string    `firestore:"source_type"`
	AuthorityScore float64   `firestore:"authority_score"`
	Verified       bool      `firestore:"verified"`
	LastUsed       time.Time `firestore:"last_used"`
}

type preferencesDocument struct {
	Strategy            string  `firestore:"strategy"`
	MaxSearchRounds     int     `firestore:"max_search_rounds"`
	EnableModelDecision bool    `firestore:"enable_model_decision"`
	QualityThreshold    float64 `firestore:"quality_threshold"`
}

type modeStatsDocument struct {
	Count      int     `firestore:"count"`
	AvgQuality float64 `firestore:"avg_quality"`
	AvgTimeMs  float64 `firestore:"avg_time_ms"`
}

type metricsDocument struct {
	TotalQueries        int                          `firestore:"total_queries"`
	SuccessfulQueries   int                          `firestore:"successful_queries"`
	AverageQuality      float64                      `firestore:"average_quality"`
	AverageResponseTime float64                      `firestore:"average_response_time_ms"`
	Modes               map[string]modeStatsDocument `firestore:"modes"`
	VerificationsRun    int                          `firestore:"verifications_run"`
	VerificationsPassed int                          `firestore:"verifications_passed"`
	LastUpdated         time.Time                    `firestore:"last_updated"`
}

type chatContextRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newChatContextRepository(client *firestore.Client) *chatContextRepository {
	return &chatContextRepository{client: client}
}

func (r *chatContextRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(collectionName(r.collectionPrefix, ChatContextCollection))
}

// chatDocID is the document key of a (chat, user) pair. Both parts are UUIDs, so
// the separator cannot collide.
func chatDocID(chatID types.ChatID, userID types.UserID) string {
	return string(chatID) + "_" + string(userID)
}

func validateKey(chatID types.ChatID, userID types.UserID) error {
	if err := chatID.Validate(); err != nil {
		return err
	}
	return userID.Validate()
}

func documentToSource(d *model.Document) sourceDocument {
	return sourceDocument{
		Title:          d.Title,
		URL:            d.URL,
		Snippet:        d.Snippet,
		Content:        d.Content,
		SourceType:     string(d.SourceType),
		AuthorityScore: d.AuthorityScore,
		Verified:       d.Verified,
		LastUsed:       d.LastUsed,
	}
}

func sourceToDocument(s sourceDocument) *model.Document {
	return &model.Document{
		Title:          s.Title,
		URL:            s.URL,
		Snippet:        s.Snippet,
		Content:        s.Content,
		SourceType:     types.SourceType(s.SourceType),
		AuthorityScore: s.AuthorityScore,
		Verified:       s.Verified,
		LastUsed:       s.LastUsed,
	}
}

func chatContextToDocument(c *model.ChatContext) *chatContextDocument {
	doc := &chatContextDocument{
		ChatID:        string(c.ChatID),
		UserID:        string(c.UserID),
		SearchHistory: make([]searchRecordDocument, 0, len(c.SearchHistory)),
		CachedSources: make([]cachedSetDocument, 0, len(c.CachedSources)),
		Preferences: preferencesDocument{
			Strategy:            string(c.Preferences.Strategy),
			MaxSearchRounds:     c.Preferences.MaxSearchRounds,
			EnableModelDecision: c.Preferences.EnableModelDecision,
			QualityThreshold:    c.Preferences.QualityThreshold,
		},
		Metrics: metricsDocument{
			TotalQueries:        c.Metrics.TotalQueries,
			SuccessfulQueries:   c.Metrics.SuccessfulQueries,
			AverageQuality:      c.Metrics.AverageQuality,
			AverageResponseTime: c.Metrics.AverageResponseTime,
			Modes:               make(map[string]modeStatsDocument, len(c.Metrics.Modes)),
			VerificationsRun:    c.Metrics.VerificationsRun,
			VerificationsPassed: c.Metrics.VerificationsPassed,
			LastUpdated:         c.Metrics.LastUpdated,
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}

	for _, s := range c.SearchHistory {
		doc.SearchHistory = append(doc.SearchHistory, searchRecordDocument{
			Query:              s.Query,
			ResultCount:        s.ResultCount,
			Quality:            s.Quality,
			Mode:               string(s.Mode),
			VerificationPassed: s.VerificationPassed,
			Timestamp:          s.Timestamp,
		})
	}

	for _, set := range c.CachedSources {
		cs := cachedSetDocument{
			Query:     set.Query,
			Documents: make([]sourceDocument, 0, len(set.Documents)),
			Embedding: firestore.Vector64(set.Embedding),
			CreatedAt: set.CreatedAt,
			LastUsed:  set.LastUsed,
		}
		for _, d := range set.Documents {
			cs.Documents = append(cs.Documents, documentToSource(d))
		}
		doc.CachedSources = append(doc.CachedSources, cs)
	}

	for mode, stats := range c.Metrics.Modes {
		doc.Metrics.Modes[string(mode)] = modeStatsDocument(stats)
	}

	return doc
}

func documentToChatContext(doc *chatContextDocument) *model.ChatContext {
	c := &model.ChatContext{
		ChatID:        types.ChatID(doc.ChatID),
		UserID:        types.UserID(doc.UserID),
		History:       []*model.Message{},
		SearchHistory: make([]model.SearchRecord, 0, len(doc.SearchHistory)),
		CachedSources: make([]model.CachedSourceSet, 0, len(doc.CachedSources)),
		Preferences: model.UserPreferences{
			Strategy:            types.ResearchMode(doc.Preferences.Strategy),
			MaxSearchRounds:     doc.Preferences.MaxSearchRounds,
			EnableModelDecision: doc.Preferences.EnableModelDecision,
			QualityThreshold:    doc.Preferences.QualityThreshold,
		},
		Metrics: model.QualityMetrics{
			TotalQueries:        doc.Metrics.TotalQueries,
			SuccessfulQueries:   doc.Metrics.SuccessfulQueries,
			AverageQuality:      doc.Metrics.AverageQuality,
			AverageResponseTime: doc.Metrics.AverageResponseTime,
			Modes:               make(map[types.ResearchMode]model.ModeStats, len(doc.Metrics.Modes)),
			VerificationsRun:    doc.Metrics.VerificationsRun,
			VerificationsPassed: doc.Metrics.VerificationsPassed,
			LastUpdated:         doc.Metrics.LastUpdated,
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}

	for _, s := range doc.SearchHistory {
		c.SearchHistory = append(c.SearchHistory, model.SearchRecord{
			Query:              s.Query,
			ResultCount:        s.ResultCount,
			Quality:            s.Quality,
			Mode:               types.ResearchMode(s.Mode),
			VerificationPassed: s.VerificationPassed,
			Timestamp:          s.Timestamp,
		})
	}

	for _, cs := range doc.CachedSources {
		set := model.CachedSourceSet{
			Query:     cs.Query,
			Documents: make([]*model.Document, 0, len(cs.Documents)),
			CreatedAt: cs.CreatedAt,
			LastUsed:  cs.LastUsed,
		}
		if len(cs.Embedding) > 0 {
			set.Embedding = []float64(cs.Embedding)
		}
		for _, d := range cs.Documents {
			set.Documents = append(set.Documents, sourceToDocument(d))
		}
		c.CachedSources = append(c.CachedSources, set)
	}

	for mode, stats := range doc.Metrics.Modes {
		c.Metrics.Modes[types.ResearchMode(mode)] = model.ModeStats(stats)
	}

	return c
}

func (r *chatContextRepository) Get(ctx context.Context, chatID types.ChatID, userID types.UserID) (*model.ChatContext, error) {
	if err := validateKey(chatID, userID); err != nil {
		return nil, err
	}

	snap, err := r.collection().Doc(chatDocID(chatID, userID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(interfaces.ErrNotFound, "chat context not found",
				goerr.V("chat_id", chatID), goerr.V("user_id", userID))
		}
		return nil, goerr.Wrap(err, "failed to get chat context",
			goerr.V("chat_id", chatID), goerr.V("user_id", userID))
	}

	var doc chatContextDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode chat context", goerr.V("chat_id", chatID))
	}

	return documentToChatContext(&doc), nil
}

func (r *chatContextRepository) Put(ctx context.Context, chatCtx *model.ChatContext) error {
	if chatCtx == nil {
		return goerr.New("chat context is nil")
	}
	if err := validateKey(chatCtx.ChatID, chatCtx.UserID); err != nil {
		return err
	}

	doc := chatContextToDocument(chatCtx)
	if _, err := r.collection().Doc(chatDocID(chatCtx.ChatID, chatCtx.UserID)).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put chat context",
			goerr.V("chat_id", chatCtx.ChatID), goerr.V("user_id", chatCtx.UserID))
	}
	return nil
}

func (r *chatContextRepository) Delete(ctx context.Context, chatID types.ChatID, userID types.UserID) error {
	if err := validateKey(chatID, userID); err != nil {
		return err
	}

	if _, err := r.collection().Doc(chatDocID(chatID, userID)).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return goerr.Wrap(err, "failed to delete chat context",
			goerr.V("chat_id", chatID), goerr.V("user_id", userID))
	}
	return nil
}

func (r *chatContextRepository) ListByUser(ctx context.Context, userID types.UserID) ([]*model.ChatContext, error) {
	if err := userID.Validate(); err != nil {
		return nil, err
	}

	iter := r.collection().Where("user_id", "==", string(userID)).Documents(ctx)
	defer iter.Stop()

	var out []*model.ChatContext
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate chat contexts", goerr.V("user_id", userID))
		}

		var doc chatContextDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode chat context", goerr.V("doc_id", snap.Ref.ID))
		}
		out = append(out, documentToChatContext(&doc))
	}

	return out, nil
}
