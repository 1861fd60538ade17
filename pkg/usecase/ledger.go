package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/utils/logging"
)

const (
	// LexicalSimilarity is the word-overlap ratio at which two queries match
	LexicalSimilarity = 0.3
	// EmbeddingSimilarity is the cosine similarity at which two query embeddings match
	EmbeddingSimilarity = 0.85

	// LowQualityThreshold triggers the "more rounds" recommendation
	LowQualityThreshold = 0.7
	// LowRateThreshold triggers the success and verification recommendations
	LowRateThreshold = 0.8

	MaxPreferenceRounds = 10

	contextHistoryLimit   = 10
	contextSearchLimit    = 3
	contextSourceSetLimit = 2
	contextSourceDocLimit = 3
	contextAnswerExcerpt  = 200
	minSimilarityWordLen  = 4
)

var cacheLookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "themis_source_cache_lookups_total",
	Help: "Cached legal source lookups by outcome",
}, []string{"outcome"})

type ledgerKey struct {
	chatID types.ChatID
	userID types.UserID
}

// ModeSample is the outcome of one research session as folded into the metrics
type ModeSample struct {
	Mode               types.ResearchMode
	Quality            float64
	Duration           time.Duration
	Success            bool
	VerificationPassed bool
}

// QualityReport aggregates the metrics of every chat of one user
type QualityReport struct {
	UserID               types.UserID                           `json:"user_id"`
	Chats                int                                    `json:"chats"`
	TotalQueries         int                                    `json:"total_queries"`
	SuccessfulQueries    int                                    `json:"successful_queries"`
	SuccessRate          float64                                `json:"success_rate"`
	AverageQuality       float64                                `json:"average_quality"`
	AverageResponseTime  float64                                `json:"average_response_time_ms"`
	VerificationsRun     int                                    `json:"verifications_run"`
	VerificationPassRate float64                                `json:"verification_pass_rate"`
	Modes                map[types.ResearchMode]model.ModeStats `json:"modes"`
	TopPerformingMode    types.ResearchMode                     `json:"top_performing_mode,omitempty"`
	Recommendations      []string                               `json:"recommendations"`
}

// MemoryStats describes the ledger of one conversation
type MemoryStats struct {
	TotalMessages        int                                    `json:"total_messages"`
	TotalSearches        int                                    `json:"total_searches"`
	CachedSourceSets     int                                    `json:"cached_source_sets"`
	CachedDocuments      int                                    `json:"cached_documents"`
	OldestCacheAge       time.Duration                          `json:"oldest_cache_age_ns"`
	NewestCacheAge       time.Duration                          `json:"newest_cache_age_ns"`
	EstimatedBytes       int                                    `json:"estimated_bytes"`
	AverageQuality       float64                                `json:"average_quality"`
	VerificationPassRate float64                                `json:"verification_pass_rate"`
	Modes                map[types.ResearchMode]model.ModeStats `json:"modes"`
	TopPerformingMode    types.ResearchMode                     `json:"top_performing_mode,omitempty"`
	Recommendations      []string                               `json:"recommendations"`
	LastActivity         time.Time                              `json:"last_activity"`
}

// Ledger is the per-conversation memory: history, searches, cached verified
// sources, preferences and quality metrics. Contexts are cached in process and
// written through to the repository on every mutation. Repository failures are
// logged and never fail the caller, except for ClearChatMemory.
type Ledger struct {
	repo     interfaces.Repository
	embedder interfaces.Embedder
	now      func() time.Time

	sourceTTL        time.Duration
	maxHistory       int
	maxSearchHistory int
	maxCachedSets    int

	mu       sync.Mutex
	contexts map[ledgerKey]*model.ChatContext
	touched  map[ledgerKey]time.Time
	dirty    map[ledgerKey]bool // writes the repository has not accepted
	locks    map[ledgerKey]*sync.Mutex
}

type LedgerOption func(*Ledger)

// WithEmbedder enables embedding-based matching of cached sources
func WithEmbedder(embedder interfaces.Embedder) LedgerOption {
	return func(l *Ledger) {
		l.embedder = embedder
	}
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

func WithSourceTTL(ttl time.Duration) LedgerOption {
	return func(l *Ledger) {
		if ttl > 0 {
			l.sourceTTL = ttl
		}
	}
}

func WithMaxCachedSources(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.maxCachedSets = n
		}
	}
}

func WithMaxSearchHistory(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.maxSearchHistory = n
		}
	}
}

func WithMaxHistory(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.maxHistory = n
		}
	}
}

// NewLedger creates a Ledger backed by repo
func NewLedger(repo interfaces.Repository, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		repo:             repo,
		now:              time.Now,
		sourceTTL:        model.DefaultSourceCacheTTL,
		maxHistory:       model.DefaultMaxHistory,
		maxSearchHistory: model.DefaultMaxSearchHistory,
		maxCachedSets:    model.DefaultMaxCachedSources,
		contexts:         make(map[ledgerKey]*model.ChatContext),
		touched:          make(map[ledgerKey]time.Time),
		dirty:            make(map[ledgerKey]bool),
		locks:            make(map[ledgerKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lock serializes mutations of one conversation and returns the unlock func
func (l *Ledger) lock(key ledgerKey) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// load returns the cached context for key, reading it from the repository on
// first access. The caller must hold the key lock.
func (l *Ledger) load(ctx context.Context, key ledgerKey) *model.ChatContext {
	now := l.now()

	l.mu.Lock()
	c, ok := l.contexts[key]
	if ok {
		l.touched[key] = now
	}
	l.mu.Unlock()
	if ok {
		return c
	}

	c = l.fetch(ctx, key)

	l.mu.Lock()
	l.contexts[key] = c
	l.touched[key] = now
	l.mu.Unlock()
	return c
}

// EvictIdle drops in-process copies of conversations not accessed for longer
// than idle. They are read back from the repository on next access. A
// conversation with unpersisted writes is written again first and kept when
// that still fails. It returns the number of evicted conversations.
func (l *Ledger) EvictIdle(ctx context.Context, idle time.Duration) int {
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	var stale []ledgerKey
	for key, at := range l.touched {
		if at.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	l.mu.Unlock()

	evicted := 0
	for _, key := range stale {
		if l.evict(ctx, key, cutoff) {
			evicted++
		}
	}
	return evicted
}

func (l *Ledger) evict(ctx context.Context, key ledgerKey, cutoff time.Time) bool {
	unlock := l.lock(key)
	defer unlock()

	// the key lock keeps load out, so touched cannot move under us
	l.mu.Lock()
	at, ok := l.touched[key]
	c := l.contexts[key]
	dirty := l.dirty[key]
	l.mu.Unlock()
	if !ok || !at.Before(cutoff) {
		return false
	}

	if dirty && !l.flush(ctx, c) {
		logging.From(ctx).Warn("keeping idle chat context with unpersisted changes",
			"chat_id", key.chatID, "user_id", key.userID)
		return false
	}

	l.mu.Lock()
	delete(l.contexts, key)
	delete(l.touched, key)
	delete(l.dirty, key)
	l.mu.Unlock()
	return true
}

// flush writes the whole cached conversation again. Repository writes are
// upserts, so messages that already made it are overwritten unchanged.
func (l *Ledger) flush(ctx context.Context, c *model.ChatContext) bool {
	for _, msg := range c.History {
		if err := l.repo.Message().Put(ctx, msg); err != nil {
			logging.From(ctx).Warn("failed to persist message", "error", err, "chat_id", c.ChatID)
			return false
		}
	}
	return l.persist(ctx, c)
}

// markDirty records that key holds writes the repository has not accepted
func (l *Ledger) markDirty(key ledgerKey) {
	l.mu.Lock()
	l.dirty[key] = true
	l.mu.Unlock()
}

func (l *Ledger) fetch(ctx context.Context, key ledgerKey) *model.ChatContext {
	logger := logging.From(ctx).With("chat_id", key.chatID, "user_id", key.userID)

	c, err := l.repo.ChatContext().Get(ctx, key.chatID, key.userID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			logger.Warn("failed to load chat context, starting empty", "error", err)
		}
		c = model.NewChatContext(key.chatID, key.userID)
		c.CreatedAt = l.now().UTC()
		c.UpdatedAt = c.CreatedAt
	}
	if c.Metrics.Modes == nil {
		c.Metrics.Modes = map[types.ResearchMode]model.ModeStats{}
	}

	msgs, err := l.repo.Message().List(ctx, key.chatID, key.userID)
	if err != nil {
		logger.Warn("failed to load chat history", "error", err)
		msgs = nil
	}
	if len(msgs) > l.maxHistory {
		msgs = msgs[len(msgs)-l.maxHistory:]
	}
	c.History = append([]*model.Message{}, msgs...)

	return c
}

// persist writes c to the repository. On failure the cached copy stays the
// source of truth and the conversation is marked dirty.
func (l *Ledger) persist(ctx context.Context, c *model.ChatContext) bool {
	c.UpdatedAt = l.now().UTC()
	if err := l.repo.ChatContext().Put(ctx, c); err != nil {
		logging.From(ctx).Warn("failed to persist chat context",
			"error", err, "chat_id", c.ChatID, "user_id", c.UserID)
		l.markDirty(ledgerKey{c.ChatID, c.UserID})
		return false
	}
	return true
}

// snapshot returns a copy of the context for key, loading it when needed
func (l *Ledger) snapshot(ctx context.Context, key ledgerKey) *model.ChatContext {
	unlock := l.lock(key)
	defer unlock()
	return l.load(ctx, key).Copy()
}

// GetContext returns a snapshot of the ledger of one conversation
func (l *Ledger) GetContext(ctx context.Context, chatID types.ChatID, userID types.UserID) *model.ChatContext {
	return l.snapshot(ctx, ledgerKey{chatID, userID})
}

// AppendMessage adds a message to the conversation history
func (l *Ledger) AppendMessage(ctx context.Context, chatID types.ChatID, userID types.UserID, role types.Role, content string) (*model.Message, error) {
	if !role.IsValid() {
		return nil, goerr.New("invalid message role", goerr.V("role", role))
	}

	key := ledgerKey{chatID, userID}
	unlock := l.lock(key)
	defer unlock()

	c := l.load(ctx, key)
	msg := model.NewMessage(chatID, userID, role, content)
	msg.CreatedAt = l.now().UTC()

	c.History = append(c.History, msg)
	if len(c.History) > l.maxHistory {
		c.History = append([]*model.Message{}, c.History[len(c.History)-l.maxHistory:]...)
	}

	if err := l.repo.Message().Put(ctx, msg); err != nil {
		logging.From(ctx).Warn("failed to persist message", "error", err, "chat_id", chatID)
		l.markDirty(key)
	}
	l.persist(ctx, c)

	return msg, nil
}

// RecordSearch appends one research round to the search history
func (l *Ledger) RecordSearch(ctx context.Context, chatID types.ChatID, userID types.UserID, rec model.SearchRecord) {
	key := ledgerKey{chatID, userID}
	unlock := l.lock(key)
	defer unlock()

	c := l.load(ctx, key)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	c.SearchHistory = append(c.SearchHistory, rec)
	if len(c.SearchHistory) > l.maxSearchHistory {
		c.SearchHistory = append([]model.SearchRecord{}, c.SearchHistory[len(c.SearchHistory)-l.maxSearchHistory:]...)
	}

	l.persist(ctx, c)
}

// RecordResearchMode folds the outcome of one research session into the running
// metrics. Failed sessions count toward the total only.
func (l *Ledger) RecordResearchMode(ctx context.Context, chatID types.ChatID, userID types.UserID, sample ModeSample) {
	key := ledgerKey{chatID, userID}
	unlock := l.lock(key)
	defer unlock()

	c := l.load(ctx, key)
	m := &c.Metrics
	m.TotalQueries++
	m.LastUpdated = l.now().UTC()

	if sample.Success {
		m.SuccessfulQueries++
		n := m.SuccessfulQueries
		elapsed := float64(sample.Duration.Milliseconds())
		m.AverageQuality = model.RunningAverage(m.AverageQuality, n, sample.Quality)
		m.AverageResponseTime = model.RunningAverage(m.AverageResponseTime, n, elapsed)

		mode := sample.Mode.Normalize()
		st := m.Modes[mode]
		st.Count++
		st.AvgQuality = model.RunningAverage(st.AvgQuality, st.Count, sample.Quality)
		st.AvgTimeMs = model.RunningAverage(st.AvgTimeMs, st.Count, elapsed)
		m.Modes[mode] = st

		m.VerificationsRun++
		if sample.VerificationPassed {
			m.VerificationsPassed++
		}
	}

	l.persist(ctx, c)
}

// CacheVerifiedSources stores docs as a verified source set keyed by query.
// Expired sets are purged and the oldest sets are evicted beyond the limit.
func (l *Ledger) CacheVerifiedSources(ctx context.Context, chatID types.ChatID, userID types.UserID, query string, docs []*model.Document) {
	docs = model.DedupDocuments(docs)
	if len(docs) == 0 {
		return
	}

	fingerprint := normalizeQuery(query)
	embedding := l.embed(ctx, fingerprint)

	key := ledgerKey{chatID, userID}
	unlock := l.lock(key)
	defer unlock()

	c := l.load(ctx, key)
	now := l.now().UTC()
	l.purgeExpired(c, now)

	set := model.CachedSourceSet{
		Query:     fingerprint,
		Documents: model.CopyDocuments(docs),
		Embedding: embedding,
		CreatedAt: now,
		LastUsed:  now,
	}
	for _, d := range set.Documents {
		d.Verified = true
	}

	c.CachedSources = append(c.CachedSources, set)
	if len(c.CachedSources) > l.maxCachedSets {
		c.CachedSources = append([]model.CachedSourceSet{}, c.CachedSources[len(c.CachedSources)-l.maxCachedSets:]...)
	}

	l.persist(ctx, c)
}

// GetCachedLegalSources returns the cached documents of sets no older than maxAge
// whose query is similar to query, deduplicated by URL. A non-positive maxAge
// means the cache TTL.
func (l *Ledger) GetCachedLegalSources(ctx context.Context, chatID types.ChatID, userID types.UserID, query string, maxAge time.Duration) []*model.Document {
	if maxAge <= 0 || maxAge > l.sourceTTL {
		maxAge = l.sourceTTL
	}

	fingerprint := normalizeQuery(query)
	embedding := l.embed(ctx, fingerprint)

	key := ledgerKey{chatID, userID}
	unlock := l.lock(key)
	defer unlock()

	c := l.load(ctx, key)
	now := l.now().UTC()
	changed := l.purgeExpired(c, now)

	var out []*model.Document
	seen := map[string]struct{}{}
	for i := range c.CachedSources {
		set := &c.CachedSources[i]
		if set.Expired(now, maxAge) || !similarQuery(fingerprint, embedding, *set) {
			continue
		}

		set.LastUsed = now
		changed = true
		for _, d := range set.Documents {
			if _, ok := seen[d.URL]; ok {
				continue
			}
			seen[d.URL] = struct{}{}
			d.LastUsed = now
			out = append(out, d.Copy())
		}
	}

	if changed {
		l.persist(ctx, c)
	}
	if len(out) > 0 {
		cacheLookupTotal.WithLabelValues("hit").Inc()
	} else {
		cacheLookupTotal.WithLabelValues("miss").Inc()
	}
	return out
}

func (l *Ledger) embed(ctx context.Context, text string) []float64 {
	if l.embedder == nil || text == "" {
		return nil
	}
	v, err := l.embedder.Embed(ctx, text)
	if err != nil {
		logging.From(ctx).Warn("failed to embed query, using lexical matching", "error", err)
		return nil
	}
	return v
}

func (l *Ledger) purgeExpired(c *model.ChatContext, now time.Time) bool {
	kept := c.CachedSources[:0]
	for _, s := range c.CachedSources {
		if !s.Expired(now, l.sourceTTL) {
			kept = append(kept, s)
		}
	}
	purged := len(kept) != len(c.CachedSources)
	c.CachedSources = kept
	return purged
}

// UpdatePreferences replaces the preferences of one conversation
func (l *Ledger) UpdatePreferences(ctx context.Context, chatID types.ChatID, userID types.UserID, prefs model.UserPreferences) (model.UserPreferences, error) {
	prefs.Strategy = prefs.Strategy.Normalize()
	if !prefs.Strategy.IsValid() {
		return model.UserPreferences{}, goerr.Wrap(ErrInvalidPreferences, "unknown strategy", goerr.V("strategy", prefs.Strategy))
	}
	if prefs.MaxSearchRounds < 1 || prefs.MaxSearchRounds > MaxPreferenceRounds {
		return model.UserPreferences{}, goerr.Wrap(ErrInvalidPreferences, "max search rounds out of range",
			goerr.V("max_search_rounds", prefs.MaxSearchRounds))
	}
	if prefs.QualityThreshold <= 0 || prefs.QualityThreshold > 1 {
		return model.UserPreferences{}, goerr.Wrap(ErrInvalidPreferences, "quality threshold out of range",
			goerr.V("quality_threshold", prefs.QualityThreshold))
	}

	key := ledgerKey{chatID, userID}
	unlock := l.lock(key)
	defer unlock()

	c := l.load(ctx, key)
	c.Preferences = prefs
	l.persist(ctx, c)

	return prefs, nil
}

// ClearChatMemory drops the ledger and history of one conversation
func (l *Ledger) ClearChatMemory(ctx context.Context, chatID types.ChatID, userID types.UserID) error {
	key := ledgerKey{chatID, userID}
	unlock := l.lock(key)
	defer unlock()

	l.mu.Lock()
	delete(l.contexts, key)
	delete(l.touched, key)
	delete(l.dirty, key)
	l.mu.Unlock()

	if err := l.repo.Message().DeleteByChat(ctx, chatID, userID); err != nil {
		return goerr.Wrap(err, "failed to delete chat history", goerr.V("chat_id", chatID))
	}
	if err := l.repo.ChatContext().Delete(ctx, chatID, userID); err != nil {
		return goerr.Wrap(err, "failed to delete chat context", goerr.V("chat_id", chatID))
	}
	return nil
}

// GetQualityMetrics aggregates metrics across every chat of userID
func (l *Ledger) GetQualityMetrics(ctx context.Context, userID types.UserID) *QualityReport {
	contexts := map[types.ChatID]*model.ChatContext{}

	stored, err := l.repo.ChatContext().ListByUser(ctx, userID)
	if err != nil {
		logging.From(ctx).Warn("failed to list chat contexts", "error", err, "user_id", userID)
	}
	for _, c := range stored {
		contexts[c.ChatID] = c
	}

	// cached contexts are newer than anything stored
	var keys []ledgerKey
	l.mu.Lock()
	for k := range l.contexts {
		if k.userID == userID {
			keys = append(keys, k)
		}
	}
	l.mu.Unlock()
	for _, k := range keys {
		contexts[k.chatID] = l.snapshot(ctx, k)
	}

	report := &QualityReport{
		UserID: userID,
		Chats:  len(contexts),
		Modes:  map[types.ResearchMode]model.ModeStats{},
	}

	var qualitySum, timeSum float64
	passed := 0
	for _, c := range contexts {
		m := c.Metrics
		report.TotalQueries += m.TotalQueries
		report.SuccessfulQueries += m.SuccessfulQueries
		qualitySum += m.AverageQuality * float64(m.SuccessfulQueries)
		timeSum += m.AverageResponseTime * float64(m.SuccessfulQueries)
		report.VerificationsRun += m.VerificationsRun
		passed += m.VerificationsPassed

		for mode, st := range m.Modes {
			report.Modes[mode] = mergeModeStats(report.Modes[mode], st)
		}
	}

	if report.SuccessfulQueries > 0 {
		report.AverageQuality = qualitySum / float64(report.SuccessfulQueries)
		report.AverageResponseTime = timeSum / float64(report.SuccessfulQueries)
	}
	if report.TotalQueries > 0 {
		report.SuccessRate = float64(report.SuccessfulQueries) / float64(report.TotalQueries)
	}
	if report.VerificationsRun > 0 {
		report.VerificationPassRate = float64(passed) / float64(report.VerificationsRun)
	}
	report.TopPerformingMode = topPerformingMode(report.Modes)
	report.Recommendations = recommendations(recommendationInput{
		total:       report.TotalQueries,
		successRate: report.SuccessRate,
		quality:     report.AverageQuality,
		verified:    report.VerificationsRun,
		passRate:    report.VerificationPassRate,
		top:         report.TopPerformingMode,
	})

	return report
}

// GetAdvancedMemoryStats describes the ledger of one conversation
func (l *Ledger) GetAdvancedMemoryStats(ctx context.Context, chatID types.ChatID, userID types.UserID) *MemoryStats {
	c := l.snapshot(ctx, ledgerKey{chatID, userID})
	now := l.now().UTC()
	m := c.Metrics

	stats := &MemoryStats{
		TotalMessages:        len(c.History),
		TotalSearches:        len(c.SearchHistory),
		CachedSourceSets:     len(c.CachedSources),
		AverageQuality:       m.AverageQuality,
		VerificationPassRate: m.VerificationPassRate(),
		Modes:                m.Modes,
		TopPerformingMode:    topPerformingMode(m.Modes),
		LastActivity:         c.UpdatedAt,
	}

	for i, s := range c.CachedSources {
		stats.CachedDocuments += len(s.Documents)
		age := now.Sub(s.CreatedAt)
		if i == 0 || age > stats.OldestCacheAge {
			stats.OldestCacheAge = age
		}
		if i == 0 || age < stats.NewestCacheAge {
			stats.NewestCacheAge = age
		}
	}

	if raw, err := json.Marshal(c); err == nil {
		stats.EstimatedBytes = len(raw)
	}

	var successRate float64
	if m.TotalQueries > 0 {
		successRate = float64(m.SuccessfulQueries) / float64(m.TotalQueries)
	}
	stats.Recommendations = recommendations(recommendationInput{
		total:       m.TotalQueries,
		successRate: successRate,
		quality:     m.AverageQuality,
		verified:    m.VerificationsRun,
		passRate:    m.VerificationPassRate(),
		top:         stats.TopPerformingMode,
	})

	return stats
}

// BuildCurrentContext renders a compact summary of the conversation for prompts
func (l *Ledger) BuildCurrentContext(ctx context.Context, chatID types.ChatID, userID types.UserID) string {
	c := l.snapshot(ctx, ledgerKey{chatID, userID})
	now := l.now().UTC()

	var sb strings.Builder

	if hist := c.RecentHistory(contextHistoryLimit); len(hist) > 0 {
		sb.WriteString("## HISTORIAL DE CONVERSACIÓN RELEVANTE:\n")
		for _, msg := range hist {
			label, content := "Usuario", msg.Content
			if msg.Role == types.RoleAssistant {
				label = "Asistente"
				if utf8.RuneCountInString(content) > contextAnswerExcerpt {
					content = model.Truncate(content, contextAnswerExcerpt) + "..."
				}
			}
			fmt.Fprintf(&sb, "%s: %s\n", label, content)
		}
		sb.WriteString("\n")
	}

	if n := len(c.SearchHistory); n > 0 {
		sb.WriteString("## BÚSQUEDAS ANTERIORES:\n")
		for _, s := range c.SearchHistory[max(0, n-contextSearchLimit):] {
			fmt.Fprintf(&sb, "- \"%s\" (%d resultados, calidad %.0f%%)\n", s.Query, s.ResultCount, s.Quality*100)
		}
		sb.WriteString("\n")
	}

	var fresh []model.CachedSourceSet
	for _, s := range c.CachedSources {
		if !s.Expired(now, l.sourceTTL) {
			fresh = append(fresh, s)
		}
	}
	if n := len(fresh); n > 0 {
		sb.WriteString("## FUENTES VERIFICADAS DISPONIBLES:\n")
		for _, s := range fresh[max(0, n-contextSourceSetLimit):] {
			fmt.Fprintf(&sb, "- Consulta \"%s\": %d fuentes\n", s.Query, len(s.Documents))
			for i, d := range s.Documents {
				if i == contextSourceDocLimit {
					break
				}
				fmt.Fprintf(&sb, "  - %s (%s)\n", d.Title, d.URL)
			}
		}
		sb.WriteString("\n")
	}

	if m := c.Metrics; m.TotalQueries > 0 {
		sb.WriteString("## MÉTRICAS DE RENDIMIENTO:\n")
		fmt.Fprintf(&sb, "- Consultas: %d\n", m.TotalQueries)
		fmt.Fprintf(&sb, "- Calidad promedio: %.0f%%\n", m.AverageQuality*100)
		fmt.Fprintf(&sb, "- Verificaciones aprobadas: %.0f%%\n", m.VerificationPassRate()*100)
		sb.WriteString("\n")
	}

	p := c.Preferences
	sb.WriteString("## PREFERENCIAS DEL USUARIO:\n")
	fmt.Fprintf(&sb, "- Estrategia: %s\n", p.Strategy.Normalize())
	fmt.Fprintf(&sb, "- Rondas máximas: %d\n", p.MaxSearchRounds)
	fmt.Fprintf(&sb, "- Umbral de calidad: %.0f%%\n", p.QualityThreshold*100)

	return sb.String()
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// similarQuery compares by embedding when both sides have one, else by word overlap
func similarQuery(query string, embedding []float64, set model.CachedSourceSet) bool {
	if len(embedding) > 0 && len(embedding) == len(set.Embedding) {
		return cosineSimilarity(embedding, set.Embedding) >= EmbeddingSimilarity
	}
	return lexicalSimilarity(query, set.Query) >= LexicalSimilarity
}

// lexicalSimilarity is the number of shared significant words over the size of
// the larger word set
func lexicalSimilarity(a, b string) float64 {
	wa, wb := significantWords(a), significantWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		if normalizeQuery(a) == normalizeQuery(b) {
			return 1
		}
		return 0
	}

	common := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			common++
		}
	}
	return float64(common) / float64(max(len(wa), len(wb)))
}

func significantWords(s string) map[string]struct{} {
	words := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, "¿?¡!.,;:()\"'")
		if utf8.RuneCountInString(w) >= minSimilarityWordLen {
			words[w] = struct{}{}
		}
	}
	return words
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func mergeModeStats(a, b model.ModeStats) model.ModeStats {
	total := a.Count + b.Count
	if total == 0 {
		return a
	}
	return model.ModeStats{
		Count:      total,
		AvgQuality: (a.AvgQuality*float64(a.Count) + b.AvgQuality*float64(b.Count)) / float64(total),
		AvgTimeMs:  (a.AvgTimeMs*float64(a.Count) + b.AvgTimeMs*float64(b.Count)) / float64(total),
	}
}

// topPerformingMode returns the mode with the highest average quality, or empty
// when no mode has samples. Ties go to the earlier mode in AllResearchModes.
func topPerformingMode(modes map[types.ResearchMode]model.ModeStats) types.ResearchMode {
	var top types.ResearchMode
	best := -1.0
	for _, mode := range types.AllResearchModes() {
		st, ok := modes[mode]
		if !ok || st.Count == 0 {
			continue
		}
		if st.AvgQuality > best {
			top, best = mode, st.AvgQuality
		}
	}
	return top
}

type recommendationInput struct {
	total       int
	successRate float64
	quality     float64
	verified    int
	passRate    float64
	top         types.ResearchMode
}

func recommendations(in recommendationInput) []string {
	recs := []string{}
	if in.total == 0 {
		return recs
	}

	if in.quality < LowQualityThreshold {
		recs = append(recs, "Considera aumentar el número de rondas de búsqueda para mejorar la calidad")
	}
	if in.successRate < LowRateThreshold {
		recs = append(recs, "Revisa la configuración de verificación para mejorar la tasa de éxito")
	}
	if in.verified > 0 && in.passRate < LowRateThreshold {
		recs = append(recs, "Muchas respuestas no superan la verificación final; formula consultas más específicas o activa el modo hybrid")
	}
	if in.top != "" && in.top != model.DefaultUserPreferences().Strategy {
		recs = append(recs, fmt.Sprintf("El modo %s muestra mejor rendimiento, considera usarlo más frecuentemente", in.top))
	}

	if len(recs) == 0 {
		recs = append(recs, "Tus consultas están obteniendo buenos resultados. Continúa con el mismo enfoque.")
	}
	return recs
}
